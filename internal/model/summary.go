package model

import "time"

// StageReport condenses one stage's result for reporting.
type StageReport struct {
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	RetryCount int         `json:"retry_count"`
}

// PipelineSummary is the final report of a pipeline execution.
type PipelineSummary struct {
	ProcessID       string         `json:"process_id"`
	Subject         string         `json:"subject"`
	Category        string         `json:"category,omitempty"`
	StagesCompleted int            `json:"stages_completed"`
	StagesFailed    int            `json:"stages_failed"`
	StagesSkipped   int            `json:"stages_skipped"`
	TotalCost       float64        `json:"total_cost"`
	TotalDurationMs int64          `json:"total_duration_ms"`
	Stages          []StageReport  `json:"stages"`
	Synthesis       map[string]any `json:"synthesis,omitempty"`
	CompletedAt     time.Time      `json:"completed_at"`
}

// PipelineStatus describes a live or recently finished execution.
type PipelineStatus struct {
	ProcessID       string  `json:"process_id"`
	Subject         string  `json:"subject"`
	CurrentStage    Stage   `json:"current_stage"`
	StagesCompleted int     `json:"stages_completed"`
	RunningSeconds  float64 `json:"running_seconds"`
}
