package model

import "time"

// Stage identifies one phase of the collection pipeline.
type Stage string

const (
	StageCollection   Stage = "collection"
	StageVerification Stage = "verification"
	StageMerging      Stage = "merging"
	StageSummary      Stage = "summary"
	StageComplete     Stage = "complete"
)

// stageOrder fixes the total order of pipeline stages.
var stageOrder = map[Stage]int{
	StageCollection:   0,
	StageVerification: 1,
	StageMerging:      2,
	StageSummary:      3,
	StageComplete:     4,
}

// ExecutionStages returns the runnable stages in execution order.
// StageComplete is a terminal marker, not a runnable stage.
func ExecutionStages() []Stage {
	return []Stage{StageCollection, StageVerification, StageMerging, StageSummary}
}

// Order returns the stage's position in the pipeline. Unknown stages sort last.
func (s Stage) Order() int {
	if o, ok := stageOrder[s]; ok {
		return o
	}
	return len(stageOrder)
}

// Before reports whether s precedes other in pipeline order.
func (s Stage) Before(other Stage) bool {
	return s.Order() < other.Order()
}

// Next returns the stage that follows s. The stage after StageSummary is
// StageComplete; StageComplete follows itself.
func (s Stage) Next() Stage {
	switch s {
	case StageCollection:
		return StageVerification
	case StageVerification:
		return StageMerging
	case StageMerging:
		return StageSummary
	default:
		return StageComplete
	}
}

// StageStatus represents the current state of a pipeline stage.
type StageStatus string

const (
	StageStatusPending    StageStatus = "pending"
	StageStatusInProgress StageStatus = "in_progress"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusFailed     StageStatus = "failed"
	StageStatusRetrying   StageStatus = "retrying"
	StageStatusSkipped    StageStatus = "skipped"
)

// Terminal reports whether the status is an end state for a stage.
func (s StageStatus) Terminal() bool {
	return s == StageStatusCompleted || s == StageStatusFailed || s == StageStatusSkipped
}

// StageResult records one stage's execution within a pipeline context.
// Created at stage entry, finalized exactly once at stage exit (including
// skips).
type StageResult struct {
	Stage       Stage              `json:"stage"`
	Status      StageStatus        `json:"status"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
	Data        map[string]any     `json:"data,omitempty"`
	Errors      []string           `json:"errors,omitempty"`
	RetryCount  int                `json:"retry_count"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// DurationMs returns the stage's wall-clock duration in milliseconds, or 0
// when the stage has not finished.
func (r *StageResult) DurationMs() int64 {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt).Milliseconds()
}

// RecordError appends err to the result's error list.
func (r *StageResult) RecordError(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// StageOutcome is what a stage handler reports back to the orchestrator.
// Exactly one of Completed, Failed, or Skipped produces it; the orchestrator
// branches on Status rather than on panics or sentinel errors.
type StageOutcome struct {
	Status  StageStatus        `json:"status"`
	Data    map[string]any     `json:"data,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Reason  string             `json:"reason,omitempty"`
	Err     error              `json:"-"`
}

// Completed builds the outcome of a successful stage.
func Completed(data map[string]any) StageOutcome {
	return StageOutcome{Status: StageStatusCompleted, Data: data}
}

// CompletedWithMetrics builds a successful outcome carrying stage metrics.
func CompletedWithMetrics(data map[string]any, metrics map[string]float64) StageOutcome {
	return StageOutcome{Status: StageStatusCompleted, Data: data, Metrics: metrics}
}

// Failed builds the outcome of a stage whose handler could not produce data.
func Failed(err error) StageOutcome {
	return StageOutcome{Status: StageStatusFailed, Err: err}
}

// Skipped builds the outcome of a stage that does not apply to this context.
func Skipped(reason string) StageOutcome {
	return StageOutcome{Status: StageStatusSkipped, Reason: reason}
}
