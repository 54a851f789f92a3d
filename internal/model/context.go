package model

import (
	"time"

	"github.com/google/uuid"
)

// Keys used in StageResult.Data by the built-in stage handlers.
const (
	DataKeySources         = "sources"
	DataKeyResponses       = "responses"
	DataKeyResults         = "results"
	DataKeyTotalCost       = "total_cost"
	DataKeyVerifiedSources = "verified_sources"
	DataKeyMergedResults   = "merged_results"
)

// Subject identifies an entity under investigation, plus the external
// references a batch run needs to write status back.
type Subject struct {
	Name         string `json:"name"`
	Category     string `json:"category,omitempty"`
	Query        string `json:"query,omitempty"`
	NotionPageID string `json:"notion_page_id,omitempty"`
	SalesforceID string `json:"salesforce_id,omitempty"`
}

// PipelineContext carries one pipeline execution's identity and accumulated
// stage results. Temperatures, when set, requests a per-provider temperature
// sweep during collection. A context is owned by exactly one execution and
// must not be shared across executions.
type PipelineContext struct {
	ProcessID     string                 `json:"process_id"`
	RequestID     string                 `json:"request_id"`
	CorrelationID string                 `json:"correlation_id"`
	Subject       string                 `json:"subject"`
	Category      string                 `json:"category"`
	Query         string                 `json:"query"`
	Temperatures  []float64              `json:"temperatures,omitempty"`
	StageResults  map[Stage]*StageResult `json:"stage_results"`
	Metadata      map[string]any         `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NewPipelineContext builds a context with fresh identifiers. An empty query
// defaults to the subject name.
func NewPipelineContext(subject, category, query string) *PipelineContext {
	if query == "" {
		query = subject
	}
	return &PipelineContext{
		ProcessID:     uuid.New().String(),
		RequestID:     uuid.New().String(),
		CorrelationID: uuid.New().String(),
		Subject:       subject,
		Category:      category,
		Query:         query,
		StageResults:  make(map[Stage]*StageResult),
		Metadata:      make(map[string]any),
		CreatedAt:     time.Now(),
	}
}

// Result returns the stage's result, or nil when the stage has not run.
func (c *PipelineContext) Result(stage Stage) *StageResult {
	return c.StageResults[stage]
}

// SetResult records r as the result for its stage.
func (c *PipelineContext) SetResult(r *StageResult) {
	if c.StageResults == nil {
		c.StageResults = make(map[Stage]*StageResult)
	}
	c.StageResults[r.Stage] = r
}

// CollectedSources returns the sources gathered by a completed Collection
// stage, or nil when Collection has not completed.
func (c *PipelineContext) CollectedSources() []SourceAttribution {
	r := c.Result(StageCollection)
	if r == nil || r.Status != StageStatusCompleted || r.Data == nil {
		return nil
	}
	sources, _ := r.Data[DataKeySources].([]SourceAttribution)
	return sources
}

// CollectedResponses returns the provider responses gathered by a completed
// Collection stage, or nil when Collection has not completed.
func (c *PipelineContext) CollectedResponses() []ProviderResponse {
	r := c.Result(StageCollection)
	if r == nil || r.Status != StageStatusCompleted || r.Data == nil {
		return nil
	}
	responses, _ := r.Data[DataKeyResponses].([]ProviderResponse)
	return responses
}
