// Package store persists pipeline runs, raw provider responses, and dead
// letters. Two backends are provided: SQLite for single-node use and
// PostgreSQL for shared deployments.
package store

import (
	"context"
	"time"

	"github.com/sells-group/intel-engine/internal/model"
)

// RunStatus is the lifecycle state of a persisted run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Subject is a research target queued for a future run.
type Subject struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// Run is the persisted record of one pipeline execution.
type Run struct {
	ProcessID   string                 `json:"process_id"`
	Subject     string                 `json:"subject"`
	Category    string                 `json:"category,omitempty"`
	Status      RunStatus              `json:"status"`
	Stage       model.Stage            `json:"stage,omitempty"`
	StageStatus model.StageStatus      `json:"stage_status,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Summary     *model.PipelineSummary `json:"summary,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// SavedResponse is a raw provider response tied to its run.
type SavedResponse struct {
	ID        string                 `json:"id"`
	ProcessID string                 `json:"process_id"`
	Provider  string                 `json:"provider"`
	Response  model.ProviderResponse `json:"response"`
	CreatedAt time.Time              `json:"created_at"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status  RunStatus `json:"status,omitempty"`
	Subject string    `json:"subject,omitempty"`
	Limit   int       `json:"limit,omitempty"`
	Offset  int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for the collection engine. It
// satisfies both the orchestrator's run recorder and the API manager's
// response recorder.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, pc *model.PipelineContext) error
	UpdateRunStage(ctx context.Context, processID string, stage model.Stage, status model.StageStatus) error
	CompleteRun(ctx context.Context, processID string, summary *model.PipelineSummary) error
	FailRun(ctx context.Context, processID string, stage model.Stage, errMsg string) error
	GetRun(ctx context.Context, processID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// QueueSubjects inserts one queued run per subject and returns how many
	// were written. Batch imports land here.
	QueueSubjects(ctx context.Context, subjects []Subject) (int, error)

	// Provider responses
	SaveResponse(ctx context.Context, processID string, resp *model.ProviderResponse) (string, error)
	ListResponses(ctx context.Context, processID string) ([]SavedResponse, error)

	// Dead letters
	SaveDeadLetter(ctx context.Context, entry model.DeadLetterEntry) error
	DeleteDeadLetter(ctx context.Context, processID string) error
	ListDeadLetters(ctx context.Context, limit int) ([]model.DeadLetterEntry, error)

	// Counts feeds the monitoring snapshot.
	Counts(ctx context.Context) (Counts, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Counts aggregates table sizes for monitoring.
type Counts struct {
	RunsTotal     int `json:"runs_total"`
	RunsRunning   int `json:"runs_running"`
	RunsFailed    int `json:"runs_failed"`
	Responses     int `json:"responses"`
	DeadLetters   int `json:"dead_letters"`
	RunsCompleted int `json:"runs_completed"`
}
