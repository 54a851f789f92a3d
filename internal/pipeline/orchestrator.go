// Package pipeline drives the four-stage collection pipeline: Collection,
// Verification, Merging, Summary. Stages run strictly in order on one
// context; failed stages are retried on a fixed delay and exhausted failures
// are routed to a dead-letter list.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-engine/internal/model"
)

// Handler executes one stage against the pipeline context and reports the
// outcome. Handlers must not retain the context past their return.
type Handler func(ctx context.Context, pc *model.PipelineContext) model.StageOutcome

// Publisher signals stage transitions to an external queue. Publish failures
// are logged and swallowed.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// RunRecorder mirrors pipeline lifecycle events into persistence for audit.
// Every method is fire-and-forget from the orchestrator's point of view.
type RunRecorder interface {
	CreateRun(ctx context.Context, pc *model.PipelineContext) error
	UpdateRunStage(ctx context.Context, processID string, stage model.Stage, status model.StageStatus) error
	CompleteRun(ctx context.Context, processID string, summary *model.PipelineSummary) error
	FailRun(ctx context.Context, processID string, stage model.Stage, errMsg string) error
	SaveDeadLetter(ctx context.Context, entry model.DeadLetterEntry) error
	DeleteDeadLetter(ctx context.Context, processID string) error
}

// Config controls stage retry behavior.
type Config struct {
	// MaxRetries is how many times a failed stage is re-run. Default: 3.
	MaxRetries int

	// RetryDelay is the fixed pause between attempts. Default: 30s.
	RetryDelay time.Duration
}

// DefaultConfig returns the standard orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: 30 * time.Second,
	}
}

// Orchestrator is the pipeline state machine. Queue and store collaborators
// may be nil; their absence degrades silently.
type Orchestrator struct {
	cfg      Config
	handlers map[model.Stage]Handler
	queue    Publisher
	store    RunRecorder
	dlq      *DeadLetters

	tracker *statusTracker
	nowFunc func() time.Time
}

// New creates an orchestrator with no handlers registered.
func New(cfg Config, queue Publisher, store RunRecorder) *Orchestrator {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	return &Orchestrator{
		cfg:      cfg,
		handlers: make(map[model.Stage]Handler),
		queue:    queue,
		store:    store,
		dlq:      NewDeadLetters(),
		tracker:  newStatusTracker(),
		nowFunc:  time.Now,
	}
}

// RegisterHandler installs the handler for a stage, replacing any previous
// registration.
func (o *Orchestrator) RegisterHandler(stage model.Stage, h Handler) {
	o.handlers[stage] = h
}

// DeadLetterQueue returns the current dead-letter entries.
func (o *Orchestrator) DeadLetterQueue() []model.DeadLetterEntry {
	return o.dlq.List()
}

// RetryDeadLetter removes the dead-letter entry for processID, signaling the
// caller to re-run the pipeline. Returns false when no entry exists.
func (o *Orchestrator) RetryDeadLetter(processID string) (model.DeadLetterEntry, bool) {
	entry, ok := o.dlq.Remove(processID)
	if !ok {
		return model.DeadLetterEntry{}, false
	}
	if o.store != nil {
		if err := o.store.DeleteDeadLetter(context.Background(), processID); err != nil {
			zap.L().Warn("dead letter delete failed in store",
				zap.String("process_id", processID),
				zap.Error(err),
			)
		}
	}
	zap.L().Info("dead letter released for retry",
		zap.String("process_id", processID),
		zap.String("failed_stage", string(entry.FailedStage)),
	)
	return entry, true
}

// Status reports a running execution, or not-found.
func (o *Orchestrator) Status(processID string) (*model.PipelineStatus, bool) {
	return o.tracker.status(processID, o.nowFunc())
}

// Execute runs the full pipeline on pc. On success it returns the summary;
// when a stage exhausts its retries the context is dead-lettered and an error
// is returned.
func (o *Orchestrator) Execute(ctx context.Context, pc *model.PipelineContext) (*model.PipelineSummary, error) {
	for _, stage := range model.ExecutionStages() {
		if o.handlers[stage] == nil {
			return nil, eris.Errorf("pipeline: no handler registered for stage %s", stage)
		}
	}

	log := zap.L().With(
		zap.String("process_id", pc.ProcessID),
		zap.String("subject", pc.Subject),
	)
	log.Info("pipeline starting", zap.String("category", pc.Category))

	started := o.nowFunc()
	o.tracker.begin(pc, started)
	defer o.tracker.end(pc.ProcessID)

	o.recordStore(func(sctx context.Context) error { return o.store.CreateRun(sctx, pc) }, "create run", pc.ProcessID)

	for _, stage := range model.ExecutionStages() {
		o.tracker.enter(pc.ProcessID, stage)

		if reason, skip := o.skipReason(pc, stage); skip {
			now := o.nowFunc()
			pc.SetResult(&model.StageResult{
				Stage:       stage,
				Status:      model.StageStatusSkipped,
				StartedAt:   now,
				CompletedAt: now,
				Data:        map[string]any{"reason": reason},
			})
			log.Info("stage skipped",
				zap.String("stage", string(stage)),
				zap.String("reason", reason),
			)
			o.recordStore(func(sctx context.Context) error {
				return o.store.UpdateRunStage(sctx, pc.ProcessID, stage, model.StageStatusSkipped)
			}, "update run stage", pc.ProcessID)
			continue
		}

		result := o.runStage(ctx, pc, stage)
		o.recordStore(func(sctx context.Context) error {
			return o.store.UpdateRunStage(sctx, pc.ProcessID, stage, result.Status)
		}, "update run stage", pc.ProcessID)

		if result.Status == model.StageStatusFailed {
			lastErr := "stage failed"
			if n := len(result.Errors); n > 0 {
				lastErr = result.Errors[n-1]
			}
			entry := model.DeadLetterEntry{
				ProcessID:   pc.ProcessID,
				Subject:     pc.Subject,
				Category:    pc.Category,
				FailedStage: stage,
				Error:       lastErr,
				RetryCount:  result.RetryCount,
				CreatedAt:   o.nowFunc(),
			}
			o.dlq.Add(entry)
			o.recordStore(func(sctx context.Context) error { return o.store.SaveDeadLetter(sctx, entry) }, "save dead letter", pc.ProcessID)
			o.recordStore(func(sctx context.Context) error {
				return o.store.FailRun(sctx, pc.ProcessID, stage, lastErr)
			}, "fail run", pc.ProcessID)

			log.Error("pipeline halted",
				zap.String("stage", string(stage)),
				zap.Int("retries", result.RetryCount),
				zap.String("error", lastErr),
			)
			return nil, eris.Errorf("pipeline: stage %s failed after %d retries: %s", stage, result.RetryCount, lastErr)
		}

		o.publishTransition(ctx, pc, stage)
	}

	summary := o.summarize(pc, started)
	o.recordStore(func(sctx context.Context) error { return o.store.CompleteRun(sctx, pc.ProcessID, summary) }, "complete run", pc.ProcessID)

	log.Info("pipeline complete",
		zap.Int("stages_completed", summary.StagesCompleted),
		zap.Int("stages_skipped", summary.StagesSkipped),
		zap.Float64("total_cost", summary.TotalCost),
		zap.Int64("total_duration_ms", summary.TotalDurationMs),
	)
	return summary, nil
}

// skipReason decides whether a stage applies to the context.
func (o *Orchestrator) skipReason(pc *model.PipelineContext, stage model.Stage) (string, bool) {
	switch stage {
	case model.StageVerification:
		if len(pc.CollectedSources()) == 0 {
			return "no sources collected", true
		}
	case model.StageMerging:
		if len(pc.CollectedSources()) <= 1 {
			return "one or fewer sources collected", true
		}
	}
	return "", false
}

// runStage invokes the stage handler with retry. A handler that reports
// failure is re-run up to MaxRetries times on a fixed delay; panics count as
// failures.
func (o *Orchestrator) runStage(ctx context.Context, pc *model.PipelineContext, stage model.Stage) *model.StageResult {
	log := zap.L().With(
		zap.String("process_id", pc.ProcessID),
		zap.String("stage", string(stage)),
	)

	result := &model.StageResult{
		Stage:     stage,
		Status:    model.StageStatusInProgress,
		StartedAt: o.nowFunc(),
	}
	pc.SetResult(result)

	handler := o.handlers[stage]
	attempts := o.cfg.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			result.Status = model.StageStatusRetrying
			log.Warn("retrying stage",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", o.cfg.RetryDelay),
			)
			if err := o.pause(ctx); err != nil {
				result.RecordError(err)
				break
			}
		}

		outcome := invoke(ctx, pc, handler)
		result.RetryCount = attempt

		switch outcome.Status {
		case model.StageStatusCompleted:
			result.Status = model.StageStatusCompleted
			result.Data = outcome.Data
			result.Metrics = outcome.Metrics
			result.CompletedAt = o.nowFunc()
			log.Info("stage complete",
				zap.Int64("duration_ms", result.DurationMs()),
				zap.Int("retries", result.RetryCount),
			)
			return result

		case model.StageStatusSkipped:
			result.Status = model.StageStatusSkipped
			result.Data = map[string]any{"reason": outcome.Reason}
			result.CompletedAt = o.nowFunc()
			log.Info("stage skipped by handler", zap.String("reason", outcome.Reason))
			return result

		default:
			err := outcome.Err
			if err == nil {
				err = eris.Errorf("pipeline: stage %s reported failure", stage)
			}
			result.RecordError(err)
			log.Error("stage attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
		}

		if ctx.Err() != nil {
			break
		}
	}

	result.Status = model.StageStatusFailed
	result.CompletedAt = o.nowFunc()
	return result
}

// invoke runs the handler, converting panics into failed outcomes so one
// broken handler cannot take down the orchestrator.
func invoke(ctx context.Context, pc *model.PipelineContext, h Handler) (out model.StageOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = model.Failed(eris.Errorf("pipeline: stage handler panic: %v", r))
		}
	}()
	return h(ctx, pc)
}

// pause waits the fixed retry delay, aborting on context cancellation.
func (o *Orchestrator) pause(ctx context.Context) error {
	if o.cfg.RetryDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(o.cfg.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// publishTransition emits a fire-and-forget stage-completed message.
func (o *Orchestrator) publishTransition(ctx context.Context, pc *model.PipelineContext, stage model.Stage) {
	if o.queue == nil {
		return
	}
	payload := map[string]any{
		"process_id": pc.ProcessID,
		"subject":    pc.Subject,
		"stage":      string(stage),
		"next_stage": string(stage.Next()),
	}
	if err := o.queue.Publish(ctx, "pipeline.stage."+string(stage), payload); err != nil {
		zap.L().Warn("stage transition publish failed",
			zap.String("process_id", pc.ProcessID),
			zap.String("stage", string(stage)),
			zap.Error(err),
		)
	}
}

// recordStore runs a store mirror operation, logging and swallowing errors.
func (o *Orchestrator) recordStore(fn func(ctx context.Context) error, op, processID string) {
	if o.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(sctx); err != nil {
		zap.L().Warn("store mirror failed",
			zap.String("operation", op),
			zap.String("process_id", processID),
			zap.Error(err),
		)
	}
}

// summarize builds the final report from the context's stage results.
func (o *Orchestrator) summarize(pc *model.PipelineContext, started time.Time) *model.PipelineSummary {
	summary := &model.PipelineSummary{
		ProcessID:   pc.ProcessID,
		Subject:     pc.Subject,
		Category:    pc.Category,
		CompletedAt: o.nowFunc(),
	}
	summary.TotalDurationMs = summary.CompletedAt.Sub(started).Milliseconds()

	for _, stage := range model.ExecutionStages() {
		r := pc.Result(stage)
		if r == nil {
			continue
		}
		summary.Stages = append(summary.Stages, model.StageReport{
			Stage:      stage,
			Status:     r.Status,
			DurationMs: r.DurationMs(),
			RetryCount: r.RetryCount,
		})
		switch r.Status {
		case model.StageStatusCompleted:
			summary.StagesCompleted++
			if cost, ok := r.Data[model.DataKeyTotalCost].(float64); ok {
				summary.TotalCost += cost
			}
		case model.StageStatusFailed:
			summary.StagesFailed++
		case model.StageStatusSkipped:
			summary.StagesSkipped++
		}
	}

	if sr := pc.Result(model.StageSummary); sr != nil && sr.Status == model.StageStatusCompleted {
		if synthesis, ok := sr.Data["synthesis"].(map[string]any); ok {
			summary.Synthesis = synthesis
		}
	}

	return summary
}
