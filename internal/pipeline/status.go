package pipeline

import (
	"sync"
	"time"

	"github.com/sells-group/intel-engine/internal/model"
)

// statusTracker keeps in-flight execution state for status queries. Finished
// executions are dropped; their history lives in the store.
type statusTracker struct {
	mu     sync.RWMutex
	active map[string]*activeRun
}

type activeRun struct {
	subject      string
	currentStage model.Stage
	completed    int
	startedAt    time.Time
}

func newStatusTracker() *statusTracker {
	return &statusTracker{active: make(map[string]*activeRun)}
}

func (t *statusTracker) begin(pc *model.PipelineContext, startedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[pc.ProcessID] = &activeRun{
		subject:      pc.Subject,
		currentStage: model.StageCollection,
		startedAt:    startedAt,
	}
}

func (t *statusTracker) enter(processID string, stage model.Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.active[processID]
	if !ok {
		return
	}
	if run.currentStage != stage {
		run.completed = stage.Order()
	}
	run.currentStage = stage
}

func (t *statusTracker) end(processID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, processID)
}

func (t *statusTracker) status(processID string, now time.Time) (*model.PipelineStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.active[processID]
	if !ok {
		return nil, false
	}
	return &model.PipelineStatus{
		ProcessID:       processID,
		Subject:         run.subject,
		CurrentStage:    run.currentStage,
		StagesCompleted: run.completed,
		RunningSeconds:  now.Sub(run.startedAt).Seconds(),
	}, true
}
