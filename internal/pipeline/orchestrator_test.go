package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-engine/internal/model"
)

func fastConfig() Config {
	return Config{MaxRetries: 3, RetryDelay: time.Millisecond}
}

// completedWithSources returns a handler completing with n collected sources.
func completedWithSources(n int) Handler {
	return func(_ context.Context, _ *model.PipelineContext) model.StageOutcome {
		sources := make([]model.SourceAttribution, n)
		for i := range sources {
			sources[i] = model.SourceAttribution{URL: "https://example.com/" + string(rune('a'+i))}
		}
		return model.Completed(map[string]any{
			model.DataKeySources:   sources,
			model.DataKeyTotalCost: 0.01,
		})
	}
}

func noopHandler(_ context.Context, _ *model.PipelineContext) model.StageOutcome {
	return model.Completed(map[string]any{model.DataKeyTotalCost: 0.0})
}

func newTestOrchestrator(collection Handler) *Orchestrator {
	o := New(fastConfig(), nil, nil)
	o.RegisterHandler(model.StageCollection, collection)
	o.RegisterHandler(model.StageVerification, noopHandler)
	o.RegisterHandler(model.StageMerging, noopHandler)
	o.RegisterHandler(model.StageSummary, noopHandler)
	return o
}

func TestExecuteStageOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []model.Stage
	record := func(stage model.Stage, inner Handler) Handler {
		return func(ctx context.Context, pc *model.PipelineContext) model.StageOutcome {
			mu.Lock()
			order = append(order, stage)
			mu.Unlock()
			return inner(ctx, pc)
		}
	}

	o := New(fastConfig(), nil, nil)
	o.RegisterHandler(model.StageCollection, record(model.StageCollection, completedWithSources(3)))
	o.RegisterHandler(model.StageVerification, record(model.StageVerification, noopHandler))
	o.RegisterHandler(model.StageMerging, record(model.StageMerging, noopHandler))
	o.RegisterHandler(model.StageSummary, record(model.StageSummary, noopHandler))

	summary, err := o.Execute(context.Background(), model.NewPipelineContext("Acme", "pharma", ""))

	require.NoError(t, err)
	assert.Equal(t, []model.Stage{
		model.StageCollection,
		model.StageVerification,
		model.StageMerging,
		model.StageSummary,
	}, order)
	assert.Equal(t, 4, summary.StagesCompleted)
	assert.Equal(t, 0, summary.StagesFailed)
	assert.Equal(t, 0, summary.StagesSkipped)
}

func TestExecuteSkipsVerificationWithoutSources(t *testing.T) {
	verificationRan := false
	o := newTestOrchestrator(completedWithSources(0))
	o.RegisterHandler(model.StageVerification, func(_ context.Context, _ *model.PipelineContext) model.StageOutcome {
		verificationRan = true
		return model.Completed(nil)
	})

	pc := model.NewPipelineContext("Acme", "pharma", "")
	summary, err := o.Execute(context.Background(), pc)

	require.NoError(t, err)
	assert.False(t, verificationRan)
	assert.Equal(t, model.StageStatusSkipped, pc.Result(model.StageVerification).Status)
	assert.Equal(t, model.StageStatusSkipped, pc.Result(model.StageMerging).Status)
	assert.Equal(t, 2, summary.StagesCompleted)
	assert.Equal(t, 2, summary.StagesSkipped)
}

func TestExecuteSkipsMergingWithSingleSource(t *testing.T) {
	o := newTestOrchestrator(completedWithSources(1))
	pc := model.NewPipelineContext("Acme", "pharma", "")

	_, err := o.Execute(context.Background(), pc)

	require.NoError(t, err)
	assert.Equal(t, model.StageStatusCompleted, pc.Result(model.StageVerification).Status)
	assert.Equal(t, model.StageStatusSkipped, pc.Result(model.StageMerging).Status)
}

func TestExecuteMergingRunsWithTwoSources(t *testing.T) {
	o := newTestOrchestrator(completedWithSources(2))
	pc := model.NewPipelineContext("Acme", "pharma", "")

	_, err := o.Execute(context.Background(), pc)

	require.NoError(t, err)
	assert.Equal(t, model.StageStatusCompleted, pc.Result(model.StageMerging).Status)
}

func TestExecuteRetryBoundAndDeadLetter(t *testing.T) {
	invocations := 0
	o := newTestOrchestrator(func(_ context.Context, _ *model.PipelineContext) model.StageOutcome {
		invocations++
		return model.Failed(eris.New("provider exploded"))
	})

	pc := model.NewPipelineContext("Acme", "pharma", "")
	summary, err := o.Execute(context.Background(), pc)

	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Equal(t, 4, invocations, "maxRetries+1 invocations expected")

	result := pc.Result(model.StageCollection)
	require.NotNil(t, result)
	assert.Equal(t, model.StageStatusFailed, result.Status)
	assert.Equal(t, 3, result.RetryCount)

	entries := o.DeadLetterQueue()
	require.Len(t, entries, 1)
	assert.Equal(t, pc.ProcessID, entries[0].ProcessID)
	assert.Equal(t, model.StageCollection, entries[0].FailedStage)
	assert.Contains(t, entries[0].Error, "provider exploded")
}

func TestExecuteRetrySucceedsOnSecondAttempt(t *testing.T) {
	attempts := 0
	flaky := func(ctx context.Context, pc *model.PipelineContext) model.StageOutcome {
		attempts++
		if attempts == 1 {
			return model.Failed(eris.New("transient"))
		}
		return completedWithSources(2)(ctx, pc)
	}
	o := newTestOrchestrator(flaky)

	pc := model.NewPipelineContext("Acme", "pharma", "")
	summary, err := o.Execute(context.Background(), pc)

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, pc.Result(model.StageCollection).RetryCount)
	assert.Empty(t, o.DeadLetterQueue())
	assert.Equal(t, 4, summary.StagesCompleted)
}

func TestExecuteHandlerPanicIsRetriedThenFails(t *testing.T) {
	invocations := 0
	o := newTestOrchestrator(func(_ context.Context, _ *model.PipelineContext) model.StageOutcome {
		invocations++
		panic("boom")
	})

	pc := model.NewPipelineContext("Acme", "pharma", "")
	_, err := o.Execute(context.Background(), pc)

	require.Error(t, err)
	assert.Equal(t, 4, invocations)
	assert.Equal(t, model.StageStatusFailed, pc.Result(model.StageCollection).Status)
	assert.Len(t, o.DeadLetterQueue(), 1)
}

func TestExecuteHaltsAfterFailedStage(t *testing.T) {
	summaryRan := false
	o := newTestOrchestrator(completedWithSources(2))
	o.RegisterHandler(model.StageVerification, func(_ context.Context, _ *model.PipelineContext) model.StageOutcome {
		return model.Failed(eris.New("verification broken"))
	})
	o.RegisterHandler(model.StageSummary, func(_ context.Context, _ *model.PipelineContext) model.StageOutcome {
		summaryRan = true
		return model.Completed(nil)
	})

	pc := model.NewPipelineContext("Acme", "pharma", "")
	_, err := o.Execute(context.Background(), pc)

	require.Error(t, err)
	assert.False(t, summaryRan)
	assert.Nil(t, pc.Result(model.StageSummary))

	entries := o.DeadLetterQueue()
	require.Len(t, entries, 1)
	assert.Equal(t, model.StageVerification, entries[0].FailedStage)
}

func TestExecuteMissingHandler(t *testing.T) {
	o := New(fastConfig(), nil, nil)
	o.RegisterHandler(model.StageCollection, completedWithSources(1))

	_, err := o.Execute(context.Background(), model.NewPipelineContext("Acme", "", ""))
	assert.Error(t, err)
}

func TestRetryDeadLetter(t *testing.T) {
	o := newTestOrchestrator(func(_ context.Context, _ *model.PipelineContext) model.StageOutcome {
		return model.Failed(eris.New("always"))
	})

	pc := model.NewPipelineContext("Acme", "pharma", "")
	_, err := o.Execute(context.Background(), pc)
	require.Error(t, err)
	require.Len(t, o.DeadLetterQueue(), 1)

	entry, ok := o.RetryDeadLetter(pc.ProcessID)
	require.True(t, ok)
	assert.Equal(t, pc.ProcessID, entry.ProcessID)
	assert.Empty(t, o.DeadLetterQueue())

	_, ok = o.RetryDeadLetter(pc.ProcessID)
	assert.False(t, ok, "second retry of the same entry should miss")
}

func TestStatusDuringExecution(t *testing.T) {
	release := make(chan struct{})
	statusCh := make(chan *model.PipelineStatus, 1)

	o := newTestOrchestrator(nil)
	pc := model.NewPipelineContext("Acme", "pharma", "")
	o.RegisterHandler(model.StageCollection, func(_ context.Context, _ *model.PipelineContext) model.StageOutcome {
		st, ok := o.Status(pc.ProcessID)
		if ok {
			statusCh <- st
		}
		<-release
		return completedWithSources(2)(context.Background(), pc)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.Execute(context.Background(), pc)
	}()

	st := <-statusCh
	assert.Equal(t, model.StageCollection, st.CurrentStage)
	assert.Equal(t, 0, st.StagesCompleted)

	close(release)
	<-done

	_, ok := o.Status(pc.ProcessID)
	assert.False(t, ok, "finished execution should drop out of status tracking")
}

func TestPublishFailureDoesNotFailStage(t *testing.T) {
	o := newTestOrchestrator(completedWithSources(2))
	o.queue = publisherFunc(func(context.Context, string, any) error {
		return eris.New("queue down")
	})

	summary, err := o.Execute(context.Background(), model.NewPipelineContext("Acme", "pharma", ""))

	require.NoError(t, err)
	assert.Equal(t, 4, summary.StagesCompleted)
}

type publisherFunc func(ctx context.Context, routingKey string, payload any) error

func (f publisherFunc) Publish(ctx context.Context, routingKey string, payload any) error {
	return f(ctx, routingKey, payload)
}

func TestDeadLettersConcurrentAppendRemove(t *testing.T) {
	dlq := NewDeadLetters()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			dlq.Add(model.DeadLetterEntry{ProcessID: string(rune('a' + n%26))})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, dlq.Len())
}

func TestSummaryTotalCost(t *testing.T) {
	o := newTestOrchestrator(completedWithSources(2))
	o.RegisterHandler(model.StageSummary, func(_ context.Context, _ *model.PipelineContext) model.StageOutcome {
		return model.Completed(map[string]any{
			"synthesis":            map[string]any{"subject": "Acme"},
			model.DataKeyTotalCost: 0.02,
		})
	})

	summary, err := o.Execute(context.Background(), model.NewPipelineContext("Acme", "pharma", ""))

	require.NoError(t, err)
	assert.InDelta(t, 0.03, summary.TotalCost, 1e-9)
	assert.Equal(t, "Acme", summary.Synthesis["subject"])
}
