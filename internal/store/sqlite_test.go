package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-engine/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	pc := model.NewPipelineContext("Acme Corp", "pharma", "acme recall")
	require.NoError(t, st.CreateRun(ctx, pc))

	run, err := st.GetRun(ctx, pc.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", run.Subject)
	assert.Equal(t, RunStatusRunning, run.Status)

	require.NoError(t, st.UpdateRunStage(ctx, pc.ProcessID, model.StageCollection, model.StageStatusInProgress))
	run, err = st.GetRun(ctx, pc.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, model.StageCollection, run.Stage)
	assert.Equal(t, model.StageStatusInProgress, run.StageStatus)

	summary := &model.PipelineSummary{
		ProcessID:       pc.ProcessID,
		Subject:         "Acme Corp",
		StagesCompleted: 4,
		TotalCost:       0.03,
		CompletedAt:     time.Now().UTC(),
	}
	require.NoError(t, st.CompleteRun(ctx, pc.ProcessID, summary))

	run, err = st.GetRun(ctx, pc.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 4, run.Summary.StagesCompleted)
	assert.InDelta(t, 0.03, run.Summary.TotalCost, 1e-9)
}

func TestSQLite_FailRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	pc := model.NewPipelineContext("Acme Corp", "", "")
	require.NoError(t, st.CreateRun(ctx, pc))
	require.NoError(t, st.FailRun(ctx, pc.ProcessID, model.StageVerification, "all providers down"))

	run, err := st.GetRun(ctx, pc.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Equal(t, model.StageVerification, run.Stage)
	assert.Equal(t, "all providers down", run.Error)
}

func TestSQLite_UpdateMissingRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.UpdateRunStage(context.Background(), "no-such-run", model.StageCollection, model.StageStatusInProgress)
	assert.Error(t, err)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetRun(context.Background(), "missing")
	assert.Error(t, err)
}

func TestSQLite_ListRunsFilters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := model.NewPipelineContext("Acme", "pharma", "")
	b := model.NewPipelineContext("Beta", "fintech", "")
	require.NoError(t, st.CreateRun(ctx, a))
	require.NoError(t, st.CreateRun(ctx, b))
	require.NoError(t, st.FailRun(ctx, b.ProcessID, model.StageCollection, "boom"))

	failed, err := st.ListRuns(ctx, RunFilter{Status: RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "Beta", failed[0].Subject)

	bySubject, err := st.ListRuns(ctx, RunFilter{Subject: "Acme"})
	require.NoError(t, err)
	require.Len(t, bySubject, 1)
	assert.Equal(t, a.ProcessID, bySubject[0].ProcessID)

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_QueueSubjectsAndClaim(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.QueueSubjects(ctx, []Subject{
		{Name: "Acme", Category: "pharma"},
		{Name: "Beta"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	queued, err := st.ListRuns(ctx, RunFilter{Status: RunStatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 2)

	// Executing a queued subject under the same process id flips it to
	// running rather than inserting a second row.
	pc := model.NewPipelineContext(queued[0].Subject, queued[0].Category, "")
	pc.ProcessID = queued[0].ProcessID
	require.NoError(t, st.CreateRun(ctx, pc))

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	run, err := st.GetRun(ctx, queued[0].ProcessID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, run.Status)
}

func TestSQLite_SaveAndListResponses(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	pc := model.NewPipelineContext("Acme", "pharma", "")
	require.NoError(t, st.CreateRun(ctx, pc))

	resp := &model.ProviderResponse{
		Provider: "perplexity",
		Query:    "acme recall",
		Cost:     0.005,
		Results: []model.Result{
			{Title: "Recall", URL: "https://fda.gov/recall", RelevanceScore: 0.9},
		},
	}
	id, err := st.SaveResponse(ctx, pc.ProcessID, resp)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	saved, err := st.ListResponses(ctx, pc.ProcessID)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "perplexity", saved[0].Provider)
	assert.Equal(t, "acme recall", saved[0].Response.Query)
	require.Len(t, saved[0].Response.Results, 1)
	assert.Equal(t, "https://fda.gov/recall", saved[0].Response.Results[0].URL)
}

func TestSQLite_DeadLetters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	entry := model.DeadLetterEntry{
		ProcessID:   "proc-1",
		Subject:     "Acme",
		FailedStage: model.StageCollection,
		Error:       "all providers down",
		RetryCount:  3,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, st.SaveDeadLetter(ctx, entry))

	// Saving again updates in place.
	entry.Error = "still down"
	require.NoError(t, st.SaveDeadLetter(ctx, entry))

	entries, err := st.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "still down", entries[0].Error)
	assert.Equal(t, model.StageCollection, entries[0].FailedStage)

	require.NoError(t, st.DeleteDeadLetter(ctx, "proc-1"))
	entries, err = st.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLite_Counts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := model.NewPipelineContext("Acme", "", "")
	b := model.NewPipelineContext("Beta", "", "")
	require.NoError(t, st.CreateRun(ctx, a))
	require.NoError(t, st.CreateRun(ctx, b))
	require.NoError(t, st.FailRun(ctx, b.ProcessID, model.StageCollection, "boom"))
	_, err := st.SaveResponse(ctx, a.ProcessID, &model.ProviderResponse{Provider: "jina"})
	require.NoError(t, err)
	require.NoError(t, st.SaveDeadLetter(ctx, model.DeadLetterEntry{
		ProcessID: b.ProcessID, Subject: "Beta", FailedStage: model.StageCollection,
		Error: "boom", CreatedAt: time.Now().UTC(),
	}))

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.RunsTotal)
	assert.Equal(t, 1, counts.RunsRunning)
	assert.Equal(t, 1, counts.RunsFailed)
	assert.Equal(t, 1, counts.Responses)
	assert.Equal(t, 1, counts.DeadLetters)
}
