package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/cases"

	"github.com/sells-group/intel-engine/internal/model"
)

func TestMergeResultsCollapsesSameURL(t *testing.T) {
	responses := []model.ProviderResponse{
		{Provider: "alpha", Results: []model.Result{
			{Title: "Recall", URL: "https://fda.gov/recall", RelevanceScore: 0.9},
		}},
		{Provider: "beta", Results: []model.Result{
			{Title: "Recall notice", URL: "https://fda.gov/recall/", RelevanceScore: 0.7},
		}},
	}

	merged := mergeResults(responses, nil)

	require.Len(t, merged, 1, "trailing-slash URLs are the same result")
	assert.Equal(t, 2, merged[0].Occurrences)
	assert.Equal(t, []string{"alpha", "beta"}, merged[0].Providers)
}

func TestMergeResultsCollapsesNearDuplicateTitles(t *testing.T) {
	responses := []model.ProviderResponse{
		{Provider: "alpha", Results: []model.Result{
			{Title: "Acme Recall Notice", URL: "https://fda.gov/recall", RelevanceScore: 0.9},
		}},
		{Provider: "beta", Results: []model.Result{
			{Title: "ACME recall — notice!", URL: "https://mirror.example.com/acme", RelevanceScore: 0.8},
		}},
	}

	merged := mergeResults(responses, nil)

	require.Len(t, merged, 1)
	assert.Equal(t, []string{"alpha", "beta"}, merged[0].Providers)
}

func TestMergeResultsConflictResolution(t *testing.T) {
	accepted := map[string]model.SourcePriority{
		"https://tribune.example.com/acme": model.PriorityNews,
		"https://fda.gov/recall":           model.PriorityGovernment,
	}
	responses := []model.ProviderResponse{
		{Provider: "alpha", Results: []model.Result{
			{Title: "Acme Recall", URL: "https://tribune.example.com/acme", RelevanceScore: 0.95},
		}},
		{Provider: "beta", Results: []model.Result{
			{Title: "Acme Recall", URL: "https://fda.gov/recall", RelevanceScore: 0.6},
		}},
	}

	merged := mergeResults(responses, accepted)

	require.Len(t, merged, 1)
	assert.Equal(t, "https://fda.gov/recall", merged[0].Result.URL,
		"government copy wins over higher-relevance news copy")
	assert.Equal(t, model.PriorityGovernment, merged[0].Priority)
}

func TestMergeResultsDropsUnverifiedURLs(t *testing.T) {
	accepted := map[string]model.SourcePriority{
		"https://fda.gov/recall": model.PriorityGovernment,
	}
	responses := []model.ProviderResponse{
		{Provider: "alpha", Results: []model.Result{
			{Title: "Recall", URL: "https://fda.gov/recall", RelevanceScore: 0.9},
			{Title: "Spam", URL: "https://spam.example.com/x", RelevanceScore: 0.8},
		}},
	}

	merged := mergeResults(responses, accepted)

	require.Len(t, merged, 1)
	assert.Equal(t, "https://fda.gov/recall", merged[0].Result.URL)
}

func TestMergeResultsKeepsURLLessFindings(t *testing.T) {
	accepted := map[string]model.SourcePriority{}
	responses := []model.ProviderResponse{
		{Provider: "claude", Results: []model.Result{
			{Title: "Synthesis of Acme", Content: "analysis", SourceType: "analyst", RelevanceScore: 0.8},
		}},
	}

	merged := mergeResults(responses, accepted)

	require.Len(t, merged, 1)
	assert.Equal(t, model.PriorityIndustry, merged[0].Priority, "analyst type maps to the industry tier")
}

func TestMergeResultsOrdering(t *testing.T) {
	responses := []model.ProviderResponse{
		{Provider: "alpha", Results: []model.Result{
			{Title: "News piece", SourceType: "news", RelevanceScore: 0.9},
			{Title: "Gov filing", SourceType: "government", RelevanceScore: 0.5},
			{Title: "Research paper", SourceType: "academic", RelevanceScore: 0.7},
		}},
	}

	merged := mergeResults(responses, nil)

	require.Len(t, merged, 3)
	assert.Equal(t, "Gov filing", merged[0].Result.Title)
	assert.Equal(t, "Research paper", merged[1].Result.Title)
	assert.Equal(t, "News piece", merged[2].Result.Title)
}

func TestMergingHandlerMetrics(t *testing.T) {
	pc := model.NewPipelineContext("Acme", "pharma", "")
	pc.SetResult(&model.StageResult{
		Stage:  model.StageCollection,
		Status: model.StageStatusCompleted,
		Data: map[string]any{
			model.DataKeyResponses: []model.ProviderResponse{
				{Provider: "alpha", Results: []model.Result{
					{Title: "Recall", URL: "https://fda.gov/a", RelevanceScore: 0.9},
					{Title: "Recall", URL: "https://fda.gov/a", RelevanceScore: 0.9},
				}},
			},
		},
	})

	outcome := NewMergingHandler()(context.Background(), pc)

	require.Equal(t, model.StageStatusCompleted, outcome.Status)
	assert.Equal(t, 2.0, outcome.Metrics["input_results"])
	assert.Equal(t, 1.0, outcome.Metrics["merged_results"])
	assert.Equal(t, 1.0, outcome.Metrics["deduplicated"])
}

func TestNormalizeKey(t *testing.T) {
	folder := cases.Fold()
	assert.Equal(t, "acme recall notice", normalizeKey(folder, "Acme Recall — Notice!"))
	assert.Equal(t, "acme recall notice", normalizeKey(folder, "ACME RECALL NOTICE"))
	assert.Equal(t, "", normalizeKey(folder, "—!?"))
}
