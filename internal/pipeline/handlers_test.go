package pipeline

import (
	"context"
	"sort"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-engine/internal/manager"
	"github.com/sells-group/intel-engine/internal/model"
)

type fakeCollector struct {
	out    *manager.HierarchicalResult
	sweeps map[string]*manager.TemperatureResult
}

func (f *fakeCollector) SearchWithHierarchicalProcessing(context.Context, string, string, string, string) *manager.HierarchicalResult {
	return f.out
}

func (f *fakeCollector) SearchWithTemperatureVariation(_ context.Context, provider, _ string, _ []float64, _, _ string) (*manager.TemperatureResult, error) {
	sweep := f.sweeps[provider]
	if sweep == nil {
		return nil, eris.Errorf("all temperature calls failed for provider %q", provider)
	}
	return sweep, nil
}

func (f *fakeCollector) Providers() []string {
	names := make([]string, 0, len(f.sweeps))
	for name := range f.sweeps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func TestCollectionHandlerCompletes(t *testing.T) {
	collector := &fakeCollector{out: &manager.HierarchicalResult{
		Responses: []model.ProviderResponse{
			{
				Provider: "alpha",
				Cost:     0.01,
				Sources: []model.SourceAttribution{
					{URL: "https://fda.gov/a", Domain: "fda.gov", CredibilityScore: 0.9},
					{URL: "https://fda.gov/a", Domain: "fda.gov", CredibilityScore: 0.95},
				},
			},
			{
				Provider: "beta",
				Cost:     0.005,
				Sources: []model.SourceAttribution{
					{URL: "https://acme.com/about", Domain: "acme.com", CredibilityScore: 0.7},
				},
			},
		},
		TotalCost:       0.015,
		OverallCoverage: 0.6,
	}}

	outcome := NewCollectionHandler(collector)(context.Background(), model.NewPipelineContext("Acme", "pharma", ""))

	require.Equal(t, model.StageStatusCompleted, outcome.Status)
	sources := outcome.Data[model.DataKeySources].([]model.SourceAttribution)
	require.Len(t, sources, 2, "duplicate URLs should be unioned")
	assert.InDelta(t, 0.95, sources[0].CredibilityScore, 1e-9, "higher credibility wins the union")
	assert.InDelta(t, 0.015, outcome.Data[model.DataKeyTotalCost].(float64), 1e-9)
	assert.Equal(t, 2.0, outcome.Metrics["providers"])
}

func TestCollectionHandlerFailsWithoutResponses(t *testing.T) {
	collector := &fakeCollector{out: &manager.HierarchicalResult{}}

	outcome := NewCollectionHandler(collector)(context.Background(), model.NewPipelineContext("Acme", "pharma", ""))

	assert.Equal(t, model.StageStatusFailed, outcome.Status)
	assert.Error(t, outcome.Err)
}

func TestCollectionHandlerTemperatureSweep(t *testing.T) {
	collector := &fakeCollector{sweeps: map[string]*manager.TemperatureResult{
		"alpha": {
			Provider: "alpha",
			Results: []model.TemperatureResult{
				{
					Temperature: 0.2,
					Cost:        0.01,
					Response: &model.ProviderResponse{
						Provider: "alpha",
						Sources: []model.SourceAttribution{
							{URL: "https://fda.gov/a", Domain: "fda.gov", CredibilityScore: 0.9},
						},
					},
				},
				{
					Temperature: 0.7,
					Cached:      true,
					Response:    &model.ProviderResponse{Provider: "alpha"},
				},
			},
		},
		"beta": nil, // sweep fails; must not fail the stage
	}}

	pc := model.NewPipelineContext("Acme", "pharma", "")
	pc.Temperatures = []float64{0.2, 0.7}

	outcome := NewCollectionHandler(collector)(context.Background(), pc)

	require.Equal(t, model.StageStatusCompleted, outcome.Status)
	responses := outcome.Data[model.DataKeyResponses].([]model.ProviderResponse)
	assert.Len(t, responses, 2, "one response per temperature")
	assert.InDelta(t, 0.01, outcome.Data[model.DataKeyTotalCost].(float64), 1e-9, "cached call costs nothing")
	sweeps := outcome.Data["temperature_sweeps"].([]*manager.TemperatureResult)
	require.Len(t, sweeps, 1)
	assert.Equal(t, "alpha", sweeps[0].Provider)
	assert.Equal(t, 2.0, outcome.Metrics["temperatures"])
	assert.Equal(t, 1.0, outcome.Metrics["providers"])
}

func TestCollectionHandlerTemperatureSweepAllProvidersFail(t *testing.T) {
	collector := &fakeCollector{sweeps: map[string]*manager.TemperatureResult{
		"alpha": nil,
	}}

	pc := model.NewPipelineContext("Acme", "pharma", "")
	pc.Temperatures = []float64{0.2}

	outcome := NewCollectionHandler(collector)(context.Background(), pc)

	assert.Equal(t, model.StageStatusFailed, outcome.Status)
	assert.Error(t, outcome.Err)
}

type fakeSynthesizer struct {
	narrative string
	cost      float64
	err       error
	findings  []MergedResult
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, _, _ string, findings []MergedResult) (string, float64, error) {
	f.findings = findings
	return f.narrative, f.cost, f.err
}

func TestSummaryHandlerUsesMergedResults(t *testing.T) {
	pc := model.NewPipelineContext("Acme", "pharma", "")
	merged := []MergedResult{
		{Result: model.Result{Title: "Recall", URL: "https://fda.gov/a"}, Priority: model.PriorityGovernment, Providers: []string{"alpha", "beta"}},
		{Result: model.Result{Title: "About", URL: "https://acme.com"}, Priority: model.PriorityCompany, Providers: []string{"beta"}},
	}
	pc.SetResult(&model.StageResult{
		Stage:  model.StageMerging,
		Status: model.StageStatusCompleted,
		Data:   map[string]any{model.DataKeyMergedResults: merged},
	})

	synth := &fakeSynthesizer{narrative: "Acme had a recall.", cost: 0.02}
	outcome := NewSummaryHandler(synth)(context.Background(), pc)

	require.Equal(t, model.StageStatusCompleted, outcome.Status)
	synthesis := outcome.Data["synthesis"].(map[string]any)
	assert.Equal(t, "Acme had a recall.", synthesis["narrative"])
	assert.Equal(t, 2, synthesis["finding_count"])
	assert.Len(t, synth.findings, 2)

	findings := synthesis["findings"].([]map[string]any)
	require.Len(t, findings, 2)
	assert.Equal(t, "Recall", findings[0]["title"])
	assert.Equal(t, "About", findings[1]["title"])
}

func TestSummaryHandlerWithoutSynthesizer(t *testing.T) {
	pc := model.NewPipelineContext("Acme", "pharma", "")
	outcome := NewSummaryHandler(nil)(context.Background(), pc)

	require.Equal(t, model.StageStatusCompleted, outcome.Status)
	synthesis := outcome.Data["synthesis"].(map[string]any)
	assert.Equal(t, "Acme", synthesis["subject"])
	assert.Equal(t, 0, synthesis["finding_count"])
}

// TestEndToEndScenario wires the real handlers behind the orchestrator:
// 4 sources from 2 providers, one spam rejection, one near-duplicate merge,
// and a summary referencing the surviving findings.
func TestEndToEndScenario(t *testing.T) {
	responses := []model.ProviderResponse{
		{
			Provider: "alpha",
			Cost:     0.01,
			Results: []model.Result{
				{Title: "Acme Recall Notice", URL: "https://fda.gov/recall", RelevanceScore: 0.9},
				{Title: "Win Big", URL: "https://news-casino.example.com/win", RelevanceScore: 0.8},
			},
			Sources: []model.SourceAttribution{
				{URL: "https://fda.gov/recall", Domain: "fda.gov", SourceType: "web", CredibilityScore: 0.9},
				{URL: "https://news-casino.example.com/win", Domain: "news-casino.example.com", SourceType: "web", CredibilityScore: 0.8},
			},
		},
		{
			Provider: "beta",
			Cost:     0.005,
			Results: []model.Result{
				{Title: "Acme recall notice!", URL: "https://tribune.example.com/acme", RelevanceScore: 0.7},
				{Title: "About Acme", URL: "https://acme.com/about", RelevanceScore: 0.6},
			},
			Sources: []model.SourceAttribution{
				{URL: "https://tribune.example.com/acme", Domain: "tribune.example.com", SourceType: "web", CredibilityScore: 0.75},
				{URL: "https://acme.com/about", Domain: "acme.com", SourceType: "web", CredibilityScore: 0.7},
			},
		},
	}

	collector := &fakeCollector{out: &manager.HierarchicalResult{
		Responses: responses,
		TotalCost: 0.015,
	}}

	o := New(fastConfig(), nil, nil)
	o.RegisterHandler(model.StageCollection, NewCollectionHandler(collector))
	o.RegisterHandler(model.StageVerification, NewVerificationHandler(nil, DefaultVerifyConfig()))
	o.RegisterHandler(model.StageMerging, NewMergingHandler())
	o.RegisterHandler(model.StageSummary, NewSummaryHandler(nil))

	pc := model.NewPipelineContext("Acme", "pharma", "acme corp")
	summary, err := o.Execute(context.Background(), pc)

	require.NoError(t, err)
	assert.Equal(t, 4, summary.StagesCompleted)
	assert.Equal(t, 0, summary.StagesFailed)
	assert.Equal(t, 0, summary.StagesSkipped)

	verified := verifiedSources(pc)
	require.Len(t, verified, 3, "spam source should be rejected")
	for _, v := range verified {
		assert.NotContains(t, v.Source.URL, "casino")
	}

	mergeResult := pc.Result(model.StageMerging)
	merged := mergeResult.Data[model.DataKeyMergedResults].([]MergedResult)
	require.Len(t, merged, 2, "near-duplicate recall notices should collapse")

	// The collapsed recall finding keeps the authoritative government copy
	// and records both contributing providers.
	assert.Equal(t, "https://fda.gov/recall", merged[0].Result.URL)
	assert.Equal(t, model.PriorityGovernment, merged[0].Priority)
	assert.Equal(t, []string{"alpha", "beta"}, merged[0].Providers)

	synthesis := summary.Synthesis
	require.NotNil(t, synthesis)
	assert.Equal(t, 2, synthesis["finding_count"])
	findings := synthesis["findings"].([]map[string]any)
	require.Len(t, findings, 2)
}
