package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-engine/internal/model"
)

func contextWithSources(sources ...model.SourceAttribution) *model.PipelineContext {
	pc := model.NewPipelineContext("Acme", "pharma", "")
	pc.SetResult(&model.StageResult{
		Stage:  model.StageCollection,
		Status: model.StageStatusCompleted,
		Data:   map[string]any{model.DataKeySources: sources},
	})
	return pc
}

func TestVerificationAcceptsReliableSources(t *testing.T) {
	pc := contextWithSources(
		model.SourceAttribution{URL: "https://fda.gov/recall", Domain: "fda.gov", CredibilityScore: 0.9},
		model.SourceAttribution{URL: "https://acme.com/about", Domain: "acme.com", CredibilityScore: 0.7},
	)

	outcome := NewVerificationHandler(nil, DefaultVerifyConfig())(context.Background(), pc)

	require.Equal(t, model.StageStatusCompleted, outcome.Status)
	verified := outcome.Data[model.DataKeyVerifiedSources].([]VerifiedSource)
	require.Len(t, verified, 2)
	assert.Equal(t, model.PriorityGovernment, verified[0].Classification.Priority)
	assert.Greater(t, verified[0].Reliability, verified[1].Reliability)
}

func TestVerificationRejectsSpam(t *testing.T) {
	pc := contextWithSources(
		model.SourceAttribution{URL: "https://best-casino-wins.example.com/acme", Domain: "best-casino-wins.example.com", CredibilityScore: 0.9},
		model.SourceAttribution{URL: "https://fda.gov/recall", Domain: "fda.gov", CredibilityScore: 0.9},
	)

	outcome := NewVerificationHandler(nil, DefaultVerifyConfig())(context.Background(), pc)

	require.Equal(t, model.StageStatusCompleted, outcome.Status)
	verified := outcome.Data[model.DataKeyVerifiedSources].([]VerifiedSource)
	require.Len(t, verified, 1)
	assert.Equal(t, "fda.gov", verified[0].Source.Domain)
	assert.Equal(t, 1.0, outcome.Metrics["rejected"])
}

func TestVerificationRejectsBelowThreshold(t *testing.T) {
	cfg := VerifyConfig{MinReliability: 0.9}
	pc := contextWithSources(
		model.SourceAttribution{URL: "https://somewhere.example.com/x", Domain: "somewhere.example.com", CredibilityScore: 0.1},
	)

	outcome := NewVerificationHandler(nil, cfg)(context.Background(), pc)

	require.Equal(t, model.StageStatusCompleted, outcome.Status)
	verified := outcome.Data[model.DataKeyVerifiedSources].([]VerifiedSource)
	assert.Empty(t, verified)
}

func TestVerificationZeroSourcesStillCompletes(t *testing.T) {
	pc := contextWithSources()

	outcome := NewVerificationHandler(nil, DefaultVerifyConfig())(context.Background(), pc)

	assert.Equal(t, model.StageStatusCompleted, outcome.Status)
	assert.Equal(t, 0.0, outcome.Metrics["accepted"])
}

func TestReliabilityScoreIsMean(t *testing.T) {
	score := reliabilityScore(
		model.SourceAttribution{CredibilityScore: 0.9},
		model.SourceClassification{Confidence: 0.5},
	)
	assert.InDelta(t, 0.7, score, 1e-9)

	score = reliabilityScore(
		model.SourceAttribution{CredibilityScore: 1.0},
		model.SourceClassification{Confidence: 1.0},
	)
	assert.Equal(t, 1.0, score)
}

func TestDefaultThresholdRejectsMeanBelowPointFour(t *testing.T) {
	// Unknown-tier confidence is 0.5; with credibility 0.2 the mean is 0.35,
	// under the default 0.4 floor.
	pc := contextWithSources(
		model.SourceAttribution{URL: "https://blog.example.com/x", Domain: "blog.example.com", CredibilityScore: 0.2},
	)

	outcome := NewVerificationHandler(nil, DefaultVerifyConfig())(context.Background(), pc)

	require.Equal(t, model.StageStatusCompleted, outcome.Status)
	verified := outcome.Data[model.DataKeyVerifiedSources].([]VerifiedSource)
	assert.Empty(t, verified)
	assert.Equal(t, 1.0, outcome.Metrics["rejected"])
}

func TestDefaultVerifyConfigThreshold(t *testing.T) {
	assert.Equal(t, 0.4, DefaultVerifyConfig().MinReliability)
}
