package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/intel-engine/internal/classify"
	"github.com/sells-group/intel-engine/internal/model"
)

// VerifyConfig controls the verification stage.
type VerifyConfig struct {
	// MinReliability rejects sources scoring below it. Default: 0.4.
	MinReliability float64

	// SpamKeywords reject a source outright when its URL or domain contains
	// one. Defaults cover common low-quality patterns.
	SpamKeywords []string
}

// DefaultVerifyConfig returns the standard verification thresholds.
func DefaultVerifyConfig() VerifyConfig {
	return VerifyConfig{
		MinReliability: 0.4,
		SpamKeywords: []string{
			"casino", "free-money", "click-here", "buy-now",
			"lottery", "weight-loss", "get-rich",
		},
	}
}

// VerifiedSource is a source that passed verification, with its
// classification and reliability score attached.
type VerifiedSource struct {
	Source         model.SourceAttribution    `json:"source"`
	Classification model.SourceClassification `json:"classification"`
	Reliability    float64                    `json:"reliability"`
}

// NewVerificationHandler builds the Verification stage: classify every
// collected source and keep the ones that look reliable. Rejections never
// fail the stage; a context with zero surviving sources still completes.
func NewVerificationHandler(classifier *classify.Classifier, cfg VerifyConfig) Handler {
	if classifier == nil {
		classifier = classify.New(nil)
	}
	if cfg.MinReliability <= 0 {
		cfg.MinReliability = DefaultVerifyConfig().MinReliability
	}
	if cfg.SpamKeywords == nil {
		cfg.SpamKeywords = DefaultVerifyConfig().SpamKeywords
	}

	return func(_ context.Context, pc *model.PipelineContext) model.StageOutcome {
		sources := pc.CollectedSources()

		verified := make([]VerifiedSource, 0, len(sources))
		var rejected int
		for _, src := range sources {
			if reason := spamReason(src, cfg.SpamKeywords); reason != "" {
				rejected++
				zap.L().Debug("source rejected",
					zap.String("process_id", pc.ProcessID),
					zap.String("url", src.URL),
					zap.String("reason", reason),
				)
				continue
			}

			cls := classifier.Classify(src)
			reliability := reliabilityScore(src, cls)
			if reliability < cfg.MinReliability {
				rejected++
				zap.L().Debug("source rejected",
					zap.String("process_id", pc.ProcessID),
					zap.String("url", src.URL),
					zap.String("reason", "below reliability threshold"),
					zap.Float64("reliability", reliability),
				)
				continue
			}

			verified = append(verified, VerifiedSource{
				Source:         src,
				Classification: cls,
				Reliability:    reliability,
			})
		}

		zap.L().Info("verification complete",
			zap.String("process_id", pc.ProcessID),
			zap.Int("accepted", len(verified)),
			zap.Int("rejected", rejected),
		)

		return model.CompletedWithMetrics(
			map[string]any{
				model.DataKeyVerifiedSources: verified,
				model.DataKeyTotalCost:       0.0,
			},
			map[string]float64{
				"accepted": float64(len(verified)),
				"rejected": float64(rejected),
			},
		)
	}
}

// spamReason returns a non-empty reason when the source matches a spam
// keyword.
func spamReason(src model.SourceAttribution, keywords []string) string {
	haystack := strings.ToLower(src.URL + " " + src.Domain)
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return "spam keyword: " + kw
		}
	}
	return ""
}

// reliabilityScore is the mean of the provider's credibility attribution and
// the classification confidence. Both inputs live in [0, 1], so the mean
// does too.
func reliabilityScore(src model.SourceAttribution, cls model.SourceClassification) float64 {
	return (src.CredibilityScore + cls.Confidence) / 2
}

// verifiedSources returns the verification stage's accepted sources, or nil
// when verification did not complete.
func verifiedSources(pc *model.PipelineContext) []VerifiedSource {
	r := pc.Result(model.StageVerification)
	if r == nil || r.Status != model.StageStatusCompleted || r.Data == nil {
		return nil
	}
	verified, _ := r.Data[model.DataKeyVerifiedSources].([]VerifiedSource)
	return verified
}
