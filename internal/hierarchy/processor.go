// Package hierarchy ranks a provider's results by source trust tier and
// decides when enough authoritative coverage has been collected to stop
// processing cheaper tiers.
package hierarchy

import (
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-engine/internal/classify"
	"github.com/sells-group/intel-engine/internal/model"
)

// Config controls coverage scoring and tier capping.
type Config struct {
	// MinCoverage is the normalized coverage score at which processing may
	// stop early. Default: 0.8.
	MinCoverage float64

	// MaxPerTier caps how many results one tier contributes. Default: 10.
	MaxPerTier int

	// TierWeights sets each tier's contribution to the coverage score.
	// Defaults: PaidAPI .25, Government .25, PeerReviewed .20, Industry .15,
	// Company .10, News .05, Unknown 0.
	TierWeights map[model.SourcePriority]float64

	// CategoryOverrides remaps priorities per subject category, keyed by
	// category, then by domain or source type.
	CategoryOverrides map[string]map[string]model.SourcePriority
}

// DefaultConfig returns the standard coverage configuration.
func DefaultConfig() Config {
	return Config{
		MinCoverage: 0.8,
		MaxPerTier:  10,
		TierWeights: map[model.SourcePriority]float64{
			model.PriorityPaidAPI:      0.25,
			model.PriorityGovernment:   0.25,
			model.PriorityPeerReviewed: 0.20,
			model.PriorityIndustry:     0.15,
			model.PriorityCompany:      0.10,
			model.PriorityNews:         0.05,
			model.PriorityUnknown:      0,
		},
	}
}

// Validate checks the config for construction-time errors.
func (c Config) Validate() error {
	var problems []string
	if c.MinCoverage <= 0 || c.MinCoverage > 1 {
		problems = append(problems, "min_coverage must be in (0, 1]")
	}
	if c.MaxPerTier < 1 {
		problems = append(problems, "max_per_tier must be >= 1")
	}
	for tier, w := range c.TierWeights {
		if w < 0 {
			problems = append(problems, "negative weight for tier "+tier.String())
		}
	}
	if len(problems) > 0 {
		return eris.Errorf("hierarchy: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RankedResult pairs a result with its resolved classification.
type RankedResult struct {
	Result         model.Result               `json:"result"`
	Classification model.SourceClassification `json:"classification"`
}

// Report is the outcome of hierarchical processing for one provider
// response. ProcessedResults holds only the tiers that were reached before
// any early termination, keyed by tier name, each ranked by relevance.
type Report struct {
	Provider             string                    `json:"provider"`
	Category             string                    `json:"category"`
	ProcessedResults     map[string][]RankedResult `json:"processed_results"`
	PriorityDistribution map[string]int            `json:"priority_distribution"`
	CoverageScore        float64                   `json:"coverage_score"`
	TotalProcessed       int                       `json:"total_processed"`
	EarlyTerminated      bool                      `json:"early_terminated"`
}

// Processor groups and ranks results by priority tier.
type Processor struct {
	cfg        Config
	classifier *classify.Classifier
}

// New builds a processor. A nil classifier uses the default rule set.
func New(cfg Config, classifier *classify.Classifier) (*Processor, error) {
	if cfg.TierWeights == nil {
		cfg.TierWeights = DefaultConfig().TierWeights
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if classifier == nil {
		classifier = classify.New(nil)
	}
	return &Processor{cfg: cfg, classifier: classifier}, nil
}

// sourceTypePriorities infers a tier when a result carries no URL.
var sourceTypePriorities = map[string]model.SourcePriority{
	"api":             model.PriorityPaidAPI,
	"paid_api":        model.PriorityPaidAPI,
	"commercial_api":  model.PriorityPaidAPI,
	"government":      model.PriorityGovernment,
	"regulatory":      model.PriorityGovernment,
	"research":        model.PriorityPeerReviewed,
	"academic":        model.PriorityPeerReviewed,
	"journal":         model.PriorityPeerReviewed,
	"peer_reviewed":   model.PriorityPeerReviewed,
	"clinical_trial":  model.PriorityPeerReviewed,
	"industry":        model.PriorityIndustry,
	"analyst":         model.PriorityIndustry,
	"market_research": model.PriorityIndustry,
	"company":         model.PriorityCompany,
	"official":        model.PriorityCompany,
	"press_release":   model.PriorityCompany,
	"corporate":       model.PriorityCompany,
	"news":            model.PriorityNews,
	"press":           model.PriorityNews,
	"media":           model.PriorityNews,
}

// InferPriority maps a declared source type to a tier. Unrecognized types
// map to the unknown tier.
func InferPriority(sourceType string) model.SourcePriority {
	if p, ok := sourceTypePriorities[strings.ToLower(strings.TrimSpace(sourceType))]; ok {
		return p
	}
	return model.PriorityUnknown
}

// Process classifies every result, groups them by tier, and walks tiers
// from most to least authoritative, capping each at MaxPerTier. After each
// tier the coverage score is recomputed; once it reaches MinCoverage and the
// tier just completed is peer-reviewed or better, remaining tiers are
// dropped.
//
// Coverage is normalized by the total weight of tiers present in the
// response, so a response covering all of its achievable tiers scores 1.0
// regardless of which tiers exist.
func (p *Processor) Process(resp *model.ProviderResponse, category, subject string, overrides map[string]model.SourcePriority) *Report {
	report := &Report{
		Provider:             resp.Provider,
		Category:             category,
		ProcessedResults:     make(map[string][]RankedResult),
		PriorityDistribution: make(map[string]int),
	}
	if overrides == nil {
		overrides = p.cfg.CategoryOverrides[category]
	}

	buckets := p.bucketize(resp, overrides)
	if len(buckets) == 0 {
		return report
	}

	var achievable float64
	for tier, results := range buckets {
		if len(results) > 0 {
			achievable += p.cfg.TierWeights[tier]
		}
	}

	var raw float64
	for _, tier := range model.TierOrder() {
		results := buckets[tier]
		if len(results) == 0 {
			continue
		}

		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Result.RelevanceScore > results[j].Result.RelevanceScore
		})
		if len(results) > p.cfg.MaxPerTier {
			results = results[:p.cfg.MaxPerTier]
		}

		name := tier.String()
		report.ProcessedResults[name] = results
		report.PriorityDistribution[name] = len(results)
		report.TotalProcessed += len(results)

		raw += p.cfg.TierWeights[tier] * math.Min(1, float64(len(results))/3.0)
		if achievable > 0 {
			report.CoverageScore = raw / achievable
		}

		if report.CoverageScore >= p.cfg.MinCoverage && tier.MoreAuthoritativeOrEqual(model.PriorityPeerReviewed) {
			report.EarlyTerminated = true
			break
		}
	}

	zap.L().Debug("hierarchical processing complete",
		zap.String("provider", resp.Provider),
		zap.String("subject", subject),
		zap.String("category", category),
		zap.Float64("coverage", report.CoverageScore),
		zap.Int("total_processed", report.TotalProcessed),
		zap.Bool("early_terminated", report.EarlyTerminated),
	)
	return report
}

func (p *Processor) bucketize(resp *model.ProviderResponse, overrides map[string]model.SourcePriority) map[model.SourcePriority][]RankedResult {
	buckets := make(map[model.SourcePriority][]RankedResult)
	for _, res := range resp.Results {
		var cls model.SourceClassification
		if res.URL != "" {
			cls = p.classifier.Classify(model.SourceAttribution{
				URL:        res.URL,
				SourceType: res.SourceType,
			})
		} else {
			pri := InferPriority(res.SourceType)
			cls = model.SourceClassification{
				Priority:   pri,
				Category:   pri.String(),
				Confidence: p.classifier.Confidence(pri),
				Metadata:   map[string]any{"rule": "source_type_inference"},
			}
		}

		if len(overrides) > 0 {
			if ov, ok := overrides[cls.Domain]; ok && cls.Domain != "" {
				cls.Priority = ov
				cls.Category = ov.String()
			} else if ov, ok := overrides[strings.ToLower(res.SourceType)]; ok {
				cls.Priority = ov
				cls.Category = ov.String()
			}
		}

		buckets[cls.Priority] = append(buckets[cls.Priority], RankedResult{
			Result:         res,
			Classification: cls,
		})
	}
	return buckets
}
