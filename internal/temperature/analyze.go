package temperature

import (
	"fmt"
	"math"

	"github.com/sells-group/intel-engine/internal/classify"
	"github.com/sells-group/intel-engine/internal/model"
)

// Composite weighting: relevance 40%, result diversity 30%, cost efficiency
// 30%. Cost efficiency treats costCeiling USD per query as fully inefficient.
const (
	relevanceWeight = 0.4
	diversityWeight = 0.3
	costWeight      = 0.3

	costCeiling = 0.2
)

// TemperatureScore is one temperature's effectiveness breakdown.
type TemperatureScore struct {
	Temperature    float64 `json:"temperature"`
	Composite      float64 `json:"composite"`
	Relevance      float64 `json:"relevance"`
	Diversity      float64 `json:"diversity"`
	CostEfficiency float64 `json:"cost_efficiency"`
	ResultCount    int     `json:"result_count"`
	Cached         bool    `json:"cached"`
}

// Analysis ranks a temperature sweep's outcomes.
type Analysis struct {
	OptimalTemperature float64            `json:"optimal_temperature"`
	Scores             []TemperatureScore `json:"scores"`
	Recommendations    []string           `json:"recommendations"`
}

// AnalyzeEffectiveness scores each temperature on a weighted composite and
// picks the best one. Ties keep the lower temperature.
func (m *Manager) AnalyzeEffectiveness(results []model.TemperatureResult, category string) *Analysis {
	analysis := &Analysis{}
	if len(results) == 0 {
		analysis.Recommendations = []string{"no successful temperature results to analyze"}
		return analysis
	}

	best := math.Inf(-1)
	for _, tr := range results {
		score := scoreTemperature(tr)
		analysis.Scores = append(analysis.Scores, score)
		if score.Composite > best {
			best = score.Composite
			analysis.OptimalTemperature = score.Temperature
		}
	}

	analysis.Recommendations = recommend(analysis.Scores, category)
	return analysis
}

func scoreTemperature(tr model.TemperatureResult) TemperatureScore {
	s := TemperatureScore{Temperature: tr.Temperature, Cached: tr.Cached}
	resp := tr.Response
	if resp == nil {
		return s
	}

	s.ResultCount = len(resp.Results)
	s.Relevance = relevanceOf(resp)
	s.Diversity = diversityOf(resp)
	s.CostEfficiency = 1 - math.Min(tr.Cost/costCeiling, 1)
	s.Composite = relevanceWeight*s.Relevance + diversityWeight*s.Diversity + costWeight*s.CostEfficiency
	return s
}

func relevanceOf(resp *model.ProviderResponse) float64 {
	if resp.RelevanceScore > 0 {
		return resp.RelevanceScore
	}
	if len(resp.Results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range resp.Results {
		sum += r.RelevanceScore
	}
	return sum / float64(len(resp.Results))
}

// diversityOf averages the unique-domain ratio and unique-type ratio across
// the response's sources, falling back to the result list when no explicit
// attributions exist.
func diversityOf(resp *model.ProviderResponse) float64 {
	domains := make(map[string]struct{})
	types := make(map[string]struct{})
	total := 0

	if len(resp.Sources) > 0 {
		total = len(resp.Sources)
		for _, s := range resp.Sources {
			if d := classify.NormalizeDomain(s.URL, s.Domain); d != "" {
				domains[d] = struct{}{}
			}
			if s.SourceType != "" {
				types[s.SourceType] = struct{}{}
			}
		}
	} else {
		total = len(resp.Results)
		for _, r := range resp.Results {
			if d := classify.NormalizeDomain(r.URL, ""); d != "" {
				domains[d] = struct{}{}
			}
			if r.SourceType != "" {
				types[r.SourceType] = struct{}{}
			}
		}
	}

	if total == 0 {
		return 0
	}
	sourceRatio := float64(len(domains)) / float64(total)
	typeRatio := float64(len(types)) / float64(total)
	return (sourceRatio + typeRatio) / 2
}

func recommend(scores []TemperatureScore, category string) []string {
	var recs []string
	if len(scores) == 1 {
		return append(recs, "only one temperature sampled; add sweep values for a meaningful comparison")
	}

	if v := compositeVariance(scores); v < 0.1 {
		recs = append(recs, fmt.Sprintf("composite variance %.3f is below 0.1; consider a single temperature for %s queries", v, category))
	}

	best := scores[0]
	for _, s := range scores[1:] {
		if s.Composite > best.Composite {
			best = s
		}
	}
	if best.CostEfficiency < 0.5 {
		recs = append(recs, fmt.Sprintf("optimal temperature %.1f has low cost efficiency; consider a cheaper provider or fewer sweep values", best.Temperature))
	}
	return recs
}

func compositeVariance(scores []TemperatureScore) float64 {
	var mean float64
	for _, s := range scores {
		mean += s.Composite
	}
	mean /= float64(len(scores))

	var variance float64
	for _, s := range scores {
		d := s.Composite - mean
		variance += d * d
	}
	return variance / float64(len(scores))
}
