package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-engine/internal/manager"
	"github.com/sells-group/intel-engine/internal/model"
)

// Collector is the slice of the multi-API manager the collection stage uses.
type Collector interface {
	SearchWithHierarchicalProcessing(ctx context.Context, query, category, subject, processID string) *manager.HierarchicalResult
	SearchWithTemperatureVariation(ctx context.Context, provider, query string, temperatures []float64, category, processID string) (*manager.TemperatureResult, error)
	Providers() []string
}

// NewCollectionHandler builds the Collection stage: fan out across providers
// with hierarchical processing and accumulate responses, sources, and cost on
// the context. A context carrying Temperatures sweeps each provider across
// those values instead.
func NewCollectionHandler(c Collector) Handler {
	return func(ctx context.Context, pc *model.PipelineContext) model.StageOutcome {
		if len(pc.Temperatures) > 0 {
			return collectAcrossTemperatures(ctx, c, pc)
		}

		out := c.SearchWithHierarchicalProcessing(ctx, pc.Query, pc.Category, pc.Subject, pc.ProcessID)
		if len(out.Responses) == 0 {
			return model.Failed(eris.New("pipeline: collection produced no provider responses"))
		}

		sources := dedupeSources(out.Responses)
		zap.L().Info("collection complete",
			zap.String("process_id", pc.ProcessID),
			zap.Int("providers", len(out.Responses)),
			zap.Int("sources", len(sources)),
			zap.Float64("cost", out.TotalCost),
		)

		return model.CompletedWithMetrics(
			map[string]any{
				model.DataKeyResponses: out.Responses,
				model.DataKeySources:   sources,
				model.DataKeyTotalCost: out.TotalCost,
				"hierarchy_reports":    out.Reports,
			},
			map[string]float64{
				"providers":         float64(len(out.Responses)),
				"overall_coverage":  out.OverallCoverage,
				"early_terminated":  float64(out.EarlyTerminated),
				"results_processed": float64(out.TotalProcessed),
			},
		)
	}
}

// collectAcrossTemperatures sweeps every registered provider across the
// context's temperatures. A provider's sweep failure is non-fatal; the stage
// fails only when no provider returned anything.
func collectAcrossTemperatures(ctx context.Context, c Collector, pc *model.PipelineContext) model.StageOutcome {
	var (
		responses []model.ProviderResponse
		sweeps    []*manager.TemperatureResult
		totalCost float64
	)
	for _, name := range c.Providers() {
		sweep, err := c.SearchWithTemperatureVariation(ctx, name, pc.Query, pc.Temperatures, pc.Category, pc.ProcessID)
		if err != nil {
			zap.L().Warn("temperature sweep failed",
				zap.String("process_id", pc.ProcessID),
				zap.String("provider", name),
				zap.Error(err),
			)
			continue
		}
		sweeps = append(sweeps, sweep)
		for _, r := range sweep.Results {
			totalCost += r.Cost
			if r.Response != nil {
				responses = append(responses, *r.Response)
			}
		}
	}
	if len(responses) == 0 {
		return model.Failed(eris.New("pipeline: temperature sweep produced no provider responses"))
	}

	sources := dedupeSources(responses)
	zap.L().Info("collection complete",
		zap.String("process_id", pc.ProcessID),
		zap.Int("providers", len(sweeps)),
		zap.Int("temperatures", len(pc.Temperatures)),
		zap.Int("sources", len(sources)),
		zap.Float64("cost", totalCost),
	)

	return model.CompletedWithMetrics(
		map[string]any{
			model.DataKeyResponses: responses,
			model.DataKeySources:   sources,
			model.DataKeyTotalCost: totalCost,
			"temperature_sweeps":   sweeps,
		},
		map[string]float64{
			"providers":    float64(len(sweeps)),
			"temperatures": float64(len(pc.Temperatures)),
		},
	)
}

// dedupeSources unions provider source attributions by URL, keeping the
// highest credibility score seen for each.
func dedupeSources(responses []model.ProviderResponse) []model.SourceAttribution {
	seen := make(map[string]int)
	var out []model.SourceAttribution
	for _, resp := range responses {
		for _, src := range resp.Sources {
			if src.URL == "" {
				continue
			}
			if i, ok := seen[src.URL]; ok {
				if src.CredibilityScore > out[i].CredibilityScore {
					out[i] = src
				}
				continue
			}
			seen[src.URL] = len(out)
			out = append(out, src)
		}
	}
	return out
}

// Synthesizer produces the narrative for the summary stage. Optional; when
// absent the summary is a structured digest.
type Synthesizer interface {
	Synthesize(ctx context.Context, subject, category string, findings []MergedResult) (string, float64, error)
}

// maxSummaryFindings caps how many findings the summary payload lists.
const maxSummaryFindings = 10

// NewSummaryHandler builds the Summary stage: synthesize the merged (or, for
// short pipelines, raw) findings into the final payload.
func NewSummaryHandler(synth Synthesizer) Handler {
	return func(ctx context.Context, pc *model.PipelineContext) model.StageOutcome {
		findings := mergedFindings(pc)

		top := findings
		if len(top) > maxSummaryFindings {
			top = top[:maxSummaryFindings]
		}

		entries := make([]map[string]any, 0, len(top))
		for _, f := range top {
			entries = append(entries, map[string]any{
				"title":     f.Result.Title,
				"url":       f.Result.URL,
				"tier":      f.Priority.String(),
				"providers": f.Providers,
			})
		}

		synthesis := map[string]any{
			"subject":       pc.Subject,
			"category":      pc.Category,
			"findings":      entries,
			"finding_count": len(findings),
			"source_count":  len(pc.CollectedSources()),
		}

		var cost float64
		if synth != nil && len(findings) > 0 {
			narrative, synthCost, err := synth.Synthesize(ctx, pc.Subject, pc.Category, findings)
			if err != nil {
				return model.Failed(eris.Wrap(err, "pipeline: summary synthesis"))
			}
			synthesis["narrative"] = narrative
			cost = synthCost
		}

		return model.Completed(map[string]any{
			"synthesis":            synthesis,
			model.DataKeyTotalCost: cost,
		})
	}
}

// mergedFindings returns the merging stage's output, falling back to a
// single-pass merge of the raw responses when merging was skipped.
func mergedFindings(pc *model.PipelineContext) []MergedResult {
	if r := pc.Result(model.StageMerging); r != nil && r.Status == model.StageStatusCompleted {
		if merged, ok := r.Data[model.DataKeyMergedResults].([]MergedResult); ok {
			return merged
		}
	}
	return mergeResults(pc.CollectedResponses(), nil)
}
