package pipeline

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/intel-engine/internal/hierarchy"
	"github.com/sells-group/intel-engine/internal/model"
)

// MergedResult is one deduplicated finding with its provenance.
type MergedResult struct {
	Result      model.Result         `json:"result"`
	Priority    model.SourcePriority `json:"priority"`
	Providers   []string             `json:"providers"`
	Occurrences int                  `json:"occurrences"`
}

// NewMergingHandler builds the Merging stage: drop results whose source was
// rejected by verification, collapse near-duplicates across providers, and
// resolve conflicts in favor of the more authoritative source.
func NewMergingHandler() Handler {
	return func(_ context.Context, pc *model.PipelineContext) model.StageOutcome {
		responses := pc.CollectedResponses()

		var accepted map[string]model.SourcePriority
		if verified := verifiedSources(pc); verified != nil {
			accepted = make(map[string]model.SourcePriority, len(verified))
			for _, v := range verified {
				accepted[v.Source.URL] = v.Classification.Priority
			}
		}

		var total int
		for _, resp := range responses {
			total += len(resp.Results)
		}

		merged := mergeResults(responses, accepted)

		zap.L().Info("merging complete",
			zap.String("process_id", pc.ProcessID),
			zap.Int("input_results", total),
			zap.Int("merged_results", len(merged)),
		)

		return model.CompletedWithMetrics(
			map[string]any{
				model.DataKeyMergedResults: merged,
				model.DataKeyTotalCost:     0.0,
			},
			map[string]float64{
				"input_results":  float64(total),
				"merged_results": float64(len(merged)),
				"deduplicated":   float64(total - len(merged)),
			},
		)
	}
}

// mergeResults collapses near-duplicate results across provider responses.
// When accepted is non-nil, URL-backed results outside it are dropped.
// Duplicate groups keep the result from the more authoritative tier, then
// the higher relevance score.
func mergeResults(responses []model.ProviderResponse, accepted map[string]model.SourcePriority) []MergedResult {
	folder := cases.Fold()

	type group struct {
		merged MergedResult
		seen   map[string]struct{}
	}
	var groups []*group
	byKey := make(map[string]*group)

	for _, resp := range responses {
		for _, res := range resp.Results {
			priority := model.PriorityUnknown
			if res.URL != "" {
				if accepted != nil {
					p, ok := accepted[res.URL]
					if !ok {
						continue
					}
					priority = p
				}
			} else {
				priority = hierarchy.InferPriority(res.SourceType)
			}

			// A result matches a group by URL or by normalized title; the
			// title key catches near-duplicates published at distinct URLs.
			var keys []string
			if res.URL != "" {
				keys = append(keys, "url:"+strings.TrimRight(strings.ToLower(res.URL), "/"))
			}
			if title := normalizeKey(folder, res.Title); title != "" {
				keys = append(keys, "title:"+title)
			}
			if len(keys) == 0 {
				continue
			}

			var g *group
			for _, key := range keys {
				if found, ok := byKey[key]; ok {
					g = found
					break
				}
			}

			if g == nil {
				g = &group{
					merged: MergedResult{Result: res, Priority: priority},
					seen:   map[string]struct{}{},
				}
				groups = append(groups, g)
			} else if priority.MoreAuthoritativeOrEqual(g.merged.Priority) &&
				(priority != g.merged.Priority || res.RelevanceScore > g.merged.Result.RelevanceScore) {
				// Conflict resolution: more authoritative tier wins, then
				// the higher relevance score within a tier.
				g.merged.Result = res
				g.merged.Priority = priority
			}

			for _, key := range keys {
				byKey[key] = g
			}
			g.merged.Occurrences++
			if _, dup := g.seen[resp.Provider]; !dup {
				g.seen[resp.Provider] = struct{}{}
				g.merged.Providers = append(g.merged.Providers, resp.Provider)
			}
		}
	}

	out := make([]MergedResult, 0, len(groups))
	for _, g := range groups {
		sort.Strings(g.merged.Providers)
		out = append(out, g.merged)
	}

	// Most authoritative first, then by relevance.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority.MoreAuthoritativeOrEqual(out[j].Priority)
		}
		return out[i].Result.RelevanceScore > out[j].Result.RelevanceScore
	})
	return out
}

// normalizeKey produces a fold-cased, NFKC-normalized, punctuation-free key
// for near-duplicate title matching.
func normalizeKey(folder cases.Caser, s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)
	var b strings.Builder
	lastSpace := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
