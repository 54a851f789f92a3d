package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-engine/pkg/claude"
)

const synthesisSystemPrompt = `You are an intelligence analyst. You are given
verified findings about a research subject, each tagged with its source tier
and the providers that reported it. Write a concise narrative summary that:
- leads with the most consequential findings,
- notes when multiple independent providers corroborate a finding,
- attributes claims to their source tier (government, peer-reviewed, etc.),
- flags findings supported only by a single low-tier source.
Do not invent facts beyond the findings given.`

// maxSynthesisFindings caps how many findings are sent to the model.
const maxSynthesisFindings = 20

// ClaudeSynthesizer produces the summary-stage narrative with the Anthropic
// API. It satisfies Synthesizer.
type ClaudeSynthesizer struct {
	client    claude.Client
	modelID   string
	maxTokens int64
}

// NewClaudeSynthesizer creates a synthesizer. An empty modelID falls back to
// the package default; maxTokens <= 0 defaults to 2048.
func NewClaudeSynthesizer(client claude.Client, modelID string, maxTokens int64) *ClaudeSynthesizer {
	if modelID == "" {
		modelID = claude.DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &ClaudeSynthesizer{client: client, modelID: modelID, maxTokens: maxTokens}
}

// Synthesize renders the merged findings into a narrative and returns it
// with the estimated API cost.
func (s *ClaudeSynthesizer) Synthesize(ctx context.Context, subject, category string, findings []MergedResult) (string, float64, error) {
	resp, err := s.client.CreateMessage(ctx, claude.MessageRequest{
		Model:     s.modelID,
		MaxTokens: s.maxTokens,
		System:    claude.BuildCachedSystemBlocks(synthesisSystemPrompt),
		Messages: []claude.Message{
			{Role: "user", Content: synthesisPrompt(subject, category, findings)},
		},
	})
	if err != nil {
		return "", 0, eris.Wrap(err, "pipeline: synthesize summary")
	}

	cost := resp.Usage.EstimateCost(s.modelID)
	resp.Usage.LogCost(s.modelID, "summary")
	return resp.Text(), cost, nil
}

func synthesisPrompt(subject, category string, findings []MergedResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", subject)
	if category != "" {
		fmt.Fprintf(&b, "Category: %s\n", category)
	}
	b.WriteString("\nFindings:\n")

	n := len(findings)
	if n > maxSynthesisFindings {
		n = maxSynthesisFindings
	}
	for i, f := range findings[:n] {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, f.Priority, f.Result.Title)
		if f.Result.URL != "" {
			fmt.Fprintf(&b, " (%s)", f.Result.URL)
		}
		fmt.Fprintf(&b, " reported by %s\n", strings.Join(f.Providers, ", "))
		if f.Result.Content != "" {
			content := f.Result.Content
			if len(content) > 500 {
				content = content[:500]
			}
			fmt.Fprintf(&b, "   %s\n", content)
		}
	}
	return b.String()
}
