package provider

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sells-group/intel-engine/internal/classify"
	"github.com/sells-group/intel-engine/internal/cost"
	"github.com/sells-group/intel-engine/internal/model"
	"github.com/sells-group/intel-engine/internal/ratelimit"
	"github.com/sells-group/intel-engine/pkg/claude"
	"github.com/sells-group/intel-engine/pkg/jina"
	"github.com/sells-group/intel-engine/pkg/perplexity"
	"github.com/sells-group/intel-engine/pkg/websearch"
)

const (
	perplexitySystemPrompt = "You are a research collection assistant. Answer with the most relevant, recent findings about the subject, citing sources."
	claudeSystemPrompt     = "You are a research analyst. Synthesize what is known about the subject into concise findings with the reasoning behind each."
)

// rankRelevance assigns a relevance score by result position, decaying from
// the top rank down to a floor.
func rankRelevance(i int) float64 {
	r := 0.9 - 0.05*float64(i)
	if r < 0.4 {
		return 0.4
	}
	return r
}

// PerplexityProvider adapts the Perplexity sonar client.
type PerplexityProvider struct {
	client       perplexity.Client
	model        string
	costPerQuery float64
	healthy      atomic.Bool
}

var _ Provider = (*PerplexityProvider)(nil)

// NewPerplexityProvider wraps a Perplexity client as a Provider.
func NewPerplexityProvider(client perplexity.Client, model string, costPerQuery float64) *PerplexityProvider {
	p := &PerplexityProvider{client: client, model: model, costPerQuery: costPerQuery}
	p.healthy.Store(true)
	return p
}

func (p *PerplexityProvider) Name() string { return "perplexity" }

func (p *PerplexityProvider) Search(ctx context.Context, req SearchRequest) (*model.ProviderResponse, error) {
	start := time.Now()

	ccReq := perplexity.ChatCompletionRequest{
		Model: p.model,
		Messages: []perplexity.Message{
			{Role: "system", Content: perplexitySystemPrompt},
			{Role: "user", Content: req.Query},
		},
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		ccReq.Temperature = &temp
	}

	resp, err := p.client.ChatCompletion(ctx, ccReq)
	if err != nil {
		p.healthy.Store(false)
		return nil, err
	}
	p.healthy.Store(true)

	out := &model.ProviderResponse{
		Provider:       p.Name(),
		Query:          req.Query,
		Temperature:    req.Temperature,
		Cost:           p.costPerQuery,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}

	if len(resp.Choices) > 0 && resp.Choices[0].Message.Content != "" {
		out.Results = append(out.Results, model.Result{
			Title:          req.Query,
			Content:        resp.Choices[0].Message.Content,
			RelevanceScore: 0.9,
		})
	}

	sources := resp.SearchResults
	if req.MaxResults > 0 && len(sources) > req.MaxResults {
		sources = sources[:req.MaxResults]
	}
	for i, sr := range sources {
		out.Results = append(out.Results, model.Result{
			Title:          sr.Title,
			URL:            sr.URL,
			RelevanceScore: rankRelevance(i),
			SourceType:     "web",
		})
		out.Sources = append(out.Sources, model.SourceAttribution{
			URL:              sr.URL,
			Domain:           classify.NormalizeDomain(sr.URL, ""),
			SourceType:       "web",
			CredibilityScore: rankRelevance(i),
		})
	}

	// Older responses carry bare citation URLs instead of search results.
	if len(sources) == 0 {
		for i, u := range resp.Citations {
			out.Sources = append(out.Sources, model.SourceAttribution{
				URL:              u,
				Domain:           classify.NormalizeDomain(u, ""),
				SourceType:       "web",
				CredibilityScore: rankRelevance(i),
			})
		}
	}

	return out, nil
}

func (p *PerplexityProvider) HealthCheck(context.Context) bool { return p.healthy.Load() }

func (p *PerplexityProvider) RateLimitDefaults() ratelimit.Quota {
	return ratelimit.Quota{PerMinute: 20, PerHour: 300, PerDay: 2000}
}

func (p *PerplexityProvider) CostPerQuery() float64 { return p.costPerQuery }

func (p *PerplexityProvider) LiveWebSearch() bool { return true }

func (p *PerplexityProvider) SupportsCategory(string) bool { return true }

// JinaProvider adapts the Jina search client.
type JinaProvider struct {
	client       jina.Client
	calc         *cost.Calculator
	costPerQuery float64
	healthy      atomic.Bool
}

var _ Provider = (*JinaProvider)(nil)

// NewJinaProvider wraps a Jina client as a Provider. Cost is token-based
// when the response reports usage, falling back to costPerQuery.
func NewJinaProvider(client jina.Client, calc *cost.Calculator, costPerQuery float64) *JinaProvider {
	p := &JinaProvider{client: client, calc: calc, costPerQuery: costPerQuery}
	p.healthy.Store(true)
	return p
}

func (p *JinaProvider) Name() string { return "jina" }

func (p *JinaProvider) Search(ctx context.Context, req SearchRequest) (*model.ProviderResponse, error) {
	start := time.Now()

	resp, err := p.client.Search(ctx, req.Query)
	if err != nil {
		p.healthy.Store(false)
		return nil, err
	}
	p.healthy.Store(true)

	out := &model.ProviderResponse{
		Provider:       p.Name(),
		Query:          req.Query,
		Temperature:    req.Temperature,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}

	if tokens := resp.TotalTokens(); tokens > 0 && p.calc != nil {
		out.Cost = p.calc.Jina(tokens)
	} else {
		out.Cost = p.costPerQuery
	}

	data := resp.Data
	if req.MaxResults > 0 && len(data) > req.MaxResults {
		data = data[:req.MaxResults]
	}
	for i, r := range data {
		content := r.Content
		if content == "" {
			content = r.Description
		}
		out.Results = append(out.Results, model.Result{
			Title:          r.Title,
			URL:            r.URL,
			Content:        content,
			RelevanceScore: rankRelevance(i),
			SourceType:     "web",
		})
		out.Sources = append(out.Sources, model.SourceAttribution{
			URL:              r.URL,
			Domain:           classify.NormalizeDomain(r.URL, ""),
			SourceType:       "web",
			CredibilityScore: rankRelevance(i),
		})
	}

	return out, nil
}

func (p *JinaProvider) HealthCheck(context.Context) bool { return p.healthy.Load() }

func (p *JinaProvider) RateLimitDefaults() ratelimit.Quota {
	return ratelimit.Quota{PerMinute: 60, PerHour: 600, PerDay: 5000}
}

func (p *JinaProvider) CostPerQuery() float64 { return p.costPerQuery }

func (p *JinaProvider) LiveWebSearch() bool { return true }

func (p *JinaProvider) SupportsCategory(string) bool { return true }

// ClaudeProvider adapts the Anthropic client. It has no live web access;
// responses are knowledge-model syntheses without URL attributions.
type ClaudeProvider struct {
	client    claude.Client
	model     string
	maxTokens int64
	healthy   atomic.Bool
}

var _ Provider = (*ClaudeProvider)(nil)

// NewClaudeProvider wraps an Anthropic client as a Provider.
func NewClaudeProvider(client claude.Client, modelID string, maxTokens int) *ClaudeProvider {
	if modelID == "" {
		modelID = claude.DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	p := &ClaudeProvider{client: client, model: modelID, maxTokens: int64(maxTokens)}
	p.healthy.Store(true)
	return p
}

func (p *ClaudeProvider) Name() string { return "claude" }

func (p *ClaudeProvider) Search(ctx context.Context, req SearchRequest) (*model.ProviderResponse, error) {
	start := time.Now()

	mReq := claude.MessageRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System:    claude.BuildCachedSystemBlocks(claudeSystemPrompt),
		Messages:  []claude.Message{{Role: "user", Content: req.Query}},
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		mReq.Temperature = &temp
	}

	resp, err := p.client.CreateMessage(ctx, mReq)
	if err != nil {
		p.healthy.Store(false)
		return nil, err
	}
	p.healthy.Store(true)

	resp.Usage.LogCost(resp.Model, "search")

	return &model.ProviderResponse{
		Provider:        p.Name(),
		Query:           req.Query,
		Temperature:     req.Temperature,
		Cost:            resp.Usage.EstimateCost(resp.Model),
		ResponseTimeMs:  time.Since(start).Milliseconds(),
		ConfidenceScore: 0.8,
		Results: []model.Result{
			{
				Title:          req.Query,
				Content:        resp.Text(),
				RelevanceScore: 0.8,
				SourceType:     "analyst",
			},
		},
	}, nil
}

func (p *ClaudeProvider) HealthCheck(context.Context) bool { return p.healthy.Load() }

func (p *ClaudeProvider) RateLimitDefaults() ratelimit.Quota {
	return ratelimit.Quota{PerMinute: 10, PerHour: 120, PerDay: 1000}
}

// CostPerQuery is an estimate; actual cost is usage-based per response.
func (p *ClaudeProvider) CostPerQuery() float64 { return 0.02 }

func (p *ClaudeProvider) LiveWebSearch() bool { return false }

func (p *ClaudeProvider) SupportsCategory(string) bool { return true }

// WebSearchProvider adapts the Google Programmable Search client.
type WebSearchProvider struct {
	client       websearch.Client
	costPerQuery float64
	healthy      atomic.Bool
}

var _ Provider = (*WebSearchProvider)(nil)

// NewWebSearchProvider wraps a Google Programmable Search client as a Provider.
func NewWebSearchProvider(client websearch.Client, costPerQuery float64) *WebSearchProvider {
	p := &WebSearchProvider{client: client, costPerQuery: costPerQuery}
	p.healthy.Store(true)
	return p
}

func (p *WebSearchProvider) Name() string { return "websearch" }

func (p *WebSearchProvider) Search(ctx context.Context, req SearchRequest) (*model.ProviderResponse, error) {
	start := time.Now()

	var opts []websearch.SearchOption
	if req.MaxResults > 0 {
		n := req.MaxResults
		// The API caps one page at 10 results.
		if n > 10 {
			n = 10
		}
		opts = append(opts, websearch.WithNum(n))
	}

	resp, err := p.client.Search(ctx, req.Query, opts...)
	if err != nil {
		p.healthy.Store(false)
		return nil, err
	}
	p.healthy.Store(true)

	out := &model.ProviderResponse{
		Provider:       p.Name(),
		Query:          req.Query,
		Temperature:    req.Temperature,
		Cost:           p.costPerQuery,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}
	for i, item := range resp.Items {
		out.Results = append(out.Results, model.Result{
			Title:          item.Title,
			URL:            item.Link,
			Content:        item.Snippet,
			RelevanceScore: rankRelevance(i),
			SourceType:     "web",
		})
		out.Sources = append(out.Sources, model.SourceAttribution{
			URL:              item.Link,
			Domain:           classify.NormalizeDomain(item.Link, item.DisplayLink),
			SourceType:       "web",
			CredibilityScore: rankRelevance(i),
		})
	}

	return out, nil
}

func (p *WebSearchProvider) HealthCheck(context.Context) bool { return p.healthy.Load() }

func (p *WebSearchProvider) RateLimitDefaults() ratelimit.Quota {
	return ratelimit.Quota{PerMinute: 30, PerHour: 300, PerDay: 3000}
}

func (p *WebSearchProvider) CostPerQuery() float64 { return p.costPerQuery }

func (p *WebSearchProvider) LiveWebSearch() bool { return true }

func (p *WebSearchProvider) SupportsCategory(string) bool { return true }
