// Package manager coordinates provider fan-out for one query: admission
// control, circuit breaking, cost tracking, and delegation to hierarchical
// and multi-temperature processing.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intel-engine/internal/cost"
	"github.com/sells-group/intel-engine/internal/hierarchy"
	"github.com/sells-group/intel-engine/internal/model"
	"github.com/sells-group/intel-engine/internal/provider"
	"github.com/sells-group/intel-engine/internal/ratelimit"
	"github.com/sells-group/intel-engine/internal/resilience"
	"github.com/sells-group/intel-engine/internal/temperature"
)

// diversityHint is appended to queries against live-web providers so results
// span the source hierarchy instead of clustering on news coverage.
const diversityHint = " (prioritize government, peer-reviewed, industry, and official company sources)"

// Config controls the manager.
type Config struct {
	// ProviderTimeout bounds one provider call. Default: 30s.
	ProviderTimeout time.Duration

	// ProviderCacheTTL is how long a category's resolved provider set is
	// reused before re-resolving. Default: 5m.
	ProviderCacheTTL time.Duration

	// MaxResults is passed to each provider call. Zero means provider default.
	MaxResults int
}

// DefaultConfig returns the standard manager configuration.
func DefaultConfig() Config {
	return Config{
		ProviderTimeout:  30 * time.Second,
		ProviderCacheTTL: 5 * time.Minute,
	}
}

// Recorder persists provider responses for audit. Failures are logged and
// swallowed; persistence never fails a search.
type Recorder interface {
	SaveResponse(ctx context.Context, processID string, resp *model.ProviderResponse) (string, error)
}

// Manager fans one query out across the registered providers.
type Manager struct {
	cfg      Config
	registry *provider.Registry
	limiter  *ratelimit.Limiter
	breakers *resilience.ProviderBreakers
	costs    *cost.Tracker
	proc     *hierarchy.Processor
	temps    *temperature.Manager
	recorder Recorder

	cacheMu    sync.Mutex
	setCache   map[string]cachedSet
	nowFunc    func() time.Time
}

type cachedSet struct {
	providers  []provider.Provider
	resolvedAt time.Time
}

// New builds a manager. The recorder may be nil.
func New(cfg Config, reg *provider.Registry, limiter *ratelimit.Limiter, breakers *resilience.ProviderBreakers, costs *cost.Tracker, proc *hierarchy.Processor, temps *temperature.Manager, recorder Recorder) *Manager {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultConfig().ProviderTimeout
	}
	if cfg.ProviderCacheTTL <= 0 {
		cfg.ProviderCacheTTL = DefaultConfig().ProviderCacheTTL
	}
	return &Manager{
		cfg:      cfg,
		registry: reg,
		limiter:  limiter,
		breakers: breakers,
		costs:    costs,
		proc:     proc,
		temps:    temps,
		recorder: recorder,
		setCache: make(map[string]cachedSet),
		nowFunc:  time.Now,
	}
}

// Temperatures exposes the temperature manager for monitoring.
func (m *Manager) Temperatures() *temperature.Manager { return m.temps }

// Providers returns the registered provider names in fan-out order.
func (m *Manager) Providers() []string { return m.registry.List() }

// providersFor resolves the active provider set for a category, caching the
// resolution for ProviderCacheTTL.
func (m *Manager) providersFor(category string) []provider.Provider {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	if set, ok := m.setCache[category]; ok && m.nowFunc().Sub(set.resolvedAt) < m.cfg.ProviderCacheTTL {
		return set.providers
	}

	providers := m.registry.ForCategory(category)
	m.setCache[category] = cachedSet{providers: providers, resolvedAt: m.nowFunc()}
	return providers
}

// SearchAllProviders issues one call per active provider concurrently. A
// provider denied by the rate limiter or circuit breaker is skipped with a
// warning; a provider that errors is excluded. The returned slice holds the
// successful subset, ordered by provider name.
func (m *Manager) SearchAllProviders(ctx context.Context, query, category, processID string) []model.ProviderResponse {
	providers := m.providersFor(category)
	if len(providers) == 0 {
		zap.L().Warn("no providers available for category",
			zap.String("category", category),
			zap.String("process_id", processID),
		)
		return nil
	}

	// Slot per provider keeps name order however the calls finish.
	slots := make([]*model.ProviderResponse, len(providers))

	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			resp := m.callProvider(ctx, p, query, category, processID)
			slots[i] = resp
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.ProviderResponse, 0, len(providers))
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// callProvider runs the full admission-then-call sequence for one provider.
// A nil return means the provider was skipped or failed.
func (m *Manager) callProvider(ctx context.Context, p provider.Provider, query, category, processID string) *model.ProviderResponse {
	name := p.Name()
	log := zap.L().With(
		zap.String("provider", name),
		zap.String("category", category),
		zap.String("process_id", processID),
	)

	decision := m.limiter.CheckAndReserve(name, category)
	if !decision.Allowed {
		log.Warn("provider skipped: rate limited",
			zap.Duration("retry_after", decision.RetryAfter),
		)
		return nil
	}

	if !m.breakers.Permits(name) {
		log.Warn("provider skipped: circuit open")
		return nil
	}

	effective := query
	if p.LiveWebSearch() {
		effective = query + diversityHint
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.ProviderTimeout)
	defer cancel()

	resp, err := p.Search(callCtx, provider.SearchRequest{
		Query:      effective,
		MaxResults: m.cfg.MaxResults,
	})
	if err != nil {
		m.breakers.RecordFailure(name)
		log.Warn("provider call failed", zap.Error(err))
		return nil
	}
	m.breakers.RecordSuccess(name)

	m.costs.Record(name, category, resp.Cost)
	m.persist(processID, resp)

	log.Debug("provider call complete",
		zap.Int("results", len(resp.Results)),
		zap.Float64("cost", resp.Cost),
		zap.Int64("response_time_ms", resp.ResponseTimeMs),
	)
	return resp
}

// persist saves the response for audit. Store failures never fail a search.
func (m *Manager) persist(processID string, resp *model.ProviderResponse) {
	if m.recorder == nil {
		return
	}
	// Persistence is a side effect independent of the caller's deadline.
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := m.recorder.SaveResponse(saveCtx, processID, resp); err != nil {
		zap.L().Warn("response persistence failed",
			zap.String("provider", resp.Provider),
			zap.String("process_id", processID),
			zap.Error(err),
		)
	}
}

// HierarchicalResult aggregates per-provider hierarchy reports for one query.
type HierarchicalResult struct {
	Responses        []model.ProviderResponse     `json:"responses"`
	Reports          map[string]*hierarchy.Report `json:"reports"`
	OverallCoverage  float64                      `json:"overall_coverage"`
	TotalProcessed   int                          `json:"total_processed"`
	EarlyTerminated  int                          `json:"early_terminated"`
	TotalCost        float64                      `json:"total_cost"`
}

// SearchWithHierarchicalProcessing composes the provider fan-out with
// per-response hierarchical processing and reports overall coverage.
func (m *Manager) SearchWithHierarchicalProcessing(ctx context.Context, query, category, subject, processID string) *HierarchicalResult {
	responses := m.SearchAllProviders(ctx, query, category, processID)

	out := &HierarchicalResult{
		Responses: responses,
		Reports:   make(map[string]*hierarchy.Report, len(responses)),
	}

	var coverageSum float64
	for i := range responses {
		resp := &responses[i]
		report := m.proc.Process(resp, category, subject, nil)
		out.Reports[resp.Provider] = report
		out.TotalProcessed += report.TotalProcessed
		out.TotalCost += resp.Cost
		coverageSum += report.CoverageScore
		if report.EarlyTerminated {
			out.EarlyTerminated++
		}
	}
	if len(responses) > 0 {
		out.OverallCoverage = coverageSum / float64(len(responses))
	}

	zap.L().Info("hierarchical search complete",
		zap.String("process_id", processID),
		zap.Int("providers", len(responses)),
		zap.Float64("overall_coverage", out.OverallCoverage),
		zap.Int("early_terminated", out.EarlyTerminated),
		zap.Float64("total_cost", out.TotalCost),
	)
	return out
}

// TemperatureResult pairs a temperature sweep with its effectiveness analysis.
type TemperatureResult struct {
	Provider string                    `json:"provider"`
	Results  []model.TemperatureResult `json:"results"`
	Analysis *temperature.Analysis     `json:"analysis,omitempty"`
}

// SearchWithTemperatureVariation runs one provider across the given
// temperatures, subject to the same admission gates as a regular call.
func (m *Manager) SearchWithTemperatureVariation(ctx context.Context, providerName, query string, temperatures []float64, category, processID string) (*TemperatureResult, error) {
	p := m.registry.Get(providerName)
	if p == nil {
		return nil, eris.Errorf("manager: unknown provider %q", providerName)
	}

	decision := m.limiter.CheckAndReserve(providerName, category)
	if !decision.Allowed {
		return nil, eris.Errorf("manager: provider %q rate limited, retry after %s", providerName, decision.RetryAfter)
	}
	if !m.breakers.Permits(providerName) {
		return nil, eris.Errorf("manager: provider %q circuit open", providerName)
	}

	results := m.temps.SearchAcrossTemperatures(ctx, p, query, temperatures, category, processID)
	if len(results) == 0 {
		m.breakers.RecordFailure(providerName)
		return nil, eris.Errorf("manager: all temperature calls failed for provider %q", providerName)
	}
	m.breakers.RecordSuccess(providerName)

	for _, r := range results {
		if !r.Cached {
			m.costs.Record(providerName, category, r.Cost)
			m.persist(processID, r.Response)
		}
	}

	return &TemperatureResult{
		Provider: providerName,
		Results:  results,
		Analysis: m.temps.AnalyzeEffectiveness(results, category),
	}, nil
}

// CostSnapshot returns the accumulated cost buckets.
func (m *Manager) CostSnapshot() []cost.Entry { return m.costs.Snapshot() }
