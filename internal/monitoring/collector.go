// Package monitoring aggregates engine health into snapshots, probes
// provider reachability on a schedule, and raises webhook alerts when
// thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-engine/internal/cost"
	"github.com/sells-group/intel-engine/internal/ratelimit"
	"github.com/sells-group/intel-engine/internal/resilience"
	"github.com/sells-group/intel-engine/internal/store"
	"github.com/sells-group/intel-engine/internal/temperature"
)

// MetricsSnapshot is a point-in-time view of engine health.
type MetricsSnapshot struct {
	CollectedAt time.Time `json:"collected_at"`

	Runs        store.Counts `json:"runs"`
	FailureRate float64      `json:"failure_rate"`

	RateLimits       map[string]ratelimit.WindowSnapshot `json:"rate_limits,omitempty"`
	Breakers         map[string]string                   `json:"breakers,omitempty"`
	BreakerOpenCount int                                 `json:"breaker_open_count"`

	Cache temperature.CacheStats `json:"cache"`

	CostTotalUSD   float64            `json:"cost_total_usd"`
	CostByProvider map[string]float64 `json:"cost_by_provider,omitempty"`
}

// Collector assembles snapshots from the engine's live components. Any of
// the sources may be nil; its section is simply left empty.
type Collector struct {
	store    store.Store
	limiter  *ratelimit.Limiter
	breakers *resilience.ProviderBreakers
	cache    *temperature.Cache
	costs    *cost.Tracker
	nowFunc  func() time.Time
}

// NewCollector wires a Collector from the engine's components.
func NewCollector(st store.Store, limiter *ratelimit.Limiter, breakers *resilience.ProviderBreakers, cache *temperature.Cache, costs *cost.Tracker) *Collector {
	return &Collector{
		store:    st,
		limiter:  limiter,
		breakers: breakers,
		cache:    cache,
		costs:    costs,
		nowFunc:  time.Now,
	}
}

// Collect builds a snapshot. A store error is the only fatal failure; the
// in-memory sources cannot fail.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{CollectedAt: c.nowFunc().UTC()}

	if c.store != nil {
		counts, err := c.store.Counts(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: collect store counts")
		}
		snap.Runs = counts
		if finished := counts.RunsCompleted + counts.RunsFailed; finished > 0 {
			snap.FailureRate = float64(counts.RunsFailed) / float64(finished)
		}
	}

	if c.limiter != nil {
		snap.RateLimits = c.limiter.Snapshot()
	}

	if c.breakers != nil {
		states := c.breakers.States()
		snap.Breakers = make(map[string]string, len(states))
		for provider, state := range states {
			snap.Breakers[provider] = state.String()
			if state == resilience.CircuitOpen {
				snap.BreakerOpenCount++
			}
		}
	}

	if c.cache != nil {
		snap.Cache = c.cache.Stats()
	}

	if c.costs != nil {
		snap.CostTotalUSD = c.costs.Total()
		snap.CostByProvider = make(map[string]float64)
		for _, entry := range c.costs.Snapshot() {
			snap.CostByProvider[entry.Provider] += entry.Cost
		}
	}

	return snap, nil
}
