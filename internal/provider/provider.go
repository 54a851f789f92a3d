// Package provider defines the interface and registry for external search
// providers.
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/sells-group/intel-engine/internal/model"
	"github.com/sells-group/intel-engine/internal/ratelimit"
)

// SearchRequest carries one provider query.
type SearchRequest struct {
	Query       string  `json:"query"`
	Temperature float64 `json:"temperature"`
	MaxResults  int     `json:"max_results"`
}

// Provider defines the capability consumed by the manager: a search backend
// with health, cost, and throttling metadata.
type Provider interface {
	// Name returns the provider identifier (matches rate limit and config keys).
	Name() string
	// Search runs one query. Temperature is forwarded when the upstream API
	// supports it and recorded on the response either way.
	Search(ctx context.Context, req SearchRequest) (*model.ProviderResponse, error)
	// HealthCheck reports whether the provider is currently reachable.
	HealthCheck(ctx context.Context) bool
	// RateLimitDefaults returns the provider's advertised quota.
	RateLimitDefaults() ratelimit.Quota
	// CostPerQuery estimates the cost of one search in USD.
	CostPerQuery() float64
	// LiveWebSearch reports whether results come from live web retrieval,
	// which makes the provider eligible for diversity query rewriting.
	LiveWebSearch() bool
	// SupportsCategory reports whether the provider should be used for a
	// subject category.
	SupportsCategory(category string) bool
}

// Registry manages available providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a provider by name, or nil if not found.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForCategory returns the providers supporting a category, sorted by name
// so fan-out order is deterministic.
func (r *Registry) ForCategory(category string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.SupportsCategory(category) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
