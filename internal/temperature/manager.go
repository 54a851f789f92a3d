// Package temperature runs one provider across several sampling temperatures
// in parallel, caches the responses, and scores which temperature works best
// for a category.
package temperature

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intel-engine/internal/model"
	"github.com/sells-group/intel-engine/internal/provider"
)

// Config controls the temperature sweep.
type Config struct {
	// Values is the default temperature sweep when a caller passes none.
	// Default: 0.3, 0.5, 0.7, 0.9.
	Values []float64

	// CacheTTL is how long responses stay cached. Default: 60m.
	CacheTTL time.Duration
}

// DefaultConfig returns the standard sweep configuration.
func DefaultConfig() Config {
	return Config{
		Values:   []float64{0.3, 0.5, 0.7, 0.9},
		CacheTTL: 60 * time.Minute,
	}
}

// Validate checks the config for construction-time errors.
func (c Config) Validate() error {
	var problems []string
	if len(c.Values) == 0 {
		problems = append(problems, "at least one temperature value required")
	}
	for _, v := range c.Values {
		if v < 0 || v > 1 {
			problems = append(problems, "temperature values must be in [0, 1]")
			break
		}
	}
	if len(problems) > 0 {
		return eris.Errorf("temperature: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Searcher is the slice of the provider capability the sweep needs.
type Searcher interface {
	Name() string
	Search(ctx context.Context, req provider.SearchRequest) (*model.ProviderResponse, error)
}

// Manager coordinates multi-temperature searches against one provider.
type Manager struct {
	cfg   Config
	cache *Cache
}

// NewManager builds a manager with its own response cache.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Values) == 0 {
		cfg.Values = DefaultConfig().Values
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:   cfg,
		cache: NewCache(cfg.CacheTTL),
	}, nil
}

// Cache exposes the response cache for monitoring.
func (m *Manager) Cache() *Cache {
	return m.cache
}

// SearchAcrossTemperatures runs one query at each distinct temperature and
// returns the outcomes ordered by temperature ascending. Cache hits are
// returned immediately with zero cost; misses fan out concurrently, one call
// per temperature. A failed call is logged and excluded without affecting
// its siblings.
func (m *Manager) SearchAcrossTemperatures(ctx context.Context, p Searcher, query string, temperatures []float64, category, processID string) []model.TemperatureResult {
	if len(temperatures) == 0 {
		temperatures = m.cfg.Values
	}
	temps := distinctSorted(temperatures)

	// Slot per temperature keeps ascending order however the calls finish.
	slots := make([]*model.TemperatureResult, len(temps))

	var g errgroup.Group
	for i, temp := range temps {
		if resp, ok := m.cache.Get(p.Name(), query, temp, category); ok {
			slots[i] = &model.TemperatureResult{
				Temperature: temp,
				Response:    resp,
				Cached:      true,
			}
			continue
		}

		g.Go(func() error {
			start := time.Now()
			resp, err := p.Search(ctx, provider.SearchRequest{
				Query:       query,
				Temperature: temp,
			})
			if err != nil {
				zap.L().Warn("temperature search failed",
					zap.String("provider", p.Name()),
					zap.Float64("temperature", temp),
					zap.String("process_id", processID),
					zap.Error(err),
				)
				return nil
			}

			m.cache.Put(p.Name(), query, temp, category, resp)
			slots[i] = &model.TemperatureResult{
				Temperature:     temp,
				Response:        resp,
				ExecutionTimeMs: time.Since(start).Milliseconds(),
				Cost:            resp.Cost,
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.TemperatureResult, 0, len(temps))
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func distinctSorted(values []float64) []float64 {
	seen := make(map[float64]struct{}, len(values))
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}
