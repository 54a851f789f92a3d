package provider

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/intel-engine/internal/model"
	"github.com/sells-group/intel-engine/internal/ratelimit"
)

// mockProvider implements Provider for testing.
type mockProvider struct {
	name       string
	categories []string
	liveWeb    bool
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(_ context.Context, req SearchRequest) (*model.ProviderResponse, error) {
	return &model.ProviderResponse{
		Provider:    m.name,
		Query:       req.Query,
		Temperature: req.Temperature,
	}, nil
}
func (m *mockProvider) HealthCheck(_ context.Context) bool { return true }
func (m *mockProvider) RateLimitDefaults() ratelimit.Quota { return ratelimit.DefaultQuota() }
func (m *mockProvider) CostPerQuery() float64              { return 0.005 }
func (m *mockProvider) LiveWebSearch() bool                { return m.liveWeb }
func (m *mockProvider) SupportsCategory(category string) bool {
	if len(m.categories) == 0 {
		return true
	}
	for _, c := range m.categories {
		if c == category {
			return true
		}
	}
	return false
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	assert.NotNil(t, r)
	assert.Empty(t, r.List())
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	p := &mockProvider{name: "perplexity"}
	r.Register(p)

	got := r.Get("perplexity")
	assert.NotNil(t, got)
	assert.Equal(t, "perplexity", got.Name())
}

func TestRegistry_Get_NotFound(t *testing.T) {
	r := NewRegistry()
	got := r.Get("nonexistent")
	assert.Nil(t, got)
}

func TestRegistry_List_Sorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockProvider{name: "perplexity"})
	r.Register(&mockProvider{name: "claude"})
	r.Register(&mockProvider{name: "jina"})

	assert.Equal(t, []string{"claude", "jina", "perplexity"}, r.List())
}

func TestRegistry_ForCategory(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockProvider{name: "perplexity"})
	r.Register(&mockProvider{name: "claude", categories: []string{"pharma"}})
	r.Register(&mockProvider{name: "jina", categories: []string{"fintech"}})

	pharma := r.ForCategory("pharma")
	names := make([]string, 0, len(pharma))
	for _, p := range pharma {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"claude", "perplexity"}, names)
}

func TestRegistry_Register_Overwrites(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockProvider{name: "jina", liveWeb: false})
	r.Register(&mockProvider{name: "jina", liveWeb: true})

	assert.True(t, r.Get("jina").LiveWebSearch())
	assert.Len(t, r.List(), 1)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	// Concurrent writes.
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register(&mockProvider{name: "provider"})
		}()
	}
	// Concurrent reads.
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Get("provider")
			_ = r.List()
			_ = r.ForCategory("pharma")
		}()
	}
	wg.Wait()

	// Should have exactly one provider (all registered with same name).
	assert.Len(t, r.List(), 1)
}
