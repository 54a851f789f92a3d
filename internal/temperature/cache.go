package temperature

import (
	"sync"
	"time"

	"github.com/sells-group/intel-engine/internal/model"
)

type cacheKey struct {
	provider    string
	query       string
	temperature float64
	category    string
}

type cacheEntry struct {
	response  *model.ProviderResponse
	expiresAt time.Time
}

// Cache holds provider responses keyed by (provider, query, temperature,
// category). Eviction is time-based: entries expire after the TTL and are
// dropped lazily on read or by PruneExpired. Concurrent writes to one key
// resolve last-writer-wins.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[cacheKey]cacheEntry
	hits    int
	misses  int

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCache creates a cache with the given TTL. Non-positive TTLs use the
// 60 minute default.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 60 * time.Minute
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[cacheKey]cacheEntry),
		nowFunc: time.Now,
	}
}

// Get returns the cached response for the key, expiring stale entries on
// the way.
func (c *Cache) Get(provider, query string, temp float64, category string) (*model.ProviderResponse, bool) {
	k := cacheKey{provider: provider, query: query, temperature: temp, category: category}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.nowFunc().After(e.expiresAt) {
		delete(c.entries, k)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.response, true
}

// Put stores a response under the key, resetting its TTL.
func (c *Cache) Put(provider, query string, temp float64, category string, resp *model.ProviderResponse) {
	k := cacheKey{provider: provider, query: query, temperature: temp, category: category}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[k] = cacheEntry{
		response:  resp,
		expiresAt: c.nowFunc().Add(c.ttl),
	}
}

// PruneExpired removes all expired entries and returns how many were
// dropped.
func (c *Cache) PruneExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CacheStats summarizes cache activity for monitoring.
type CacheStats struct {
	Entries int `json:"entries"`
	Hits    int `json:"hits"`
	Misses  int `json:"misses"`
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}
