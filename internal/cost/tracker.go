package cost

import (
	"sort"
	"sync"
	"time"
)

// dayFormat is the UTC day bucket key.
const dayFormat = "2006-01-02"

// Entry is one accumulated (provider, category, day) bucket.
type Entry struct {
	Provider string  `json:"provider"`
	Category string  `json:"category"`
	Day      string  `json:"day"`
	Queries  int     `json:"queries"`
	Cost     float64 `json:"cost"`
}

type bucketKey struct {
	provider string
	category string
	day      string
}

// Tracker accumulates query counts and spend per provider, category, and
// UTC day.
type Tracker struct {
	mu      sync.Mutex
	buckets map[bucketKey]*Entry

	nowFunc func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		buckets: make(map[bucketKey]*Entry),
		nowFunc: time.Now,
	}
}

// Record adds one query's cost to the (provider, category, today) bucket.
func (t *Tracker) Record(provider, category string, cost float64) {
	day := t.nowFunc().UTC().Format(dayFormat)

	t.mu.Lock()
	defer t.mu.Unlock()

	key := bucketKey{provider: provider, category: category, day: day}
	e, ok := t.buckets[key]
	if !ok {
		e = &Entry{Provider: provider, Category: category, Day: day}
		t.buckets[key] = e
	}
	e.Queries++
	e.Cost += cost
}

// Total returns the overall accumulated cost.
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total float64
	for _, e := range t.buckets {
		total += e.Cost
	}
	return total
}

// ProviderTotal returns the accumulated cost for one provider across all
// categories and days.
func (t *Tracker) ProviderTotal(provider string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total float64
	for key, e := range t.buckets {
		if key.provider == provider {
			total += e.Cost
		}
	}
	return total
}

// DayTotal returns the accumulated cost for one UTC day.
func (t *Tracker) DayTotal(day time.Time) float64 {
	want := day.UTC().Format(dayFormat)

	t.mu.Lock()
	defer t.mu.Unlock()

	var total float64
	for key, e := range t.buckets {
		if key.day == want {
			total += e.Cost
		}
	}
	return total
}

// Snapshot returns a copy of all buckets sorted by day, provider, then
// category.
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.buckets))
	for _, e := range t.buckets {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Category < out[j].Category
	})
	return out
}
