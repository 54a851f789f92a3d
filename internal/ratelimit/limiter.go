// Package ratelimit provides per-provider admission control across three
// time windows: a sliding minute window and fixed hour/day windows.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Quota holds per-window request limits for one provider.
type Quota struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// DefaultQuota is the conservative quota applied to providers with no
// explicit configuration.
func DefaultQuota() Quota {
	return Quota{PerMinute: 30, PerHour: 300, PerDay: 3000}
}

// Decision is the outcome of an admission check. When Allowed is false,
// RetryAfter is the longest wait required for every exceeded window to clear.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Config controls the limiter.
type Config struct {
	// Default applies to providers absent from Quotas.
	Default Quota

	// Quotas holds per-provider overrides.
	Quotas map[string]Quota

	// CategoryMultipliers scale a provider's quotas per query category.
	// Values are clamped to [0.7, 1.0]; missing categories use 1.0.
	CategoryMultipliers map[string]float64
}

// Limiter tracks request windows per provider. All methods are safe for
// concurrent use; admission checks contend only on the provider they touch.
type Limiter struct {
	mu          sync.RWMutex
	defaults    Quota
	quotas      map[string]Quota
	multipliers map[string]float64
	providers   map[string]*windows

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// windows holds one provider's three counting windows.
type windows struct {
	mu           sync.Mutex
	minuteStamps []time.Time
	hourStart    time.Time
	hourCount    int
	dayStart     time.Time
	dayCount     int
}

// WindowSnapshot exposes a provider's current window counts for observability.
type WindowSnapshot struct {
	MinuteCount int `json:"minute_count"`
	HourCount   int `json:"hour_count"`
	DayCount    int `json:"day_count"`
}

// New creates a limiter from cfg. Zero or negative quota fields fall back to
// the package defaults; multipliers outside [0.7, 1.0] are clamped.
func New(cfg Config) *Limiter {
	def := cfg.Default
	fallback := DefaultQuota()
	if def.PerMinute <= 0 {
		def.PerMinute = fallback.PerMinute
	}
	if def.PerHour <= 0 {
		def.PerHour = fallback.PerHour
	}
	if def.PerDay <= 0 {
		def.PerDay = fallback.PerDay
	}

	quotas := make(map[string]Quota, len(cfg.Quotas))
	for name, q := range cfg.Quotas {
		quotas[name] = q
	}

	multipliers := make(map[string]float64, len(cfg.CategoryMultipliers))
	for cat, m := range cfg.CategoryMultipliers {
		multipliers[cat] = clampMultiplier(m)
	}

	return &Limiter{
		defaults:    def,
		quotas:      quotas,
		multipliers: multipliers,
		providers:   make(map[string]*windows),
		nowFunc:     time.Now,
	}
}

func clampMultiplier(m float64) float64 {
	if m < 0.7 {
		return 0.7
	}
	if m > 1.0 {
		return 1.0
	}
	return m
}

// CheckAndReserve evaluates all three windows for the provider under the
// category-scaled quota. When every window has room it records the attempt in
// all three atomically and allows the call; otherwise nothing is recorded and
// the decision carries the longest wait among the exceeded windows.
func (l *Limiter) CheckAndReserve(provider, category string) Decision {
	quota := l.effectiveQuota(provider, category)
	w := l.windowsFor(provider)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.nowFunc()
	w.roll(now)

	var longest time.Duration

	// Sliding minute window: admission reopens when enough old stamps age out.
	if idx := len(w.minuteStamps) - quota.PerMinute; idx >= 0 {
		if wait := w.minuteStamps[idx].Add(time.Minute).Sub(now); wait > longest {
			longest = wait
		}
	}
	if w.hourCount >= quota.PerHour {
		if wait := w.hourStart.Add(time.Hour).Sub(now); wait > longest {
			longest = wait
		}
	}
	if w.dayCount >= quota.PerDay {
		if wait := w.dayStart.Add(24 * time.Hour).Sub(now); wait > longest {
			longest = wait
		}
	}

	if longest > 0 {
		return Decision{Allowed: false, RetryAfter: longest}
	}

	// Single reservation across all windows; never reserve-then-rollback.
	w.minuteStamps = append(w.minuteStamps, now)
	w.hourCount++
	w.dayCount++
	return Decision{Allowed: true}
}

// SetQuota replaces the provider's quota. Takes effect on the next check.
func (l *Limiter) SetQuota(provider string, q Quota) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quotas[provider] = q
}

// QuotaFor returns the unscaled quota the limiter applies to the provider.
func (l *Limiter) QuotaFor(provider string) Quota {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if q, ok := l.quotas[provider]; ok {
		return normalizeQuota(q, l.defaults)
	}
	return l.defaults
}

// Snapshot returns current window counts for every provider seen so far.
func (l *Limiter) Snapshot() map[string]WindowSnapshot {
	l.mu.RLock()
	names := make([]string, 0, len(l.providers))
	tracked := make([]*windows, 0, len(l.providers))
	for name, w := range l.providers {
		names = append(names, name)
		tracked = append(tracked, w)
	}
	l.mu.RUnlock()

	now := l.nowFunc()
	snap := make(map[string]WindowSnapshot, len(names))
	for i, w := range tracked {
		w.mu.Lock()
		w.roll(now)
		snap[names[i]] = WindowSnapshot{
			MinuteCount: len(w.minuteStamps),
			HourCount:   w.hourCount,
			DayCount:    w.dayCount,
		}
		w.mu.Unlock()
	}
	return snap
}

func (l *Limiter) effectiveQuota(provider, category string) Quota {
	l.mu.RLock()
	quota, ok := l.quotas[provider]
	if !ok {
		quota = l.defaults
	} else {
		quota = normalizeQuota(quota, l.defaults)
	}
	mul, hasMul := l.multipliers[category]
	l.mu.RUnlock()

	if !hasMul || mul >= 1.0 {
		return quota
	}
	return Quota{
		PerMinute: scaleLimit(quota.PerMinute, mul),
		PerHour:   scaleLimit(quota.PerHour, mul),
		PerDay:    scaleLimit(quota.PerDay, mul),
	}
}

func normalizeQuota(q, def Quota) Quota {
	if q.PerMinute <= 0 {
		q.PerMinute = def.PerMinute
	}
	if q.PerHour <= 0 {
		q.PerHour = def.PerHour
	}
	if q.PerDay <= 0 {
		q.PerDay = def.PerDay
	}
	return q
}

func scaleLimit(limit int, mul float64) int {
	scaled := int(math.Floor(float64(limit) * mul))
	if scaled < 1 {
		return 1
	}
	return scaled
}

func (l *Limiter) windowsFor(provider string) *windows {
	l.mu.RLock()
	w, ok := l.providers[provider]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Double-check after acquiring write lock.
	if w, ok = l.providers[provider]; ok {
		return w
	}
	w = &windows{}
	l.providers[provider] = w
	return w
}

// roll prunes the sliding minute window and resets fixed windows whose
// boundary has passed. Caller holds w.mu.
func (w *windows) roll(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := w.minuteStamps[:0]
	for _, ts := range w.minuteStamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.minuteStamps = kept

	hourStart := now.Truncate(time.Hour)
	if !w.hourStart.Equal(hourStart) {
		w.hourStart = hourStart
		w.hourCount = 0
	}

	dayStart := now.Truncate(24 * time.Hour)
	if !w.dayStart.Equal(dayStart) {
		w.dayStart = dayStart
		w.dayCount = 0
	}
}
