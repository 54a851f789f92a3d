// Package resilience provides the circuit breaker, retry, and transient-error
// classification used around provider calls.
package resilience

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state — calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many consecutive failures — calls are rejected.
	CircuitOpen
	// CircuitHalfOpen admits exactly one probe call to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default: 3.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before a probe is allowed.
	// Default: 5m.
	Cooldown time.Duration

	// OnStateChange is called when the circuit transitions between states.
	OnStateChange func(from, to CircuitState)
}

// DefaultBreakerConfig returns the standard provider-gate configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         5 * time.Minute,
	}
}

// Breaker is the health gate for a single provider. It runs independently of
// rate limiting: a provider can be over quota with a closed circuit, or under
// quota with an open one.
type Breaker struct {
	cfg BreakerConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Breaker{
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Permits reports whether a call may proceed. While half-open only the first
// caller gets the probe; everyone else is rejected until the probe's result
// is recorded.
func (b *Breaker) Permits() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.transition(CircuitHalfOpen)
			b.probing = true
			return true
		}
		return false
	case CircuitHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == CircuitHalfOpen {
		b.probing = false
		b.transition(CircuitClosed)
	}
}

// RecordFailure counts a failure, opening the circuit at the threshold. A
// failed half-open probe reopens the circuit and restarts the cooldown clock.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++

	switch b.state {
	case CircuitClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.openedAt = b.nowFunc()
			b.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.probing = false
		b.openedAt = b.nowFunc()
		b.transition(CircuitOpen)
	}
}

// State returns the current circuit state, surfacing half-open once the
// cooldown has elapsed.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen && b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

// Reset forces the circuit back to closed. Useful for manual recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.state
	b.state = CircuitClosed
	b.consecutiveFailures = 0
	b.probing = false
	if old != CircuitClosed && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(old, CircuitClosed)
	}
}

// Counters returns the current failure count and state for observability.
func (b *Breaker) Counters() (consecutiveFailures int, state CircuitState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures, b.state
}

func (b *Breaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// ProviderBreakers manages one breaker per provider.
type ProviderBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewProviderBreakers creates a registry of per-provider circuit breakers.
func NewProviderBreakers(cfg BreakerConfig) *ProviderBreakers {
	return &ProviderBreakers{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for the named provider, creating one if needed.
// New breakers log their state transitions unless the config already
// installed a callback.
func (pb *ProviderBreakers) Get(provider string) *Breaker {
	pb.mu.RLock()
	b, ok := pb.breakers[provider]
	pb.mu.RUnlock()
	if ok {
		return b
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()
	// Double-check after acquiring write lock.
	if b, ok = pb.breakers[provider]; ok {
		return b
	}
	cfg := pb.cfg
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = StateChangeLogger(provider)
	}
	b = NewBreaker(cfg)
	pb.breakers[provider] = b
	return b
}

// Permits reports whether a call to the provider may proceed.
func (pb *ProviderBreakers) Permits(provider string) bool {
	return pb.Get(provider).Permits()
}

// RecordSuccess records a successful call for the provider.
func (pb *ProviderBreakers) RecordSuccess(provider string) {
	pb.Get(provider).RecordSuccess()
}

// RecordFailure records a failed call for the provider.
func (pb *ProviderBreakers) RecordFailure(provider string) {
	pb.Get(provider).RecordFailure()
}

// States returns a snapshot of all breaker states.
func (pb *ProviderBreakers) States() map[string]CircuitState {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	states := make(map[string]CircuitState, len(pb.breakers))
	for name, b := range pb.breakers {
		states[name] = b.State()
	}
	return states
}

// StateChangeLogger returns an OnStateChange callback that logs transitions
// for the named provider.
func StateChangeLogger(provider string) func(from, to CircuitState) {
	return func(from, to CircuitState) {
		zap.L().Warn("circuit state change",
			zap.String("provider", provider),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
}
