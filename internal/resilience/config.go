package resilience

import (
	"time"
)

// FromCircuitConfig converts config values to a BreakerConfig.
func FromCircuitConfig(failureThreshold, cooldownSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}
