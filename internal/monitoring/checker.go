package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/intel-engine/internal/config"
	"github.com/sells-group/intel-engine/internal/provider"
)

// Checker runs periodic health probes and alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	providers *provider.Registry
	cfg       config.MonitoringConfig
}

// NewChecker creates a background checker. providers may be nil to skip
// reachability probes.
func NewChecker(collector *Collector, alerter *Alerter, providers *provider.Registry, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		providers: providers,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting health checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.probeProviders(ctx, log)
			c.check(ctx, log)
		}
	}
}

// probeProviders pings every registered provider and logs the unreachable
// ones. Probes inform operators; the circuit breakers handle enforcement.
func (c *Checker) probeProviders(ctx context.Context, log *zap.Logger) {
	if c.providers == nil {
		return
	}
	for _, name := range c.providers.List() {
		p := c.providers.Get(name)
		if p == nil {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		healthy := p.HealthCheck(probeCtx)
		cancel()
		if !healthy {
			log.Warn("provider health probe failed", zap.String("provider", name))
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
}
