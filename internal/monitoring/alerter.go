package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-engine/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertDLQDepth       AlertType = "dlq_depth"
	AlertBreakerOpen    AlertType = "breaker_open"
	AlertCostOverrun    AlertType = "cost_overrun"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.Runs.RunsCompleted + snap.Runs.RunsFailed
	if finished >= 5 && a.cfg.FailureRateThreshold > 0 && snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.Runs.RunsFailed, finished,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Runs.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.DLQAlertDepth > 0 && snap.Runs.DeadLetters >= a.cfg.DLQAlertDepth {
		alerts = append(alerts, Alert{
			Type:     AlertDLQDepth,
			Severity: "high",
			Message: fmt.Sprintf(
				"Dead letter queue depth %d at or above threshold %d",
				snap.Runs.DeadLetters, a.cfg.DLQAlertDepth,
			),
			Details: map[string]any{
				"depth":     snap.Runs.DeadLetters,
				"threshold": a.cfg.DLQAlertDepth,
			},
			Timestamp: now,
		})
	}

	if snap.BreakerOpenCount > 0 {
		open := make([]string, 0, snap.BreakerOpenCount)
		for provider, state := range snap.Breakers {
			if state == "open" {
				open = append(open, provider)
			}
		}
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d provider circuit(s) open: %v", snap.BreakerOpenCount, open,
			),
			Details: map[string]any{
				"open_count": snap.BreakerOpenCount,
				"providers":  open,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.CostTotalUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"API cost $%.2f exceeds threshold $%.2f",
				snap.CostTotalUSD, a.cfg.CostThresholdUSD,
			),
			Details: map[string]any{
				"cost_usd":      snap.CostTotalUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
