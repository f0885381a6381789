package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parentmap/venue-pipeline/internal/config"
	"github.com/parentmap/venue-pipeline/internal/freshness"
	"github.com/parentmap/venue-pipeline/internal/metrics"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertErrorRate   AlertType = "freshness_error_rate"
	AlertFlaggedRate AlertType = "freshness_flagged_rate"
	AlertRunFailure  AlertType = "freshness_run_failure"
	AlertOverdue     AlertType = "freshness_overdue"
)

// minChecked is the smallest run whose rates are worth alerting on.
const minChecked = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates finished freshness runs against configured thresholds
// and sends alerts via webhook when thresholds are breached. An alert type
// is sent at most once per cooldown.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
	nowFunc  func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		lastSent: map[AlertType]time.Time{},
		nowFunc:  time.Now,
	}
}

// Evaluate checks a run's stats against thresholds and returns any alerts.
func (a *Alerter) Evaluate(stats freshness.Stats) []Alert {
	var alerts []Alert
	now := a.nowFunc().UTC()

	if stats.Checked < minChecked {
		return nil
	}

	if a.cfg.ErrorRateThreshold > 0 && stats.ErrorRate() > a.cfg.ErrorRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertErrorRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Freshness run %s: error rate %.1f%% exceeds threshold %.1f%% (%d errors / %d checked)",
				stats.RunID, stats.ErrorRate()*100, a.cfg.ErrorRateThreshold*100, stats.Errors, stats.Checked,
			),
			Details: map[string]any{
				"run_id":     stats.RunID,
				"error_rate": stats.ErrorRate(),
				"threshold":  a.cfg.ErrorRateThreshold,
				"errors":     stats.Errors,
				"checked":    stats.Checked,
			},
			Timestamp: now,
		})
	}

	if a.cfg.FlaggedRateThreshold > 0 && stats.FlaggedRate() > a.cfg.FlaggedRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFlaggedRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Freshness run %s: %d of %d venues changed status (%.1f%%, threshold %.1f%%)",
				stats.RunID, stats.Flagged, stats.Checked, stats.FlaggedRate()*100, a.cfg.FlaggedRateThreshold*100,
			),
			Details: map[string]any{
				"run_id":       stats.RunID,
				"flagged_rate": stats.FlaggedRate(),
				"threshold":    a.cfg.FlaggedRateThreshold,
				"flagged":      stats.Flagged,
				"checked":      stats.Checked,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// RunFailed builds the alert for a run that could not complete.
func (a *Alerter) RunFailed(err error) Alert {
	return Alert{
		Type:      AlertRunFailure,
		Severity:  "high",
		Message:   fmt.Sprintf("Freshness run failed: %v", err),
		Timestamp: a.nowFunc().UTC(),
	}
}

// EvaluateSnapshot alerts when more than a quarter of the tracked venues are
// overdue, which means runs are not keeping up.
func (a *Alerter) EvaluateSnapshot(snap *Snapshot) []Alert {
	if snap == nil || snap.Tracked < minChecked || snap.Overdue*4 <= snap.Tracked {
		return nil
	}
	return []Alert{{
		Type:     AlertOverdue,
		Severity: "medium",
		Message:  fmt.Sprintf("%d of %d tracked venues are overdue for a check", snap.Overdue, snap.Tracked),
		Details: map[string]any{
			"overdue": snap.Overdue,
			"tracked": snap.Tracked,
		},
		Timestamp: a.nowFunc().UTC(),
	}}
}

// SendAlerts delivers alerts to the configured webhook URL, skipping types
// still in their cooldown. Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if a.coolingDown(alert.Type) {
			zap.L().Debug("monitoring: alert suppressed by cooldown", zap.String("type", string(alert.Type)))
			continue
		}
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		a.markSent(alert.Type)
		metrics.ObserveAlert(string(alert.Type))
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) coolingDown(t AlertType) bool {
	cooldown := time.Duration(a.cfg.AlertCooldownMins) * time.Minute
	if cooldown <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastSent[t]
	return ok && a.nowFunc().Sub(last) < cooldown
}

func (a *Alerter) markSent(t AlertType) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSent[t] = a.nowFunc()
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
