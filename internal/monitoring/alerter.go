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

	"github.com/sells-group/prospect-engine/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSettlementBacklog   AlertType = "settlement_backlog"
	AlertSettlementExhausted AlertType = "settlement_exhausted"
	AlertReconcileFailure    AlertType = "reconcile_failure"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds
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
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.BacklogThreshold > 0 && snap.QueueDepth >= a.cfg.BacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSettlementBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d unsettled acquisitions queued (threshold %d)",
				snap.QueueDepth, a.cfg.BacklogThreshold,
			),
			Details: map[string]any{
				"queue_depth": snap.QueueDepth,
				"due_now":     snap.DueNow,
				"threshold":   a.cfg.BacklogThreshold,
			},
			Timestamp: now,
		})
	}

	// Exhausted entries will never be charged without manual action.
	if r := snap.LastReconcile; r != nil && r.Exhausted > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertSettlementExhausted,
			Severity: "high",
			Message:  fmt.Sprintf("%d settlement(s) ran out of retries and need manual review", r.Exhausted),
			Details: map[string]any{
				"exhausted": r.Exhausted,
				"processed": r.Processed,
			},
			Timestamp: now,
		})
	}

	if snap.ReconcileError != "" {
		alerts = append(alerts, Alert{
			Type:      AlertReconcileFailure,
			Severity:  "high",
			Message:   "Reconcile pass failed: " + snap.ReconcileError,
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
