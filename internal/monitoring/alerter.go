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

	"github.com/sells-group/hydra/internal/config"
	"github.com/sells-group/hydra/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFatalRate    AlertType = "pipeline_fatal_rate"
	AlertManualReview AlertType = "manual_review"
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

	// A high share of missions with no reachable search layer usually
	// means keys expired or the network is down.
	finished := snap.Completed + snap.Fatal
	if finished >= 5 && a.cfg.FatalRateThreshold > 0 && snap.FatalRate > a.cfg.FatalRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFatalRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Pipeline-fatal rate %.1f%% exceeds threshold %.1f%% (%d fatal / %d finished since %s)",
				snap.FatalRate*100, a.cfg.FatalRateThreshold*100,
				snap.Fatal, finished, snap.WindowStart.Format(time.RFC3339),
			),
			Details: map[string]any{
				"fatal_rate": snap.FatalRate,
				"threshold":  a.cfg.FatalRateThreshold,
				"fatal":      snap.Fatal,
				"finished":   finished,
			},
			Timestamp: snap.CollectedAt,
		})
	}

	return alerts
}

// EscalateMission sends the manual-review alert for a mission the
// healer gave up on.
func (a *Alerter) EscalateMission(ctx context.Context, m model.Mission, note string) error {
	alert := Alert{
		Type:     AlertManualReview,
		Severity: "medium",
		Message:  fmt.Sprintf("Mission %s (%q) needs manual review: %s", m.ID, m.Query, note),
		Details: map[string]any{
			"mission_id": m.ID,
			"query":      m.Query,
			"org_id":     m.OrgID,
			"heal_count": m.HealCount,
		},
		Timestamp: time.Now().UTC(),
	}
	if a.cfg.WebhookURL == "" {
		zap.L().Warn("monitoring: manual review required", zap.String("mission_id", m.ID), zap.String("note", note))
		return nil
	}
	return a.sendWebhook(ctx, alert)
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
