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

	"github.com/sells-group/market-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSourceFailureRate AlertType = "source_failure_rate"
	AlertSourceStalled     AlertType = "source_stalled"
	AlertBreakerOpen       AlertType = "breaker_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Source    string         `json:"source"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter compares consecutive snapshots against configured thresholds
// and posts alerts to a webhook. Individual miners never alert; a failed
// miner simply shows sentinel values until its next refresh.
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

// Evaluate returns the alerts raised by cur. prev is the previous snapshot
// and may be nil, in which case rates are computed over all time.
func (a *Alerter) Evaluate(prev, cur *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := cur.CollectedAt

	for _, h := range cur.Sources {
		var before SourceHealth
		if prev != nil {
			before, _ = prev.Source(h.Source)
		}

		failed := h.Failed - before.Failed
		finished := failed + h.Refreshed - before.Refreshed
		if finished >= 5 && a.cfg.FailureRateThreshold > 0 {
			rate := float64(failed) / float64(finished)
			if rate > a.cfg.FailureRateThreshold {
				alerts = append(alerts, Alert{
					Type:     AlertSourceFailureRate,
					Source:   h.Source,
					Severity: "high",
					Message: fmt.Sprintf("%s failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished)",
						h.Source, rate*100, a.cfg.FailureRateThreshold*100, failed, finished),
					Details: map[string]any{
						"failure_rate": rate,
						"threshold":    a.cfg.FailureRateThreshold,
						"failed":       failed,
						"finished":     finished,
						"by_kind":      h.Failures,
					},
					Timestamp: now,
				})
			}
		}

		stallAfter := time.Duration(a.cfg.StallAfterSecs) * time.Second
		if stallAfter > 0 && h.OldestInflight != nil && now.Sub(*h.OldestInflight) > stallAfter {
			alerts = append(alerts, Alert{
				Type:     AlertSourceStalled,
				Source:   h.Source,
				Severity: "medium",
				Message: fmt.Sprintf("%s has a job in flight for %s",
					h.Source, now.Sub(*h.OldestInflight).Round(time.Second)),
				Details: map[string]any{
					"outstanding": h.Outstanding,
					"since":       h.OldestInflight,
				},
				Timestamp: now,
			})
		}

		for endpoint, state := range h.Breakers {
			if state != "open" {
				continue
			}
			alerts = append(alerts, Alert{
				Type:      AlertBreakerOpen,
				Source:    h.Source,
				Severity:  "medium",
				Message:   fmt.Sprintf("%s endpoint %s is failing; circuit open", h.Source, endpoint),
				Details:   map[string]any{"endpoint": endpoint},
				Timestamp: now,
			})
		}
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
				zap.String("source", alert.Source),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("source", alert.Source),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

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
