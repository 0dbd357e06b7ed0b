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

	"github.com/sells-group/xivmarket/internal/config"
	"github.com/sells-group/xivmarket/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStoreUnreachable AlertType = "store_unreachable"
	AlertRefresherOpen    AlertType = "refresher_open"
	AlertFlagBacklog      AlertType = "flag_backlog"
	AlertStaleCache       AlertType = "stale_cache"
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
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt

	if !snap.StoreOK {
		alerts = append(alerts, Alert{
			Type:      AlertStoreUnreachable,
			Severity:  "critical",
			Message:   "Store unreachable: " + snap.StoreError,
			Timestamp: now,
		})
	}

	if r := snap.Refresher; r != nil && r.State == resilience.Open.String() {
		alerts = append(alerts, Alert{
			Type:     AlertRefresherOpen,
			Severity: "high",
			Message: fmt.Sprintf(
				"Average refresher breaker open after %d consecutive failures",
				r.ConsecutiveFailures,
			),
			Details: map[string]any{
				"consecutive_failures": r.ConsecutiveFailures,
				"last_failure":         r.LastFailure,
			},
			Timestamp: now,
		})
	}

	if a.cfg.FlagBacklogThreshold > 0 && snap.FlagsUnresolved > a.cfg.FlagBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFlagBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d unresolved flags exceed threshold %d",
				snap.FlagsUnresolved, a.cfg.FlagBacklogThreshold,
			),
			Details: map[string]any{
				"flags":     snap.FlagsUnresolved,
				"threshold": a.cfg.FlagBacklogThreshold,
			},
			Timestamp: now,
		})
	}

	if t := a.cfg.StaleFractionThreshold; t > 0 && snap.CachePriced > 0 {
		frac := float64(snap.CacheStale) / float64(snap.CachePriced)
		if frac > t {
			alerts = append(alerts, Alert{
				Type:     AlertStaleCache,
				Severity: "low",
				Message: fmt.Sprintf(
					"%.0f%% of priced items are older than %dh",
					frac*100, snap.StaleAfterHours,
				),
				Details: map[string]any{
					"stale":     snap.CacheStale,
					"priced":    snap.CachePriced,
					"threshold": t,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// webhookPayload is the body posted for each batch of alerts.
type webhookPayload struct {
	Service string    `json:"service"`
	Alerts  []Alert   `json:"alerts"`
	SentAt  time.Time `json:"sent_at"`
}

// Notify posts alerts to the webhook as one batch. Server errors and rate
// limiting are retried; other 4xx responses are not. Without a webhook URL
// alerts are only logged.
func (a *Alerter) Notify(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	for _, alert := range alerts {
		zap.L().Warn("monitoring: alert",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
			zap.String("message", alert.Message),
		)
	}
	if a.cfg.WebhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(webhookPayload{
		Service: "xivmarket",
		Alerts:  alerts,
		SentAt:  alerts[0].Timestamp,
	})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alerts")
	}

	retry := a.retry
	retry.OnRetry = resilience.RetryLogger("monitoring", "webhook")
	return resilience.Do(ctx, retry, func(ctx context.Context) error {
		return a.post(ctx, payload)
	})
}

func (a *Alerter) post(ctx context.Context, payload []byte) error {
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

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
