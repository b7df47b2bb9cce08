package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/esg-data/internal/config"
	"github.com/sells-group/esg-data/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertOperationFailureRate AlertType = "operation_failure_rate"
	AlertImportFailure        AlertType = "import_failure"
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
	retry  resilience.Policy
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.WebhookPolicy(),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Internal failure rate across all operations.
	minOps := int64(a.cfg.MinOperations)
	if minOps <= 0 {
		minOps = 1
	}
	if snap.OperationsTotal >= minOps && snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertOperationFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Record operation failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d total)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.OperationsFailed, snap.OperationsTotal,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.OperationsFailed,
				"total":        snap.OperationsTotal,
			},
			Timestamp: now,
		})
	}

	// Imports that failed on the server side.
	var importFailed int64
	var ops []string
	for _, op := range snap.Operations {
		if strings.HasPrefix(op.Operation, "import") && op.Failed > 0 {
			importFailed += op.Failed
			ops = append(ops, op.Operation)
		}
	}
	if importFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertImportFailure,
			Severity: "medium",
			Message:  fmt.Sprintf("%d import(s) failed with internal errors", importFailed),
			Details: map[string]any{
				"failed_count": importFailed,
				"operations":   ops,
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

// sendWebhook posts a single alert to the webhook URL, retrying transient
// network failures and 408/429/5xx responses.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	err = resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode >= 400 {
			return &resilience.StatusError{StatusCode: resp.StatusCode}
		}
		return nil
	})
	return eris.Wrap(err, "monitoring: webhook request")
}
