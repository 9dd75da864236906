// Package alerting fires webhook notifications when a batch crosses an
// unrecoverable-failure threshold, independent of the SendGrid email path
// in internal/notify.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config holds alerting configuration.
type Config struct {
	// WebhookURL is a generic webhook endpoint (Slack, Discord, or custom).
	WebhookURL string
	// WebhookType determines the payload format: "slack", "discord", or "generic".
	WebhookType string
	// Enabled controls whether alerts are sent.
	Enabled bool
	// MinFailuresBeforeAlert is the threshold before sending alerts.
	MinFailuresBeforeAlert int
	// Timeout bounds the webhook HTTP call.
	Timeout time.Duration
}

// NewConfig builds a Config, auto-detecting the webhook flavor from the
// URL when it isn't already set.
func NewConfig(webhookURL string, minFailures int) Config {
	cfg := Config{
		WebhookURL:             webhookURL,
		MinFailuresBeforeAlert: minFailures,
		Timeout:                10 * time.Second,
	}
	cfg.Enabled = cfg.WebhookURL != ""
	switch {
	case strings.Contains(cfg.WebhookURL, "slack.com"):
		cfg.WebhookType = "slack"
	case strings.Contains(cfg.WebhookURL, "discord.com"):
		cfg.WebhookType = "discord"
	default:
		cfg.WebhookType = "generic"
	}
	if cfg.MinFailuresBeforeAlert <= 0 {
		cfg.MinFailuresBeforeAlert = 1
	}
	return cfg
}

// Alerter sends alerts to a configured webhook.
type Alerter struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

// NewAlerter creates a new alerter instance.
func NewAlerter(cfg Config, log *slog.Logger) *Alerter {
	if log == nil {
		log = slog.Default()
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// FileFailure describes one file that failed within a batch.
type FileFailure struct {
	Filename string
	Error    string
	Attempts int
}

// BatchAlert describes a batch's terminal outcome for notification
// purposes.
type BatchAlert struct {
	BatchID       string
	CollectionID  string
	TotalCount    int
	SuccessCount  int
	FailedCount   int
	Duration      time.Duration
	FailedDetails []FileFailure
	Timestamp     time.Time
}

// SendBatchAlert delivers alert to the configured webhook, skipping
// silently if alerting is disabled or the failure count is below
// threshold.
func (a *Alerter) SendBatchAlert(ctx context.Context, alert BatchAlert) error {
	if !a.cfg.Enabled {
		a.log.Debug("alerting: disabled, skipping", "batchId", alert.BatchID)
		return nil
	}
	if alert.FailedCount < a.cfg.MinFailuresBeforeAlert {
		a.log.Debug("alerting: below threshold, skipping",
			"batchId", alert.BatchID, "failed", alert.FailedCount, "threshold", a.cfg.MinFailuresBeforeAlert)
		return nil
	}

	var payload []byte
	var err error
	switch a.cfg.WebhookType {
	case "slack":
		payload, err = a.buildSlackPayload(alert)
	case "discord":
		payload, err = a.buildDiscordPayload(alert)
	default:
		payload, err = a.buildGenericPayload(alert)
	}
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	a.log.Info("alerting: sent batch alert", "batchId", alert.BatchID, "failed", alert.FailedCount)
	return nil
}

func (a *Alerter) buildSlackPayload(alert BatchAlert) ([]byte, error) {
	var failedList strings.Builder
	for _, f := range alert.FailedDetails {
		failedList.WriteString(fmt.Sprintf("• *%s*: %s (attempts: %d)\n", f.Filename, f.Error, f.Attempts))
	}

	emoji := ":warning:"
	if alert.FailedCount == alert.TotalCount {
		emoji = ":x:"
	}

	payload := map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": fmt.Sprintf("%s Batch Failure Alert: %s", emoji, alert.BatchID),
				},
			},
			{
				"type": "section",
				"fields": []map[string]string{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Status:*\n%d/%d files failed", alert.FailedCount, alert.TotalCount)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Duration:*\n%s", alert.Duration.Round(time.Millisecond))},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Succeeded:*\n%d", alert.SuccessCount)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Timestamp:*\n%s", alert.Timestamp.Format(time.RFC3339))},
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Failed Files:*\n%s", failedList.String()),
				},
			},
		},
	}

	return json.Marshal(payload)
}

func (a *Alerter) buildDiscordPayload(alert BatchAlert) ([]byte, error) {
	var failedList strings.Builder
	for _, f := range alert.FailedDetails {
		failedList.WriteString(fmt.Sprintf("• **%s**: %s (attempts: %d)\n", f.Filename, f.Error, f.Attempts))
	}

	color := 16776960 // yellow
	if alert.FailedCount == alert.TotalCount {
		color = 16711680 // red
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       fmt.Sprintf("Batch Failure Alert: %s", alert.BatchID),
				"description": fmt.Sprintf("%d/%d files failed", alert.FailedCount, alert.TotalCount),
				"color":       color,
				"fields": []map[string]interface{}{
					{"name": "Succeeded", "value": fmt.Sprintf("%d", alert.SuccessCount), "inline": true},
					{"name": "Failed", "value": fmt.Sprintf("%d", alert.FailedCount), "inline": true},
					{"name": "Duration", "value": alert.Duration.Round(time.Millisecond).String(), "inline": true},
					{"name": "Failed Files", "value": failedList.String(), "inline": false},
				},
				"timestamp": alert.Timestamp.Format(time.RFC3339),
			},
		},
	}

	return json.Marshal(payload)
}

func (a *Alerter) buildGenericPayload(alert BatchAlert) ([]byte, error) {
	payload := map[string]interface{}{
		"alert_type":     "batch_failure",
		"batch_id":       alert.BatchID,
		"collection_id":  alert.CollectionID,
		"total_count":    alert.TotalCount,
		"success_count":  alert.SuccessCount,
		"failed_count":   alert.FailedCount,
		"duration_ms":    alert.Duration.Milliseconds(),
		"timestamp":      alert.Timestamp.Format(time.RFC3339),
		"failed_details": alert.FailedDetails,
	}

	return json.Marshal(payload)
}
