package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/oszuidwest/zwfm-syscapture/internal/util"
)

// ErrWebhookNotConfigured is returned by SendTestWebhook without a URL.
var ErrWebhookNotConfigured = errors.New("webhook URL not configured")

// Webhook event names.
const (
	EventSilenceDetected  = "silence_detected"
	EventSilenceRecovered = "silence_recovered"
	EventCaptureFailed    = "capture_failed"
	EventCaptureGaveUp    = "capture_gave_up"
	EventTest             = "test"
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event             string  `json:"event"`
	Station           string  `json:"station,omitempty"`
	SessionID         string  `json:"session_id,omitempty"`
	SilenceDurationMs int64   `json:"silence_duration_ms,omitempty"`
	LevelLeftDB       float64 `json:"level_left_db,omitempty"`
	LevelRightDB      float64 `json:"level_right_db,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	Error             string  `json:"error,omitempty"`
	RetryCount        int     `json:"retry,omitempty"`
	Message           string  `json:"message,omitempty"`
	Timestamp         string  `json:"timestamp"`
}

var webhookClient = &http.Client{Timeout: webhookTimeout}

// SendTestWebhook sends a test notification.
func SendTestWebhook(ctx context.Context, webhookURL, station string) error {
	if webhookURL == "" {
		return ErrWebhookNotConfigured
	}
	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:     EventTest,
		Station:   station,
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook posts payload as JSON. An empty URL is silently skipped.
func sendWebhook(ctx context.Context, webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return util.WrapError("build webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", AppName)

	resp, err := webhookClient.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
