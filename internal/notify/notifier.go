package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"smartstop.transitwatch.org/internal/models"
)

// WebhookNotifier POSTs newly opened alerts to an operator-configured
// endpoint. Delivery retries a few times with backoff and then gives up;
// alert state never depends on notification success.
type WebhookNotifier struct {
	url         string
	client      *http.Client
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration
}

func NewWebhookNotifier(url string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:         url,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		maxAttempts: 3,
		backoff:     time.Second,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert models.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert %s: %w", alert.ID, err)
	}

	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.backoff * time.Duration(1<<(attempt-2))):
			}
		}

		lastErr = n.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		if n.logger != nil {
			n.logger.Warn("alert webhook delivery failed",
				"alert_id", alert.ID,
				"attempt", attempt,
				"error", lastErr)
		}
	}
	return fmt.Errorf("webhook delivery for alert %s failed after %d attempts: %w", alert.ID, n.maxAttempts, lastErr)
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// NoopNotifier is used when no webhook URL is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, alert models.Alert) error { return nil }
