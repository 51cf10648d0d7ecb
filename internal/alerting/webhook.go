package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/models"
)

// WebhookSink POSTs the alert JSON to an HTTP endpoint. Delivery is
// at-least-once: transient failures are retried with backoff, and whatever
// still fails is dead-lettered by the dispatcher.
type WebhookSink struct {
	url    string
	client *retryablehttp.Client
	logger *logrus.Entry
}

// NewWebhookSink creates a webhook alert sink
func NewWebhookSink(url string, log *logrus.Logger) *WebhookSink {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	return &WebhookSink{
		url:    url,
		client: client,
		logger: log.WithField("component", "alert_webhook"),
	}
}

// Name identifies the sink in dead letters and metrics
func (s *WebhookSink) Name() string { return "webhook" }

// Send POSTs the alert as JSON and treats any non-2xx as failure
func (s *WebhookSink) Send(ctx context.Context, alert *models.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
