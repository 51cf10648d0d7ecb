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

// SlackSink delivers alerts to a Slack incoming webhook as a colored
// attachment.
type SlackSink struct {
	url     string
	channel string
	client  *retryablehttp.Client
	logger  *logrus.Entry
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackSink creates a Slack alert sink
func NewSlackSink(url, channel string, log *logrus.Logger) *SlackSink {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	return &SlackSink{
		url:     url,
		channel: channel,
		client:  client,
		logger:  log.WithField("component", "alert_slack"),
	}
}

// Name identifies the sink in dead letters and metrics
func (s *SlackSink) Name() string { return "slack" }

// Send posts the alert to the incoming webhook
func (s *SlackSink) Send(ctx context.Context, alert *models.Alert) error {
	fields := []slackField{
		{Title: "Severity", Value: string(alert.Severity), Short: true},
	}
	if alert.Collector != "" {
		fields = append(fields, slackField{Title: "Collector", Value: alert.Collector, Short: true})
	}

	msg := slackMessage{
		Channel: s.channel,
		Text:    fmt.Sprintf("[%s] %s", alert.Severity, alert.Type),
		Attachments: []slackAttachment{{
			Color:  severityColor(alert.Severity),
			Title:  alert.Type,
			Text:   alert.Message,
			Fields: fields,
			Ts:     alert.CreatedAt.Unix(),
		}},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode slack message: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack delivery failed: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

func severityColor(severity models.AlertSeverity) string {
	switch severity {
	case models.SeverityCritical:
		return "danger"
	case models.SeverityWarning:
		return "warning"
	default:
		return "#439fe0"
	}
}
