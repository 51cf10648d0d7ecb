// Package alerting turns operational events into notifications: alerts are
// persisted, throttled per severity, and fanned out to the configured sinks
// (console, webhook, Slack, email). Delivery failures land in a dead-letter
// table so nothing is silently lost.
package alerting

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/models"
)

// Sink delivers one alert to a destination. Implementations must be safe for
// concurrent use.
type Sink interface {
	Name() string
	Send(ctx context.Context, alert *models.Alert) error
}

// BuildSinks constructs the configured alert sinks. An unusable sink config
// is an error; the caller decides whether that is fatal.
func BuildSinks(cfgs []config.SinkConfig, log *logrus.Logger) ([]Sink, error) {
	sinks := make([]Sink, 0, len(cfgs))
	for i, sc := range cfgs {
		switch sc.Type {
		case "console":
			sinks = append(sinks, NewConsoleSink(log))
		case "webhook":
			if sc.URL == "" {
				return nil, fmt.Errorf("webhook sink %d: url is required", i)
			}
			sinks = append(sinks, NewWebhookSink(sc.URL, log))
		case "slack":
			if sc.URL == "" {
				return nil, fmt.Errorf("slack sink %d: url is required", i)
			}
			sinks = append(sinks, NewSlackSink(sc.URL, sc.Channel, log))
		case "email":
			if sc.SMTPHost == "" || len(sc.Recipients) == 0 {
				return nil, fmt.Errorf("email sink %d: smtp_host and recipients are required", i)
			}
			sinks = append(sinks, NewEmailSink(sc, log))
		default:
			return nil, fmt.Errorf("sink %d: unknown type %q", i, sc.Type)
		}
	}
	return sinks, nil
}
