package alerting

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/models"
)

// EmailSink delivers alerts through an SMTP relay. Intended for internal
// relays that accept unauthenticated submission; anything fancier belongs
// behind the webhook sink.
type EmailSink struct {
	host       string
	port       int
	from       string
	recipients []string
	logger     *logrus.Entry

	// send is swappable so tests never open sockets
	send func(addr, from string, to []string, msg []byte) error
}

// NewEmailSink creates an email alert sink
func NewEmailSink(sc config.SinkConfig, log *logrus.Logger) *EmailSink {
	port := sc.SMTPPort
	if port == 0 {
		port = 25
	}
	from := sc.From
	if from == "" {
		from = "line-drive@localhost"
	}

	return &EmailSink{
		host:       sc.SMTPHost,
		port:       port,
		from:       from,
		recipients: sc.Recipients,
		logger:     log.WithField("component", "alert_email"),
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// Name identifies the sink in dead letters and metrics
func (s *EmailSink) Name() string { return "email" }

// Send mails the alert to every configured recipient
func (s *EmailSink) Send(_ context.Context, alert *models.Alert) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	msg := s.compose(alert)

	if err := s.send(addr, s.from, s.recipients, msg); err != nil {
		return fmt.Errorf("smtp delivery failed: %w", err)
	}
	return nil
}

func (s *EmailSink) compose(alert *models.Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.recipients, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s %s\r\n", strings.ToUpper(string(alert.Severity)), alert.Type, alert.Collector)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "%s\r\n\r\n", alert.Message)
	fmt.Fprintf(&b, "Alert:       %s\r\n", alert.Type)
	fmt.Fprintf(&b, "Severity:    %s\r\n", alert.Severity)
	if alert.Collector != "" {
		fmt.Fprintf(&b, "Collector:   %s\r\n", alert.Collector)
	}
	fmt.Fprintf(&b, "Correlation: %s\r\n", alert.CorrelationID)
	fmt.Fprintf(&b, "Raised:      %s\r\n", alert.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"))

	if len(alert.Context) > 0 {
		keys := make([]string, 0, len(alert.Context))
		for k := range alert.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\r\nContext:\r\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\r\n", k, alert.Context[k])
		}
	}

	return []byte(b.String())
}
