package alerting

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/models"
)

// ConsoleSink writes alerts to the structured log, mapping severity onto the
// log level. Always available, never fails; the sink of last resort.
type ConsoleSink struct {
	logger *logrus.Entry
}

// NewConsoleSink creates a console alert sink
func NewConsoleSink(log *logrus.Logger) *ConsoleSink {
	return &ConsoleSink{logger: log.WithField("component", "alert_console")}
}

// Name identifies the sink in dead letters and metrics
func (s *ConsoleSink) Name() string { return "console" }

// Send logs the alert at the level matching its severity
func (s *ConsoleSink) Send(_ context.Context, alert *models.Alert) error {
	entry := s.logger.WithFields(logrus.Fields{
		"alert_type":     alert.Type,
		"severity":       alert.Severity,
		"collector":      alert.Collector,
		"correlation_id": alert.CorrelationID,
		"context":        alert.Context,
	})

	switch alert.Severity {
	case models.SeverityCritical:
		entry.Error(alert.Message)
	case models.SeverityWarning:
		entry.Warn(alert.Message)
	default:
		entry.Info(alert.Message)
	}
	return nil
}
