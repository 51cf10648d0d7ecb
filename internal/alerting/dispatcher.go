package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/logger"
	"github.com/yourusername/line-drive/internal/metrics"
	"github.com/yourusername/line-drive/internal/models"
	"github.com/yourusername/line-drive/internal/repository"
)

// sinkTimeout bounds a single delivery attempt per sink
const sinkTimeout = 10 * time.Second

// Default throttle windows when the config leaves one unset
const (
	defaultInfoThrottle     = 15 * time.Minute
	defaultWarningThrottle  = 10 * time.Minute
	defaultCriticalThrottle = 5 * time.Minute
)

// Dispatcher is the single entry point for raising alerts. It stamps
// identifiers, persists the alert row, suppresses identical alerts inside the
// per-severity throttle window, and delivers to every sink. A sink failure
// dead-letters the payload; it never blocks the other sinks.
type Dispatcher struct {
	sinks  []Sink
	repo   repository.AlertRepository
	audit  *logger.AuditLogger
	logger *logrus.Entry

	windows map[models.AlertSeverity]time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewDispatcher creates the alert dispatcher
func NewDispatcher(
	cfg *config.AlertingConfig,
	sinks []Sink,
	repo repository.AlertRepository,
	audit *logger.AuditLogger,
	log *logrus.Logger,
) *Dispatcher {
	windows := map[models.AlertSeverity]time.Duration{
		models.SeverityInfo:     defaultInfoThrottle,
		models.SeverityWarning:  defaultWarningThrottle,
		models.SeverityCritical: defaultCriticalThrottle,
	}
	if cfg != nil {
		if cfg.ThrottleBySeverity.Info > 0 {
			windows[models.SeverityInfo] = time.Duration(cfg.ThrottleBySeverity.Info) * time.Second
		}
		if cfg.ThrottleBySeverity.Warning > 0 {
			windows[models.SeverityWarning] = time.Duration(cfg.ThrottleBySeverity.Warning) * time.Second
		}
		if cfg.ThrottleBySeverity.Critical > 0 {
			windows[models.SeverityCritical] = time.Duration(cfg.ThrottleBySeverity.Critical) * time.Second
		}
	}

	return &Dispatcher{
		sinks:    sinks,
		repo:     repo,
		audit:    audit,
		logger:   log.WithField("component", "alert_dispatcher"),
		windows:  windows,
		lastSent: make(map[string]time.Time),
	}
}

// Dispatch persists and delivers one alert. Throttled duplicates are counted
// and dropped. Persistence failure is logged but never blocks delivery, and a
// failing sink never blocks the others.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.Alert) {
	if alert == nil {
		return
	}
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.CorrelationID == uuid.Nil {
		alert.CorrelationID = uuid.New()
	}
	if alert.Status == "" {
		alert.Status = models.AlertStatusFiring
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	if d.throttled(alert) {
		metrics.RecordAlertThrottled(string(alert.Severity))
		d.logger.WithFields(logrus.Fields{
			"alert_type": alert.Type,
			"collector":  alert.Collector,
			"severity":   alert.Severity,
		}).Debug("Alert throttled")
		return
	}

	if d.repo != nil {
		if err := d.repo.Insert(ctx, alert); err != nil {
			d.logger.WithError(err).WithField("alert_type", alert.Type).
				Warn("Failed to persist alert")
		}
	}

	delivered := make([]string, 0, len(d.sinks))
	for _, sink := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := sink.Send(sendCtx, alert)
		cancel()

		if err != nil {
			d.deadLetter(ctx, alert, sink.Name(), err)
			continue
		}
		delivered = append(delivered, sink.Name())
	}

	metrics.RecordAlert(string(alert.Severity), alert.Type)
	if d.audit != nil {
		d.audit.LogAlertEmitted(alert.Type, string(alert.Severity), alert.Collector,
			alert.CorrelationID.String(), delivered)
	}
}

// Acknowledge marks a firing alert as seen by an operator
func (d *Dispatcher) Acknowledge(ctx context.Context, id uuid.UUID) error {
	if d.repo == nil {
		return models.ErrNotFound
	}
	return d.repo.Acknowledge(ctx, id)
}

// Resolve marks an alert as cleared
func (d *Dispatcher) Resolve(ctx context.Context, id uuid.UUID) error {
	if d.repo == nil {
		return models.ErrNotFound
	}
	return d.repo.Resolve(ctx, id)
}

// throttled reports whether an identical alert went out inside the severity
// window, updating the window on a pass. Acknowledging or resolving an alert
// does not touch this state; only time does.
func (d *Dispatcher) throttled(alert *models.Alert) bool {
	window, ok := d.windows[alert.Severity]
	if !ok {
		window = defaultWarningThrottle
	}

	key := alert.ThrottleKey()
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if last, seen := d.lastSent[key]; seen && now.Sub(last) < window {
		return true
	}
	d.lastSent[key] = now
	return false
}

func (d *Dispatcher) deadLetter(ctx context.Context, alert *models.Alert, sink string, cause error) {
	d.logger.WithError(cause).WithFields(logrus.Fields{
		"sink":       sink,
		"alert_type": alert.Type,
		"collector":  alert.Collector,
	}).Error("Alert delivery failed, dead-lettering")

	metrics.RecordDeadLetter(sink)
	if d.repo == nil {
		return
	}
	if err := d.repo.InsertDeadLetter(ctx, alert, sink, cause.Error()); err != nil {
		d.logger.WithError(err).WithField("sink", sink).
			Error("Failed to persist alert dead letter")
	}
}
