// Package logger provides audit logging.
package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// AuditLogger provides dedicated audit trail logging for operational events
// that need to be reconstructable after the fact: recovery actions, breaker
// transitions, alert emission and pipeline run outcomes.
type AuditLogger struct {
	*logrus.Entry
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(baseLogger *logrus.Logger) *AuditLogger {
	return &AuditLogger{
		Entry: baseLogger.WithField("component", "audit"),
	}
}

// LogRecoveryAction logs one automated recovery step and its outcome.
func (al *AuditLogger) LogRecoveryAction(collector, action, outcome, correlationID string, detail string) {
	al.WithFields(logrus.Fields{
		"collector":      collector,
		"action":         action,
		"outcome":        outcome,
		"correlation_id": correlationID,
		"detail":         detail,
	}).Info("Recovery action recorded")
}

// LogBreakerTransition logs a circuit breaker state change.
func (al *AuditLogger) LogBreakerTransition(collector, oldState, newState, reason string, cooldown time.Duration) {
	al.WithFields(logrus.Fields{
		"collector":  collector,
		"old_state":  oldState,
		"new_state":  newState,
		"reason":     reason,
		"cooldown_s": cooldown.Seconds(),
	}).Warn("Circuit breaker transition recorded")
}

// LogAlertEmitted logs an alert leaving the dispatcher, per sink.
func (al *AuditLogger) LogAlertEmitted(alertType, severity, collector, correlationID string, sinks []string) {
	al.WithFields(logrus.Fields{
		"alert_type":     alertType,
		"severity":       severity,
		"collector":      collector,
		"correlation_id": correlationID,
		"sinks":          sinks,
	}).Info("Alert emitted")
}

// LogPipelineRun logs a finished run with its terminal status.
func (al *AuditLogger) LogPipelineRun(runID, mode, status string, windowStart, windowEnd time.Time, zoneSummary map[string]interface{}) {
	al.WithFields(logrus.Fields{
		"run_id":       runID,
		"mode":         mode,
		"status":       status,
		"window_start": windowStart.UTC(),
		"window_end":   windowEnd.UTC(),
		"zones":        zoneSummary,
	}).Info("Pipeline run recorded")
}

// LogQuarantine logs a record entering or leaving quarantine.
func (al *AuditLogger) LogQuarantine(source, reason string, rawRecordID string, released bool) {
	event := "Record quarantined"
	if released {
		event = "Record released from quarantine"
	}
	al.WithFields(logrus.Fields{
		"source":        source,
		"reason":        reason,
		"raw_record_id": rawRecordID,
	}).Info(event)
}
