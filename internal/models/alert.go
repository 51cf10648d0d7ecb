package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlertSeverity orders alert urgency
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus tracks operator handling of an alert
type AlertStatus string

const (
	AlertStatusFiring       AlertStatus = "firing"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Well-known alert types emitted by the health tracker and orchestrator.
const (
	AlertTypeDegradation      = "performance_degradation"
	AlertTypeFailurePattern   = "failure_pattern"
	AlertTypePredictedFailure = "predicted_failure"
	AlertTypeCircuitOpen      = "circuit_open"
	AlertTypeBackpressure     = "backpressure"
	AlertTypeRecovery         = "recovery_action"
	AlertTypePipelineFailed   = "pipeline_failed"
)

// Alert is the structured notification pushed to every configured sink
type Alert struct {
	ID            uuid.UUID      `db:"id" json:"id" validate:"required,uuid4"`
	Type          string         `db:"alert_type" json:"alert_type" validate:"required"`
	Severity      AlertSeverity  `db:"severity" json:"severity" validate:"oneof=info warning critical"`
	Collector     string         `db:"collector" json:"collector"`
	CorrelationID uuid.UUID      `db:"correlation_id" json:"correlation_id"`
	Message       string         `db:"message" json:"message" validate:"required"`
	Context       map[string]any `db:"context" json:"context,omitempty"`
	Status        AlertStatus    `db:"status" json:"status" validate:"oneof=firing acknowledged resolved"`
	AckedAt       *time.Time     `db:"acked_at" json:"acked_at"`
	ResolvedAt    *time.Time     `db:"resolved_at" json:"resolved_at"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// ThrottleKey groups alerts that count as identical for throttling
func (a *Alert) ThrottleKey() string {
	return fmt.Sprintf("%s|%s|%s", a.Type, a.Collector, a.Severity)
}
