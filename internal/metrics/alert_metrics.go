// Alerting, recovery and sharp-signal metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Alerting counter vectors
var (
	AlertsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "line_drive",
		Name:      "alerts_emitted_total",
		Help:      "Alerts dispatched to sinks by severity and type",
	}, []string{"severity", "alert_type"})
	AlertsThrottledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "line_drive",
		Name:      "alerts_throttled_total",
		Help:      "Identical alerts suppressed inside the severity throttle window",
	}, []string{"severity"})
	AlertDeadLettersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "line_drive",
		Name:      "alert_dead_letters_total",
		Help:      "Alerts parked in the dead-letter table after delivery gave up",
	}, []string{"sink"})
	RecoveryActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "line_drive",
		Name:      "recovery_actions_total",
		Help:      "Automated recovery steps by collector, action and outcome",
	}, []string{"collector", "action", "outcome"})
	SharpSignalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "line_drive",
		Name:      "sharp_signals_total",
		Help:      "Sharp-money signals detected in the curated zone",
	}, []string{"market", "signal"})
)

// RecordAlert records an alert emission.
func RecordAlert(severity, alertType string) {
	AlertsEmittedTotal.WithLabelValues(severity, alertType).Inc()
}

// RecordAlertThrottled records an alert suppressed by the throttle.
func RecordAlertThrottled(severity string) {
	AlertsThrottledTotal.WithLabelValues(severity).Inc()
}

// RecordDeadLetter records an alert falling through to the dead-letter table.
func RecordDeadLetter(sink string) {
	AlertDeadLettersTotal.WithLabelValues(sink).Inc()
}

// RecordRecoveryAction records one automated recovery step.
func RecordRecoveryAction(collector, action, outcome string) {
	RecoveryActionsTotal.WithLabelValues(collector, action, outcome).Inc()
}

// RecordSharpSignal records one detected sharp-money signal.
func RecordSharpSignal(market, signal string) {
	SharpSignalsTotal.WithLabelValues(market, signal).Inc()
}
