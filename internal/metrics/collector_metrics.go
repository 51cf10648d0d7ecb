// Collection and circuit-breaker metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collection counter vectors
var (
	CollectionSweepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "line_drive",
		Name:      "collection_sweeps_total",
		Help:      "Collection sweeps by collector and outcome",
	}, []string{"collector", "outcome"})
	CollectionRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "line_drive",
		Name:      "collection_records_total",
		Help:      "Raw records fetched per collector",
	}, []string{"collector"})
	CircuitBreakerTripsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "line_drive",
		Name:      "circuit_breaker_trips_total",
		Help:      "Circuit breaker transitions into the open state",
	}, []string{"collector"})
)

// Collection histogram vectors
var (
	CollectionSweepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "line_drive",
		Name:      "collection_sweep_duration_seconds",
		Help:      "Wall-clock duration of collection sweeps",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"collector"})
)

// Collection gauge vectors
var (
	// CircuitBreakerState encodes closed=0, half_open=1, open=2.
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "line_drive",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per collector (closed=0, half_open=1, open=2)",
	}, []string{"collector"})
	CollectorFailureProbability = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "line_drive",
		Name:      "collector_failure_probability",
		Help:      "Predicted probability of imminent collector failure",
	}, []string{"collector"})
)

// RecordSweep records one collection sweep.
func RecordSweep(collector, outcome string, durationSeconds float64, records int) {
	CollectionSweepsTotal.WithLabelValues(collector, outcome).Inc()
	CollectionSweepDuration.WithLabelValues(collector).Observe(durationSeconds)
	if records > 0 {
		CollectionRecordsTotal.WithLabelValues(collector).Add(float64(records))
	}
}

// RecordBreakerTrip records a breaker opening.
func RecordBreakerTrip(collector string) {
	CircuitBreakerTripsTotal.WithLabelValues(collector).Inc()
}

// UpdateBreakerState updates the encoded breaker state gauge.
func UpdateBreakerState(collector string, state float64) {
	CircuitBreakerState.WithLabelValues(collector).Set(state)
}

// UpdateFailureProbability updates the prediction gauge for a collector.
func UpdateFailureProbability(collector string, p float64) {
	CollectorFailureProbability.WithLabelValues(collector).Set(p)
}
