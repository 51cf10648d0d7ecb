// Package metrics provides the centralized Prometheus registry for the
// line-drive pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Global registry instance
var (
	registry *prometheus.Registry
	once     sync.Once
)

// Zone flow counters
var (
	RecordsIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "line_drive",
		Name:      "records_ingested_total",
		Help:      "Raw records appended per source",
	}, []string{"source"})
	RecordsStagedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "line_drive",
		Name:      "records_staged_total",
		Help:      "Normalized lines accepted into staging per market",
	}, []string{"market"})
	RecordsCuratedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "line_drive",
		Name:      "records_curated_total",
		Help:      "Analysis-ready lines upserted into curated per market",
	}, []string{"market"})
	RecordsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "line_drive",
		Name:      "records_rejected_total",
		Help:      "Records rejected per zone and rejection reason",
	}, []string{"zone", "reason"})
	RecordsQuarantinedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "line_drive",
		Name:      "records_quarantined_total",
		Help:      "Records quarantined per reason",
	}, []string{"reason"})
	PipelineRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "line_drive",
		Name:      "pipeline_runs_total",
		Help:      "Orchestrated runs by mode and terminal status",
	}, []string{"mode", "status"})
)

// Flow gauges
var (
	ZoneQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "line_drive",
		Name:      "zone_queue_depth",
		Help:      "Records waiting in each zone's bounded queue",
	}, []string{"zone"})
	BackpressureActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "line_drive",
		Name:      "backpressure_active",
		Help:      "1 while a zone queue sits above its high watermark",
	}, []string{"zone"})
	QuarantineBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "line_drive",
		Name:      "quarantine_backlog",
		Help:      "Records currently held in quarantine",
	})
)

// Flow histograms
var (
	ZoneBatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "line_drive",
		Name:      "zone_batch_duration_seconds",
		Help:      "Wall-clock duration of one zone batch",
		Buckets:   prometheus.DefBuckets,
	}, []string{"zone"})
	PipelineRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "line_drive",
		Name:      "pipeline_run_duration_seconds",
		Help:      "Wall-clock duration of full pipeline runs by mode",
		Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800},
	}, []string{"mode"})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		// Register zone flow metrics
		registry.MustRegister(RecordsIngestedTotal)
		registry.MustRegister(RecordsStagedTotal)
		registry.MustRegister(RecordsCuratedTotal)
		registry.MustRegister(RecordsRejectedTotal)
		registry.MustRegister(RecordsQuarantinedTotal)
		registry.MustRegister(PipelineRunsTotal)
		registry.MustRegister(ZoneQueueDepth)
		registry.MustRegister(BackpressureActive)
		registry.MustRegister(QuarantineBacklog)
		registry.MustRegister(ZoneBatchDuration)
		registry.MustRegister(PipelineRunDuration)

		// Register collection metrics
		registry.MustRegister(CollectionSweepsTotal)
		registry.MustRegister(CollectionRecordsTotal)
		registry.MustRegister(CollectionSweepDuration)
		registry.MustRegister(CircuitBreakerTripsTotal)
		registry.MustRegister(CircuitBreakerState)
		registry.MustRegister(CollectorFailureProbability)

		// Register alerting and signal metrics
		registry.MustRegister(AlertsEmittedTotal)
		registry.MustRegister(AlertsThrottledTotal)
		registry.MustRegister(AlertDeadLettersTotal)
		registry.MustRegister(RecoveryActionsTotal)
		registry.MustRegister(SharpSignalsTotal)
	})
	return registry
}

// GetRegistry returns the global Prometheus registry.
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return InitRegistry()
	}
	return registry
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{})
}

// RecordIngested counts raw records appended for a source.
func RecordIngested(source string, n int) {
	RecordsIngestedTotal.WithLabelValues(source).Add(float64(n))
}

// RecordStaged counts lines accepted into staging for a market.
func RecordStaged(market string, n int) {
	RecordsStagedTotal.WithLabelValues(market).Add(float64(n))
}

// RecordCurated counts lines upserted into curated for a market.
func RecordCurated(market string, n int) {
	RecordsCuratedTotal.WithLabelValues(market).Add(float64(n))
}

// RecordRejected counts a rejection in a zone.
func RecordRejected(zone, reason string) {
	RecordsRejectedTotal.WithLabelValues(zone, reason).Inc()
}

// RecordQuarantined counts a record entering quarantine.
func RecordQuarantined(reason string) {
	RecordsQuarantinedTotal.WithLabelValues(reason).Inc()
}

// RecordPipelineRun records a finished run and its duration.
func RecordPipelineRun(mode, status string, durationSeconds float64) {
	PipelineRunsTotal.WithLabelValues(mode, status).Inc()
	PipelineRunDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordZoneBatch records one zone batch duration.
func RecordZoneBatch(zone string, durationSeconds float64) {
	ZoneBatchDuration.WithLabelValues(zone).Observe(durationSeconds)
}

// UpdateQueueDepth updates a zone queue depth gauge.
func UpdateQueueDepth(zone string, depth int) {
	ZoneQueueDepth.WithLabelValues(zone).Set(float64(depth))
}

// UpdateBackpressure flips a zone's backpressure gauge.
func UpdateBackpressure(zone string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	BackpressureActive.WithLabelValues(zone).Set(v)
}

// UpdateQuarantineBacklog updates the pending quarantine gauge.
func UpdateQuarantineBacklog(n int64) {
	QuarantineBacklog.Set(float64(n))
}
