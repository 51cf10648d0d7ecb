package health

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/metrics"
	"github.com/yourusername/line-drive/internal/models"
)

// The failure probability is a weighted blend of three signals: the recent
// failure share, the latency trend across the trailing hour, and circuit
// breaker history. Weights sum to one so the blend stays in [0, 1].
const (
	weightFailureShare = 0.5
	weightLatencyTrend = 0.2
	weightBreaker      = 0.3

	// minTrendSamples gates the latency trend; below it the trend is flat
	minTrendSamples = 6
)

// predict recomputes each collector's failure probability and alerts when it
// crosses the configured threshold.
func (t *Tracker) predict() {
	now := time.Now().UTC()

	for name, rg := range t.rings {
		br := t.breakers[name]
		p := failureProbability(rg, br, now)

		metrics.UpdateFailureProbability(name, p)

		t.mu.Lock()
		st := t.states[name]
		st.FailureProbability = p
		st.UpdatedAt = now
		snapshot := copyState(st)
		t.mu.Unlock()

		if p < t.health.PredictionAlertThreshold {
			continue
		}

		t.logger.WithFields(logrus.Fields{
			"collector":           name,
			"failure_probability": p,
		}).Warn("Collector failure predicted")

		t.alerts.Dispatch(context.Background(), &models.Alert{
			Type:      models.AlertTypePredictedFailure,
			Severity:  models.SeverityWarning,
			Collector: name,
			Message: fmt.Sprintf("%s is predicted to fail soon (probability %.2f)",
				name, p),
			Context: map[string]any{
				"failure_probability": p,
				"success_rate_5m":     snapshot.SuccessRate5m,
				"success_rate_60m":    snapshot.SuccessRate60m,
				"breaker_state":       snapshot.BreakerState,
			},
		})
	}
}

func failureProbability(rg *ring, br *Breaker, now time.Time) float64 {
	p := weightFailureShare*failureShare(rg, now) +
		weightLatencyTrend*latencyTrend(rg, now) +
		weightBreaker*breakerFactor(br)
	return clamp01(p)
}

// failureShare is the complement of the short-window success rate, falling
// back to the hourly rate when the short window is too thin to trust.
func failureShare(rg *ring, now time.Time) float64 {
	if rate, n := rg.successRate(now, shortWindow); n >= 3 {
		return 1 - rate
	}
	if rate, n := rg.successRate(now, longWindow); n > 0 {
		return 1 - rate
	}
	return 0
}

// latencyTrend compares the newer half of the hourly window against the
// older half: a doubling of mean latency saturates the signal at one.
func latencyTrend(rg *ring, now time.Time) float64 {
	older, newer, n := rg.latencyHalves(now, longWindow)
	if n < minTrendSamples || older <= 0 {
		return 0
	}
	return clamp01((newer - older) / older)
}

// breakerFactor weighs circuit breaker history: an open breaker is a firm
// prediction on its own, recent trips while closed raise suspicion.
func breakerFactor(br *Breaker) float64 {
	switch br.State() {
	case models.BreakerOpen:
		return 1
	case models.BreakerHalfOpen:
		return 0.7
	default:
		return clamp01(0.4 * float64(br.RecentTrips(time.Hour)))
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
