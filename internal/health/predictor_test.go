package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/line-drive/internal/models"
)

func TestFailureProbabilityHealthy(t *testing.T) {
	now := time.Now().UTC()
	rg := newRing(100)
	for i := 0; i < 20; i++ {
		rg.add(attemptSample{at: now.Add(-time.Minute), ok: true, latencyMs: 100})
	}
	br := NewBreaker("oddsfeed", 5, time.Minute, testLogger())

	assert.InDelta(t, 0, failureProbability(rg, br, now), 1e-9)
}

func TestFailureShareFallsBackToHourly(t *testing.T) {
	now := time.Now().UTC()
	rg := newRing(100)

	// Too few short-window samples to trust; the hourly window has eight
	// successes and two failures.
	rg.add(attemptSample{at: now.Add(-time.Minute), ok: false})
	rg.add(attemptSample{at: now.Add(-time.Minute), ok: false})
	for i := 0; i < 8; i++ {
		rg.add(attemptSample{at: now.Add(-30 * time.Minute), ok: true})
	}

	assert.InDelta(t, 0.2, failureShare(rg, now), 1e-9)
}

func TestLatencyTrendRising(t *testing.T) {
	now := time.Now().UTC()
	rg := newRing(100)
	for i := 0; i < 5; i++ {
		rg.add(attemptSample{at: now.Add(-40 * time.Minute), ok: true, latencyMs: 100})
	}
	for i := 0; i < 5; i++ {
		rg.add(attemptSample{at: now.Add(-5 * time.Minute), ok: true, latencyMs: 250})
	}

	// 150% growth clamps to one.
	assert.InDelta(t, 1.0, latencyTrend(rg, now), 1e-9)
}

func TestLatencyTrendNeedsSamples(t *testing.T) {
	now := time.Now().UTC()
	rg := newRing(100)
	for i := 0; i < 4; i++ {
		rg.add(attemptSample{at: now.Add(-time.Minute), ok: true, latencyMs: 100})
	}

	assert.InDelta(t, 0, latencyTrend(rg, now), 1e-9)
}

func TestBreakerFactorByState(t *testing.T) {
	br := NewBreaker("oddsfeed", 3, 20*time.Millisecond, testLogger())
	assert.InDelta(t, 0, breakerFactor(br), 1e-9, "fresh closed breaker")

	for i := 0; i < 3; i++ {
		br.Record(false)
	}
	assert.InDelta(t, 1, breakerFactor(br), 1e-9, "open breaker")

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, br.Allow())
	assert.InDelta(t, 0.7, breakerFactor(br), 1e-9, "half-open breaker")

	br.Record(true)
	assert.InDelta(t, 0.4, breakerFactor(br), 1e-9, "closed with one recent trip")
}

func TestPredictEmitsAlertWhenFailureLikely(t *testing.T) {
	alerts := &captureAlerter{}
	tr := newTestTracker(t, alerts, nil)

	now := time.Now().UTC()
	rg := tr.rings["oddsfeed"]
	// Rising latency in the hourly window, every recent attempt failing.
	for i := 0; i < 5; i++ {
		rg.add(attemptSample{at: now.Add(-40 * time.Minute), ok: false, latencyMs: 100})
	}
	for i := 0; i < 5; i++ {
		rg.add(attemptSample{at: now.Add(-2 * time.Minute), ok: false, latencyMs: 250})
	}

	br := tr.Breakers()["oddsfeed"]
	for i := 0; i < 3; i++ {
		br.Record(false)
	}
	require.Equal(t, models.BreakerOpen, br.State())

	tr.predict()

	st, _ := tr.Snapshot("oddsfeed")
	assert.Greater(t, st.FailureProbability, 0.9)

	predicted := alerts.byType(models.AlertTypePredictedFailure)
	require.Len(t, predicted, 1)
	assert.Equal(t, models.SeverityWarning, predicted[0].Severity)
	assert.Equal(t, "oddsfeed", predicted[0].Collector)
}

func TestPredictQuietWhenHealthy(t *testing.T) {
	alerts := &captureAlerter{}
	tr := newTestTracker(t, alerts, nil)

	now := time.Now().UTC()
	rg := tr.rings["oddsfeed"]
	for i := 0; i < 20; i++ {
		rg.add(attemptSample{at: now.Add(-time.Minute), ok: true, latencyMs: 100})
	}

	tr.predict()

	st, _ := tr.Snapshot("oddsfeed")
	assert.InDelta(t, 0, st.FailureProbability, 1e-9)
	assert.Empty(t, alerts.byType(models.AlertTypePredictedFailure))
}
