package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/line-drive/internal/models"
)

func TestDominantPeriodDetectsImpulseTrain(t *testing.T) {
	// One failure every 30 minutes across six hours.
	series := make([]float64, 360)
	for i := 29; i < 360; i += 30 {
		series[i] = 1
	}

	period, confidence := dominantPeriod(series)
	assert.Equal(t, 30, period)
	assert.Greater(t, confidence, 0.8)
}

func TestDominantPeriodFlatSeries(t *testing.T) {
	period, confidence := dominantPeriod(make([]float64, 360))
	assert.Equal(t, 0, period)
	assert.Equal(t, 0.0, confidence)

	constant := make([]float64, 360)
	for i := range constant {
		constant[i] = 2
	}
	period, confidence = dominantPeriod(constant)
	assert.Equal(t, 0, period)
	assert.Equal(t, 0.0, confidence)
}

func TestDominantPeriodShortSeries(t *testing.T) {
	period, confidence := dominantPeriod(make([]float64, 10))
	assert.Equal(t, 0, period)
	assert.Equal(t, 0.0, confidence)
}

func TestDominantPeriodSkipsTrivialLags(t *testing.T) {
	// Failures every 2 minutes would correlate strongest at lag 2, below the
	// minimum lag; the detector must settle on a multiple instead.
	series := make([]float64, 360)
	for i := 1; i < 360; i += 2 {
		series[i] = 1
	}

	period, _ := dominantPeriod(series)
	assert.GreaterOrEqual(t, period, minPatternLag)
}

func TestDetectPatternsEmitsAlert(t *testing.T) {
	alerts := &captureAlerter{}
	tr := newTestTracker(t, alerts, nil)

	now := time.Now().UTC()
	rg := tr.rings["oddsfeed"]
	for i := 0; i < 12; i++ {
		rg.add(attemptSample{at: now.Add(-time.Duration(i*30) * time.Minute), ok: false})
	}

	tr.detectPatterns()

	patterns := alerts.byType(models.AlertTypeFailurePattern)
	require.Len(t, patterns, 1)
	assert.Equal(t, models.SeverityInfo, patterns[0].Severity)
	assert.Equal(t, "oddsfeed", patterns[0].Collector)
	assert.Equal(t, 30, patterns[0].Context["period_minutes"])
	assert.Equal(t, 12.0, patterns[0].Context["failures"])
}

func TestDetectPatternsNeedsEnoughFailures(t *testing.T) {
	alerts := &captureAlerter{}
	tr := newTestTracker(t, alerts, nil)

	now := time.Now().UTC()
	rg := tr.rings["oddsfeed"]
	for i := 0; i < 3; i++ {
		rg.add(attemptSample{at: now.Add(-time.Duration(i*60) * time.Minute), ok: false})
	}

	tr.detectPatterns()
	assert.Empty(t, alerts.byType(models.AlertTypeFailurePattern))
}

func TestDetectPatternsIgnoresSuccesses(t *testing.T) {
	alerts := &captureAlerter{}
	tr := newTestTracker(t, alerts, nil)

	now := time.Now().UTC()
	rg := tr.rings["oddsfeed"]
	for i := 0; i < 40; i++ {
		rg.add(attemptSample{at: now.Add(-time.Duration(i*9) * time.Minute), ok: true, latencyMs: 100})
	}

	tr.detectPatterns()
	assert.Empty(t, alerts.byType(models.AlertTypeFailurePattern))
}
