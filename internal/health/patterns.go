package health

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/models"
)

const (
	// patternLookbackMinutes is how far back the per-minute failure series
	// reaches. Six hours covers several repetitions of hourly cycles like
	// provider-side quota resets.
	patternLookbackMinutes = 360

	// minPatternLag skips trivially short lags: consecutive retry failures
	// correlate at one or two minutes without being a schedule.
	minPatternLag = 5

	// minPatternFailures is the least failures the window must hold before
	// periodicity is worth asserting.
	minPatternFailures = 5
)

// detectPatterns scans each collector's recent failures for periodic
// structure and raises a failure_pattern alert when the autocorrelation of
// the per-minute failure series peaks above the configured confidence.
func (t *Tracker) detectPatterns() {
	now := time.Now().UTC()

	for name, rg := range t.rings {
		series := rg.failureCounts(now, patternLookbackMinutes)

		var failures float64
		for _, v := range series {
			failures += v
		}
		if failures < minPatternFailures {
			continue
		}

		period, confidence := dominantPeriod(series)
		if period == 0 || confidence < t.health.PatternConfidence {
			continue
		}

		t.logger.WithFields(logrus.Fields{
			"collector":      name,
			"period_minutes": period,
			"confidence":     confidence,
		}).Info("Periodic failure pattern detected")

		t.alerts.Dispatch(context.Background(), &models.Alert{
			Type:      models.AlertTypeFailurePattern,
			Severity:  models.SeverityInfo,
			Collector: name,
			Message: fmt.Sprintf("%s failures recur about every %d minutes (confidence %.2f)",
				name, period, confidence),
			Context: map[string]any{
				"period_minutes": period,
				"confidence":     confidence,
				"window_minutes": patternLookbackMinutes,
				"failures":       failures,
			},
		})
	}
}

// dominantPeriod returns the lag with the strongest autocorrelation in the
// series and that correlation as confidence. Lags beyond a third of the
// series are skipped so a period needs at least three repetitions; a flat
// series has no period.
func dominantPeriod(series []float64) (int, float64) {
	n := len(series)
	if n < 3*minPatternLag {
		return 0, 0
	}

	var mean float64
	for _, v := range series {
		mean += v
	}
	mean /= float64(n)

	var den float64
	for _, v := range series {
		d := v - mean
		den += d * d
	}
	if den == 0 {
		return 0, 0
	}

	bestLag, best := 0, 0.0
	maxLag := n / 3
	for lag := minPatternLag; lag <= maxLag; lag++ {
		var num float64
		for i := 0; i+lag < n; i++ {
			num += (series[i] - mean) * (series[i+lag] - mean)
		}
		if r := num / den; r > best {
			best, bestLag = r, lag
		}
	}

	return bestLag, best
}
