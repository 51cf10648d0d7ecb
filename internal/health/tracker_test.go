package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/models"
	"github.com/yourusername/line-drive/internal/repository"
)

func testHealthConfig() *config.Config {
	return &config.Config{
		Collectors: map[string]config.CollectorConfig{
			"oddsfeed": {
				Enabled:                 true,
				BaseURL:                 "https://api.example.com/v4",
				APIKey:                  "test-key",
				BreakerFailureThreshold: 3,
				BreakerCooldownS:        60,
			},
			"sharpsplits": {
				Enabled:                 true,
				BaseURL:                 "https://splits.example.com",
				APIKey:                  "test-key",
				BreakerFailureThreshold: 3,
				BreakerCooldownS:        60,
			},
			"disabled_source": {
				Enabled: false,
				BaseURL: "https://nowhere.example.com",
			},
		},
		Health: config.HealthConfig{
			RingBufferSize:           100,
			PatternIntervalS:         900,
			PredictionIntervalS:      600,
			BaselineIntervalS:        3600,
			DegradationSuccessRatio:  0.7,
			DegradationLatencyRatio:  4.0,
			PatternConfidence:        0.7,
			PredictionAlertThreshold: 0.8,
			ListenPort:               8090,
		},
	}
}

// captureAlerter records dispatched alerts for assertions
type captureAlerter struct {
	mu     sync.Mutex
	alerts []*models.Alert
}

func (c *captureAlerter) Dispatch(_ context.Context, alert *models.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
}

func (c *captureAlerter) byType(alertType string) []*models.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*models.Alert
	for _, a := range c.alerts {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

type stubAttemptRepo struct {
	stats map[string][]repository.DailyAttemptStat
}

func (s *stubAttemptRepo) InsertBatch(context.Context, []*models.CollectionAttempt) error {
	return nil
}

func (s *stubAttemptRepo) Window(context.Context, string, time.Time, time.Time) ([]*models.CollectionAttempt, error) {
	return nil, nil
}

func (s *stubAttemptRepo) DailyStats(_ context.Context, collector string, _ time.Time) ([]repository.DailyAttemptStat, error) {
	return s.stats[collector], nil
}

func (s *stubAttemptRepo) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type stubRecoveryRepo struct {
	mu      sync.Mutex
	actions []*models.RecoveryAction
}

func (s *stubRecoveryRepo) Insert(_ context.Context, action *models.RecoveryAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	return nil
}

func (s *stubRecoveryRepo) GetRecent(context.Context, string, int) ([]*models.RecoveryAction, error) {
	return nil, nil
}

type stubProbe struct {
	name string
	err  error
}

func (p *stubProbe) Name() string                      { return p.name }
func (p *stubProbe) HealthProbe(context.Context) error { return p.err }

func attemptFor(collector string, outcome models.AttemptOutcome, latencyMs int64, category string) *models.CollectionAttempt {
	now := time.Now().UTC()
	a := &models.CollectionAttempt{
		Collector:      collector,
		StartedAt:      now.Add(-time.Duration(latencyMs) * time.Millisecond),
		FinishedAt:     now,
		Outcome:        outcome,
		ResponseTimeMs: latencyMs,
	}
	if category != "" {
		a.ErrorCategory = &category
	}
	return a
}

func newTestTracker(t *testing.T, alerts Alerter, attemptDB repository.AttemptRepository) *Tracker {
	t.Helper()
	return NewTracker(testHealthConfig(), attemptDB, &stubRecoveryRepo{}, alerts, nil, testLogger())
}

func TestTrackerObserveUpdatesSnapshot(t *testing.T) {
	alerts := &captureAlerter{}
	tr := newTestTracker(t, alerts, nil)

	tr.observe(attemptFor("oddsfeed", models.AttemptOutcomeOK, 100, ""))
	tr.observe(attemptFor("oddsfeed", models.AttemptOutcomeOK, 200, ""))
	tr.observe(attemptFor("oddsfeed", models.AttemptOutcomeNetworkError, 300, "connection_refused"))
	tr.observe(attemptFor("oddsfeed", models.AttemptOutcomeOK, 400, ""))

	st, ok := tr.Snapshot("oddsfeed")
	require.True(t, ok)
	assert.Equal(t, int64(4), st.Attempts)
	assert.Equal(t, int64(3), st.Successes)
	assert.Equal(t, int64(1), st.Failures)
	assert.Equal(t, int64(1), st.FailuresByCategory["connection_refused"])
	assert.Equal(t, 0, st.ConsecutiveFailures, "trailing success resets the streak")
	assert.InDelta(t, 0.75, st.SuccessRate5m, 1e-9)
	assert.InDelta(t, 250, st.MeanLatencyMs, 1e-9)
	assert.Equal(t, models.BreakerClosed, st.BreakerState)
	assert.False(t, st.Degraded)

	// Untouched collector stays zeroed.
	other, ok := tr.Snapshot("sharpsplits")
	require.True(t, ok)
	assert.Equal(t, int64(0), other.Attempts)
}

func TestTrackerObserveConsecutiveFailures(t *testing.T) {
	tr := newTestTracker(t, &captureAlerter{}, nil)

	tr.observe(attemptFor("oddsfeed", models.AttemptOutcomeTimeout, 5000, "timeout"))
	tr.observe(attemptFor("oddsfeed", models.AttemptOutcomeTimeout, 5000, "timeout"))

	st, _ := tr.Snapshot("oddsfeed")
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.Equal(t, int64(2), st.FailuresByCategory["timeout"])
}

func TestTrackerObserveUnknownCollectorDropped(t *testing.T) {
	tr := newTestTracker(t, &captureAlerter{}, nil)

	tr.observe(attemptFor("nobody", models.AttemptOutcomeOK, 10, ""))

	_, ok := tr.Snapshot("nobody")
	assert.False(t, ok)
}

func TestTrackerDegradationRisingEdge(t *testing.T) {
	alerts := &captureAlerter{}
	tr := newTestTracker(t, alerts, nil)

	baseline := 0.95
	tr.mu.Lock()
	tr.states["oddsfeed"].BaselineSuccessRate = &baseline
	tr.mu.Unlock()

	// Ten straight failures: 0% over 5m against a 95% baseline.
	for i := 0; i < 10; i++ {
		tr.observe(attemptFor("oddsfeed", models.AttemptOutcomeNetworkError, 100, "connection_refused"))
	}

	st, _ := tr.Snapshot("oddsfeed")
	assert.True(t, st.Degraded)

	degradations := alerts.byType(models.AlertTypeDegradation)
	require.Len(t, degradations, 1, "degradation alerts fire on the rising edge only")
	assert.Equal(t, models.SeverityWarning, degradations[0].Severity)
	assert.Equal(t, "oddsfeed", degradations[0].Collector)
	assert.Contains(t, degradations[0].Context, "baseline_success_rate")
}

func TestTrackerDegradationNeedsSamples(t *testing.T) {
	alerts := &captureAlerter{}
	tr := newTestTracker(t, alerts, nil)

	baseline := 0.95
	tr.mu.Lock()
	tr.states["oddsfeed"].BaselineSuccessRate = &baseline
	tr.mu.Unlock()

	// Four failures sit below the sample floor; no verdict yet.
	for i := 0; i < 4; i++ {
		tr.observe(attemptFor("oddsfeed", models.AttemptOutcomeNetworkError, 100, "connection_refused"))
	}

	st, _ := tr.Snapshot("oddsfeed")
	assert.False(t, st.Degraded)
	assert.Empty(t, alerts.byType(models.AlertTypeDegradation))
}

func TestTrackerDegradationLatencyRule(t *testing.T) {
	alerts := &captureAlerter{}
	tr := newTestTracker(t, alerts, nil)

	baselineP95 := 200.0
	tr.mu.Lock()
	tr.states["oddsfeed"].BaselineP95Ms = &baselineP95
	tr.mu.Unlock()

	// Successful but slow: p95 lands at 1000ms against a 200ms baseline,
	// past the 4x ratio.
	for i := 0; i < 10; i++ {
		tr.observe(attemptFor("oddsfeed", models.AttemptOutcomeOK, 1000, ""))
	}

	st, _ := tr.Snapshot("oddsfeed")
	assert.True(t, st.Degraded)
	assert.Len(t, alerts.byType(models.AlertTypeDegradation), 1)
}

func TestTrackerRecomputeBaselines(t *testing.T) {
	day := func(offset int) time.Time {
		return time.Now().UTC().AddDate(0, 0, -offset).Truncate(24 * time.Hour)
	}
	repo := &stubAttemptRepo{stats: map[string][]repository.DailyAttemptStat{
		"oddsfeed": {
			{Day: day(6), Attempts: 50, SuccessRate: 0.90, P95Ms: 180},
			{Day: day(5), Attempts: 50, SuccessRate: 0.94, P95Ms: 200},
			{Day: day(4), Attempts: 5, SuccessRate: 0.20, P95Ms: 9000}, // thin day, ignored
			{Day: day(3), Attempts: 50, SuccessRate: 0.98, P95Ms: 220},
		},
		// Only two qualifying days: baseline must stay unset.
		"sharpsplits": {
			{Day: day(2), Attempts: 50, SuccessRate: 0.80, P95Ms: 100},
			{Day: day(1), Attempts: 50, SuccessRate: 0.82, P95Ms: 110},
		},
	}}
	tr := newTestTracker(t, &captureAlerter{}, repo)

	tr.recomputeBaselines(context.Background())

	st, _ := tr.Snapshot("oddsfeed")
	require.NotNil(t, st.BaselineSuccessRate)
	require.NotNil(t, st.BaselineP95Ms)
	assert.InDelta(t, 0.94, *st.BaselineSuccessRate, 1e-9, "median of the three full days")
	assert.InDelta(t, 200, *st.BaselineP95Ms, 1e-9)

	thin, _ := tr.Snapshot("sharpsplits")
	assert.Nil(t, thin.BaselineSuccessRate)
	assert.Nil(t, thin.BaselineP95Ms)
}

func TestTrackerSnapshotsSortedAndCopied(t *testing.T) {
	tr := newTestTracker(t, &captureAlerter{}, nil)

	tr.observe(attemptFor("sharpsplits", models.AttemptOutcomeNetworkError, 50, "dns_failure"))

	snaps := tr.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "oddsfeed", snaps[0].Collector)
	assert.Equal(t, "sharpsplits", snaps[1].Collector)

	// Mutating a snapshot must not leak back into the tracker.
	snaps[1].Attempts = 999
	snaps[1].FailuresByCategory["dns_failure"] = 999

	st, _ := tr.Snapshot("sharpsplits")
	assert.Equal(t, int64(1), st.Attempts)
	assert.Equal(t, int64(1), st.FailuresByCategory["dns_failure"])
}

func TestTrackerBreakerOpenRaisesAlert(t *testing.T) {
	alerts := &captureAlerter{}
	tr := newTestTracker(t, alerts, nil)

	br := tr.Breakers()["oddsfeed"]
	require.NotNil(t, br)
	for i := 0; i < 3; i++ {
		br.Record(false)
	}

	// The transition callback runs on its own goroutine.
	assert.Eventually(t, func() bool {
		return len(alerts.byType(models.AlertTypeCircuitOpen)) == 1
	}, time.Second, 10*time.Millisecond)

	critical := alerts.byType(models.AlertTypeCircuitOpen)[0]
	assert.Equal(t, models.SeverityCritical, critical.Severity)
	assert.Equal(t, "oddsfeed", critical.Collector)

	assert.Eventually(t, func() bool {
		st, _ := tr.Snapshot("oddsfeed")
		return st.BreakerState == models.BreakerOpen && st.BreakerOpenedAt != nil
	}, time.Second, 10*time.Millisecond)
}

func TestTrackerTriggerRecoveryUnknownCollector(t *testing.T) {
	tr := newTestTracker(t, &captureAlerter{}, nil)

	_, err := tr.TriggerRecovery(context.Background(), "nobody")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTrackerTriggerRecoverySequence(t *testing.T) {
	alerts := &captureAlerter{}
	tr := newTestTracker(t, alerts, nil)
	tr.RegisterProbe(&stubProbe{name: "oddsfeed"})

	br := tr.Breakers()["oddsfeed"]
	for i := 0; i < 3; i++ {
		br.Record(false)
	}
	require.Equal(t, models.BreakerOpen, br.State())

	actions, err := tr.TriggerRecovery(context.Background(), "oddsfeed")
	require.NoError(t, err)
	require.Len(t, actions, 3)

	assert.Equal(t, models.RecoveryResetBreaker, actions[0].Action)
	assert.Equal(t, models.RecoveryOutcomeOK, actions[0].Outcome)
	assert.Equal(t, models.RecoveryForceProbe, actions[1].Action)
	assert.Equal(t, models.RecoveryOutcomeOK, actions[1].Outcome)
	assert.Equal(t, models.RecoveryRevalidateConfig, actions[2].Action)
	assert.Equal(t, models.RecoveryOutcomeOK, actions[2].Outcome)

	// All three steps share one correlation id.
	assert.Equal(t, actions[0].CorrelationID, actions[1].CorrelationID)
	assert.Equal(t, actions[1].CorrelationID, actions[2].CorrelationID)

	assert.Equal(t, models.BreakerClosed, br.State())
	st, _ := tr.Snapshot("oddsfeed")
	assert.Equal(t, models.BreakerClosed, st.BreakerState)

	require.Len(t, alerts.byType(models.AlertTypeRecovery), 1)
}

func TestTrackerTriggerRecoveryWithoutProbe(t *testing.T) {
	tr := newTestTracker(t, &captureAlerter{}, nil)

	actions, err := tr.TriggerRecovery(context.Background(), "oddsfeed")
	require.NoError(t, err)
	require.Len(t, actions, 3)

	assert.Equal(t, models.RecoveryOutcomeFailed, actions[1].Outcome)
	require.NotNil(t, actions[1].Detail)
	assert.Contains(t, *actions[1].Detail, "no probe registered")
}

func TestTrackerRegisterProbeIgnoresUnknown(t *testing.T) {
	tr := newTestTracker(t, &captureAlerter{}, nil)

	tr.RegisterProbe(&stubProbe{name: "nobody"})
	assert.NotContains(t, tr.probes, "nobody")
}
