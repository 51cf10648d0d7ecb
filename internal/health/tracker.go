// Package health tracks per-collector collection health: rolling attempt
// windows, circuit breakers, degradation against trailing baselines, failure
// patterns and prediction, automated recovery, and the operational HTTP
// server that exposes it all.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/logger"
	"github.com/yourusername/line-drive/internal/models"
	"github.com/yourusername/line-drive/internal/repository"
)

const (
	// attemptQueueCapacity bounds the attempt intake channel. Collectors
	// publish into it and never block for long; the tracker loop drains it.
	attemptQueueCapacity = 1024

	// Window sizes the per-collector snapshot is computed over
	shortWindow = 5 * time.Minute
	longWindow  = time.Hour

	// minDegradationSamples is the least short-window attempts needed
	// before a degradation verdict; below it the verdict is always healthy.
	minDegradationSamples = 5

	// Baselines need this many days of history before they are trusted
	minBaselineDays          = 3
	minBaselineDailyAttempts = 10
	baselineLookback         = 7 * 24 * time.Hour

	// recoveryCheckInterval is how often open breakers are checked for an
	// elapsed cooldown.
	recoveryCheckInterval = 30 * time.Second
)

// Prober is the minimal collector surface recovery needs. Every collector
// satisfies it.
type Prober interface {
	Name() string
	HealthProbe(ctx context.Context) error
}

// Alerter publishes structured alerts raised by the tracker
type Alerter interface {
	Dispatch(ctx context.Context, alert *models.Alert)
}

// Tracker owns the rolling health state of every enabled collector: attempt
// windows, circuit breakers, baselines, degradation verdicts, failure-pattern
// analysis and failure prediction. Collectors feed it CollectionAttempt
// events over a bounded channel and never touch the state directly.
type Tracker struct {
	cfg    *config.Config
	health *config.HealthConfig

	breakers map[string]*Breaker
	rings    map[string]*ring
	probes   map[string]Prober

	mu     sync.RWMutex
	states map[string]*models.HealthState

	attempts  chan *models.CollectionAttempt
	attemptDB repository.AttemptRepository
	recoverer *Recoverer
	alerts    Alerter
	audit     *logger.AuditLogger
	logger    *logrus.Entry
}

// NewTracker creates the tracker with one breaker, ring and state per
// enabled collector.
func NewTracker(
	cfg *config.Config,
	attemptDB repository.AttemptRepository,
	recoveryDB repository.RecoveryRepository,
	alerts Alerter,
	audit *logger.AuditLogger,
	log *logrus.Logger,
) *Tracker {
	t := &Tracker{
		cfg:       cfg,
		health:    &cfg.Health,
		breakers:  make(map[string]*Breaker),
		rings:     make(map[string]*ring),
		probes:    make(map[string]Prober),
		states:    make(map[string]*models.HealthState),
		attempts:  make(chan *models.CollectionAttempt, attemptQueueCapacity),
		attemptDB: attemptDB,
		recoverer: NewRecoverer(cfg.Collectors, recoveryDB, alerts, audit, log),
		alerts:    alerts,
		audit:     audit,
		logger:    log.WithField("component", "health_tracker"),
	}

	for _, name := range cfg.EnabledCollectors() {
		cc := cfg.Collectors[name]
		br := NewBreaker(name, cc.BreakerFailureThreshold, cc.BreakerCooldown(), log)
		br.OnTransition(t.onBreakerTransition)
		t.breakers[name] = br
		t.rings[name] = newRing(cfg.Health.RingBufferSize)
		t.states[name] = &models.HealthState{
			Collector:          name,
			FailuresByCategory: make(map[string]int64),
			BreakerState:       models.BreakerClosed,
			UpdatedAt:          time.Now().UTC(),
		}
	}

	return t
}

// Events returns the channel collectors publish attempts into
func (t *Tracker) Events() chan<- *models.CollectionAttempt {
	return t.attempts
}

// Breakers returns the per-collector breakers for gate wiring
func (t *Tracker) Breakers() map[string]*Breaker {
	out := make(map[string]*Breaker, len(t.breakers))
	for name, br := range t.breakers {
		out[name] = br
	}
	return out
}

// RegisterProbe attaches a collector's health probe for recovery use
func (t *Tracker) RegisterProbe(p Prober) {
	if _, ok := t.breakers[p.Name()]; !ok {
		return
	}
	t.probes[p.Name()] = p
}

// Run drains attempt events and drives the periodic analysis jobs until the
// context is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	patternTick := time.NewTicker(t.health.PatternInterval())
	defer patternTick.Stop()
	predictionTick := time.NewTicker(t.health.PredictionInterval())
	defer predictionTick.Stop()
	baselineTick := time.NewTicker(t.health.BaselineInterval())
	defer baselineTick.Stop()
	recoveryTick := time.NewTicker(recoveryCheckInterval)
	defer recoveryTick.Stop()

	t.logger.WithFields(logrus.Fields{
		"collectors":          len(t.breakers),
		"pattern_interval":    t.health.PatternInterval(),
		"prediction_interval": t.health.PredictionInterval(),
		"baseline_interval":   t.health.BaselineInterval(),
	}).Info("Health tracker started")

	// Prime baselines from persisted attempts so degradation verdicts do
	// not wait an hour after a restart.
	t.recomputeBaselines(ctx)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Health tracker stopping")
			return ctx.Err()
		case attempt := <-t.attempts:
			t.observe(attempt)
		case <-patternTick.C:
			t.detectPatterns()
		case <-predictionTick.C:
			t.predict()
		case <-baselineTick.C:
			t.recomputeBaselines(ctx)
		case <-recoveryTick.C:
			t.sweepRecovery(ctx)
		}
	}
}

// Snapshot returns a copy of one collector's health state
func (t *Tracker) Snapshot(collector string) (*models.HealthState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[collector]
	if !ok {
		return nil, false
	}
	cp := copyState(st)
	return &cp, true
}

// Snapshots returns copies of every collector's health state in name order
func (t *Tracker) Snapshots() []*models.HealthState {
	t.mu.RLock()
	out := make([]*models.HealthState, 0, len(t.states))
	for _, st := range t.states {
		cp := copyState(st)
		out = append(out, &cp)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Collector < out[j].Collector })
	return out
}

// TriggerRecovery runs the recovery sequence for one collector immediately,
// bypassing the cooldown pacing. Serves the recovery endpoint and CLI.
func (t *Tracker) TriggerRecovery(ctx context.Context, collector string) ([]*models.RecoveryAction, error) {
	br, ok := t.breakers[collector]
	if !ok {
		return nil, fmt.Errorf("%w: no such collector %q", models.ErrNotFound, collector)
	}

	st, _ := t.Snapshot(collector)
	actions, err := t.recoverer.Run(ctx, collector, br, t.probes[collector], st, true)
	t.refreshBreakerState(collector)
	return actions, err
}

// observe folds one attempt into the collector's ring and recomputes the
// snapshot, raising a degradation alert on the healthy-to-degraded edge.
func (t *Tracker) observe(attempt *models.CollectionAttempt) {
	rg, ok := t.rings[attempt.Collector]
	if !ok {
		t.logger.WithField("collector", attempt.Collector).
			Warn("Attempt from unregistered collector dropped")
		return
	}

	category := ""
	if attempt.ErrorCategory != nil {
		category = *attempt.ErrorCategory
	}
	rg.add(attemptSample{
		at:        attempt.FinishedAt,
		ok:        attempt.Succeeded(),
		latencyMs: attempt.ResponseTimeMs,
		category:  category,
	})

	now := time.Now().UTC()
	br := t.breakers[attempt.Collector]

	t.mu.Lock()
	st := t.states[attempt.Collector]
	st.Attempts++
	if attempt.Succeeded() {
		st.Successes++
		st.ConsecutiveFailures = 0
	} else {
		st.Failures++
		st.ConsecutiveFailures++
		st.FailuresByCategory[category]++
	}

	rate5, n5 := rg.successRate(now, shortWindow)
	rate60, _ := rg.successRate(now, longWindow)
	st.SuccessRate5m = rate5
	st.SuccessRate60m = rate60

	mean, p50, p95, _ := rg.latencyStats(now, longWindow)
	st.MeanLatencyMs = mean
	st.P50LatencyMs = p50
	st.P95LatencyMs = p95

	st.BreakerState = br.State()
	st.BreakerOpenedAt = br.OpenedAt()

	degraded := t.degradedLocked(st, n5)
	rising := degraded && !st.Degraded
	st.Degraded = degraded
	st.UpdatedAt = now

	var snapshot models.HealthState
	if rising {
		snapshot = copyState(st)
	}
	t.mu.Unlock()

	if rising {
		t.alerts.Dispatch(context.Background(), degradationAlert(&snapshot))
	}
}

// degradedLocked applies the degradation rule against the trailing baseline:
// short-window success rate below baseline x ratio, or p95 latency above
// baseline x ratio. No baseline or too few samples means healthy.
func (t *Tracker) degradedLocked(st *models.HealthState, shortSamples int) bool {
	if shortSamples < minDegradationSamples {
		return false
	}
	if st.BaselineSuccessRate != nil &&
		st.SuccessRate5m < *st.BaselineSuccessRate*t.health.DegradationSuccessRatio {
		return true
	}
	if st.BaselineP95Ms != nil && *st.BaselineP95Ms > 0 &&
		st.P95LatencyMs > *st.BaselineP95Ms*t.health.DegradationLatencyRatio {
		return true
	}
	return false
}

// recomputeBaselines refreshes every collector's baseline from the trailing
// seven days of persisted attempts: the median of daily success rates and
// the median of daily p95 latencies. Thin history leaves the baseline as is.
func (t *Tracker) recomputeBaselines(ctx context.Context) {
	if t.attemptDB == nil {
		return
	}

	since := time.Now().UTC().Add(-baselineLookback)
	for name := range t.breakers {
		stats, err := t.attemptDB.DailyStats(ctx, name, since)
		if err != nil {
			t.logger.WithError(err).WithField("collector", name).
				Warn("Failed to load attempt stats for baseline")
			continue
		}

		var rates, p95s []float64
		for _, day := range stats {
			if day.Attempts < minBaselineDailyAttempts {
				continue
			}
			rates = append(rates, day.SuccessRate)
			p95s = append(p95s, day.P95Ms)
		}
		if len(rates) < minBaselineDays {
			continue
		}

		rate := median(rates)
		p95 := median(p95s)

		t.mu.Lock()
		st := t.states[name]
		st.BaselineSuccessRate = &rate
		st.BaselineP95Ms = &p95
		t.mu.Unlock()

		t.logger.WithFields(logrus.Fields{
			"collector":             name,
			"baseline_success_rate": rate,
			"baseline_p95_ms":       p95,
			"days":                  len(rates),
		}).Debug("Baseline recomputed")
	}
}

// sweepRecovery starts the recovery sequence for every open breaker whose
// cooldown has elapsed. The recoverer paces itself per collector.
func (t *Tracker) sweepRecovery(ctx context.Context) {
	for name, br := range t.breakers {
		if !br.CooldownElapsed() {
			continue
		}
		st, _ := t.Snapshot(name)
		go func(name string, br *Breaker, st *models.HealthState) {
			if _, err := t.recoverer.Run(ctx, name, br, t.probes[name], st, false); err != nil {
				t.logger.WithError(err).WithField("collector", name).
					Warn("Recovery sequence failed")
			}
			t.refreshBreakerState(name)
		}(name, br, st)
	}
}

// onBreakerTransition mirrors breaker state into the snapshot, records the
// audit trail and raises a critical alert when a breaker opens.
func (t *Tracker) onBreakerTransition(collector string, from, to models.BreakerState, reason string, cooldown time.Duration) {
	if t.audit != nil {
		t.audit.LogBreakerTransition(collector, string(from), string(to), reason, cooldown)
	}

	now := time.Now().UTC()
	t.mu.Lock()
	if st, ok := t.states[collector]; ok {
		st.BreakerState = to
		switch to {
		case models.BreakerOpen:
			opened := now
			st.BreakerOpenedAt = &opened
		case models.BreakerClosed:
			st.BreakerOpenedAt = nil
		}
		st.UpdatedAt = now
	}
	t.mu.Unlock()

	if to == models.BreakerOpen && t.alerts != nil {
		t.alerts.Dispatch(context.Background(), &models.Alert{
			Type:      models.AlertTypeCircuitOpen,
			Severity:  models.SeverityCritical,
			Collector: collector,
			Message:   fmt.Sprintf("circuit breaker opened for %s: %s", collector, reason),
			Context: map[string]any{
				"reason":     reason,
				"cooldown_s": cooldown.Seconds(),
			},
		})
	}
}

func (t *Tracker) refreshBreakerState(collector string) {
	br, ok := t.breakers[collector]
	if !ok {
		return
	}
	t.mu.Lock()
	if st, ok := t.states[collector]; ok {
		st.BreakerState = br.State()
		st.BreakerOpenedAt = br.OpenedAt()
		st.UpdatedAt = time.Now().UTC()
	}
	t.mu.Unlock()
}

func degradationAlert(st *models.HealthState) *models.Alert {
	detail := map[string]any{
		"success_rate_5m": st.SuccessRate5m,
		"p95_latency_ms":  st.P95LatencyMs,
	}
	if st.BaselineSuccessRate != nil {
		detail["baseline_success_rate"] = *st.BaselineSuccessRate
	}
	if st.BaselineP95Ms != nil {
		detail["baseline_p95_ms"] = *st.BaselineP95Ms
	}

	return &models.Alert{
		Type:      models.AlertTypeDegradation,
		Severity:  models.SeverityWarning,
		Collector: st.Collector,
		Message: fmt.Sprintf("%s degraded: success rate %.0f%% over 5m, p95 %.0fms",
			st.Collector, st.SuccessRate5m*100, st.P95LatencyMs),
		Context: detail,
	}
}

func copyState(st *models.HealthState) models.HealthState {
	cp := *st
	cp.FailuresByCategory = make(map[string]int64, len(st.FailuresByCategory))
	for k, v := range st.FailuresByCategory {
		cp.FailuresByCategory[k] = v
	}
	return cp
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
