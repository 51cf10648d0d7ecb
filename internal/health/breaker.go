package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/metrics"
	"github.com/yourusername/line-drive/internal/models"
)

const (
	// Failure-rate trip: more than rateThreshold of the requests inside
	// rateWindow failed, with at least minRateSamples to judge by.
	rateWindow     = 5 * time.Minute
	rateThreshold  = 0.5
	minRateSamples = 10

	// Repeated probe failures double the cooldown up to this multiple of
	// the configured base.
	cooldownCeilingFactor = 16
)

// TransitionFunc observes breaker state changes. Callbacks run on their own
// goroutine so a slow observer never stalls the request path.
type TransitionFunc func(collector string, from, to models.BreakerState, reason string, cooldown time.Duration)

type requestResult struct {
	at time.Time
	ok bool
}

// Breaker is the circuit breaker guarding one collector. Collectors consult
// it before every request and report every result; the health tracker owns
// it and reads its state into snapshots.
//
// Closed trips to open after threshold consecutive failures, or when the
// trailing five-minute failure rate crosses one half. Open admits nothing
// until the cooldown elapses; the first request after that moves the breaker
// to half_open and becomes the single probe. A successful probe closes the
// breaker and restores the base cooldown, a failed one reopens it with the
// cooldown doubled.
type Breaker struct {
	collector    string
	threshold    int
	baseCooldown time.Duration
	maxCooldown  time.Duration

	mu            sync.RWMutex
	state         models.BreakerState
	consecutive   int
	window        []requestResult
	cooldown      time.Duration
	openedAt      time.Time
	probeInFlight bool
	trips         []time.Time
	onTransition  TransitionFunc

	logger *logrus.Entry
}

// NewBreaker creates a closed breaker for one collector
func NewBreaker(collector string, threshold int, cooldown time.Duration, logger *logrus.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}

	b := &Breaker{
		collector:    collector,
		threshold:    threshold,
		baseCooldown: cooldown,
		maxCooldown:  cooldown * cooldownCeilingFactor,
		state:        models.BreakerClosed,
		cooldown:     cooldown,
		logger: logger.WithFields(logrus.Fields{
			"component": "breaker",
			"collector": collector,
		}),
	}
	metrics.UpdateBreakerState(collector, stateGauge(models.BreakerClosed))
	return b
}

// OnTransition registers the state-change observer. Must be set before the
// breaker sees traffic.
func (b *Breaker) OnTransition(fn TransitionFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// Allow reports whether a request may be issued right now. While open, the
// first call after the cooldown moves the breaker to half_open and admits
// exactly one probe; every other call is rejected with models.ErrCircuitOpen.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case models.BreakerOpen:
		remaining := b.cooldown - time.Since(b.openedAt)
		if remaining > 0 {
			return fmt.Errorf("%w: %s retries in %s",
				models.ErrCircuitOpen, b.collector, remaining.Round(time.Second))
		}
		b.transitionLocked(models.BreakerHalfOpen, "cooldown elapsed")
		b.probeInFlight = true
		return nil

	case models.BreakerHalfOpen:
		if b.probeInFlight {
			return fmt.Errorf("%w: %s probe in flight", models.ErrCircuitOpen, b.collector)
		}
		b.probeInFlight = true
		return nil
	}

	return nil
}

// Record reports the result of one request
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.window = append(b.window, requestResult{at: now, ok: success})
	b.pruneWindowLocked(now)

	switch b.state {
	case models.BreakerHalfOpen:
		b.probeInFlight = false
		if success {
			b.consecutive = 0
			b.cooldown = b.baseCooldown
			b.transitionLocked(models.BreakerClosed, "probe succeeded")
			return
		}
		b.cooldown *= 2
		if b.cooldown > b.maxCooldown {
			b.cooldown = b.maxCooldown
		}
		b.openedAt = now
		b.transitionLocked(models.BreakerOpen, "probe failed")

	case models.BreakerClosed:
		if success {
			b.consecutive = 0
			return
		}
		b.consecutive++
		if b.consecutive >= b.threshold {
			b.openedAt = now
			b.transitionLocked(models.BreakerOpen,
				fmt.Sprintf("%d consecutive failures", b.consecutive))
			return
		}
		if rate, n := b.failureRateLocked(now); n >= minRateSamples && rate > rateThreshold {
			b.openedAt = now
			b.transitionLocked(models.BreakerOpen,
				fmt.Sprintf("failure rate %.0f%% over %s", rate*100, rateWindow))
		}

	case models.BreakerOpen:
		// Late result from a request admitted before the trip. It stays in
		// the window; only the cooldown reopens traffic.
	}
}

// Reset forces the breaker closed and restores the base cooldown
func (b *Breaker) Reset(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	b.probeInFlight = false
	b.cooldown = b.baseCooldown
	if b.state != models.BreakerClosed {
		b.transitionLocked(models.BreakerClosed, reason)
	}
}

// State returns the current breaker state
func (b *Breaker) State() models.BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// OpenedAt returns when the breaker last opened, nil while closed
func (b *Breaker) OpenedAt() *time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state == models.BreakerClosed {
		return nil
	}
	at := b.openedAt
	return &at
}

// Cooldown returns the current open-state cooldown, doubling included
func (b *Breaker) Cooldown() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cooldown
}

// CooldownElapsed reports whether an open breaker is due for its probe
func (b *Breaker) CooldownElapsed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == models.BreakerOpen && time.Since(b.openedAt) >= b.cooldown
}

// ConsecutiveFailures returns the current closed-state failure streak
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.consecutive
}

// RecentTrips counts how often the breaker opened within the window
func (b *Breaker) RecentTrips(window time.Duration) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	n := 0
	for _, at := range b.trips {
		if at.After(cutoff) {
			n++
		}
	}
	return n
}

func (b *Breaker) transitionLocked(to models.BreakerState, reason string) {
	from := b.state
	b.state = to

	metrics.UpdateBreakerState(b.collector, stateGauge(to))
	if to == models.BreakerOpen {
		metrics.RecordBreakerTrip(b.collector)
		b.trips = append(b.trips, time.Now())
		if len(b.trips) > 64 {
			b.trips = b.trips[len(b.trips)-64:]
		}
	}

	b.logger.WithFields(logrus.Fields{
		"from":       from,
		"to":         to,
		"reason":     reason,
		"cooldown_s": b.cooldown.Seconds(),
	}).Warn("Circuit breaker transition")

	if cb := b.onTransition; cb != nil {
		go cb(b.collector, from, to, reason, b.cooldown)
	}
}

func (b *Breaker) failureRateLocked(now time.Time) (float64, int) {
	cutoff := now.Add(-rateWindow)
	total, failed := 0, 0
	for _, r := range b.window {
		if r.at.Before(cutoff) {
			continue
		}
		total++
		if !r.ok {
			failed++
		}
	}
	if total == 0 {
		return 0, 0
	}
	return float64(failed) / float64(total), total
}

func (b *Breaker) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for ; i < len(b.window); i++ {
		if !b.window[i].at.Before(cutoff) {
			break
		}
	}
	if i > 0 {
		b.window = b.window[i:]
	}
}

func stateGauge(s models.BreakerState) float64 {
	switch s {
	case models.BreakerHalfOpen:
		return 1
	case models.BreakerOpen:
		return 2
	default:
		return 0
	}
}
