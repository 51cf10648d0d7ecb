package health

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/logger"
	"github.com/yourusername/line-drive/internal/metrics"
	"github.com/yourusername/line-drive/internal/models"
	"github.com/yourusername/line-drive/internal/repository"
)

const probeTimeout = 15 * time.Second

// Recoverer runs the automated recovery sequence for a collector whose
// breaker opened: hand the breaker its post-cooldown probe slot, force a
// health probe through it, then revalidate the collector's configuration.
// Every step lands in the recovery_actions audit trail. Automated runs
// happen at most once per cooldown interval per collector; forced runs
// (operator-initiated) bypass the pacing and reset the breaker outright.
type Recoverer struct {
	collectors map[string]config.CollectorConfig
	actions    repository.RecoveryRepository
	alerts     Alerter
	audit      *logger.AuditLogger
	logger     *logrus.Entry

	mu      sync.Mutex
	lastRun map[string]time.Time
}

// NewRecoverer creates the recovery runner
func NewRecoverer(
	collectors map[string]config.CollectorConfig,
	actions repository.RecoveryRepository,
	alerts Alerter,
	audit *logger.AuditLogger,
	log *logrus.Logger,
) *Recoverer {
	return &Recoverer{
		collectors: collectors,
		actions:    actions,
		alerts:     alerts,
		audit:      audit,
		logger:     log.WithField("component", "recoverer"),
		lastRun:    make(map[string]time.Time),
	}
}

// Run executes the recovery sequence for one collector. A nil return with no
// actions means the per-cooldown pacing suppressed this run.
func (r *Recoverer) Run(
	ctx context.Context,
	collector string,
	br *Breaker,
	probe Prober,
	st *models.HealthState,
	force bool,
) ([]*models.RecoveryAction, error) {
	r.mu.Lock()
	if last, ok := r.lastRun[collector]; !force && ok && time.Since(last) < br.Cooldown() {
		r.mu.Unlock()
		return nil, nil
	}
	r.lastRun[collector] = time.Now()
	r.mu.Unlock()

	correlationID := uuid.NewString()
	log := r.logger.WithFields(logrus.Fields{
		"collector":      collector,
		"correlation_id": correlationID,
		"forced":         force,
	})
	log.Info("Recovery sequence starting")

	var actions []*models.RecoveryAction

	// Step 1: give the breaker its probe slot back. Automated runs go
	// through the regular cooldown gate so half-open semantics hold;
	// forced runs reset the breaker outright.
	outcome, detail := models.RecoveryOutcomeOK, "half-open probe admitted"
	if force {
		br.Reset("manual recovery")
		detail = "breaker reset"
	} else if err := br.Allow(); err != nil {
		outcome, detail = models.RecoveryOutcomeFailed, err.Error()
	}
	actions = append(actions, r.record(ctx, collector, models.RecoveryResetBreaker, outcome, detail, correlationID))
	probeAdmitted := outcome == models.RecoveryOutcomeOK

	// Step 2: force an end-to-end probe and feed the result back to the
	// breaker, closing it on success or doubling the cooldown on failure.
	switch {
	case probe == nil:
		actions = append(actions, r.record(ctx, collector, models.RecoveryForceProbe,
			models.RecoveryOutcomeFailed, "no probe registered", correlationID))
	case !probeAdmitted:
		actions = append(actions, r.record(ctx, collector, models.RecoveryForceProbe,
			models.RecoveryOutcomeFailed, "probe slot unavailable", correlationID))
	default:
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := probe.HealthProbe(probeCtx)
		cancel()

		br.Record(err == nil)
		if err != nil {
			actions = append(actions, r.record(ctx, collector, models.RecoveryForceProbe,
				models.RecoveryOutcomeFailed, err.Error(), correlationID))
		} else {
			actions = append(actions, r.record(ctx, collector, models.RecoveryForceProbe,
				models.RecoveryOutcomeOK, "probe succeeded", correlationID))
		}
	}

	// Step 3: revalidate the collector's configuration, whatever the probe
	// said; a misconfigured URL or a credential that never expanded is the
	// usual cause of a stuck-open breaker.
	outcome, detail = r.revalidate(collector, st)
	actions = append(actions, r.record(ctx, collector, models.RecoveryRevalidateConfig, outcome, detail, correlationID))

	if r.alerts != nil {
		summary := make([]string, 0, len(actions))
		for _, a := range actions {
			summary = append(summary, fmt.Sprintf("%s=%s", a.Action, a.Outcome))
		}
		r.alerts.Dispatch(ctx, &models.Alert{
			Type:      models.AlertTypeRecovery,
			Severity:  models.SeverityInfo,
			Collector: collector,
			Message:   fmt.Sprintf("recovery sequence ran for %s", collector),
			Context: map[string]any{
				"correlation_id": correlationID,
				"steps":          summary,
				"forced":         force,
			},
		})
	}

	log.WithField("steps", len(actions)).Info("Recovery sequence finished")
	return actions, nil
}

// revalidate checks the collector's static configuration: the base URL must
// parse, and a collector that has seen authentication failures must carry a
// non-empty API key (an unset env var expands to empty).
func (r *Recoverer) revalidate(collector string, st *models.HealthState) (string, string) {
	cc, ok := r.collectors[collector]
	if !ok {
		return models.RecoveryOutcomeFailed, "no configuration for collector"
	}

	u, err := url.Parse(cc.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return models.RecoveryOutcomeFailed, fmt.Sprintf("base url %q does not parse", cc.BaseURL)
	}

	if cc.StreamURL != "" {
		su, err := url.Parse(cc.StreamURL)
		if err != nil || su.Scheme == "" || su.Host == "" {
			return models.RecoveryOutcomeFailed, fmt.Sprintf("stream url %q does not parse", cc.StreamURL)
		}
	}

	if cc.APIKey == "" && st != nil && st.FailuresByCategory["authentication_failed"] > 0 {
		return models.RecoveryOutcomeFailed, "api key is empty and authentication failures were seen"
	}

	return models.RecoveryOutcomeOK, "configuration valid"
}

// record persists one recovery action and mirrors it to metrics and audit
func (r *Recoverer) record(ctx context.Context, collector, action, outcome, detail, correlationID string) *models.RecoveryAction {
	act := &models.RecoveryAction{
		Collector:     collector,
		Action:        action,
		Outcome:       outcome,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}
	if detail != "" {
		act.Detail = &detail
	}

	if r.actions != nil {
		if err := r.actions.Insert(ctx, act); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"collector": collector,
				"action":    action,
			}).Warn("Failed to persist recovery action")
		}
	}

	metrics.RecordRecoveryAction(collector, action, outcome)
	if r.audit != nil {
		r.audit.LogRecoveryAction(collector, action, outcome, correlationID, detail)
	}

	return act
}
