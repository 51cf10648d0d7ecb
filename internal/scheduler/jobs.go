package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/logger"
	"github.com/yourusername/line-drive/internal/models"
	"github.com/yourusername/line-drive/internal/pipeline"
)

// Job timeouts. A job that cannot finish inside its budget is cancelled at
// the next batch boundary rather than piling up behind the next tick.
const (
	fullSweepTimeout = 10 * time.Minute
	revivalTimeout   = 5 * time.Minute
	outcomeTimeout   = 10 * time.Minute
	retentionTimeout = 15 * time.Minute

	// outcomeLookback is how far back resolution scans for unresolved games;
	// two days covers suspended games finishing the next day.
	outcomeLookback = 48 * time.Hour
)

// The jobs only need thin slices of the pipeline and repositories.
type pipelineRunner interface {
	Run(ctx context.Context, mode models.RunMode, start, end time.Time) (*models.PipelineRun, error)
	SweepCollector(ctx context.Context, name string, start, end time.Time) (int, error)
}

type quarantineReviver interface {
	Sweep(ctx context.Context, limit int) (pipeline.RevivalResult, error)
}

type outcomeResolver interface {
	Resolve(ctx context.Context, start, end time.Time) (pipeline.OutcomeResult, error)
}

type rawPruner interface {
	DeleteOlderThan(ctx context.Context, source string, cutoff time.Time) (int64, error)
}

type attemptPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type alerter interface {
	Dispatch(ctx context.Context, alert *models.Alert)
}

// Jobs owns the recurring work: collection sweeps over advancing windows,
// quarantine revival with curated re-promotion, outcome resolution and
// retention pruning. Sweep windows advance only on non-failed runs, so a
// failed window is retried whole on the next tick.
type Jobs struct {
	cfg      *config.Config
	pipeline pipelineRunner
	reviver  quarantineReviver
	outcomes outcomeResolver
	raw      rawPruner
	attempts attemptPruner
	alerts   alerter
	audit    *logger.AuditLogger
	logger   *logrus.Entry

	mu             sync.Mutex
	nextStart      time.Time
	collectorStart map[string]time.Time
}

// NewJobs wires the recurring jobs over the pipeline and repositories
func NewJobs(
	cfg *config.Config,
	pipelineRunner pipelineRunner,
	reviver quarantineReviver,
	outcomes outcomeResolver,
	raw rawPruner,
	attempts attemptPruner,
	alerts alerter,
	audit *logger.AuditLogger,
	log *logrus.Logger,
) *Jobs {
	return &Jobs{
		cfg:            cfg,
		pipeline:       pipelineRunner,
		reviver:        reviver,
		outcomes:       outcomes,
		raw:            raw,
		attempts:       attempts,
		alerts:         alerts,
		audit:          audit,
		logger:         log.WithField("component", "jobs"),
		nextStart:      time.Now().UTC().Add(-cfg.Scheduler.SweepInterval()),
		collectorStart: make(map[string]time.Time),
	}
}

// ScheduleAll registers every recurring job on the scheduler: the full sweep,
// quarantine revival, outcome resolution, retention, and one extra sweep per
// collector that carries its own cadence.
func (j *Jobs) ScheduleAll(s *Scheduler) error {
	if err := s.AddJob("sweep", fmt.Sprintf("@every %ds", j.cfg.Scheduler.SweepIntervalS), j.RunSweep); err != nil {
		return err
	}
	if err := s.AddJob("revival", fmt.Sprintf("@every %ds", j.cfg.Scheduler.RevivalIntervalS), j.RunRevival); err != nil {
		return err
	}
	if err := s.AddJob("outcomes", j.cfg.Scheduler.OutcomeResolutionCron, j.RunOutcomeResolution); err != nil {
		return err
	}
	if err := s.AddJob("retention", j.cfg.Scheduler.RetentionCron, j.RunRetention); err != nil {
		return err
	}

	for _, name := range j.cfg.EnabledCollectors() {
		cc := j.cfg.Collectors[name]
		if cc.SweepIntervalS <= 0 {
			continue
		}
		name := name
		spec := fmt.Sprintf("@every %ds", cc.SweepIntervalS)
		if err := s.AddJob("sweep:"+name, spec, func() { j.RunCollectorSweep(name) }); err != nil {
			return err
		}
	}
	return nil
}

// RunSweep executes one full pipeline run over the window since the last
// non-failed sweep. A failed run leaves the window in place and raises a
// critical alert; the next tick retries the whole window.
func (j *Jobs) RunSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), fullSweepTimeout)
	defer cancel()

	j.mu.Lock()
	start := j.nextStart
	j.mu.Unlock()
	end := time.Now().UTC()

	run, err := j.pipeline.Run(ctx, models.RunModeFull, start, end)
	if run == nil {
		j.logger.WithError(err).Error("Sweep run could not start")
		return
	}

	if j.audit != nil {
		zones := make(map[string]interface{}, len(run.Zones))
		for name, zm := range run.Zones {
			zones[string(name)] = zm.RecordsOut
		}
		j.audit.LogPipelineRun(run.ID.String(), string(run.Mode), string(run.Status), start, end, zones)
	}

	if run.Status != models.RunStatusFailed {
		j.mu.Lock()
		j.nextStart = end
		j.mu.Unlock()
		return
	}

	if j.alerts != nil {
		msg := "pipeline run failed"
		if run.Error != nil {
			msg = *run.Error
		}
		j.alerts.Dispatch(ctx, &models.Alert{
			Type:     models.AlertTypePipelineFailed,
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("scheduled sweep failed: %s", msg),
			Context: map[string]any{
				"run_id":       run.ID.String(),
				"window_start": start,
				"window_end":   end,
			},
		})
	}
}

// RunRevival retries quarantined records against the current mapping state,
// then re-promotes the curated zone over the span the revived quotes landed
// in. Revived quotes carry their original odds timestamps, so promotion must
// revisit that span, not the present.
func (j *Jobs) RunRevival() {
	ctx, cancel := context.WithTimeout(context.Background(), revivalTimeout)
	defer cancel()

	res, err := j.reviver.Sweep(ctx, j.cfg.Scheduler.RevivalBatchSize)
	if err != nil {
		j.logger.WithError(err).Warn("Quarantine revival failed")
		return
	}

	start, end, ok := res.CuratedSpan()
	if !ok {
		return
	}
	if _, err := j.pipeline.Run(ctx, models.RunModeCuratedOnly, start, end); err != nil {
		j.logger.WithError(err).WithFields(logrus.Fields{
			"span_start": start,
			"span_end":   end,
		}).Warn("Curated re-promotion after revival failed")
	}
}

// RunOutcomeResolution applies final scores and statuses for the trailing
// two days of games.
func (j *Jobs) RunOutcomeResolution() {
	ctx, cancel := context.WithTimeout(context.Background(), outcomeTimeout)
	defer cancel()

	end := time.Now().UTC()
	start := end.Add(-outcomeLookback)
	if _, err := j.outcomes.Resolve(ctx, start, end); err != nil {
		j.logger.WithError(err).Warn("Outcome resolution failed")
	}
}

// RunRetention prunes raw captures and collection attempts past their
// configured retention.
func (j *Jobs) RunRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), retentionTimeout)
	defer cancel()

	rawCutoff := time.Now().UTC().AddDate(0, 0, -j.cfg.Retention.RawDays)
	for _, source := range j.cfg.EnabledCollectors() {
		pruned, err := j.raw.DeleteOlderThan(ctx, source, rawCutoff)
		if err != nil {
			j.logger.WithError(err).WithField("source", source).Warn("Raw retention prune failed")
			continue
		}
		if pruned > 0 {
			j.logger.WithFields(logrus.Fields{
				"source": source,
				"pruned": pruned,
			}).Info("Raw records pruned")
		}
	}

	attemptCutoff := time.Now().UTC().AddDate(0, 0, -j.cfg.Retention.AttemptsDays)
	pruned, err := j.attempts.DeleteOlderThan(ctx, attemptCutoff)
	if err != nil {
		j.logger.WithError(err).Warn("Attempt retention prune failed")
		return
	}
	if pruned > 0 {
		j.logger.WithField("pruned", pruned).Info("Collection attempts pruned")
	}
}

// RunCollectorSweep runs one raw sweep for a collector carrying its own
// cadence. The window advances only on success.
func (j *Jobs) RunCollectorSweep(name string) {
	cc, ok := j.cfg.Collector(name)
	if !ok {
		return
	}
	interval := time.Duration(cc.SweepIntervalS) * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), fullSweepTimeout)
	defer cancel()

	end := time.Now().UTC()
	j.mu.Lock()
	start, seen := j.collectorStart[name]
	if !seen {
		start = end.Add(-interval)
	}
	j.mu.Unlock()

	records, err := j.pipeline.SweepCollector(ctx, name, start, end)
	if err != nil {
		j.logger.WithError(err).WithField("collector", name).Warn("Collector sweep failed")
		return
	}

	j.mu.Lock()
	j.collectorStart[name] = end
	j.mu.Unlock()

	j.logger.WithFields(logrus.Fields{
		"collector": name,
		"records":   records,
	}).Debug("Collector sweep completed")
}
