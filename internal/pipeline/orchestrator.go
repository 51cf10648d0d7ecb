package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/collector"
	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/metrics"
	"github.com/yourusername/line-drive/internal/models"
	"github.com/yourusername/line-drive/internal/repository"
)

// Orchestrator executes pipeline runs: it sequences the zones a mode asks
// for over one collection window, owns the run ledger row, and fans raw
// collection sweeps out across the enabled collectors.
type Orchestrator struct {
	cfg        *config.PipelineConfig
	collectors []collector.Collector
	raw        *RawProcessor
	staging    *StagingProcessor
	curated    *CuratedProcessor
	runs       repository.PipelineRunRepository
	attempts   repository.AttemptRepository
	attemptsCh chan<- *models.CollectionAttempt
	logger     *logrus.Entry
}

// NewOrchestrator wires the zone processors into a runnable pipeline
func NewOrchestrator(
	cfg *config.PipelineConfig,
	collectors []collector.Collector,
	raw *RawProcessor,
	staging *StagingProcessor,
	curated *CuratedProcessor,
	runs repository.PipelineRunRepository,
	attempts repository.AttemptRepository,
	attemptsCh chan<- *models.CollectionAttempt,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		collectors: collectors,
		raw:        raw,
		staging:    staging,
		curated:    curated,
		runs:       runs,
		attempts:   attempts,
		attemptsCh: attemptsCh,
		logger:     logger.WithField("component", "orchestrator"),
	}
}

// zonesFor maps a run mode onto its zone sequence in dependency order
func zonesFor(mode models.RunMode) []models.ZoneName {
	switch mode {
	case models.RunModeRawOnly:
		return []models.ZoneName{models.ZoneRaw}
	case models.RunModeStagingOnly:
		return []models.ZoneName{models.ZoneStaging}
	case models.RunModeCuratedOnly:
		return []models.ZoneName{models.ZoneCurated}
	case models.RunModePair:
		return []models.ZoneName{models.ZoneStaging, models.ZoneCurated}
	default:
		return []models.ZoneName{models.ZoneRaw, models.ZoneStaging, models.ZoneCurated}
	}
}

func (o *Orchestrator) zoneEnabled(zone models.ZoneName) bool {
	switch zone {
	case models.ZoneRaw:
		return o.cfg.RawEnabled
	case models.ZoneStaging:
		return o.cfg.StagingEnabled
	case models.ZoneCurated:
		return o.cfg.CuratedEnabled
	default:
		return false
	}
}

// Run executes one pipeline run over [start, end). The returned run always
// carries a terminal status and has been persisted; the error reports why a
// zone aborted, which the run status already reflects.
func (o *Orchestrator) Run(ctx context.Context, mode models.RunMode, start, end time.Time) (*models.PipelineRun, error) {
	run := &models.PipelineRun{
		ID:          uuid.New(),
		Mode:        mode,
		WindowStart: start.UTC(),
		WindowEnd:   end.UTC(),
		StartedAt:   time.Now().UTC(),
		Status:      models.RunStatusRunning,
		Zones:       make(map[models.ZoneName]*models.ZoneMetrics),
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create pipeline run: %w", err)
	}

	o.logger.WithFields(logrus.Fields{
		"run_id":       run.ID,
		"mode":         mode,
		"window_start": start,
		"window_end":   end,
	}).Info("Pipeline run started")

	var runErr error
	for _, zone := range zonesFor(mode) {
		if !o.zoneEnabled(zone) {
			o.logger.WithField("zone", zone).Warn("Zone disabled by config, skipping")
			continue
		}

		var (
			zm  *models.ZoneMetrics
			err error
		)
		switch zone {
		case models.ZoneRaw:
			zm, err = o.runRaw(ctx, start, end)
		case models.ZoneStaging:
			zm, err = o.staging.Process(ctx, start, end)
		case models.ZoneCurated:
			zm, err = o.curated.Process(ctx, start, end)
		}
		if zm != nil {
			run.Zones[zone] = zm
		}
		if err != nil {
			runErr = fmt.Errorf("%s zone: %w", zone, err)
			break
		}
	}

	o.finish(ctx, run, runErr)
	return run, runErr
}

// SweepCollector runs one raw sweep for a single collector by name, outside
// any run ledger row. Serves the per-collector schedule overrides; records
// land in raw exactly as a full sweep's would.
func (o *Orchestrator) SweepCollector(ctx context.Context, name string, start, end time.Time) (int, error) {
	var target collector.Collector
	for _, c := range o.collectors {
		if c.Name() == name {
			target = c
			break
		}
	}
	if target == nil {
		return 0, fmt.Errorf("%w: no such collector %q", models.ErrNotFound, name)
	}
	if !target.Enabled() {
		return 0, fmt.Errorf("collector %q is disabled", name)
	}

	records, attempt := collector.Sweep(ctx, target, start, end, o.attemptsCh, o.logger)
	if attempt == nil {
		return 0, ctx.Err()
	}
	metrics.RecordSweep(attempt.Collector, string(attempt.Outcome),
		float64(attempt.ResponseTimeMs)/1000.0, attempt.RecordCount)
	if err := o.persistAttempts(ctx, []*models.CollectionAttempt{attempt}); err != nil {
		o.logger.WithError(err).Warn("Failed to persist collection attempt")
	}

	if attempt.Outcome != models.AttemptOutcomeOK {
		return 0, fmt.Errorf("sweep %s: %s", name, attempt.Outcome)
	}
	if len(records) == 0 {
		return 0, nil
	}

	ingest, err := o.raw.Ingest(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("ingest %s: %w", name, err)
	}
	return ingest.Inserted + ingest.Duplicates, nil
}

type sweepResult struct {
	collector string
	records   []*models.RawRecord
	attempt   *models.CollectionAttempt
}

// runRaw fans one sweep per enabled collector across a bounded worker set
// and ingests results as they land. A failed sweep is a health event, not a
// zone error: sources go down routinely and the run carries on with the
// rest. Only every sweep failing aborts the zone.
func (o *Orchestrator) runRaw(ctx context.Context, start, end time.Time) (*models.ZoneMetrics, error) {
	began := time.Now()
	zm := newZoneMetrics()

	enabled := make([]collector.Collector, 0, len(o.collectors))
	for _, c := range o.collectors {
		if c.Enabled() {
			enabled = append(enabled, c)
		}
	}
	if len(enabled) == 0 {
		return zm, fmt.Errorf("no collectors enabled")
	}

	results := make(chan sweepResult, len(enabled))
	sem := make(chan struct{}, o.cfg.ZoneWorkerPoolSize)
	var wg sync.WaitGroup
	for _, c := range enabled {
		wg.Add(1)
		go func(c collector.Collector) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			records, attempt := collector.Sweep(ctx, c, start, end, o.attemptsCh, o.logger)
			results <- sweepResult{collector: c.Name(), records: records, attempt: attempt}
		}(c)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var attempts []*models.CollectionAttempt
	failedSweeps := 0
	for res := range results {
		if res.attempt == nil {
			continue // cancelled mid-sweep; shutdown is not a health signal
		}
		attempts = append(attempts, res.attempt)
		metrics.RecordSweep(res.attempt.Collector, string(res.attempt.Outcome),
			float64(res.attempt.ResponseTimeMs)/1000.0, res.attempt.RecordCount)
		if res.attempt.Outcome != models.AttemptOutcomeOK {
			failedSweeps++
			continue
		}
		if len(res.records) == 0 {
			continue
		}

		zm.RecordsIn += len(res.records)
		ingest, err := o.raw.Ingest(ctx, res.records)
		if err != nil {
			o.drainAndPersist(ctx, results, attempts)
			return zm, fmt.Errorf("ingest %s: %w", res.collector, err)
		}
		zm.RecordsOut += ingest.Inserted + ingest.Duplicates
		zm.Errors += ingest.Invalid
	}

	if err := o.persistAttempts(ctx, attempts); err != nil {
		o.logger.WithError(err).Warn("Failed to persist collection attempts")
	}

	if ctx.Err() != nil {
		return zm, ctx.Err()
	}
	if failedSweeps == len(enabled) && zm.RecordsIn == 0 {
		return zm, fmt.Errorf("all %d collection sweeps failed", failedSweeps)
	}

	zm.DurationMs = time.Since(began).Milliseconds()
	metrics.RecordZoneBatch("raw", time.Since(began).Seconds())
	return zm, nil
}

// drainAndPersist collects the remaining sweep results after an ingest
// abort so in-flight attempts still reach the ledger.
func (o *Orchestrator) drainAndPersist(ctx context.Context, results <-chan sweepResult, attempts []*models.CollectionAttempt) {
	for res := range results {
		if res.attempt != nil {
			attempts = append(attempts, res.attempt)
		}
	}
	if err := o.persistAttempts(ctx, attempts); err != nil {
		o.logger.WithError(err).Warn("Failed to persist collection attempts")
	}
}

func (o *Orchestrator) persistAttempts(ctx context.Context, attempts []*models.CollectionAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	return o.attempts.InsertBatch(ctx, attempts)
}

// finish assigns the terminal status and persists it, surviving a cancelled
// run context so the ledger never shows a run stuck in running.
func (o *Orchestrator) finish(ctx context.Context, run *models.PipelineRun, runErr error) {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Status = o.statusOf(run, runErr)
	if runErr != nil {
		msg := runErr.Error()
		if errors.Is(runErr, context.Canceled) {
			msg = "cancelled"
		}
		run.Error = &msg
	}

	finishCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		finishCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := o.runs.Finish(finishCtx, run); err != nil {
		o.logger.WithError(err).WithField("run_id", run.ID).Error("Failed to persist run status")
	}

	if !errors.Is(runErr, context.Canceled) {
		metrics.RecordPipelineRun(string(run.Mode), string(run.Status), now.Sub(run.StartedAt).Seconds())
	}

	entry := o.logger.WithFields(logrus.Fields{
		"run_id":      run.ID,
		"mode":        run.Mode,
		"status":      run.Status,
		"duration_ms": now.Sub(run.StartedAt).Milliseconds(),
	})
	switch run.Status {
	case models.RunStatusSucceeded:
		entry.Info("Pipeline run succeeded")
	case models.RunStatusPartial:
		entry.Warn("Pipeline run partial")
	default:
		entry.WithError(runErr).Error("Pipeline run failed")
	}
}

// statusOf derives the terminal status: an aborted zone fails the run; error
// rates over threshold downgrade to partial while anything got through; a
// window that had input but produced nothing is failed. An empty window with
// no input at all is a quiet success, or overnight sweeps would page.
func (o *Orchestrator) statusOf(run *models.PipelineRun, runErr error) models.RunStatus {
	if runErr != nil {
		return models.RunStatusFailed
	}

	var totalIn, totalOut int
	exceeded := false
	for zone, zm := range run.Zones {
		totalIn += zm.RecordsIn
		totalOut += zm.RecordsOut
		if zm.ErrorRate() > o.threshold(zone) {
			exceeded = true
		}
	}
	switch {
	case totalIn == 0 && totalOut == 0:
		return models.RunStatusSucceeded
	case totalOut == 0:
		return models.RunStatusFailed
	case exceeded:
		return models.RunStatusPartial
	default:
		return models.RunStatusSucceeded
	}
}

func (o *Orchestrator) threshold(zone models.ZoneName) float64 {
	switch zone {
	case models.ZoneRaw:
		return o.cfg.ErrorRateThresholds.Raw
	case models.ZoneStaging:
		return o.cfg.ErrorRateThresholds.Staging
	default:
		return o.cfg.ErrorRateThresholds.Curated
	}
}
