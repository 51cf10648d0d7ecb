package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/collector"
	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/logger"
	"github.com/yourusername/line-drive/internal/metrics"
	"github.com/yourusername/line-drive/internal/models"
	"github.com/yourusername/line-drive/internal/repository"
	"github.com/yourusername/line-drive/internal/resolver"
)

// StagingProcessor rebuilds the staging zone for a window by replaying the
// persisted raw payloads through the source parsers. It never talks to a
// source: everything staging holds must be reproducible from raw alone.
type StagingProcessor struct {
	parsers     map[string]collector.Parser
	res         *resolver.Resolver
	raw         repository.RawRecordRepository
	lines       repository.BettingLineRepository
	games       repository.GameRepository
	quarantine  repository.QuarantineRepository
	reliability map[string]float64
	cfg         *config.PipelineConfig
	audit       *logger.AuditLogger
	logger      *logrus.Entry
}

// NewStagingProcessor creates the staging zone processor
func NewStagingProcessor(
	parsers map[string]collector.Parser,
	res *resolver.Resolver,
	raw repository.RawRecordRepository,
	lines repository.BettingLineRepository,
	games repository.GameRepository,
	quarantine repository.QuarantineRepository,
	reliability map[string]float64,
	cfg *config.PipelineConfig,
	audit *logger.AuditLogger,
	log *logrus.Logger,
) *StagingProcessor {
	return &StagingProcessor{
		parsers:     parsers,
		res:         res,
		raw:         raw,
		lines:       lines,
		games:       games,
		quarantine:  quarantine,
		reliability: reliability,
		cfg:         cfg,
		audit:       audit,
		logger:      log.WithField("component", "staging_zone").WithField("zone", "staging"),
	}
}

// pendingLine is a parsed line quote waiting on identity resolution
type pendingLine struct {
	rawID uuid.UUID
	prov  collector.ProvisionalRecord
}

// stagingItem is a resolved quote handed to a partition worker
type stagingItem struct {
	prov *collector.ProvisionalRecord
	game *models.Game
	book *models.Sportsbook
}

// Process normalizes every raw record in [start, end) into unified staging
// lines. Schedule records are applied first so line records resolve against
// the games the same window delivered. Re-running a window is a no-op beyond
// quality-rank upgrades.
func (s *StagingProcessor) Process(ctx context.Context, start, end time.Time) (*models.ZoneMetrics, error) {
	began := time.Now()
	zm := newZoneMetrics()

	sources := make([]string, 0, len(s.parsers))
	for name := range s.parsers {
		sources = append(sources, name)
	}
	sort.Strings(sources)

	var pending []pendingLine
	for _, source := range sources {
		recs, err := s.raw.Window(ctx, source, start, end)
		if err != nil {
			return zm, fmt.Errorf("raw window %s: %w", source, err)
		}
		for _, rec := range recs {
			if !rec.Valid {
				continue
			}
			provs, err := s.parsers[source].Parse(rec)
			if err != nil {
				zm.RecordsIn++
				zm.Errors++
				zm.Rejects[RejectParseError]++
				s.park(ctx, zm, rec.ID, source, nil, models.QuarantineParseError, err)
				continue
			}
			zm.RecordsIn += len(provs)
			for i := range provs {
				prov := provs[i]
				if prov.Kind == collector.KindGame {
					if err := s.applyGame(ctx, &prov); err != nil {
						zm.Errors++
						zm.Rejects[RejectUnknownGame]++
						s.park(ctx, zm, rec.ID, source, &prov, models.QuarantineUnresolvedIdentity, err)
						continue
					}
					zm.RecordsOut++
					continue
				}
				pending = append(pending, pendingLine{rawID: rec.ID, prov: prov})
			}
		}
	}

	if err := s.normalizeLines(ctx, zm, pending); err != nil {
		return zm, err
	}

	zm.DurationMs = time.Since(began).Milliseconds()
	metrics.RecordZoneBatch("staging", time.Since(began).Seconds())
	s.logger.WithFields(logrus.Fields{
		"window_start": start,
		"window_end":   end,
		"records_in":   zm.RecordsIn,
		"records_out":  zm.RecordsOut,
		"rejects":      zm.Rejects,
		"quarantined":  zm.Quarantined,
	}).Info("Staging window processed")

	return zm, nil
}

// normalizeLines resolves identities serially, then fans quotes out across
// the partitioned pool so each (game, book, market) lands on one worker.
func (s *StagingProcessor) normalizeLines(ctx context.Context, zm *models.ZoneMetrics, pending []pendingLine) error {
	if len(pending) == 0 {
		return nil
	}

	workers := s.cfg.ZoneWorkerPoolSize
	ws := make([]*stagingWorker, workers)
	for i := range ws {
		ws[i] = &stagingWorker{proc: s, ctx: ctx, stats: newZoneMetrics()}
	}
	pool := newPartitionedPool("staging", workers, s.cfg.QueueCapacity, s.cfg.BackpressureHigh,
		func(worker int, item stagingItem) { ws[worker].handle(item) },
		func(worker int) { ws[worker].flush() },
	)

	skewLimit := time.Now().UTC().Add(s.cfg.ClockSkewTolerance())
	grace := s.cfg.StagingGracePeriod()

	var dispatchErr error
	for i := range pending {
		p := &pending[i]
		if p.prov.OddsTimestamp.IsZero() || p.prov.OddsTimestamp.After(skewLimit) {
			zm.Errors++
			zm.Rejects[RejectInvalidTimestamp]++
			continue
		}
		if grace > 0 && p.prov.OddsTimestamp.Before(time.Now().UTC().Add(-grace)) {
			zm.Errors++
			zm.Rejects[RejectInvalidTimestamp]++
			continue
		}
		game, err := s.res.ResolveGame(ctx, p.prov.LeagueGameID, p.prov.GameDate, p.prov.HomeTeam, p.prov.AwayTeam)
		if err != nil {
			zm.Errors++
			zm.Rejects[RejectUnknownGame]++
			s.park(ctx, zm, p.rawID, p.prov.Source, &p.prov, models.QuarantineUnresolvedIdentity, err)
			continue
		}
		book, err := s.res.ResolveSportsbook(ctx, p.prov.Source, p.prov.SportsbookExternalID, p.prov.SportsbookExternalName)
		if err != nil {
			zm.Errors++
			zm.Rejects[RejectUnknownSportsbook]++
			s.park(ctx, zm, p.rawID, p.prov.Source, &p.prov, models.QuarantineNeedsReview, err)
			continue
		}
		item := stagingItem{prov: &p.prov, game: game, book: book}
		if err := pool.dispatch(ctx, partitionKey(game.ID, book.ID, p.prov.Market), item); err != nil {
			dispatchErr = err
			break
		}
	}
	pool.close()

	for _, w := range ws {
		mergeZoneMetrics(zm, w.stats)
		if w.err != nil && dispatchErr == nil {
			dispatchErr = w.err
		}
	}
	return dispatchErr
}

// applyGame canonicalizes one schedule record and upserts the game row. The
// schedule source is the only creator of games.
func (s *StagingProcessor) applyGame(ctx context.Context, prov *collector.ProvisionalRecord) error {
	home, ok := resolver.TeamAbbreviation(prov.HomeTeam)
	if !ok {
		return fmt.Errorf("unknown home team %q", prov.HomeTeam)
	}
	away, ok := resolver.TeamAbbreviation(prov.AwayTeam)
	if !ok {
		return fmt.Errorf("unknown away team %q", prov.AwayTeam)
	}
	if prov.GameDate.IsZero() {
		return fmt.Errorf("schedule record without game date")
	}

	game := gameFromProvisional(prov, home, away)
	if err := s.games.Upsert(ctx, game); err != nil {
		return err
	}
	s.res.CacheGame(game)
	return nil
}

// park writes a quarantine row for a record staging could not place. The
// original raw payload stays untouched; the quarantine row carries only the
// provisional parse so revival can skip the parser.
func (s *StagingProcessor) park(ctx context.Context, zm *models.ZoneMetrics, rawID uuid.UUID, source string, prov *collector.ProvisionalRecord, reason string, cause error) {
	var provisional json.RawMessage
	if prov != nil {
		if b, err := json.Marshal(prov); err == nil {
			provisional = b
		}
	}
	detail := cause.Error()
	rec := &models.QuarantinedRecord{
		ID:          uuid.New(),
		RawRecordID: rawID,
		Source:      source,
		Reason:      reason,
		Detail:      &detail,
		Provisional: provisional,
	}
	if err := s.quarantine.Insert(ctx, rec); err != nil {
		s.logger.WithError(err).WithField("raw_record_id", rawID).Warn("Quarantine insert failed")
		return
	}
	zm.Quarantined++
	metrics.RecordQuarantined(reason)
	if s.audit != nil {
		s.audit.LogQuarantine(source, reason, rawID.String(), false)
	}
}


// stagingWorker owns one partition of the key space. Quotes buffer until the
// queue drains, then flush in canonical order so cross-source duplicates
// collapse deterministically.
type stagingWorker struct {
	proc  *StagingProcessor
	ctx   context.Context
	buf   []*models.BettingLine
	stats *models.ZoneMetrics
	err   error
}

func (w *stagingWorker) handle(item stagingItem) {
	line, reject := buildLine(item.prov, item.game, item.book, reliabilityOf(w.proc.reliability, item.prov.Source))
	if reject != "" {
		w.stats.Errors++
		w.stats.Rejects[reject]++
		return
	}
	w.buf = append(w.buf, line)
}

func (w *stagingWorker) flush() {
	if len(w.buf) == 0 || w.err != nil {
		return
	}

	// Ties on (game, book, market, timestamp) keep the most reliable source,
	// then the lexically smaller source tag.
	sort.SliceStable(w.buf, func(i, j int) bool {
		a, b := w.buf[i], w.buf[j]
		if !a.OddsTimestamp.Equal(b.OddsTimestamp) {
			return a.OddsTimestamp.Before(b.OddsTimestamp)
		}
		if a.ReliabilityScore != b.ReliabilityScore {
			return a.ReliabilityScore > b.ReliabilityScore
		}
		return a.Source < b.Source
	})

	seen := make(map[string]struct{}, len(w.buf))
	byMarket := make(map[models.Market][]*models.BettingLine, 3)
	for _, line := range w.buf {
		key := lineKey(line)
		if _, dup := seen[key]; dup {
			w.stats.Rejects[RejectDuplicate]++
			continue
		}
		seen[key] = struct{}{}
		byMarket[line.Market] = append(byMarket[line.Market], line)
	}

	for _, market := range []models.Market{models.MarketMoneyline, models.MarketSpread, models.MarketTotal} {
		lines := byMarket[market]
		for startIdx := 0; startIdx < len(lines); startIdx += w.proc.cfg.BatchSize {
			endIdx := startIdx + w.proc.cfg.BatchSize
			if endIdx > len(lines) {
				endIdx = len(lines)
			}
			chunk := lines[startIdx:endIdx]
			if err := w.upsertChunk(market, chunk); err != nil {
				w.stats.Errors += len(chunk)
				w.err = err
				return
			}
			w.stats.RecordsOut += len(chunk)
			for _, line := range chunk {
				w.stats.QualityDist[string(line.DataQuality)]++
			}
			metrics.RecordStaged(string(market), len(chunk))
		}
	}
}

// upsertChunk writes one batch, retrying once for transient store errors
func (w *stagingWorker) upsertChunk(market models.Market, chunk []*models.BettingLine) error {
	written, err := w.proc.lines.UpsertStaging(w.ctx, market, chunk)
	if err != nil {
		if w.ctx.Err() != nil {
			return err
		}
		w.proc.logger.WithError(err).WithField("market", market).Warn("Staging upsert failed, retrying")
		written, err = w.proc.lines.UpsertStaging(w.ctx, market, chunk)
		if err != nil {
			return fmt.Errorf("staging upsert %s: %w", market, err)
		}
	}
	w.proc.logger.WithFields(logrus.Fields{
		"market":  market,
		"batch":   len(chunk),
		"written": written,
	}).Debug("Staging batch upserted")
	return nil
}
