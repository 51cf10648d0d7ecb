package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/collector"
	"github.com/yourusername/line-drive/internal/logger"
	"github.com/yourusername/line-drive/internal/metrics"
	"github.com/yourusername/line-drive/internal/models"
	"github.com/yourusername/line-drive/internal/repository"
	"github.com/yourusername/line-drive/internal/resolver"
)

// Reviver drains the quarantine. Records parked on an unresolved identity
// are retried against the current mapping state, which grows as schedule
// imports land and operators approve sportsbook mappings; whatever resolves
// now proceeds into staging exactly as it would have the first time.
type Reviver struct {
	res         *resolver.Resolver
	quarantine  repository.QuarantineRepository
	lines       repository.BettingLineRepository
	games       repository.GameRepository
	reliability map[string]float64
	audit       *logger.AuditLogger
	logger      *logrus.Entry
}

// NewReviver creates the background quarantine reviver
func NewReviver(
	res *resolver.Resolver,
	quarantine repository.QuarantineRepository,
	lines repository.BettingLineRepository,
	games repository.GameRepository,
	reliability map[string]float64,
	audit *logger.AuditLogger,
	log *logrus.Logger,
) *Reviver {
	return &Reviver{
		res:         res,
		quarantine:  quarantine,
		lines:       lines,
		games:       games,
		reliability: reliability,
		audit:       audit,
		logger:      log.WithField("component", "reviver"),
	}
}

// RevivalResult summarizes one revival sweep. SpanStart and SpanEnd bound
// the odds timestamps of revived lines; revived quotes carry their original
// stamps, so curated promotion must re-run over that span, not the present.
type RevivalResult struct {
	Revived   int
	Rejected  int
	Remaining int64
	SpanStart time.Time
	SpanEnd   time.Time
}

// CuratedSpan returns the half-open window covering every revived quote
func (r RevivalResult) CuratedSpan() (time.Time, time.Time, bool) {
	if r.Revived == 0 || r.SpanStart.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	return r.SpanStart, r.SpanEnd.Add(time.Microsecond), true
}

// Sweep retries pending quarantined records, newest mapping state first.
// Only identity-parked reasons are retried: parse and schema failures are
// deterministic and would fail the same way forever.
func (r *Reviver) Sweep(ctx context.Context, limit int) (RevivalResult, error) {
	var res RevivalResult

	for _, reason := range []string{models.QuarantineUnresolvedIdentity, models.QuarantineNeedsReview} {
		pending, err := r.quarantine.GetPending(ctx, reason, limit)
		if err != nil {
			return res, fmt.Errorf("quarantine pending %s: %w", reason, err)
		}
		for _, q := range pending {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			r.revive(ctx, q, &res)
		}
	}

	remaining, err := r.quarantine.CountPending(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("Quarantine backlog count failed")
	} else {
		res.Remaining = remaining
		metrics.UpdateQuarantineBacklog(remaining)
	}

	if res.Revived > 0 || res.Rejected > 0 {
		r.logger.WithFields(logrus.Fields{
			"revived":   res.Revived,
			"rejected":  res.Rejected,
			"remaining": res.Remaining,
		}).Info("Quarantine revival sweep completed")
	}
	return res, nil
}

func (r *Reviver) revive(ctx context.Context, q *models.QuarantinedRecord, res *RevivalResult) {
	if len(q.Provisional) == 0 {
		// Parked before a parse existed; only an operator can help.
		r.touch(ctx, q)
		return
	}

	var prov collector.ProvisionalRecord
	if err := json.Unmarshal(q.Provisional, &prov); err != nil {
		r.logger.WithError(err).WithField("quarantine_id", q.ID).Warn("Quarantined provisional unreadable, releasing")
		r.release(ctx, q)
		res.Rejected++
		return
	}

	if prov.Kind == collector.KindGame {
		r.reviveGame(ctx, q, &prov, res)
		return
	}

	game, err := r.res.ResolveGame(ctx, prov.LeagueGameID, prov.GameDate, prov.HomeTeam, prov.AwayTeam)
	if err != nil {
		r.touch(ctx, q)
		return
	}
	book, err := r.res.ResolveSportsbook(ctx, prov.Source, prov.SportsbookExternalID, prov.SportsbookExternalName)
	if err != nil {
		r.touch(ctx, q)
		return
	}

	line, reject := buildLine(&prov, game, book, reliabilityOf(r.reliability, prov.Source))
	if reject != "" {
		r.logger.WithFields(logrus.Fields{
			"quarantine_id": q.ID,
			"reason":        reject,
		}).Warn("Revived record rejected by normalization, releasing")
		metrics.RecordRejected("staging", reject)
		r.release(ctx, q)
		res.Rejected++
		return
	}

	if _, err := r.lines.UpsertStaging(ctx, line.Market, []*models.BettingLine{line}); err != nil {
		r.logger.WithError(err).WithField("quarantine_id", q.ID).Warn("Revival upsert failed")
		r.touch(ctx, q)
		return
	}
	metrics.RecordStaged(string(line.Market), 1)
	r.release(ctx, q)
	res.Revived++

	if res.SpanStart.IsZero() || line.OddsTimestamp.Before(res.SpanStart) {
		res.SpanStart = line.OddsTimestamp
	}
	if line.OddsTimestamp.After(res.SpanEnd) {
		res.SpanEnd = line.OddsTimestamp
	}
}

// reviveGame retries a schedule record whose team names did not map; the
// alias table is code, so these resolve after a deploy extends it.
func (r *Reviver) reviveGame(ctx context.Context, q *models.QuarantinedRecord, prov *collector.ProvisionalRecord, res *RevivalResult) {
	home, okHome := resolver.TeamAbbreviation(prov.HomeTeam)
	away, okAway := resolver.TeamAbbreviation(prov.AwayTeam)
	if !okHome || !okAway {
		r.touch(ctx, q)
		return
	}
	game := gameFromProvisional(prov, home, away)
	if err := r.games.Upsert(ctx, game); err != nil {
		r.touch(ctx, q)
		return
	}
	r.res.CacheGame(game)
	r.release(ctx, q)
	res.Revived++
}

func (r *Reviver) release(ctx context.Context, q *models.QuarantinedRecord) {
	if err := r.quarantine.MarkResolved(ctx, q.ID); err != nil {
		r.logger.WithError(err).WithField("quarantine_id", q.ID).Warn("Quarantine release failed")
		return
	}
	if r.audit != nil {
		r.audit.LogQuarantine(q.Source, q.Reason, q.RawRecordID.String(), true)
	}
}

func (r *Reviver) touch(ctx context.Context, q *models.QuarantinedRecord) {
	if err := r.quarantine.Touch(ctx, q.ID); err != nil {
		r.logger.WithError(err).WithField("quarantine_id", q.ID).Warn("Quarantine attempt bump failed")
	}
}
