package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/collector"
	"github.com/yourusername/line-drive/internal/models"
	"github.com/yourusername/line-drive/internal/repository"
	"github.com/yourusername/line-drive/internal/resolver"
)

// OutcomeResolver closes the loop after games end: it pulls the league
// schedule for a date range, lands the payloads in raw like any other sweep,
// and applies final scores and terminal statuses to the canonical games.
// Closing lines are marked the moment a game resolves.
type OutcomeResolver struct {
	sched  collector.Collector
	raw    *RawProcessor
	games  repository.GameRepository
	lines  repository.BettingLineRepository
	logger *logrus.Entry
}

// NewOutcomeResolver creates the outcome resolver over the schedule source
func NewOutcomeResolver(sched collector.Collector, raw *RawProcessor, games repository.GameRepository, lines repository.BettingLineRepository, logger *logrus.Logger) *OutcomeResolver {
	return &OutcomeResolver{
		sched:  sched,
		raw:    raw,
		games:  games,
		lines:  lines,
		logger: logger.WithField("component", "outcome_resolver"),
	}
}

// OutcomeResult summarizes one resolution pass
type OutcomeResult struct {
	GamesSeen     int
	Resolved      int
	StatusUpdates int
}

// Resolve fetches the schedule for [start, end) and applies what it reports.
// Schedule payloads land in raw first so the pass stays replayable. Games
// already carrying an outcome are never touched again.
func (o *OutcomeResolver) Resolve(ctx context.Context, start, end time.Time) (OutcomeResult, error) {
	var res OutcomeResult
	if o.sched == nil {
		return res, fmt.Errorf("schedule collector is not enabled")
	}

	records, err := o.sched.Collect(ctx, start, end)
	if err != nil {
		return res, fmt.Errorf("schedule collect: %w", err)
	}
	if len(records) == 0 {
		return res, nil
	}
	if _, err := o.raw.Ingest(ctx, records); err != nil {
		return res, fmt.Errorf("schedule ingest: %w", err)
	}

	for _, rec := range records {
		if !rec.Valid {
			continue
		}
		provs, err := o.sched.Parse(rec)
		if err != nil {
			o.logger.WithError(err).WithField("external_id", rec.ExternalID).Warn("Schedule payload failed to parse")
			continue
		}
		for i := range provs {
			prov := &provs[i]
			if prov.Kind != collector.KindGame {
				continue
			}
			if err := o.apply(ctx, prov, &res); err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				o.logger.WithError(err).WithFields(logrus.Fields{
					"home_team": prov.HomeTeam,
					"away_team": prov.AwayTeam,
					"game_date": prov.GameDate,
				}).Warn("Outcome update failed")
			}
		}
	}

	o.logger.WithFields(logrus.Fields{
		"games_seen":     res.GamesSeen,
		"resolved":       res.Resolved,
		"status_updates": res.StatusUpdates,
	}).Info("Outcome resolution pass completed")
	return res, nil
}

func (o *OutcomeResolver) apply(ctx context.Context, prov *collector.ProvisionalRecord, res *OutcomeResult) error {
	home, ok := resolver.TeamAbbreviation(prov.HomeTeam)
	if !ok {
		return fmt.Errorf("unknown home team %q", prov.HomeTeam)
	}
	away, ok := resolver.TeamAbbreviation(prov.AwayTeam)
	if !ok {
		return fmt.Errorf("unknown away team %q", prov.AwayTeam)
	}
	res.GamesSeen++

	game, err := o.lookup(ctx, prov, home, away)
	if err != nil {
		return err
	}
	if game == nil {
		// First sight of this game; the schedule source owns creation.
		game = gameFromProvisional(prov, home, away)
		if err := o.games.Upsert(ctx, game); err != nil {
			return err
		}
	}

	if prov.GameStatus == nil {
		return nil
	}
	switch status := *prov.GameStatus; status {
	case models.GameStatusFinal:
		if prov.HomeScore == nil || prov.AwayScore == nil {
			// Final without a boxscore; the next pass picks it up.
			return nil
		}
		if game.HasOutcome() {
			return nil
		}
		if err := o.games.UpdateOutcome(ctx, game.ID, models.GameStatusFinal, prov.HomeScore, prov.AwayScore); err != nil {
			return err
		}
		for _, market := range curatedMarkets {
			if err := o.lines.MarkClosings(ctx, market, game.ID); err != nil {
				return err
			}
		}
		res.Resolved++
		o.logger.WithFields(logrus.Fields{
			"canonical_key": game.CanonicalKey,
			"home_score":    *prov.HomeScore,
			"away_score":    *prov.AwayScore,
		}).Info("Game outcome resolved")

	default:
		if game.Status == status || game.IsFinal() {
			return nil
		}
		if err := o.games.UpdateOutcome(ctx, game.ID, status, game.HomeScore, game.AwayScore); err != nil {
			return err
		}
		res.StatusUpdates++
	}
	return nil
}

func (o *OutcomeResolver) lookup(ctx context.Context, prov *collector.ProvisionalRecord, home, away string) (*models.Game, error) {
	if prov.LeagueGameID != nil {
		game, err := o.games.GetByLeagueGameID(ctx, *prov.LeagueGameID)
		if err == nil {
			return game, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}
	game, err := o.games.GetByCanonicalKey(ctx, models.CanonicalGameKey(prov.GameDate, home, away))
	if err == nil {
		return game, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}
