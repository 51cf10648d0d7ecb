// Package resolver maps the identities sources ship — league game ids, team
// tuples, per-source sportsbook identifiers — onto the canonical game and
// sportsbook rows everything downstream of staging references.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/models"
	"github.com/yourusername/line-drive/internal/repository"
)

// Resolver answers identity lookups from a TTL cache backed by the mapping
// tables. Reads are lock-free; mapping writes serialize on a per-table lock
// so concurrent workers park an unknown identity exactly once.
type Resolver struct {
	cfg    config.IdentityConfig
	games  repository.GameRepository
	books  repository.SportsbookRepository
	cache  *gocache.Cache
	logger *logrus.Entry

	bookMu sync.Mutex
}

// New creates a resolver over the given reference repositories
func New(cfg config.IdentityConfig, games repository.GameRepository, books repository.SportsbookRepository, logger *logrus.Entry) *Resolver {
	return &Resolver{
		cfg:    cfg,
		games:  games,
		books:  books,
		cache:  gocache.New(cfg.CacheTTL(), 2*cfg.CacheTTL()),
		logger: logger.WithField("component", "resolver"),
	}
}

// ResolveGame resolves a game in fixed order: league id, canonical tuple,
// fuzzy-alias tuple. It never creates games; the schedule source owns game
// creation, so an unresolved game means the schedule has not landed yet.
func (r *Resolver) ResolveGame(ctx context.Context, leagueGameID *int64, gameDate time.Time, homeTeam, awayTeam string) (*models.Game, error) {
	if leagueGameID != nil {
		key := fmt.Sprintf("game:league:%d", *leagueGameID)
		if v, ok := r.cache.Get(key); ok {
			return v.(*models.Game), nil
		}
		game, err := r.games.GetByLeagueGameID(ctx, *leagueGameID)
		if err == nil {
			r.CacheGame(game)
			return game, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}

	if home, ok := TeamAbbreviation(homeTeam); ok {
		if away, ok := TeamAbbreviation(awayTeam); ok {
			game, err := r.lookupTuple(ctx, gameDate, home, away)
			if err == nil {
				return game, nil
			}
			if !errors.Is(err, models.ErrNotFound) {
				return nil, err
			}
		}
	}

	if r.cfg.FuzzyMatchEnabled {
		if home, ok := FuzzyTeamAbbreviation(homeTeam); ok {
			if away, ok := FuzzyTeamAbbreviation(awayTeam); ok {
				game, err := r.lookupTuple(ctx, gameDate, home, away)
				if err == nil {
					return game, nil
				}
				if !errors.Is(err, models.ErrNotFound) {
					return nil, err
				}
			}
		}
	}

	return nil, fmt.Errorf("game %s %s @ %s: %w",
		gameDate.Format("2006-01-02"), awayTeam, homeTeam, models.ErrUnresolvedGame)
}

// CacheGame refreshes the cache entries for a game, typically right after a
// schedule import upserted it.
func (r *Resolver) CacheGame(game *models.Game) {
	if game.LeagueGameID != nil {
		r.put(fmt.Sprintf("game:league:%d", *game.LeagueGameID), game)
	}
	r.put("game:key:"+game.CanonicalKey, game)
}

func (r *Resolver) lookupTuple(ctx context.Context, gameDate time.Time, home, away string) (*models.Game, error) {
	key := models.CanonicalGameKey(gameDate, home, away)
	if v, ok := r.cache.Get("game:key:" + key); ok {
		return v.(*models.Game), nil
	}

	game, err := r.games.GetByCanonicalKey(ctx, key)
	if err != nil {
		return nil, err
	}
	r.CacheGame(game)
	return game, nil
}

// ResolveSportsbook resolves a source's book identifier: exact external-id
// match, then case-insensitive name match, then the canonical book table
// itself. An identity nothing matches is parked as a needs_review mapping
// (backed by a placeholder book so the foreign key holds) and the lookup
// fails until an operator reviews it.
func (r *Resolver) ResolveSportsbook(ctx context.Context, source, externalID, externalName string) (*models.Sportsbook, error) {
	if externalID == "" && externalName == "" {
		return nil, fmt.Errorf("source %s sent no sportsbook identity: %w", source, models.ErrUnresolvedSportsbook)
	}

	ck := bookCacheKey(source, externalID, externalName)
	if v, ok := r.cache.Get(ck); ok {
		return v.(*models.Sportsbook), nil
	}

	mapping, err := r.books.FindMapping(ctx, source, externalID, externalName)
	switch {
	case err == nil:
		if mapping.NeedsReview {
			return nil, fmt.Errorf("sportsbook mapping %d awaiting review: %w", mapping.ID, models.ErrUnresolvedSportsbook)
		}
		book, err := r.books.GetByID(ctx, mapping.SportsbookID)
		if err != nil {
			return nil, err
		}
		r.put(ck, book)
		return book, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}

	// A source naming the book by its canonical name needs no review.
	if externalName != "" {
		book, err := r.books.GetByName(ctx, externalName)
		if err == nil {
			r.registerMapping(ctx, source, externalID, externalName, book.ID, false)
			r.put(ck, book)
			return book, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}

	if err := r.parkForReview(ctx, source, externalID, externalName); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("sportsbook %q/%q from %s awaiting review: %w",
		externalID, externalName, source, models.ErrUnresolvedSportsbook)
}

// parkForReview creates the placeholder book and the flagged mapping for an
// identity nothing matched. The table lock makes the create race-free across
// workers; losers of the race find the row the winner made.
func (r *Resolver) parkForReview(ctx context.Context, source, externalID, externalName string) error {
	r.bookMu.Lock()
	defer r.bookMu.Unlock()

	if _, err := r.books.FindMapping(ctx, source, externalID, externalName); err == nil {
		return nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	book := &models.Sportsbook{
		Name:        placeholderBookName(source, externalID, externalName),
		DisplayName: strings.TrimSpace(externalName),
	}
	if err := r.books.Create(ctx, book); err != nil {
		return fmt.Errorf("failed to create placeholder sportsbook: %w", err)
	}
	r.registerMapping(ctx, source, externalID, externalName, book.ID, true)

	r.logger.WithFields(logrus.Fields{
		"source":        source,
		"external_id":   externalID,
		"external_name": externalName,
		"sportsbook_id": book.ID,
	}).Warn("Unknown sportsbook identity parked for review")

	return nil
}

func (r *Resolver) registerMapping(ctx context.Context, source, externalID, externalName string, bookID int, needsReview bool) {
	m := &models.SportsbookExternalMap{
		Source:       source,
		SportsbookID: bookID,
		NeedsReview:  needsReview,
	}
	if externalID != "" {
		m.ExternalID = &externalID
	}
	if externalName != "" {
		m.ExternalName = &externalName
	}

	if err := r.books.CreateMapping(ctx, m); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"source":        source,
			"external_id":   externalID,
			"external_name": externalName,
		}).Warn("Failed to persist sportsbook mapping")
	}
}

// put caches a value, flushing wholesale when the configured bound is hit.
// Identity tables are small; the bound only guards against a runaway source.
func (r *Resolver) put(key string, v interface{}) {
	if r.cache.ItemCount() >= r.cfg.MappingCacheSize {
		r.cache.DeleteExpired()
		if r.cache.ItemCount() >= r.cfg.MappingCacheSize {
			r.cache.Flush()
		}
	}
	r.cache.Set(key, v, gocache.DefaultExpiration)
}

func bookCacheKey(source, externalID, externalName string) string {
	return "book:" + source + ":" + externalID + ":" + strings.ToLower(strings.TrimSpace(externalName))
}

func placeholderBookName(source, externalID, externalName string) string {
	base := strings.TrimSpace(externalName)
	if base == "" {
		base = source + "-" + externalID
	}
	return strings.ToLower(strings.Join(strings.Fields(base), "_"))
}
