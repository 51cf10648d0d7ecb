package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/yourusername/line-drive/internal/database"
	"github.com/yourusername/line-drive/internal/models"
)

// PostgresGameRepository implements GameRepository for PostgreSQL
type PostgresGameRepository struct {
	db *database.DB
}

// NewPostgresGameRepository creates a new game repository
func NewPostgresGameRepository(db *database.DB) GameRepository {
	return &PostgresGameRepository{db: db}
}

const gameColumns = `id, canonical_key, league_game_id, game_date, scheduled_start_utc,
	scheduled_start_east, home_team, away_team, status, home_score, away_score,
	created_at, updated_at`

// Upsert creates the game on first reference and refreshes schedule-sourced
// fields on conflict. Scores are only written by UpdateOutcome.
func (g *PostgresGameRepository) Upsert(ctx context.Context, game *models.Game) error {
	query := `
		INSERT INTO curated.games (id, canonical_key, league_game_id, game_date,
			scheduled_start_utc, scheduled_start_east, home_team, away_team, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (canonical_key) DO UPDATE SET
			league_game_id      = COALESCE(EXCLUDED.league_game_id, curated.games.league_game_id),
			scheduled_start_utc = EXCLUDED.scheduled_start_utc,
			scheduled_start_east = EXCLUDED.scheduled_start_east,
			status              = EXCLUDED.status,
			updated_at          = now()
		RETURNING id, created_at, updated_at
	`

	err := g.db.GetPool().QueryRow(ctx, query,
		game.ID, game.CanonicalKey, game.LeagueGameID, game.GameDate,
		game.ScheduledStartUTC, game.ScheduledStartEast,
		game.HomeTeam, game.AwayTeam, game.Status,
	).Scan(&game.ID, &game.CreatedAt, &game.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert game: %w", err)
	}

	return nil
}

// GetByID retrieves a game by its canonical id
func (g *PostgresGameRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	query := fmt.Sprintf(`SELECT %s FROM curated.games WHERE id = $1`, gameColumns)
	return g.scanOne(ctx, query, id)
}

// GetByCanonicalKey retrieves a game by its (date, home, away) tuple key
func (g *PostgresGameRepository) GetByCanonicalKey(ctx context.Context, key string) (*models.Game, error) {
	query := fmt.Sprintf(`SELECT %s FROM curated.games WHERE canonical_key = $1`, gameColumns)
	return g.scanOne(ctx, query, key)
}

// GetByLeagueGameID retrieves a game by the official league identifier
func (g *PostgresGameRepository) GetByLeagueGameID(ctx context.Context, leagueGameID int64) (*models.Game, error) {
	query := fmt.Sprintf(`SELECT %s FROM curated.games WHERE league_game_id = $1`, gameColumns)
	return g.scanOne(ctx, query, leagueGameID)
}

// GetByDateRange retrieves all games scheduled within [start, end)
func (g *PostgresGameRepository) GetByDateRange(ctx context.Context, start, end time.Time) ([]*models.Game, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM curated.games
		WHERE game_date >= $1 AND game_date < $2
		ORDER BY game_date, canonical_key
	`, gameColumns)

	rows, err := g.db.GetPool().Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query games by date range: %w", err)
	}
	defer rows.Close()

	var games []*models.Game
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, game)
	}

	return games, rows.Err()
}

// UpdateOutcome records the resolved status and final scores for a game
func (g *PostgresGameRepository) UpdateOutcome(ctx context.Context, id uuid.UUID, status models.GameStatus, homeScore, awayScore *int) error {
	query := `
		UPDATE curated.games
		SET status = $2, home_score = $3, away_score = $4, updated_at = now()
		WHERE id = $1
	`

	tag, err := g.db.GetPool().Exec(ctx, query, id, status, homeScore, awayScore)
	if err != nil {
		return fmt.Errorf("failed to update game outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (g *PostgresGameRepository) scanOne(ctx context.Context, query string, arg interface{}) (*models.Game, error) {
	row := g.db.GetPool().QueryRow(ctx, query, arg)
	game, err := scanGame(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return game, nil
}

func scanGame(row pgx.Row) (*models.Game, error) {
	game := &models.Game{}
	err := row.Scan(
		&game.ID, &game.CanonicalKey, &game.LeagueGameID, &game.GameDate,
		&game.ScheduledStartUTC, &game.ScheduledStartEast,
		&game.HomeTeam, &game.AwayTeam, &game.Status,
		&game.HomeScore, &game.AwayScore,
		&game.CreatedAt, &game.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan game: %w", err)
	}
	return game, nil
}
