package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/yourusername/line-drive/internal/database"
	"github.com/yourusername/line-drive/internal/models"
)

// PostgresAttemptRepository implements AttemptRepository for PostgreSQL.
// Attempts are the highest-volume operational table, so batch inserts go
// through the COPY protocol rather than individual statements.
type PostgresAttemptRepository struct {
	db *database.DB
}

// NewPostgresAttemptRepository creates a new attempt repository
func NewPostgresAttemptRepository(db *database.DB) AttemptRepository {
	return &PostgresAttemptRepository{db: db}
}

var attemptCopyColumns = []string{
	"id", "collector", "batch_id", "started_at", "finished_at",
	"outcome", "record_count", "response_time_ms", "error_category", "error_message",
}

// InsertBatch appends a batch of attempts
func (a *PostgresAttemptRepository) InsertBatch(ctx context.Context, attempts []*models.CollectionAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(attempts))
	for _, att := range attempts {
		rows = append(rows, []interface{}{
			att.ID, att.Collector, att.BatchID, att.StartedAt, att.FinishedAt,
			att.Outcome, att.RecordCount, att.ResponseTimeMs, att.ErrorCategory, att.ErrorMessage,
		})
	}

	_, err := a.db.GetPool().CopyFrom(ctx,
		pgx.Identifier{"operational", "collection_attempts"},
		attemptCopyColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy collection attempts: %w", err)
	}

	return nil
}

// Window loads one collector's attempts in [start, end), oldest first
func (a *PostgresAttemptRepository) Window(ctx context.Context, collector string, start, end time.Time) ([]*models.CollectionAttempt, error) {
	query := `
		SELECT id, collector, batch_id, started_at, finished_at, outcome,
			record_count, response_time_ms, error_category, error_message, created_at
		FROM operational.collection_attempts
		WHERE collector = $1 AND started_at >= $2 AND started_at < $3
		ORDER BY started_at
	`

	rows, err := a.db.GetPool().Query(ctx, query, collector, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempt window: %w", err)
	}
	defer rows.Close()

	var attempts []*models.CollectionAttempt
	for rows.Next() {
		att := &models.CollectionAttempt{}
		err := rows.Scan(
			&att.ID, &att.Collector, &att.BatchID, &att.StartedAt, &att.FinishedAt,
			&att.Outcome, &att.RecordCount, &att.ResponseTimeMs,
			&att.ErrorCategory, &att.ErrorMessage, &att.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, att)
	}

	return attempts, rows.Err()
}

// DailyStats aggregates per-day success rate and p95 latency for baseline
// computation. Days with no attempts produce no row.
func (a *PostgresAttemptRepository) DailyStats(ctx context.Context, collector string, since time.Time) ([]DailyAttemptStat, error) {
	query := `
		SELECT date_trunc('day', started_at) AS day,
			COUNT(*) AS attempts,
			AVG(CASE WHEN outcome = 'ok' THEN 1.0 ELSE 0.0 END) AS success_rate,
			percentile_cont(0.95) WITHIN GROUP (ORDER BY response_time_ms) AS p95_ms
		FROM operational.collection_attempts
		WHERE collector = $1 AND started_at >= $2
		GROUP BY 1
		ORDER BY 1
	`

	rows, err := a.db.GetPool().Query(ctx, query, collector, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily attempt stats: %w", err)
	}
	defer rows.Close()

	var stats []DailyAttemptStat
	for rows.Next() {
		var s DailyAttemptStat
		if err := rows.Scan(&s.Day, &s.Attempts, &s.SuccessRate, &s.P95Ms); err != nil {
			return nil, fmt.Errorf("failed to scan daily attempt stats: %w", err)
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// DeleteOlderThan drops attempts that fell out of the retention window
func (a *PostgresAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := a.db.GetPool().Exec(ctx,
		`DELETE FROM operational.collection_attempts WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old attempts: %w", err)
	}

	return tag.RowsAffected(), nil
}
