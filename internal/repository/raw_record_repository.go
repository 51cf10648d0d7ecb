package repository

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/yourusername/line-drive/internal/database"
	"github.com/yourusername/line-drive/internal/models"
)

// Raw captures live in one table per source so retention and replay can be
// managed per provider. Table names are derived from the source tag, which
// must match the collector naming convention.
var validSourceName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,30}$`)

// PostgresRawRecordRepository implements RawRecordRepository for PostgreSQL
type PostgresRawRecordRepository struct {
	db *database.DB
}

// NewPostgresRawRecordRepository creates a new raw record repository
func NewPostgresRawRecordRepository(db *database.DB) RawRecordRepository {
	return &PostgresRawRecordRepository{db: db}
}

func rawTable(source string) (string, error) {
	if !validSourceName.MatchString(source) {
		return "", fmt.Errorf("invalid source tag %q", source)
	}
	return fmt.Sprintf("raw.records_%s", source), nil
}

// InsertBatch appends raw records in one transaction. The idempotency key
// (source, external_id, odds_timestamp) silently drops duplicates; the
// returned count is the number of rows actually inserted.
func (r *PostgresRawRecordRepository) InsertBatch(ctx context.Context, records []*models.RawRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	inserted := 0
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range records {
			table, err := rawTable(rec.Source)
			if err != nil {
				return err
			}
			query := fmt.Sprintf(`
				INSERT INTO %s (id, source, external_id, odds_timestamp, fetched_at,
					payload, batch_id, parse_status, valid, invalid_reason)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (external_id, odds_timestamp) DO NOTHING
			`, table)
			batch.Queue(query,
				rec.ID, rec.Source, rec.ExternalID, rec.OddsTimestamp, rec.FetchedAt,
				rec.Payload, rec.BatchID, rec.ParseStatus, rec.Valid, rec.InvalidReason,
			)
		}

		results := tx.SendBatch(ctx, batch)
		defer results.Close()

		for range records {
			tag, err := results.Exec()
			if err != nil {
				return fmt.Errorf("failed to insert raw record: %w", err)
			}
			inserted += int(tag.RowsAffected())
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// Window retrieves valid raw records for one source with odds_timestamp in
// [start, end), ordered by timestamp then external id.
func (r *PostgresRawRecordRepository) Window(ctx context.Context, source string, start, end time.Time) ([]*models.RawRecord, error) {
	table, err := rawTable(source)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, source, external_id, odds_timestamp, fetched_at, payload,
			batch_id, parse_status, valid, invalid_reason, created_at
		FROM %s
		WHERE valid = TRUE AND odds_timestamp >= $1 AND odds_timestamp < $2
		ORDER BY odds_timestamp, external_id
	`, table)

	rows, err := r.db.GetPool().Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw window: %w", err)
	}
	defer rows.Close()

	var records []*models.RawRecord
	for rows.Next() {
		rec := &models.RawRecord{}
		err := rows.Scan(
			&rec.ID, &rec.Source, &rec.ExternalID, &rec.OddsTimestamp, &rec.FetchedAt,
			&rec.Payload, &rec.BatchID, &rec.ParseStatus, &rec.Valid, &rec.InvalidReason,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raw record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CountBySource returns the total raw rows held for a source
func (r *PostgresRawRecordRepository) CountBySource(ctx context.Context, source string) (int64, error) {
	table, err := rawTable(source)
	if err != nil {
		return 0, err
	}

	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)
	if err := r.db.GetPool().QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count raw records: %w", err)
	}

	return count, nil
}

// DeleteOlderThan prunes raw rows fetched before the retention cutoff
func (r *PostgresRawRecordRepository) DeleteOlderThan(ctx context.Context, source string, cutoff time.Time) (int64, error) {
	table, err := rawTable(source)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE fetched_at < $1`, table)
	tag, err := r.db.GetPool().Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune raw records: %w", err)
	}

	return tag.RowsAffected(), nil
}
