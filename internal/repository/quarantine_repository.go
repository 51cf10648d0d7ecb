package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/yourusername/line-drive/internal/database"
	"github.com/yourusername/line-drive/internal/models"
)

// PostgresQuarantineRepository implements QuarantineRepository for PostgreSQL
type PostgresQuarantineRepository struct {
	db *database.DB
}

// NewPostgresQuarantineRepository creates a new quarantine repository
func NewPostgresQuarantineRepository(db *database.DB) QuarantineRepository {
	return &PostgresQuarantineRepository{db: db}
}

// Insert parks a provisional record that could not pass staging
func (q *PostgresQuarantineRepository) Insert(ctx context.Context, rec *models.QuarantinedRecord) error {
	query := `
		INSERT INTO operational.quarantine (id, raw_record_id, source, reason,
			detail, provisional, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (raw_record_id, reason) DO UPDATE SET
			detail = EXCLUDED.detail, updated_at = now()
		RETURNING id, created_at, updated_at
	`

	err := q.db.GetPool().QueryRow(ctx, query,
		rec.ID, rec.RawRecordID, rec.Source, rec.Reason,
		rec.Detail, rec.Provisional, rec.Attempts,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to quarantine record: %w", err)
	}

	return nil
}

// GetPending lists unresolved records, oldest first. An empty reason matches
// every reason.
func (q *PostgresQuarantineRepository) GetPending(ctx context.Context, reason string, limit int) ([]*models.QuarantinedRecord, error) {
	query := `
		SELECT id, raw_record_id, source, reason, detail, provisional,
			attempts, resolved_at, created_at, updated_at
		FROM operational.quarantine
		WHERE resolved_at IS NULL AND ($1 = '' OR reason = $1)
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := q.db.GetPool().Query(ctx, query, reason, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query quarantine: %w", err)
	}
	defer rows.Close()

	var recs []*models.QuarantinedRecord
	for rows.Next() {
		rec := &models.QuarantinedRecord{}
		err := rows.Scan(
			&rec.ID, &rec.RawRecordID, &rec.Source, &rec.Reason, &rec.Detail,
			&rec.Provisional, &rec.Attempts, &rec.ResolvedAt,
			&rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quarantined record: %w", err)
		}
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

// MarkResolved releases a record from quarantine
func (q *PostgresQuarantineRepository) MarkResolved(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.GetPool().Exec(ctx, `
		UPDATE operational.quarantine
		SET resolved_at = now(), updated_at = now()
		WHERE id = $1 AND resolved_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve quarantined record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// Touch bumps the retry counter after a failed revival attempt
func (q *PostgresQuarantineRepository) Touch(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.GetPool().Exec(ctx, `
		UPDATE operational.quarantine
		SET attempts = attempts + 1, updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to touch quarantined record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// CountPending reports the unresolved quarantine backlog
func (q *PostgresQuarantineRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.GetPool().QueryRow(ctx,
		`SELECT COUNT(*) FROM operational.quarantine WHERE resolved_at IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count quarantine backlog: %w", err)
	}

	return count, nil
}
