package repository

import (
	"context"
	"fmt"

	"github.com/yourusername/line-drive/internal/database"
	"github.com/yourusername/line-drive/internal/models"
)

// PostgresRecoveryRepository implements RecoveryRepository for PostgreSQL
type PostgresRecoveryRepository struct {
	db *database.DB
}

// NewPostgresRecoveryRepository creates a new recovery action repository
func NewPostgresRecoveryRepository(db *database.DB) RecoveryRepository {
	return &PostgresRecoveryRepository{db: db}
}

// Insert appends one recovery action to the audit trail
func (r *PostgresRecoveryRepository) Insert(ctx context.Context, action *models.RecoveryAction) error {
	query := `
		INSERT INTO operational.recovery_actions (collector, action, outcome,
			detail, correlation_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.GetPool().QueryRow(ctx, query,
		action.Collector, action.Action, action.Outcome,
		action.Detail, action.CorrelationID,
	).Scan(&action.ID, &action.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert recovery action: %w", err)
	}

	return nil
}

// GetRecent lists the newest recovery actions first. An empty collector
// matches every collector.
func (r *PostgresRecoveryRepository) GetRecent(ctx context.Context, collector string, limit int) ([]*models.RecoveryAction, error) {
	query := `
		SELECT id, collector, action, outcome, detail, correlation_id, created_at
		FROM operational.recovery_actions
		WHERE $1 = '' OR collector = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.GetPool().Query(ctx, query, collector, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recovery actions: %w", err)
	}
	defer rows.Close()

	var actions []*models.RecoveryAction
	for rows.Next() {
		action := &models.RecoveryAction{}
		err := rows.Scan(
			&action.ID, &action.Collector, &action.Action, &action.Outcome,
			&action.Detail, &action.CorrelationID, &action.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recovery action: %w", err)
		}
		actions = append(actions, action)
	}

	return actions, rows.Err()
}
