package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/yourusername/line-drive/internal/database"
	"github.com/yourusername/line-drive/internal/models"
)

// PostgresAlertRepository implements AlertRepository for PostgreSQL
type PostgresAlertRepository struct {
	db *database.DB
}

// NewPostgresAlertRepository creates a new alert repository
func NewPostgresAlertRepository(db *database.DB) AlertRepository {
	return &PostgresAlertRepository{db: db}
}

// Insert persists an alert before it is dispatched to any sink
func (a *PostgresAlertRepository) Insert(ctx context.Context, alert *models.Alert) error {
	query := `
		INSERT INTO operational.alerts (id, alert_type, severity, collector,
			correlation_id, message, context, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := a.db.GetPool().QueryRow(ctx, query,
		alert.ID, alert.Type, alert.Severity, alert.Collector,
		alert.CorrelationID, alert.Message, alert.Context, alert.Status,
	).Scan(&alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	return nil
}

// Acknowledge marks a firing alert as seen by an operator
func (a *PostgresAlertRepository) Acknowledge(ctx context.Context, id uuid.UUID) error {
	tag, err := a.db.GetPool().Exec(ctx, `
		UPDATE operational.alerts
		SET status = $2, acked_at = now()
		WHERE id = $1 AND status = $3
	`, id, models.AlertStatusAcknowledged, models.AlertStatusFiring)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// Resolve marks an alert as cleared
func (a *PostgresAlertRepository) Resolve(ctx context.Context, id uuid.UUID) error {
	tag, err := a.db.GetPool().Exec(ctx, `
		UPDATE operational.alerts
		SET status = $2, resolved_at = now()
		WHERE id = $1 AND status <> $2
	`, id, models.AlertStatusResolved)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// GetRecent lists the newest alerts first
func (a *PostgresAlertRepository) GetRecent(ctx context.Context, limit int) ([]*models.Alert, error) {
	query := `
		SELECT id, alert_type, severity, collector, correlation_id, message,
			context, status, acked_at, resolved_at, created_at
		FROM operational.alerts
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := a.db.GetPool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert := &models.Alert{}
		err := rows.Scan(
			&alert.ID, &alert.Type, &alert.Severity, &alert.Collector,
			&alert.CorrelationID, &alert.Message, &alert.Context, &alert.Status,
			&alert.AckedAt, &alert.ResolvedAt, &alert.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// InsertDeadLetter records an alert delivery that exhausted its retries so
// the payload is never silently lost.
func (a *PostgresAlertRepository) InsertDeadLetter(ctx context.Context, alert *models.Alert, sink, reason string) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode dead-lettered alert: %w", err)
	}

	_, err = a.db.GetPool().Exec(ctx, `
		INSERT INTO operational.alert_dead_letters (alert_id, sink, reason, payload)
		VALUES ($1, $2, $3, $4)
	`, alert.ID, sink, reason, payload)
	if err != nil {
		return fmt.Errorf("failed to insert alert dead letter: %w", err)
	}

	return nil
}
