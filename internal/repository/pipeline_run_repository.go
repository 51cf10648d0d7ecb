package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/yourusername/line-drive/internal/database"
	"github.com/yourusername/line-drive/internal/models"
)

// PostgresPipelineRunRepository implements PipelineRunRepository for PostgreSQL
type PostgresPipelineRunRepository struct {
	db *database.DB
}

// NewPostgresPipelineRunRepository creates a new pipeline run repository
func NewPostgresPipelineRunRepository(db *database.DB) PipelineRunRepository {
	return &PostgresPipelineRunRepository{db: db}
}

const runColumns = `id, mode, window_start, window_end, started_at, finished_at,
	zones, status, error, created_at, updated_at`

// Create registers a run in the running state before any zone executes
func (p *PostgresPipelineRunRepository) Create(ctx context.Context, run *models.PipelineRun) error {
	query := `
		INSERT INTO operational.pipeline_runs (id, mode, window_start, window_end,
			started_at, zones, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := p.db.GetPool().QueryRow(ctx, query,
		run.ID, run.Mode, run.WindowStart, run.WindowEnd,
		run.StartedAt, run.Zones, run.Status,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pipeline run: %w", err)
	}

	return nil
}

// Finish records the terminal status and per-zone metrics of a run
func (p *PostgresPipelineRunRepository) Finish(ctx context.Context, run *models.PipelineRun) error {
	query := `
		UPDATE operational.pipeline_runs
		SET finished_at = $2, zones = $3, status = $4, error = $5, updated_at = now()
		WHERE id = $1
	`

	tag, err := p.db.GetPool().Exec(ctx, query,
		run.ID, run.FinishedAt, run.Zones, run.Status, run.Error)
	if err != nil {
		return fmt.Errorf("failed to finish pipeline run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// GetByID retrieves one run
func (p *PostgresPipelineRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM operational.pipeline_runs WHERE id = $1`, runColumns)
	return scanRun(p.db.GetPool().QueryRow(ctx, query, id))
}

// GetRecent retrieves the most recently started runs, newest first
func (p *PostgresPipelineRunRepository) GetRecent(ctx context.Context, limit int) ([]*models.PipelineRun, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM operational.pipeline_runs
		ORDER BY started_at DESC LIMIT $1
	`, runColumns)

	rows, err := p.db.GetPool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.PipelineRun
	for rows.Next() {
		run, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*models.PipelineRun, error) {
	run := &models.PipelineRun{}
	err := row.Scan(
		&run.ID, &run.Mode, &run.WindowStart, &run.WindowEnd,
		&run.StartedAt, &run.FinishedAt, &run.Zones, &run.Status, &run.Error,
		&run.CreatedAt, &run.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pipeline run: %w", err)
	}

	return run, nil
}

func scanRunRow(rows pgx.Rows) (*models.PipelineRun, error) {
	run := &models.PipelineRun{}
	err := rows.Scan(
		&run.ID, &run.Mode, &run.WindowStart, &run.WindowEnd,
		&run.StartedAt, &run.FinishedAt, &run.Zones, &run.Status, &run.Error,
		&run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan pipeline run: %w", err)
	}

	return run, nil
}
