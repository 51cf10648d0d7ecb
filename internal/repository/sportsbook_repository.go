package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/yourusername/line-drive/internal/database"
	"github.com/yourusername/line-drive/internal/models"
)

// PostgresSportsbookRepository implements SportsbookRepository for PostgreSQL
type PostgresSportsbookRepository struct {
	db *database.DB
}

// NewPostgresSportsbookRepository creates a new sportsbook repository
func NewPostgresSportsbookRepository(db *database.DB) SportsbookRepository {
	return &PostgresSportsbookRepository{db: db}
}

// Create inserts a new sportsbook, assigning the stable integer key
func (s *PostgresSportsbookRepository) Create(ctx context.Context, book *models.Sportsbook) error {
	query := `
		INSERT INTO curated.sportsbooks (name, display_name)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`

	err := s.db.GetPool().QueryRow(ctx, query, book.Name, book.DisplayName).
		Scan(&book.ID, &book.CreatedAt, &book.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sportsbook: %w", err)
	}

	return nil
}

// GetByID retrieves a sportsbook by its internal key
func (s *PostgresSportsbookRepository) GetByID(ctx context.Context, id int) (*models.Sportsbook, error) {
	query := `
		SELECT id, name, display_name, created_at, updated_at
		FROM curated.sportsbooks WHERE id = $1
	`

	book := &models.Sportsbook{}
	err := s.db.GetPool().QueryRow(ctx, query, id).
		Scan(&book.ID, &book.Name, &book.DisplayName, &book.CreatedAt, &book.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sportsbook: %w", err)
	}

	return book, nil
}

// GetByName retrieves a sportsbook by canonical name, case-insensitive
func (s *PostgresSportsbookRepository) GetByName(ctx context.Context, name string) (*models.Sportsbook, error) {
	query := `
		SELECT id, name, display_name, created_at, updated_at
		FROM curated.sportsbooks WHERE lower(name) = lower($1)
	`

	book := &models.Sportsbook{}
	err := s.db.GetPool().QueryRow(ctx, query, name).
		Scan(&book.ID, &book.Name, &book.DisplayName, &book.CreatedAt, &book.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sportsbook by name: %w", err)
	}

	return book, nil
}

// List retrieves all sportsbooks in id order
func (s *PostgresSportsbookRepository) List(ctx context.Context) ([]*models.Sportsbook, error) {
	query := `
		SELECT id, name, display_name, created_at, updated_at
		FROM curated.sportsbooks ORDER BY id
	`

	rows, err := s.db.GetPool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sportsbooks: %w", err)
	}
	defer rows.Close()

	var books []*models.Sportsbook
	for rows.Next() {
		book := &models.Sportsbook{}
		if err := rows.Scan(&book.ID, &book.Name, &book.DisplayName, &book.CreatedAt, &book.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sportsbook: %w", err)
		}
		books = append(books, book)
	}

	return books, rows.Err()
}

// FindMapping resolves one source's external identifier onto a sportsbook id:
// exact external-id match first, then case-insensitive name match.
func (s *PostgresSportsbookRepository) FindMapping(ctx context.Context, source, externalID, externalName string) (*models.SportsbookExternalMap, error) {
	query := `
		SELECT id, source, external_id, external_name, sportsbook_id, needs_review, created_at, updated_at
		FROM operational.sportsbook_external_map
		WHERE source = $1
		  AND ((external_id IS NOT NULL AND external_id = $2)
		    OR (external_name IS NOT NULL AND lower(external_name) = lower($3)))
		ORDER BY (external_id = $2) DESC NULLS LAST
		LIMIT 1
	`

	m := &models.SportsbookExternalMap{}
	err := s.db.GetPool().QueryRow(ctx, query, source, externalID, externalName).
		Scan(&m.ID, &m.Source, &m.ExternalID, &m.ExternalName, &m.SportsbookID, &m.NeedsReview, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find sportsbook mapping: %w", err)
	}

	return m, nil
}

// CreateMapping inserts a new external mapping entry. Lazily created rows
// arrive flagged needs_review and stay that way until an operator clears them.
func (s *PostgresSportsbookRepository) CreateMapping(ctx context.Context, mapping *models.SportsbookExternalMap) error {
	query := `
		INSERT INTO operational.sportsbook_external_map
			(source, external_id, external_name, sportsbook_id, needs_review)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source, external_id, external_name) DO NOTHING
		RETURNING id, created_at, updated_at
	`

	err := s.db.GetPool().QueryRow(ctx, query,
		mapping.Source, mapping.ExternalID, mapping.ExternalName,
		mapping.SportsbookID, mapping.NeedsReview,
	).Scan(&mapping.ID, &mapping.CreatedAt, &mapping.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict: another writer beat us to it, which is fine.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create sportsbook mapping: %w", err)
	}

	return nil
}

// ListMappings retrieves all mappings for a source (all sources when empty)
func (s *PostgresSportsbookRepository) ListMappings(ctx context.Context, source string) ([]*models.SportsbookExternalMap, error) {
	query := `
		SELECT id, source, external_id, external_name, sportsbook_id, needs_review, created_at, updated_at
		FROM operational.sportsbook_external_map
		WHERE $1 = '' OR source = $1
		ORDER BY source, id
	`

	rows, err := s.db.GetPool().Query(ctx, query, source)
	if err != nil {
		return nil, fmt.Errorf("failed to list sportsbook mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*models.SportsbookExternalMap
	for rows.Next() {
		m := &models.SportsbookExternalMap{}
		if err := rows.Scan(&m.ID, &m.Source, &m.ExternalID, &m.ExternalName, &m.SportsbookID, &m.NeedsReview, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sportsbook mapping: %w", err)
		}
		mappings = append(mappings, m)
	}

	return mappings, rows.Err()
}
