package models

import "time"

// Sportsbook is the internal identity a book is referenced by everywhere
// downstream of staging. The integer key is stable; only display metadata
// may change.
type Sportsbook struct {
	ID          int       `db:"id" json:"id" validate:"required,gt=0"`
	Name        string    `db:"name" json:"name" validate:"required"`
	DisplayName string    `db:"display_name" json:"display_name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// SportsbookExternalMap relates one source's identifier or display name for
// a book to the internal sportsbook id. Rows created lazily when an unknown
// identifier is observed are flagged for manual review.
type SportsbookExternalMap struct {
	ID           int64     `db:"id" json:"id"`
	Source       string    `db:"source" json:"source" validate:"required"`
	ExternalID   *string   `db:"external_id" json:"external_id"`
	ExternalName *string   `db:"external_name" json:"external_name"`
	SportsbookID int       `db:"sportsbook_id" json:"sportsbook_id" validate:"required,gt=0"`
	NeedsReview  bool      `db:"needs_review" json:"needs_review"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
