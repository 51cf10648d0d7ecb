package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ParseStatus records how the collector's parser fared on a payload
type ParseStatus string

const (
	ParseStatusParsed  ParseStatus = "parsed"
	ParseStatusPartial ParseStatus = "partial"
	ParseStatusFailed  ParseStatus = "failed"
)

// RawRecord is an immutable capture of one payload from one source. Rows are
// append-only; the raw zone must be rebuildable from source replays alone.
type RawRecord struct {
	ID            uuid.UUID       `db:"id" json:"id" validate:"required,uuid4"`
	Source        string          `db:"source" json:"source" validate:"required"`
	ExternalID    string          `db:"external_id" json:"external_id" validate:"required"`
	OddsTimestamp time.Time       `db:"odds_timestamp" json:"odds_timestamp" validate:"required"`
	FetchedAt     time.Time       `db:"fetched_at" json:"fetched_at" validate:"required"`
	Payload       json.RawMessage `db:"payload" json:"payload" validate:"required"`
	BatchID       uuid.UUID       `db:"batch_id" json:"batch_id" validate:"required,uuid4"`
	ParseStatus   ParseStatus     `db:"parse_status" json:"parse_status" validate:"oneof=parsed partial failed"`
	Valid         bool            `db:"valid" json:"valid"`
	InvalidReason *string         `db:"invalid_reason" json:"invalid_reason"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// IdempotencyKey identifies a raw capture; repeated ingests of the same key
// are silently dropped.
func (r *RawRecord) IdempotencyKey() string {
	return fmt.Sprintf("%s|%s|%s", r.Source, r.ExternalID, r.OddsTimestamp.UTC().Format(time.RFC3339Nano))
}
