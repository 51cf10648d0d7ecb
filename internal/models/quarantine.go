package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Quarantine reasons mirror the record-level error taxonomy.
const (
	QuarantineUnresolvedIdentity = "unresolved_identity"
	QuarantineParseError         = "parse_error"
	QuarantineSchemaViolation    = "schema_violation"
	QuarantineNeedsReview        = "needs_review"
)

// QuarantinedRecord holds a provisional record that could not proceed past
// staging. The background resolver retries unresolved identities when new
// schedule data lands; reviewed sportsbook mappings release the rest.
type QuarantinedRecord struct {
	ID          uuid.UUID       `db:"id" json:"id" validate:"required,uuid4"`
	RawRecordID uuid.UUID       `db:"raw_record_id" json:"raw_record_id" validate:"required,uuid4"`
	Source      string          `db:"source" json:"source" validate:"required"`
	Reason      string          `db:"reason" json:"reason" validate:"oneof=unresolved_identity parse_error schema_violation needs_review"`
	Detail      *string         `db:"detail" json:"detail"`
	Provisional json.RawMessage `db:"provisional" json:"provisional"`
	Attempts    int             `db:"attempts" json:"attempts"`
	ResolvedAt  *time.Time      `db:"resolved_at" json:"resolved_at"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// IsResolved checks whether the record has been released from quarantine
func (q *QuarantinedRecord) IsResolved() bool {
	return q.ResolvedAt != nil
}
