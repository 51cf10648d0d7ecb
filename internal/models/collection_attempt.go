package models

import (
	"time"

	"github.com/google/uuid"
)

// AttemptOutcome classifies how one collector fetch ended
type AttemptOutcome string

const (
	AttemptOutcomeOK           AttemptOutcome = "ok"
	AttemptOutcomeNetworkError AttemptOutcome = "network_error"
	AttemptOutcomeParseError   AttemptOutcome = "parse_error"
	AttemptOutcomeRateLimited  AttemptOutcome = "rate_limited"
	AttemptOutcomeTimeout      AttemptOutcome = "timeout"
	AttemptOutcomeCircuitOpen  AttemptOutcome = "circuit_open"
)

// CollectionAttempt records one fetch by one collector. Attempts feed the
// health tracker and are retained for a rolling window for baseline math.
type CollectionAttempt struct {
	ID             uuid.UUID      `db:"id" json:"id" validate:"required,uuid4"`
	Collector      string         `db:"collector" json:"collector" validate:"required"`
	BatchID        uuid.UUID      `db:"batch_id" json:"batch_id"`
	StartedAt      time.Time      `db:"started_at" json:"started_at" validate:"required"`
	FinishedAt     time.Time      `db:"finished_at" json:"finished_at" validate:"required"`
	Outcome        AttemptOutcome `db:"outcome" json:"outcome" validate:"oneof=ok network_error parse_error rate_limited timeout circuit_open"`
	RecordCount    int            `db:"record_count" json:"record_count"`
	ResponseTimeMs int64          `db:"response_time_ms" json:"response_time_ms"`
	ErrorCategory  *string        `db:"error_category" json:"error_category"`
	ErrorMessage   *string        `db:"error_message" json:"error_message"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// Succeeded checks whether the attempt completed with records or a clean fetch
func (a *CollectionAttempt) Succeeded() bool {
	return a.Outcome == AttemptOutcomeOK
}

// Duration returns the wall-clock time the attempt took
func (a *CollectionAttempt) Duration() time.Duration {
	return a.FinishedAt.Sub(a.StartedAt)
}
