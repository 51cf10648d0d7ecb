package models

import "time"

// BreakerState is the persisted circuit-breaker state for a collector
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerHalfOpen BreakerState = "half_open"
	BreakerOpen     BreakerState = "open"
)

// HealthState is the rolling health snapshot for one collector. Only the
// health tracker mutates it; everyone else reads copies.
type HealthState struct {
	Collector           string           `db:"collector" json:"collector" validate:"required"`
	Attempts            int64            `db:"attempts" json:"attempts"`
	Successes           int64            `db:"successes" json:"successes"`
	Failures            int64            `db:"failures" json:"failures"`
	FailuresByCategory  map[string]int64 `db:"failures_by_category" json:"failures_by_category"`
	SuccessRate5m       float64          `db:"success_rate_5m" json:"success_rate_5m"`
	SuccessRate60m      float64          `db:"success_rate_60m" json:"success_rate_60m"`
	MeanLatencyMs       float64          `db:"mean_latency_ms" json:"mean_latency_ms"`
	P50LatencyMs        float64          `db:"p50_latency_ms" json:"p50_latency_ms"`
	P95LatencyMs        float64          `db:"p95_latency_ms" json:"p95_latency_ms"`
	ConsecutiveFailures int              `db:"consecutive_failures" json:"consecutive_failures"`
	BreakerState        BreakerState     `db:"breaker_state" json:"breaker_state" validate:"oneof=closed half_open open"`
	BreakerOpenedAt     *time.Time       `db:"breaker_opened_at" json:"breaker_opened_at"`
	BaselineSuccessRate *float64         `db:"baseline_success_rate" json:"baseline_success_rate"`
	BaselineP95Ms       *float64         `db:"baseline_p95_ms" json:"baseline_p95_ms"`
	FailureProbability  float64          `db:"failure_probability" json:"failure_probability" validate:"gte=0,lte=1"`
	Degraded            bool             `db:"degraded" json:"degraded"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updated_at"`
}

// Automated recovery steps, in the order the recoverer applies them.
const (
	RecoveryResetBreaker     = "reset_breaker"
	RecoveryForceProbe       = "force_probe"
	RecoveryRevalidateConfig = "revalidate_config"
)

// Recovery step outcomes
const (
	RecoveryOutcomeOK     = "ok"
	RecoveryOutcomeFailed = "failed"
)

// RecoveryAction logs one automated recovery step taken for a collector
type RecoveryAction struct {
	ID            int64     `db:"id" json:"id"`
	Collector     string    `db:"collector" json:"collector" validate:"required"`
	Action        string    `db:"action" json:"action" validate:"oneof=reset_breaker force_probe revalidate_config"`
	Outcome       string    `db:"outcome" json:"outcome" validate:"oneof=ok failed"`
	Detail        *string   `db:"detail" json:"detail"`
	CorrelationID string    `db:"correlation_id" json:"correlation_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
