package models

import (
	"time"

	"github.com/google/uuid"
)

// RunMode selects which zones a pipeline run executes, in dependency order
type RunMode string

const (
	RunModeFull        RunMode = "full"
	RunModeRawOnly     RunMode = "raw_only"
	RunModeStagingOnly RunMode = "staging_only"
	RunModeCuratedOnly RunMode = "curated_only"
	// RunModePair runs the staging and curated transform zones together.
	RunModePair RunMode = "pair"
)

// RunStatus is the terminal (or in-flight) state of a pipeline run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// ZoneName identifies one of the three processing zones
type ZoneName string

const (
	ZoneRaw     ZoneName = "raw"
	ZoneStaging ZoneName = "staging"
	ZoneCurated ZoneName = "curated"
)

// ZoneMetrics aggregates one zone's record flow during a run
type ZoneMetrics struct {
	RecordsIn    int            `json:"records_in"`
	RecordsOut   int            `json:"records_out"`
	Errors       int            `json:"errors"`
	Rejects      map[string]int `json:"rejects,omitempty"`
	QualityDist  map[string]int `json:"quality_dist,omitempty"`
	Quarantined  int            `json:"quarantined"`
	DurationMs   int64          `json:"duration_ms"`
}

// ErrorRate returns errors as a fraction of records in; zero input is 0
func (z *ZoneMetrics) ErrorRate() float64 {
	if z.RecordsIn == 0 {
		return 0
	}
	return float64(z.Errors) / float64(z.RecordsIn)
}

// PipelineRun records one orchestrated execution over a collection window
type PipelineRun struct {
	ID          uuid.UUID                 `db:"id" json:"id" validate:"required,uuid4"`
	Mode        RunMode                   `db:"mode" json:"mode" validate:"oneof=full raw_only staging_only curated_only pair"`
	WindowStart time.Time                 `db:"window_start" json:"window_start" validate:"required"`
	WindowEnd   time.Time                 `db:"window_end" json:"window_end" validate:"required"`
	StartedAt   time.Time                 `db:"started_at" json:"started_at"`
	FinishedAt  *time.Time                `db:"finished_at" json:"finished_at"`
	Zones       map[ZoneName]*ZoneMetrics `db:"zones" json:"zones"`
	Status      RunStatus                 `db:"status" json:"status" validate:"oneof=running succeeded partial failed"`
	Error       *string                   `db:"error" json:"error"`
	CreatedAt   time.Time                 `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time                 `db:"updated_at" json:"updated_at"`
}

// ExitCode maps a run status onto the CLI exit-code contract
func (s RunStatus) ExitCode() int {
	switch s {
	case RunStatusSucceeded:
		return 0
	case RunStatusPartial:
		return 1
	default:
		return 2
	}
}
