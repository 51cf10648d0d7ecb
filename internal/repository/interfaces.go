package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/line-drive/internal/models"
)

// GameRepository defines access to canonical game reference data
type GameRepository interface {
	Upsert(ctx context.Context, game *models.Game) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Game, error)
	GetByCanonicalKey(ctx context.Context, key string) (*models.Game, error)
	GetByLeagueGameID(ctx context.Context, leagueGameID int64) (*models.Game, error)
	GetByDateRange(ctx context.Context, start, end time.Time) ([]*models.Game, error)
	UpdateOutcome(ctx context.Context, id uuid.UUID, status models.GameStatus, homeScore, awayScore *int) error
}

// SportsbookRepository defines access to sportsbooks and their external maps
type SportsbookRepository interface {
	Create(ctx context.Context, book *models.Sportsbook) error
	GetByID(ctx context.Context, id int) (*models.Sportsbook, error)
	GetByName(ctx context.Context, name string) (*models.Sportsbook, error)
	List(ctx context.Context) ([]*models.Sportsbook, error)
	FindMapping(ctx context.Context, source, externalID, externalName string) (*models.SportsbookExternalMap, error)
	CreateMapping(ctx context.Context, mapping *models.SportsbookExternalMap) error
	ListMappings(ctx context.Context, source string) ([]*models.SportsbookExternalMap, error)
}

// RawRecordRepository defines append-only access to per-source raw captures
type RawRecordRepository interface {
	// InsertBatch appends records atomically, silently dropping idempotency-
	// key duplicates, and reports how many rows were actually inserted.
	InsertBatch(ctx context.Context, records []*models.RawRecord) (int, error)
	Window(ctx context.Context, source string, start, end time.Time) ([]*models.RawRecord, error)
	CountBySource(ctx context.Context, source string) (int64, error)
	DeleteOlderThan(ctx context.Context, source string, cutoff time.Time) (int64, error)
}

// BettingLineRepository defines access to the unified line tables per market
// in the staging and curated zones.
type BettingLineRepository interface {
	UpsertStaging(ctx context.Context, market models.Market, lines []*models.BettingLine) (int, error)
	StagingWindow(ctx context.Context, market models.Market, start, end time.Time) ([]*models.BettingLine, error)
	UpsertCurated(ctx context.Context, market models.Market, lines []*models.BettingLine) (int, error)
	CuratedWindow(ctx context.Context, market models.Market, start, end time.Time) ([]*models.BettingLine, error)
	CuratedMovement(ctx context.Context, market models.Market, gameID uuid.UUID, sportsbookID int) ([]*models.BettingLine, error)
	CuratedCount(ctx context.Context, market models.Market) (int64, error)
	RefreshOpenings(ctx context.Context, market models.Market, gameIDs []uuid.UUID) error
	MarkClosings(ctx context.Context, market models.Market, gameID uuid.UUID) error
}

// PipelineRunRepository defines persistence for orchestrated run records
type PipelineRunRepository interface {
	Create(ctx context.Context, run *models.PipelineRun) error
	Finish(ctx context.Context, run *models.PipelineRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error)
	GetRecent(ctx context.Context, limit int) ([]*models.PipelineRun, error)
}

// DailyAttemptStat is one day's aggregate used for baseline medians
type DailyAttemptStat struct {
	Day         time.Time
	Attempts    int64
	SuccessRate float64
	P95Ms       float64
}

// AttemptRepository defines persistence for collection attempts
type AttemptRepository interface {
	InsertBatch(ctx context.Context, attempts []*models.CollectionAttempt) error
	Window(ctx context.Context, collector string, start, end time.Time) ([]*models.CollectionAttempt, error)
	DailyStats(ctx context.Context, collector string, since time.Time) ([]DailyAttemptStat, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// QuarantineRepository defines persistence for quarantined records
type QuarantineRepository interface {
	Insert(ctx context.Context, rec *models.QuarantinedRecord) error
	GetPending(ctx context.Context, reason string, limit int) ([]*models.QuarantinedRecord, error)
	MarkResolved(ctx context.Context, id uuid.UUID) error
	Touch(ctx context.Context, id uuid.UUID) error
	CountPending(ctx context.Context) (int64, error)
}

// AlertRepository defines persistence for alerts and their dead letters
type AlertRepository interface {
	Insert(ctx context.Context, alert *models.Alert) error
	Acknowledge(ctx context.Context, id uuid.UUID) error
	Resolve(ctx context.Context, id uuid.UUID) error
	GetRecent(ctx context.Context, limit int) ([]*models.Alert, error)
	InsertDeadLetter(ctx context.Context, alert *models.Alert, sink, reason string) error
}

// RecoveryRepository defines persistence for automated recovery actions
type RecoveryRepository interface {
	Insert(ctx context.Context, action *models.RecoveryAction) error
	GetRecent(ctx context.Context, collector string, limit int) ([]*models.RecoveryAction, error)
}
