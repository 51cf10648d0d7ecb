// Package repository provides PostgreSQL persistence for every pipeline
// entity. Repositories are the sole writers to persisted state.
package repository

import (
	"fmt"

	"github.com/yourusername/line-drive/internal/database"
)

// Repositories holds all repository implementations
type Repositories struct {
	Game       GameRepository
	Sportsbook SportsbookRepository
	RawRecord  RawRecordRepository
	Line       BettingLineRepository
	Run        PipelineRunRepository
	Attempt    AttemptRepository
	Quarantine QuarantineRepository
	Alert      AlertRepository
	Recovery   RecoveryRepository
}

// NewRepositories creates and returns all repository implementations
func NewRepositories(db *database.DB) (*Repositories, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &Repositories{
		Game:       NewPostgresGameRepository(db),
		Sportsbook: NewPostgresSportsbookRepository(db),
		RawRecord:  NewPostgresRawRecordRepository(db),
		Line:       NewPostgresBettingLineRepository(db),
		Run:        NewPostgresPipelineRunRepository(db),
		Attempt:    NewPostgresAttemptRepository(db),
		Quarantine: NewPostgresQuarantineRepository(db),
		Alert:      NewPostgresAlertRepository(db),
		Recovery:   NewPostgresRecoveryRepository(db),
	}, nil
}
