package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GameStatus enumerates the lifecycle states reported by the league schedule
type GameStatus string

const (
	GameStatusScheduled  GameStatus = "scheduled"
	GameStatusInProgress GameStatus = "in_progress"
	GameStatusFinal      GameStatus = "final"
	GameStatusPostponed  GameStatus = "postponed"
	GameStatusCancelled  GameStatus = "cancelled"
	GameStatusDelayed    GameStatus = "delayed"
)

// Game represents a canonical MLB game that all sources reconcile onto
type Game struct {
	ID                 uuid.UUID  `db:"id" json:"id" validate:"required,uuid4"`
	CanonicalKey       string     `db:"canonical_key" json:"canonical_key" validate:"required"`
	LeagueGameID       *int64     `db:"league_game_id" json:"league_game_id"`
	GameDate           time.Time  `db:"game_date" json:"game_date" validate:"required"`
	ScheduledStartUTC  time.Time  `db:"scheduled_start_utc" json:"scheduled_start_utc" validate:"required"`
	ScheduledStartEast time.Time  `db:"scheduled_start_east" json:"scheduled_start_east" validate:"required"`
	HomeTeam           string     `db:"home_team" json:"home_team" validate:"required,min=2,max=5"`
	AwayTeam           string     `db:"away_team" json:"away_team" validate:"required,min=2,max=5"`
	Status             GameStatus `db:"status" json:"status" validate:"oneof=scheduled in_progress final postponed cancelled delayed"`
	HomeScore          *int       `db:"home_score" json:"home_score"`
	AwayScore          *int       `db:"away_score" json:"away_score"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// CanonicalGameKey builds the tuple key games are reconciled under,
// e.g. "2025-05-01-NYY-BOS". Team abbreviations are upper-cased.
func CanonicalGameKey(date time.Time, homeTeam, awayTeam string) string {
	return fmt.Sprintf("%s-%s-%s",
		date.Format("2006-01-02"),
		strings.ToUpper(strings.TrimSpace(homeTeam)),
		strings.ToUpper(strings.TrimSpace(awayTeam)))
}

// IsFinal checks whether the game has an official outcome
func (g *Game) IsFinal() bool {
	return g.Status == GameStatusFinal
}

// HasOutcome checks whether final scores have been resolved
func (g *Game) HasOutcome() bool {
	return g.Status == GameStatusFinal && g.HomeScore != nil && g.AwayScore != nil
}
