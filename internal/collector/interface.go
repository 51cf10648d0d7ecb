// Package collector implements the source collectors that feed the raw zone:
// per-source fetch with rate limiting and circuit breaking, plus the pure
// parsers the staging zone replays persisted payloads through.
package collector

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/line-drive/internal/models"
)

// RecordKind discriminates what a provisional record describes
type RecordKind string

const (
	// KindLine is a betting-line quote for one (game, book, market)
	KindLine RecordKind = "line"
	// KindGame is a schedule/outcome record from the official league source
	KindGame RecordKind = "game"
)

// ProvisionalRecord is a parsed record whose identifiers are still the
// source's own. Collectors never resolve canonical ids; the resolver does.
type ProvisionalRecord struct {
	Kind          RecordKind `json:"kind"`
	Source        string     `json:"source"`
	ExternalID    string     `json:"external_id"`
	OddsTimestamp time.Time  `json:"odds_timestamp"`

	// Game identity hints, emitted verbatim. Teams may be abbreviations or
	// full names depending on the source.
	LeagueGameID   *int64             `json:"league_game_id,omitempty"`
	HomeTeam       string             `json:"home_team,omitempty"`
	AwayTeam       string             `json:"away_team,omitempty"`
	GameDate       time.Time          `json:"game_date,omitempty"`
	ScheduledStart *time.Time         `json:"scheduled_start,omitempty"`
	GameStatus     *models.GameStatus `json:"game_status,omitempty"`
	HomeScore      *int               `json:"home_score,omitempty"`
	AwayScore      *int               `json:"away_score,omitempty"`

	// Sportsbook identity hints, emitted verbatim.
	SportsbookExternalID   string `json:"sportsbook_external_id,omitempty"`
	SportsbookExternalName string `json:"sportsbook_external_name,omitempty"`

	Market     models.Market    `json:"market,omitempty"`
	HomePrice  *int             `json:"home_price,omitempty"`
	AwayPrice  *int             `json:"away_price,omitempty"`
	OverPrice  *int             `json:"over_price,omitempty"`
	UnderPrice *int             `json:"under_price,omitempty"`
	SpreadLine *decimal.Decimal `json:"spread_line,omitempty"`
	TotalLine  *decimal.Decimal `json:"total_line,omitempty"`

	// Decimal-odds fields for sources that quote European prices; staging
	// converts these to American integers when the integer fields are nil.
	HomePriceDec  *decimal.Decimal `json:"home_price_dec,omitempty"`
	AwayPriceDec  *decimal.Decimal `json:"away_price_dec,omitempty"`
	OverPriceDec  *decimal.Decimal `json:"over_price_dec,omitempty"`
	UnderPriceDec *decimal.Decimal `json:"under_price_dec,omitempty"`

	BetsPctHome  *float64 `json:"bets_pct_home,omitempty"`
	MoneyPctHome *float64 `json:"money_pct_home,omitempty"`
	BetsPctAway  *float64 `json:"bets_pct_away,omitempty"`
	MoneyPctAway *float64 `json:"money_pct_away,omitempty"`
}

// Parser turns one persisted raw payload back into provisional records. It
// must be a pure function of the record so the staging zone can be rebuilt
// from raw replays alone.
type Parser interface {
	Parse(rec *models.RawRecord) ([]ProvisionalRecord, error)
}

// Collector is the contract every source implements
type Collector interface {
	Parser

	// Name returns the source tag, which is also the raw table suffix
	Name() string

	// Enabled returns whether this collector is currently enabled
	Enabled() bool

	// Collect fetches everything the source has for the window and wraps it
	// in raw records ready for ingestion.
	Collect(ctx context.Context, start, end time.Time) ([]*models.RawRecord, error)

	// HealthProbe performs a minimal end-to-end check against the source
	HealthProbe(ctx context.Context) error
}

// Gate is the circuit-breaker view a collector consults before I/O. The
// health tracker owns the breaker; collectors only ask and report.
type Gate interface {
	// Allow returns models.ErrCircuitOpen (possibly wrapped) when no request
	// may be issued.
	Allow() error
	// Record reports the result of one request
	Record(success bool)
}

// CollectorError carries the failure taxonomy for one source operation
type CollectorError struct {
	Source  string // source tag
	Code    string // taxonomy code
	Message string
	Err     error
}

func (e CollectorError) Error() string {
	if e.Err != nil {
		return e.Source + ": " + e.Code + ": " + e.Message + " (" + e.Err.Error() + ")"
	}
	return e.Source + ": " + e.Code + ": " + e.Message
}

func (e CollectorError) Unwrap() error {
	return e.Err
}

// Taxonomy codes
const (
	ErrCodeRateLimitExceeded    = "rate_limit_exceeded"
	ErrCodeAuthenticationFailed = "authentication_failed"
	ErrCodeNotFound             = "not_found"
	ErrCodeInvalidData          = "invalid_data"
	ErrCodeNetworkError         = "network_error"
	ErrCodeServerError          = "server_error"
	ErrCodeTimeout              = "timeout"
	ErrCodeCircuitOpen          = "circuit_open"
	ErrCodeUnknown              = "unknown"
)

// NewCollectorError creates a new collector error
func NewCollectorError(source, code, message string, err error) CollectorError {
	return CollectorError{
		Source:  source,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
