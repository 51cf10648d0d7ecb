package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Market enumerates the unified betting markets
type Market string

const (
	MarketMoneyline Market = "moneyline"
	MarketSpread    Market = "spread"
	MarketTotal     Market = "total"
)

// SharpAction tags which side professional money appears to be on
type SharpAction string

const (
	SharpActionNone       SharpAction = "none"
	SharpActionHeavyHome  SharpAction = "heavy_home"
	SharpActionHeavyAway  SharpAction = "heavy_away"
	SharpActionHeavyOver  SharpAction = "heavy_over"
	SharpActionHeavyUnder SharpAction = "heavy_under"
	SharpActionPublicFade SharpAction = "public_fade"
)

// DataQuality is the tier assigned to every unified line
type DataQuality string

const (
	DataQualityHigh   DataQuality = "HIGH"
	DataQualityMedium DataQuality = "MEDIUM"
	DataQualityLow    DataQuality = "LOW"
	DataQualityPoor   DataQuality = "POOR"
)

// BettingLine is one time-stamped quote for a (game, sportsbook, market) key.
// Market-specific fields are nullable; for totals the over/under sides occupy
// the home/away percentage slots.
type BettingLine struct {
	ID            uuid.UUID `db:"id" json:"id" validate:"required,uuid4"`
	GameID        uuid.UUID `db:"game_id" json:"game_id" validate:"required,uuid4"`
	SportsbookID  int       `db:"sportsbook_id" json:"sportsbook_id" validate:"required,gt=0"`
	Market        Market    `db:"market" json:"market" validate:"oneof=moneyline spread total"`
	Source        string    `db:"source" json:"source" validate:"required"`
	ExternalID    string    `db:"external_id" json:"external_id"`
	OddsTimestamp time.Time `db:"odds_timestamp" json:"odds_timestamp" validate:"required"`

	HomePrice  *int             `db:"home_price" json:"home_price"`
	AwayPrice  *int             `db:"away_price" json:"away_price"`
	SpreadLine *decimal.Decimal `db:"spread_line" json:"spread_line"`
	TotalLine  *decimal.Decimal `db:"total_line" json:"total_line"`
	OverPrice  *int             `db:"over_price" json:"over_price"`
	UnderPrice *int             `db:"under_price" json:"under_price"`

	BetsPctHome  *float64 `db:"bets_pct_home" json:"bets_pct_home"`
	MoneyPctHome *float64 `db:"money_pct_home" json:"money_pct_home"`
	BetsPctAway  *float64 `db:"bets_pct_away" json:"bets_pct_away"`
	MoneyPctAway *float64 `db:"money_pct_away" json:"money_pct_away"`

	SharpActionTag *SharpAction `db:"sharp_action" json:"sharp_action"`
	RLM            bool         `db:"rlm" json:"rlm"`
	Steam          bool         `db:"steam" json:"steam"`
	IsOpening      bool         `db:"is_opening" json:"is_opening"`
	IsClosing      bool         `db:"is_closing" json:"is_closing"`

	CompletenessScore float64     `db:"completeness_score" json:"completeness_score" validate:"gte=0,lte=1"`
	ReliabilityScore  float64     `db:"reliability_score" json:"reliability_score" validate:"gte=0,lte=1"`
	DataQuality       DataQuality `db:"data_quality" json:"data_quality" validate:"oneof=HIGH MEDIUM LOW POOR"`

	IngestSeq int64     `db:"ingest_seq" json:"ingest_seq"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MovementKey identifies the line-movement sequence this quote belongs to
func (l *BettingLine) MovementKey() string {
	return fmt.Sprintf("%s|%d|%s", l.GameID, l.SportsbookID, l.Market)
}

// HasVolumeSplits checks that both percentage pairs are present, which sharp
// detection requires.
func (l *BettingLine) HasVolumeSplits() bool {
	return l.BetsPctHome != nil && l.MoneyPctHome != nil &&
		l.BetsPctAway != nil && l.MoneyPctAway != nil
}

// Rank maps the tier to a comparable integer, POOR lowest
func (q DataQuality) Rank() int {
	switch q {
	case DataQualityHigh:
		return 3
	case DataQualityMedium:
		return 2
	case DataQualityLow:
		return 1
	default:
		return 0
	}
}

// QualityTier buckets completeness and reliability into a quality tier.
// Recomputing with the same inputs always yields the same bucket.
func QualityTier(completeness, reliability float64, hasSportsbook bool) DataQuality {
	switch {
	case completeness >= 0.9 && reliability >= 0.9 && hasSportsbook:
		return DataQualityHigh
	case completeness >= 0.6 && reliability >= 0.6:
		return DataQualityMedium
	case completeness >= 0.3 || reliability >= 0.3:
		return DataQualityLow
	default:
		return DataQualityPoor
	}
}

// SortMovement orders quotes into the canonical line-movement sequence:
// odds_timestamp ascending, ties by reliability descending, then ingestion
// order. All movement evaluation runs on sequences ordered this way.
func SortMovement(lines []*BettingLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		if !lines[i].OddsTimestamp.Equal(lines[j].OddsTimestamp) {
			return lines[i].OddsTimestamp.Before(lines[j].OddsTimestamp)
		}
		if lines[i].ReliabilityScore != lines[j].ReliabilityScore {
			return lines[i].ReliabilityScore > lines[j].ReliabilityScore
		}
		return lines[i].IngestSeq < lines[j].IngestSeq
	})
}
