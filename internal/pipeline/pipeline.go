// Package pipeline implements the three processing zones and their
// orchestration: append-only raw ingestion, staging normalization with
// identity resolution and quality scoring, and curated deduplication with
// sharp-signal detection. Zones run in dependency order under one
// PipelineRun; records flow through bounded, key-partitioned worker queues.
package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourusername/line-drive/internal/collector"
	"github.com/yourusername/line-drive/internal/models"
)

// Rejection reasons recorded in zone metrics
const (
	RejectUnknownGame       = "unknown_game"
	RejectUnknownSportsbook = "unknown_sportsbook"
	RejectInvalidOdds       = "invalid_odds"
	RejectInvalidTimestamp  = "invalid_timestamp"
	RejectDuplicate         = "duplicate"
	RejectSchemaViolation   = "schema_violation"
	RejectParseError        = "parse_error"
)

// American odds sanity bounds. Values between -100 and +100 exclusive are
// not representable American prices.
const (
	oddsFloor = -100000
	oddsCeil  = 100000
)

var (
	decimalOne     = decimal.NewFromInt(1)
	decimalTwo     = decimal.NewFromInt(2)
	decimalHundred = decimal.NewFromInt(100)
)

// validAmerican checks an American price against the sanity range
func validAmerican(v int) bool {
	if v > -100 && v < 100 {
		return false
	}
	return v >= oddsFloor && v <= oddsCeil
}

// americanFromDecimal converts European decimal odds to the nearest American
// integer price. Decimals at or below 1.0 pay nothing and do not convert.
func americanFromDecimal(dec decimal.Decimal) (int, bool) {
	if dec.LessThanOrEqual(decimalOne) {
		return 0, false
	}
	if dec.GreaterThanOrEqual(decimalTwo) {
		return int(dec.Sub(decimalOne).Mul(decimalHundred).Round(0).IntPart()), true
	}
	return int(decimalHundred.Div(dec.Sub(decimalOne)).Round(0).Neg().IntPart()), true
}

// snapHalf snaps a spread or total line to the nearest half point
func snapHalf(d decimal.Decimal) decimal.Decimal {
	return d.Mul(decimalTwo).Round(0).Div(decimalTwo)
}

// clipPct keeps a percentage inside [0, 100]: small overshoots clip to the
// bound, anything further off is nulled rather than guessed at.
func clipPct(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	switch {
	case v >= 0 && v <= 100:
		return p
	case v > 100 && v <= 101:
		c := 100.0
		return &c
	case v < 0 && v >= -1:
		c := 0.0
		return &c
	default:
		return nil
	}
}

// resolvePrice picks the American integer price, converting the decimal
// quote when only that was supplied. The bool reports a conversion or range
// failure.
func resolvePrice(american *int, dec *decimal.Decimal) (*int, bool) {
	if american != nil {
		if !validAmerican(*american) {
			return nil, false
		}
		return american, true
	}
	if dec == nil {
		return nil, true
	}
	v, ok := americanFromDecimal(*dec)
	if !ok || !validAmerican(v) {
		return nil, false
	}
	return &v, true
}

// completenessOf scores how much of the market's expected price content a
// line carries. Volume splits are enrichment, not expectation, so they do
// not count against a board-only source.
func completenessOf(l *models.BettingLine) float64 {
	var filled, expected int
	count := func(ps ...*int) {
		for _, p := range ps {
			expected++
			if p != nil {
				filled++
			}
		}
	}
	switch l.Market {
	case models.MarketMoneyline:
		count(l.HomePrice, l.AwayPrice)
	case models.MarketSpread:
		expected++
		if l.SpreadLine != nil {
			filled++
		}
		count(l.HomePrice, l.AwayPrice)
	case models.MarketTotal:
		expected++
		if l.TotalLine != nil {
			filled++
		}
		count(l.OverPrice, l.UnderPrice)
	}
	if expected == 0 {
		return 0
	}
	return float64(filled) / float64(expected)
}

// buildLine normalizes one resolved provisional record into a staging line:
// decimal quotes become American integers, lines snap to half points,
// percentages clip into range, and the timestamp lands in UTC at microsecond
// precision. It returns the line, or the rejection reason that stopped it.
func buildLine(prov *collector.ProvisionalRecord, game *models.Game, book *models.Sportsbook, reliability float64) (*models.BettingLine, string) {
	if prov.OddsTimestamp.IsZero() {
		return nil, RejectInvalidTimestamp
	}

	line := &models.BettingLine{
		ID:            uuid.New(),
		GameID:        game.ID,
		SportsbookID:  book.ID,
		Market:        prov.Market,
		Source:        prov.Source,
		ExternalID:    prov.ExternalID,
		OddsTimestamp: prov.OddsTimestamp.UTC().Truncate(time.Microsecond),
	}

	switch prov.Market {
	case models.MarketMoneyline:
		home, ok := resolvePrice(prov.HomePrice, prov.HomePriceDec)
		if !ok {
			return nil, RejectInvalidOdds
		}
		away, ok := resolvePrice(prov.AwayPrice, prov.AwayPriceDec)
		if !ok {
			return nil, RejectInvalidOdds
		}
		line.HomePrice, line.AwayPrice = home, away

	case models.MarketSpread:
		if prov.SpreadLine == nil {
			return nil, RejectSchemaViolation
		}
		snapped := snapHalf(*prov.SpreadLine)
		line.SpreadLine = &snapped
		home, ok := resolvePrice(prov.HomePrice, prov.HomePriceDec)
		if !ok {
			return nil, RejectInvalidOdds
		}
		away, ok := resolvePrice(prov.AwayPrice, prov.AwayPriceDec)
		if !ok {
			return nil, RejectInvalidOdds
		}
		line.HomePrice, line.AwayPrice = home, away

	case models.MarketTotal:
		if prov.TotalLine == nil {
			return nil, RejectSchemaViolation
		}
		snapped := snapHalf(*prov.TotalLine)
		line.TotalLine = &snapped
		over, ok := resolvePrice(prov.OverPrice, prov.OverPriceDec)
		if !ok {
			return nil, RejectInvalidOdds
		}
		under, ok := resolvePrice(prov.UnderPrice, prov.UnderPriceDec)
		if !ok {
			return nil, RejectInvalidOdds
		}
		line.OverPrice, line.UnderPrice = over, under

	default:
		return nil, RejectSchemaViolation
	}

	line.BetsPctHome = clipPct(prov.BetsPctHome)
	line.MoneyPctHome = clipPct(prov.MoneyPctHome)
	line.BetsPctAway = clipPct(prov.BetsPctAway)
	line.MoneyPctAway = clipPct(prov.MoneyPctAway)

	line.CompletenessScore = completenessOf(line)
	line.ReliabilityScore = reliability
	line.DataQuality = models.QualityTier(line.CompletenessScore, reliability, true)

	return line, ""
}

// reliabilityOf looks a source up in the reliability table; unknown sources
// score the neutral midpoint rather than zero, which would poison quality
// tiers for a merely unconfigured source.
func reliabilityOf(table map[string]float64, source string) float64 {
	if score, ok := table[source]; ok {
		return score
	}
	return 0.5
}

// gameFromProvisional builds a canonical game row from a schedule record
// whose team names have already been canonicalized
func gameFromProvisional(prov *collector.ProvisionalRecord, home, away string) *models.Game {
	scheduled := prov.GameDate
	if prov.ScheduledStart != nil {
		scheduled = *prov.ScheduledStart
	}
	status := models.GameStatusScheduled
	if prov.GameStatus != nil {
		status = *prov.GameStatus
	}
	return &models.Game{
		ID:                 uuid.New(),
		CanonicalKey:       models.CanonicalGameKey(prov.GameDate, home, away),
		LeagueGameID:       prov.LeagueGameID,
		GameDate:           prov.GameDate,
		ScheduledStartUTC:  scheduled.UTC(),
		ScheduledStartEast: scheduled.In(models.Eastern()),
		HomeTeam:           home,
		AwayTeam:           away,
		Status:             status,
	}
}

// newZoneMetrics returns zeroed metrics with the maps ready to increment
func newZoneMetrics() *models.ZoneMetrics {
	return &models.ZoneMetrics{
		Rejects:     make(map[string]int),
		QualityDist: make(map[string]int),
	}
}

// mergeZoneMetrics folds one worker's counters into the zone total
func mergeZoneMetrics(dst, src *models.ZoneMetrics) {
	dst.RecordsIn += src.RecordsIn
	dst.RecordsOut += src.RecordsOut
	dst.Errors += src.Errors
	dst.Quarantined += src.Quarantined
	for reason, n := range src.Rejects {
		dst.Rejects[reason] += n
	}
	for tier, n := range src.QualityDist {
		dst.QualityDist[tier] += n
	}
}

// lineKey is the idempotency key a staging line dedups under
func lineKey(l *models.BettingLine) string {
	return fmt.Sprintf("%s|%d|%s|%d", l.GameID, l.SportsbookID, l.Market, l.OddsTimestamp.UnixMicro())
}

// partitionKey routes a line to its staging worker. All quotes for one
// (game, sportsbook, market) land on the same worker, which serializes
// writes per key without locks.
func partitionKey(gameID uuid.UUID, sportsbookID int, market models.Market) string {
	return fmt.Sprintf("%s|%d|%s", gameID, sportsbookID, market)
}
