package sharp

import "github.com/yourusername/line-drive/internal/models"

// MarkRLM scans one movement sequence, quotes sharing a (game, sportsbook,
// market) key, and flags every quote whose price moved against the
// majority-bet side by at least one tick inside the rolling window. Against
// means shorter odds for the majority side on a moneyline, a harder handicap
// on a spread, and a higher (over) or lower (under) number on a total.
//
// Bet splits carry forward across the sequence: board-style quotes carry
// prices only, so the majority side holds from the most recent quote that
// reported splits.
func (d *Detector) MarkRLM(lines []*models.BettingLine) {
	if len(lines) < 2 {
		return
	}
	models.SortMovement(lines)
	window := d.cfg.RLMWindow()

	var betsHome, betsAway *float64
	for i := range lines {
		if lines[i].BetsPctHome != nil && lines[i].BetsPctAway != nil {
			betsHome, betsAway = lines[i].BetsPctHome, lines[i].BetsPctAway
		}
		if i == 0 || betsHome == nil || betsAway == nil {
			continue
		}
		var majorityHome bool
		switch {
		case *betsHome > 50 && *betsHome > *betsAway:
			majorityHome = true
		case *betsAway > 50 && *betsAway > *betsHome:
			majorityHome = false
		default:
			// an even split has no majority to bet against
			continue
		}

		cur, ok := movementValue(lines[i], majorityHome)
		if !ok {
			continue
		}
		down := againstIsDown(lines[i].Market, majorityHome)
		tick := d.tick(lines[i].Market)
		cutoff := lines[i].OddsTimestamp.Add(-window)
		for j := i - 1; j >= 0; j-- {
			if lines[j].OddsTimestamp.Before(cutoff) {
				break
			}
			prev, ok := movementValue(lines[j], majorityHome)
			if !ok {
				continue
			}
			moved := prev - cur
			if !down {
				moved = cur - prev
			}
			if moved >= tick {
				lines[i].RLM = true
				break
			}
		}
	}
}

// movementValue extracts the number the majority side is judged by: that
// side's own price on a moneyline, the shared line on spreads and totals.
func movementValue(l *models.BettingLine, majorityHome bool) (float64, bool) {
	switch l.Market {
	case models.MarketMoneyline:
		p := l.HomePrice
		if !majorityHome {
			p = l.AwayPrice
		}
		if p == nil {
			return 0, false
		}
		return float64(*p), true
	case models.MarketSpread:
		if l.SpreadLine == nil {
			return 0, false
		}
		return l.SpreadLine.InexactFloat64(), true
	default:
		if l.TotalLine == nil {
			return 0, false
		}
		return l.TotalLine.InexactFloat64(), true
	}
}

// againstIsDown reports whether a move against the majority side shows up as
// a numeric decrease of the movement value. American prices shorten downward
// on either side; a home handicap hardens downward; a total hurts the over
// by rising, so only the under side reads a decrease as against.
func againstIsDown(market models.Market, majorityHome bool) bool {
	switch market {
	case models.MarketMoneyline:
		return true
	case models.MarketSpread:
		return majorityHome
	default:
		return !majorityHome
	}
}
