package sharp

import "github.com/yourusername/line-drive/internal/models"

// bookSpan tracks one sportsbook's quotes inside a steam window
type bookSpan struct {
	firstVal float64
	lastVal  float64
	lastIdx  int
}

// MarkSteam scans all quotes for one (game, market) across sportsbooks and
// flags coordinated moves: a window in which enough of the quoting books
// moved the same direction by at least one tick. The flag lands on the quote
// that completed each participating book's move. Books that quote inside the
// window without moving still count against the ratio.
func (d *Detector) MarkSteam(lines []*models.BettingLine) {
	if len(lines) < 4 {
		// a coordinated move needs two books with two quotes each
		return
	}
	models.SortMovement(lines)
	window := d.cfg.SteamWindow()
	tick := d.tick(lines[0].Market)

	start := 0
	for end := range lines {
		cutoff := lines[end].OddsTimestamp.Add(-window)
		for start < end && lines[start].OddsTimestamp.Before(cutoff) {
			start++
		}

		spans := make(map[int]*bookSpan)
		for j := start; j <= end; j++ {
			v, ok := steamValue(lines[j])
			if !ok {
				continue
			}
			sp := spans[lines[j].SportsbookID]
			if sp == nil {
				sp = &bookSpan{firstVal: v}
				spans[lines[j].SportsbookID] = sp
			}
			sp.lastVal = v
			sp.lastIdx = j
		}
		if len(spans) < 2 {
			continue
		}

		var up, down int
		for _, sp := range spans {
			switch delta := sp.lastVal - sp.firstVal; {
			case delta >= tick:
				up++
			case delta <= -tick:
				down++
			}
		}
		for _, dir := range [2]float64{1, -1} {
			movers := up
			if dir < 0 {
				movers = down
			}
			// a lone book cannot steam the market, whatever the ratio says
			if movers < 2 || float64(movers)/float64(len(spans)) < d.cfg.SteamBookRatio {
				continue
			}
			for _, sp := range spans {
				if dir*(sp.lastVal-sp.firstVal) >= tick {
					lines[sp.lastIdx].Steam = true
				}
			}
		}
	}
}

// steamValue extracts the number a book's movement direction is judged by.
// Moneylines move as a price pair, so the home price stands in for the pair.
func steamValue(l *models.BettingLine) (float64, bool) {
	switch l.Market {
	case models.MarketMoneyline:
		if l.HomePrice == nil {
			return 0, false
		}
		return float64(*l.HomePrice), true
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
