// Package sharp derives professional-money signals from curated betting
// lines: per-quote sharp-action tags from bet/money splits, reverse line
// movement over a quote sequence, and coordinated steam moves across
// sportsbooks. All detection runs on sequences in canonical movement order.
package sharp

import (
	"math"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/models"
)

// Detector evaluates sharp-money signals with configured thresholds
type Detector struct {
	cfg config.SharpConfig
}

// New creates a detector from the pipeline's sharp configuration
func New(cfg config.SharpConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Action classifies the bet/money split on a single quote and returns the
// tag together with the divergence of the side that triggered it. Divergence
// is money_pct minus bets_pct per side; a positive value means the money
// share outruns the ticket share. Quotes missing either percentage pair come
// back untagged.
func (d *Detector) Action(line *models.BettingLine) (models.SharpAction, float64) {
	if !line.HasVolumeSplits() {
		return models.SharpActionNone, 0
	}
	divHome := *line.MoneyPctHome - *line.BetsPctHome
	divAway := *line.MoneyPctAway - *line.BetsPctAway

	// A lopsided ticket count that the money does not follow is the louder
	// signal, so it wins when both conditions fire.
	if *line.BetsPctHome >= d.cfg.PublicFadeBetsPct && *line.MoneyPctHome < d.cfg.PublicFadeMoneyPct {
		return models.SharpActionPublicFade, divHome
	}
	if *line.BetsPctAway >= d.cfg.PublicFadeBetsPct && *line.MoneyPctAway < d.cfg.PublicFadeMoneyPct {
		return models.SharpActionPublicFade, divAway
	}

	if math.Abs(divHome) < d.cfg.DivergenceThreshold && math.Abs(divAway) < d.cfg.DivergenceThreshold {
		return models.SharpActionNone, 0
	}
	// Equal divergence on both sides leaves no relative side to favor.
	if divHome == divAway {
		return models.SharpActionNone, 0
	}
	if divHome > divAway {
		return heavyTag(line.Market, true), divHome
	}
	return heavyTag(line.Market, false), divAway
}

// heavyTag names the sharp side. Totals ride the home/away percentage slots
// as over/under.
func heavyTag(market models.Market, home bool) models.SharpAction {
	if market == models.MarketTotal {
		if home {
			return models.SharpActionHeavyOver
		}
		return models.SharpActionHeavyUnder
	}
	if home {
		return models.SharpActionHeavyHome
	}
	return models.SharpActionHeavyAway
}

// tick is the minimum move that counts for the market: American price points
// for moneylines, line points for spreads and totals.
func (d *Detector) tick(market models.Market) float64 {
	if market == models.MarketMoneyline {
		return float64(d.cfg.MoneylineTick)
	}
	return d.cfg.LineTick
}
