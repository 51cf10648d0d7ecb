package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/models"
)

const wagerpctName = "wagerpct"

// WagerpctCollector is the tertiary splits provider. Its feed names sides by
// full team name, reports percentages as strings ("62%"), and stamps game
// starts in zone-less East-Coast local time.
type WagerpctCollector struct {
	cfg        config.CollectorConfig
	httpClient *RateLimitedHTTPClient
	logger     *logrus.Entry
}

type wagerFeed struct {
	GeneratedAt string            `json:"generated_at"`
	Games       []json.RawMessage `json:"games"`
}

type wagerGame struct {
	GID     string        `json:"gid"`
	Start   string        `json:"start"` // "2006-01-02 15:04", Eastern local
	Teams   wagerTeams    `json:"teams"`
	Book    string        `json:"book"` // display name only
	AsOf    string        `json:"as_of"`
	Markets []wagerMarket `json:"markets"`
}

type wagerTeams struct {
	Home string `json:"home"`
	Away string `json:"away"`
}

type wagerMarket struct {
	Type    string      `json:"type"` // ml, rl, ou
	Tickets wagerSides  `json:"tickets"`
	Handle  wagerSides  `json:"handle"`
	Price   *wagerPrice `json:"price,omitempty"`
	Number  *string     `json:"number,omitempty"` // runline or total, "-1.5" / "8.5"
}

type wagerSides struct {
	Home string `json:"home"`
	Away string `json:"away"`
}

type wagerPrice struct {
	Home *int `json:"home,omitempty"`
	Away *int `json:"away,omitempty"`
}

// NewWagerpctCollector creates the wagerpct collector
func NewWagerpctCollector(cfg config.CollectorConfig, httpClient *RateLimitedHTTPClient, logger *logrus.Entry) *WagerpctCollector {
	return &WagerpctCollector{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.WithField("collector", wagerpctName),
	}
}

// Name returns the source tag
func (c *WagerpctCollector) Name() string { return wagerpctName }

// Enabled returns whether the collector is enabled
func (c *WagerpctCollector) Enabled() bool { return c.cfg.Enabled }

// Collect fetches the percentages feed for the window's East-Coast dates
func (c *WagerpctCollector) Collect(ctx context.Context, start, end time.Time) ([]*models.RawRecord, error) {
	url := fmt.Sprintf("%s/feeds/mlb/percentages?from=%s&to=%s&key=%s",
		c.cfg.BaseURL,
		models.GameDateOf(start).Format("2006-01-02"),
		models.GameDateOf(end).Format("2006-01-02"),
		c.cfg.APIKey)

	resp, err := c.httpClient.Get(ctx, url)
	if err != nil {
		return nil, err
	}

	var feed wagerFeed
	err = json.NewDecoder(resp.Body).Decode(&feed)
	drainAndClose(resp)
	if err != nil {
		return nil, NewCollectorError(wagerpctName, ErrCodeInvalidData, "failed to parse percentages feed", err)
	}

	fetchedAt := time.Now().UTC()
	feedTS := fetchedAt
	if at, err := time.Parse(time.RFC3339, feed.GeneratedAt); err == nil {
		feedTS = at.UTC()
	}

	records := make([]*models.RawRecord, 0, len(feed.Games))
	for _, payload := range feed.Games {
		records = append(records, c.wrapGame(payload, fetchedAt, feedTS))
	}
	return records, nil
}

func (c *WagerpctCollector) wrapGame(payload json.RawMessage, fetchedAt, feedTS time.Time) *models.RawRecord {
	rec := &models.RawRecord{
		ID:        uuid.New(),
		Source:    wagerpctName,
		FetchedAt: fetchedAt,
		Payload:   append(json.RawMessage(nil), payload...),
	}

	var game wagerGame
	if err := json.Unmarshal(payload, &game); err != nil || game.GID == "" {
		rec.ExternalID = fmt.Sprintf("unparsed-%s", rec.ID)
		rec.OddsTimestamp = fetchedAt
		rec.ParseStatus = models.ParseStatusFailed
		reason := "percentages payload did not match provider schema"
		rec.InvalidReason = &reason
		return rec
	}

	rec.ExternalID = game.GID
	rec.OddsTimestamp = feedTS
	if at, err := time.Parse(time.RFC3339, game.AsOf); err == nil {
		rec.OddsTimestamp = at.UTC()
	}

	parsed, skipped := parseWagerGame(&game, rec.OddsTimestamp)
	switch {
	case len(parsed) > 0 && skipped == 0:
		rec.ParseStatus = models.ParseStatusParsed
		rec.Valid = true
	case len(parsed) > 0:
		rec.ParseStatus = models.ParseStatusPartial
		rec.Valid = true
	default:
		rec.ParseStatus = models.ParseStatusFailed
		reason := "no parsable market in percentages entry"
		rec.InvalidReason = &reason
	}

	return rec
}

// Parse re-derives provisional records from a persisted percentages payload
func (c *WagerpctCollector) Parse(rec *models.RawRecord) ([]ProvisionalRecord, error) {
	var game wagerGame
	if err := json.Unmarshal(rec.Payload, &game); err != nil {
		return nil, NewCollectorError(wagerpctName, ErrCodeInvalidData, "percentages payload did not match provider schema", err)
	}
	if game.GID == "" {
		return nil, NewCollectorError(wagerpctName, ErrCodeInvalidData, "percentages payload missing game id", nil)
	}

	parsed, _ := parseWagerGame(&game, rec.OddsTimestamp)
	return parsed, nil
}

// HealthProbe fetches the feed index page
func (c *WagerpctCollector) HealthProbe(ctx context.Context) error {
	resp, err := c.httpClient.Get(ctx, fmt.Sprintf("%s/feeds/mlb?key=%s", c.cfg.BaseURL, c.cfg.APIKey))
	if err != nil {
		return err
	}
	drainAndClose(resp)
	return nil
}

func parseWagerGame(game *wagerGame, fallbackTS time.Time) ([]ProvisionalRecord, int) {
	gameDate := models.GameDateOf(fallbackTS)
	var scheduled *time.Time
	if at, err := time.ParseInLocation("2006-01-02 15:04", game.Start, models.Eastern()); err == nil {
		utc := at.UTC()
		scheduled = &utc
		gameDate = models.GameDateOf(utc)
	}

	var records []ProvisionalRecord
	skipped := 0
	for _, market := range game.Markets {
		rec := ProvisionalRecord{
			Kind:                   KindLine,
			Source:                 wagerpctName,
			ExternalID:             game.GID,
			OddsTimestamp:          fallbackTS,
			HomeTeam:               game.Teams.Home,
			AwayTeam:               game.Teams.Away,
			GameDate:               gameDate,
			ScheduledStart:         scheduled,
			SportsbookExternalName: game.Book,
			BetsPctHome:            parsePct(market.Tickets.Home),
			BetsPctAway:            parsePct(market.Tickets.Away),
			MoneyPctHome:           parsePct(market.Handle.Home),
			MoneyPctAway:           parsePct(market.Handle.Away),
		}

		switch market.Type {
		case "ml":
			rec.Market = models.MarketMoneyline
			if market.Price != nil {
				rec.HomePrice = market.Price.Home
				rec.AwayPrice = market.Price.Away
			}
		case "rl":
			rec.Market = models.MarketSpread
			if market.Price != nil {
				rec.HomePrice = market.Price.Home
				rec.AwayPrice = market.Price.Away
			}
			rec.SpreadLine = stringToDecimal(market.Number)
		case "ou":
			// over and under ride the home and away slots in this feed
			rec.Market = models.MarketTotal
			if market.Price != nil {
				rec.OverPrice = market.Price.Home
				rec.UnderPrice = market.Price.Away
			}
			rec.BetsPctHome, rec.BetsPctAway = parsePct(market.Tickets.Home), parsePct(market.Tickets.Away)
			rec.MoneyPctHome, rec.MoneyPctAway = parsePct(market.Handle.Home), parsePct(market.Handle.Away)
			rec.TotalLine = stringToDecimal(market.Number)
		default:
			skipped++
			continue
		}

		records = append(records, rec)
	}

	return records, skipped
}

// parsePct turns "62%" (or "62") into 62.0; nil when absent or malformed
func parsePct(s string) *float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func stringToDecimal(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(*s))
	if err != nil {
		return nil
	}
	return &d
}
