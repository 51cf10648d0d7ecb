package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/models"
)

const sharpsplitsName = "sharpsplits"

// SharpsplitsCollector is the secondary betting-splits provider: per-market
// bet-count and money percentages alongside the prices they were read at.
type SharpsplitsCollector struct {
	cfg        config.CollectorConfig
	httpClient *RateLimitedHTTPClient
	logger     *logrus.Entry
}

// splitsEntry is one game/book pair with its market splits
type splitsEntry struct {
	EventID   string       `json:"event_id"`
	GameDate  string       `json:"game_date"` // East-Coast calendar date
	HomeTeam  string       `json:"home_team"` // abbreviation
	AwayTeam  string       `json:"away_team"`
	Scheduled string       `json:"scheduled"`
	Book      splitsBook   `json:"book"`
	UpdatedAt string       `json:"updated_at"`
	Splits    []splitsLine `json:"splits"`
}

type splitsBook struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type splitsLine struct {
	Market       string   `json:"market"` // moneyline, spread, total
	HomePrice    *int     `json:"home_price,omitempty"`
	AwayPrice    *int     `json:"away_price,omitempty"`
	Line         *float64 `json:"line,omitempty"`
	OverPrice    *int     `json:"over_price,omitempty"`
	UnderPrice   *int     `json:"under_price,omitempty"`
	BetsPctHome  *float64 `json:"bets_pct_home,omitempty"`
	MoneyPctHome *float64 `json:"money_pct_home,omitempty"`
	BetsPctAway  *float64 `json:"bets_pct_away,omitempty"`
	MoneyPctAway *float64 `json:"money_pct_away,omitempty"`
}

// NewSharpsplitsCollector creates the splits collector
func NewSharpsplitsCollector(cfg config.CollectorConfig, httpClient *RateLimitedHTTPClient, logger *logrus.Entry) *SharpsplitsCollector {
	return &SharpsplitsCollector{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.WithField("collector", sharpsplitsName),
	}
}

// Name returns the source tag
func (c *SharpsplitsCollector) Name() string { return sharpsplitsName }

// Enabled returns whether the collector is enabled
func (c *SharpsplitsCollector) Enabled() bool { return c.cfg.Enabled }

// Collect fetches splits for every East-Coast game date the window touches
func (c *SharpsplitsCollector) Collect(ctx context.Context, start, end time.Time) ([]*models.RawRecord, error) {
	var records []*models.RawRecord

	first := models.GameDateOf(start)
	last := models.GameDateOf(end)
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		url := fmt.Sprintf("%s/api/v2/mlb/splits?date=%s", c.cfg.BaseURL, day.Format("2006-01-02"))

		req, err := requestWithBearer(ctx, url, c.cfg.APIKey)
		if err != nil {
			return records, NewCollectorError(sharpsplitsName, ErrCodeUnknown, "failed to create request", err)
		}

		resp, err := c.httpClient.Do(ctx, req)
		if err != nil {
			return records, err
		}

		var payloads []json.RawMessage
		err = json.NewDecoder(resp.Body).Decode(&payloads)
		drainAndClose(resp)
		if err != nil {
			return records, NewCollectorError(sharpsplitsName, ErrCodeInvalidData, "failed to parse splits response", err)
		}

		fetchedAt := time.Now().UTC()
		for _, payload := range payloads {
			records = append(records, c.wrapEntry(payload, fetchedAt))
		}
	}

	return records, nil
}

func (c *SharpsplitsCollector) wrapEntry(payload json.RawMessage, fetchedAt time.Time) *models.RawRecord {
	rec := &models.RawRecord{
		ID:        uuid.New(),
		Source:    sharpsplitsName,
		FetchedAt: fetchedAt,
		Payload:   append(json.RawMessage(nil), payload...),
	}

	var entry splitsEntry
	if err := json.Unmarshal(payload, &entry); err != nil || entry.EventID == "" {
		rec.ExternalID = fmt.Sprintf("unparsed-%s", rec.ID)
		rec.OddsTimestamp = fetchedAt
		rec.ParseStatus = models.ParseStatusFailed
		reason := "splits payload did not match provider schema"
		rec.InvalidReason = &reason
		return rec
	}

	rec.ExternalID = entry.EventID
	rec.OddsTimestamp = fetchedAt
	if at, err := time.Parse(time.RFC3339, entry.UpdatedAt); err == nil {
		rec.OddsTimestamp = at.UTC()
	}

	parsed, skipped := parseSplitsEntry(&entry, rec.OddsTimestamp)
	switch {
	case len(parsed) > 0 && skipped == 0:
		rec.ParseStatus = models.ParseStatusParsed
		rec.Valid = true
	case len(parsed) > 0:
		rec.ParseStatus = models.ParseStatusPartial
		rec.Valid = true
	default:
		rec.ParseStatus = models.ParseStatusFailed
		reason := "no parsable market in splits entry"
		rec.InvalidReason = &reason
	}

	return rec
}

// Parse re-derives provisional records from a persisted splits payload
func (c *SharpsplitsCollector) Parse(rec *models.RawRecord) ([]ProvisionalRecord, error) {
	var entry splitsEntry
	if err := json.Unmarshal(rec.Payload, &entry); err != nil {
		return nil, NewCollectorError(sharpsplitsName, ErrCodeInvalidData, "splits payload did not match provider schema", err)
	}
	if entry.EventID == "" {
		return nil, NewCollectorError(sharpsplitsName, ErrCodeInvalidData, "splits payload missing event id", nil)
	}

	parsed, _ := parseSplitsEntry(&entry, rec.OddsTimestamp)
	return parsed, nil
}

// HealthProbe fetches the provider status endpoint
func (c *SharpsplitsCollector) HealthProbe(ctx context.Context) error {
	req, err := requestWithBearer(ctx, c.cfg.BaseURL+"/api/v2/status", c.cfg.APIKey)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return err
	}
	drainAndClose(resp)
	return nil
}

func parseSplitsEntry(entry *splitsEntry, fallbackTS time.Time) ([]ProvisionalRecord, int) {
	gameDate, err := time.ParseInLocation("2006-01-02", entry.GameDate, time.UTC)
	if err != nil {
		gameDate = models.GameDateOf(fallbackTS)
	}

	var scheduled *time.Time
	if at, err := time.Parse(time.RFC3339, entry.Scheduled); err == nil {
		utc := at.UTC()
		scheduled = &utc
	}

	var records []ProvisionalRecord
	skipped := 0
	for _, split := range entry.Splits {
		rec := ProvisionalRecord{
			Kind:                   KindLine,
			Source:                 sharpsplitsName,
			ExternalID:             entry.EventID,
			OddsTimestamp:          fallbackTS,
			HomeTeam:               entry.HomeTeam,
			AwayTeam:               entry.AwayTeam,
			GameDate:               gameDate,
			ScheduledStart:         scheduled,
			SportsbookExternalID:   entry.Book.ID,
			SportsbookExternalName: entry.Book.Name,
			BetsPctHome:            split.BetsPctHome,
			MoneyPctHome:           split.MoneyPctHome,
			BetsPctAway:            split.BetsPctAway,
			MoneyPctAway:           split.MoneyPctAway,
		}

		switch split.Market {
		case "moneyline":
			rec.Market = models.MarketMoneyline
			rec.HomePrice = split.HomePrice
			rec.AwayPrice = split.AwayPrice
		case "spread":
			rec.Market = models.MarketSpread
			rec.HomePrice = split.HomePrice
			rec.AwayPrice = split.AwayPrice
			rec.SpreadLine = floatToDecimal(split.Line)
		case "total":
			rec.Market = models.MarketTotal
			rec.OverPrice = split.OverPrice
			rec.UnderPrice = split.UnderPrice
			rec.TotalLine = floatToDecimal(split.Line)
		default:
			skipped++
			continue
		}

		records = append(records, rec)
	}

	return records, skipped
}

func floatToDecimal(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}
