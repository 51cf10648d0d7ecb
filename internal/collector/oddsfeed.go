package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/models"
)

const (
	oddsfeedName  = "oddsfeed"
	oddsfeedSport = "baseball_mlb"

	// Sweeps wider than this also pull hourly historical snapshots so a
	// backfill run reconstructs intra-window movement.
	oddsfeedHistoryThreshold = time.Hour
)

// OddsfeedCollector is the primary odds provider: games with current odds per
// sportsbook across all three markets, plus hourly historical snapshots.
type OddsfeedCollector struct {
	cfg        config.CollectorConfig
	httpClient *RateLimitedHTTPClient
	logger     *logrus.Entry
}

// feedEvent is one game with per-bookmaker odds as the provider ships it
type feedEvent struct {
	ID           string          `json:"id"`
	SportKey     string          `json:"sport_key"`
	CommenceTime string          `json:"commence_time"`
	HomeTeam     string          `json:"home_team"`
	AwayTeam     string          `json:"away_team"`
	Bookmakers   []feedBookmaker `json:"bookmakers"`
}

type feedBookmaker struct {
	Key        string       `json:"key"`
	Title      string       `json:"title"`
	LastUpdate string       `json:"last_update"`
	Markets    []feedMarket `json:"markets"`
}

type feedMarket struct {
	Key      string        `json:"key"` // h2h, spreads, totals
	Outcomes []feedOutcome `json:"outcomes"`
}

type feedOutcome struct {
	Name  string   `json:"name"`
	Price float64  `json:"price"` // American odds (integer-valued)
	Point *float64 `json:"point,omitempty"`
}

// feedSnapshot is the envelope of the historical snapshot endpoint
type feedSnapshot struct {
	Timestamp string            `json:"timestamp"`
	Data      []json.RawMessage `json:"data"`
}

// NewOddsfeedCollector creates the primary odds collector
func NewOddsfeedCollector(cfg config.CollectorConfig, httpClient *RateLimitedHTTPClient, logger *logrus.Entry) *OddsfeedCollector {
	return &OddsfeedCollector{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.WithField("collector", oddsfeedName),
	}
}

// Name returns the source tag
func (c *OddsfeedCollector) Name() string { return oddsfeedName }

// Enabled returns whether the collector is enabled
func (c *OddsfeedCollector) Enabled() bool { return c.cfg.Enabled }

// Collect fetches current odds for games commencing inside the window, plus
// hourly historical snapshots when the window is wide enough to be a backfill.
func (c *OddsfeedCollector) Collect(ctx context.Context, start, end time.Time) ([]*models.RawRecord, error) {
	url := fmt.Sprintf("%s/v4/sports/%s/odds?apiKey=%s&regions=us&markets=h2h,spreads,totals&oddsFormat=american&dateFormat=iso&commenceTimeFrom=%s&commenceTimeTo=%s",
		c.cfg.BaseURL, oddsfeedSport, c.cfg.APIKey,
		start.UTC().Format("2006-01-02T15:04:05Z"),
		end.UTC().Add(36*time.Hour).Format("2006-01-02T15:04:05Z"))

	payloads, err := c.fetchEventList(ctx, url)
	if err != nil {
		return nil, err
	}

	fetchedAt := time.Now().UTC()
	records := c.wrapEvents(payloads, fetchedAt)

	if end.Sub(start) > oddsfeedHistoryThreshold {
		history, err := c.collectHistory(ctx, start, end)
		if err != nil {
			// Current odds already fetched; a history failure degrades the
			// sweep instead of voiding it.
			c.logger.WithError(err).Warn("Historical snapshot fetch failed")
		} else {
			records = append(records, history...)
		}
	}

	return records, nil
}

// collectHistory walks the window in hourly steps and captures the snapshot
// the provider held at each step. Idempotency keys collapse unchanged odds.
func (c *OddsfeedCollector) collectHistory(ctx context.Context, start, end time.Time) ([]*models.RawRecord, error) {
	var records []*models.RawRecord
	for at := start.Truncate(time.Hour); at.Before(end); at = at.Add(time.Hour) {
		url := fmt.Sprintf("%s/v4/historical/sports/%s/odds?apiKey=%s&regions=us&markets=h2h,spreads,totals&oddsFormat=american&dateFormat=iso&date=%s",
			c.cfg.BaseURL, oddsfeedSport, c.cfg.APIKey, at.UTC().Format("2006-01-02T15:04:05Z"))

		resp, err := c.httpClient.Get(ctx, url)
		if err != nil {
			return records, err
		}

		var snap feedSnapshot
		err = json.NewDecoder(resp.Body).Decode(&snap)
		drainAndClose(resp)
		if err != nil {
			return records, NewCollectorError(oddsfeedName, ErrCodeInvalidData, "failed to parse snapshot", err)
		}

		records = append(records, c.wrapEvents(snap.Data, time.Now().UTC())...)
	}
	return records, nil
}

func (c *OddsfeedCollector) fetchEventList(ctx context.Context, url string) ([]json.RawMessage, error) {
	resp, err := c.httpClient.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp)

	var payloads []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payloads); err != nil {
		return nil, NewCollectorError(oddsfeedName, ErrCodeInvalidData, "failed to parse odds response", err)
	}
	return payloads, nil
}

// wrapEvents turns verbatim per-event payloads into raw records. The odds
// timestamp is the newest bookmaker update in the event, so a re-fetch of an
// unchanged board maps onto the same idempotency key.
func (c *OddsfeedCollector) wrapEvents(payloads []json.RawMessage, fetchedAt time.Time) []*models.RawRecord {
	records := make([]*models.RawRecord, 0, len(payloads))
	for _, payload := range payloads {
		rec := &models.RawRecord{
			ID:        uuid.New(),
			Source:    oddsfeedName,
			FetchedAt: fetchedAt,
			Payload:   append(json.RawMessage(nil), payload...),
		}

		var event feedEvent
		if err := json.Unmarshal(payload, &event); err != nil || event.ID == "" {
			rec.ExternalID = fmt.Sprintf("unparsed-%s", rec.ID)
			rec.OddsTimestamp = fetchedAt
			rec.ParseStatus = models.ParseStatusFailed
			reason := "event payload did not match provider schema"
			rec.InvalidReason = &reason
			records = append(records, rec)
			continue
		}

		rec.ExternalID = event.ID
		rec.OddsTimestamp = newestBookmakerUpdate(&event, fetchedAt)

		parsed, skipped := parseFeedEvent(&event, rec.OddsTimestamp)
		switch {
		case len(parsed) > 0 && skipped == 0:
			rec.ParseStatus = models.ParseStatusParsed
			rec.Valid = true
		case len(parsed) > 0:
			rec.ParseStatus = models.ParseStatusPartial
			rec.Valid = true
		default:
			rec.ParseStatus = models.ParseStatusFailed
			reason := "no parsable market in event"
			rec.InvalidReason = &reason
		}
		records = append(records, rec)
	}
	return records
}

// Parse re-derives provisional line records from a persisted event payload
func (c *OddsfeedCollector) Parse(rec *models.RawRecord) ([]ProvisionalRecord, error) {
	var event feedEvent
	if err := json.Unmarshal(rec.Payload, &event); err != nil {
		return nil, NewCollectorError(oddsfeedName, ErrCodeInvalidData, "event payload did not match provider schema", err)
	}
	if event.ID == "" {
		return nil, NewCollectorError(oddsfeedName, ErrCodeInvalidData, "event payload missing id", nil)
	}

	parsed, _ := parseFeedEvent(&event, rec.OddsTimestamp)
	return parsed, nil
}

// HealthProbe fetches the cheap sport-list endpoint
func (c *OddsfeedCollector) HealthProbe(ctx context.Context) error {
	resp, err := c.httpClient.Get(ctx, fmt.Sprintf("%s/v4/sports?apiKey=%s", c.cfg.BaseURL, c.cfg.APIKey))
	if err != nil {
		return err
	}
	drainAndClose(resp)
	return nil
}

func parseFeedEvent(event *feedEvent, fallbackTS time.Time) ([]ProvisionalRecord, int) {
	commence, err := time.Parse(time.RFC3339, event.CommenceTime)
	if err != nil {
		commence = fallbackTS
	}
	gameDate := models.GameDateOf(commence)

	var records []ProvisionalRecord
	skipped := 0
	for _, bm := range event.Bookmakers {
		ts := fallbackTS
		if at, err := time.Parse(time.RFC3339, bm.LastUpdate); err == nil {
			ts = at.UTC()
		}

		for _, market := range bm.Markets {
			rec := ProvisionalRecord{
				Kind:                   KindLine,
				Source:                 oddsfeedName,
				ExternalID:             event.ID,
				OddsTimestamp:          ts,
				HomeTeam:               event.HomeTeam,
				AwayTeam:               event.AwayTeam,
				GameDate:               gameDate,
				ScheduledStart:         &commence,
				SportsbookExternalID:   bm.Key,
				SportsbookExternalName: bm.Title,
			}

			switch market.Key {
			case "h2h":
				rec.Market = models.MarketMoneyline
				rec.HomePrice = americanPriceFor(market.Outcomes, event.HomeTeam)
				rec.AwayPrice = americanPriceFor(market.Outcomes, event.AwayTeam)
				if rec.HomePrice == nil && rec.AwayPrice == nil {
					skipped++
					continue
				}
			case "spreads":
				rec.Market = models.MarketSpread
				rec.HomePrice = americanPriceFor(market.Outcomes, event.HomeTeam)
				rec.AwayPrice = americanPriceFor(market.Outcomes, event.AwayTeam)
				rec.SpreadLine = pointFor(market.Outcomes, event.HomeTeam)
				if rec.SpreadLine == nil {
					skipped++
					continue
				}
			case "totals":
				rec.Market = models.MarketTotal
				rec.OverPrice = americanPriceFor(market.Outcomes, "Over")
				rec.UnderPrice = americanPriceFor(market.Outcomes, "Under")
				rec.TotalLine = pointFor(market.Outcomes, "Over")
				if rec.TotalLine == nil {
					skipped++
					continue
				}
			default:
				skipped++
				continue
			}

			records = append(records, rec)
		}
	}
	return records, skipped
}

func newestBookmakerUpdate(event *feedEvent, fallback time.Time) time.Time {
	newest := time.Time{}
	for _, bm := range event.Bookmakers {
		if at, err := time.Parse(time.RFC3339, bm.LastUpdate); err == nil && at.After(newest) {
			newest = at
		}
	}
	if newest.IsZero() {
		return fallback
	}
	return newest.UTC()
}

func americanPriceFor(outcomes []feedOutcome, name string) *int {
	for _, o := range outcomes {
		if o.Name == name {
			price := int(math.Round(o.Price))
			return &price
		}
	}
	return nil
}

func pointFor(outcomes []feedOutcome, name string) *decimal.Decimal {
	for _, o := range outcomes {
		if o.Name == name && o.Point != nil {
			d := decimal.NewFromFloat(*o.Point)
			return &d
		}
	}
	return nil
}
