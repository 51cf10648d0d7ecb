package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/models"
)

const mlbschedName = "mlbsched"

// MlbschedCollector pulls the league's public schedule feed. It is the
// authority for canonical game identity (league game id) and for final
// scores, not a source of betting lines.
type MlbschedCollector struct {
	cfg        config.CollectorConfig
	httpClient *RateLimitedHTTPClient
	logger     *logrus.Entry
}

type schedResponse struct {
	Dates []schedDate `json:"dates"`
}

type schedDate struct {
	Date  string            `json:"date"` // East-Coast calendar date
	Games []json.RawMessage `json:"games"`
}

type schedGame struct {
	GamePk   int64       `json:"gamePk"`
	GameDate string      `json:"gameDate"` // RFC3339, UTC
	Status   schedStatus `json:"status"`
	Teams    schedTeams  `json:"teams"`
}

type schedStatus struct {
	AbstractGameState string `json:"abstractGameState"`
	DetailedState     string `json:"detailedState"`
}

type schedTeams struct {
	Home schedSide `json:"home"`
	Away schedSide `json:"away"`
}

type schedSide struct {
	Team  schedTeam `json:"team"`
	Score *int      `json:"score,omitempty"`
}

type schedTeam struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
}

// NewMlbschedCollector creates the schedule collector
func NewMlbschedCollector(cfg config.CollectorConfig, httpClient *RateLimitedHTTPClient, logger *logrus.Entry) *MlbschedCollector {
	return &MlbschedCollector{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.WithField("collector", mlbschedName),
	}
}

// Name returns the source tag
func (c *MlbschedCollector) Name() string { return mlbschedName }

// Enabled returns whether the collector is enabled
func (c *MlbschedCollector) Enabled() bool { return c.cfg.Enabled }

// Collect fetches the schedule for the window's East-Coast dates. The feed
// has no per-game revision stamp, so records are keyed on the fetch minute:
// repeat sweeps inside one minute dedupe, later sweeps pick up status and
// score changes.
func (c *MlbschedCollector) Collect(ctx context.Context, start, end time.Time) ([]*models.RawRecord, error) {
	url := fmt.Sprintf("%s/api/v1/schedule?sportId=1&startDate=%s&endDate=%s&hydrate=team,linescore",
		c.cfg.BaseURL,
		models.GameDateOf(start).Format("2006-01-02"),
		models.GameDateOf(end).Format("2006-01-02"))

	resp, err := c.httpClient.Get(ctx, url)
	if err != nil {
		return nil, err
	}

	var sched schedResponse
	err = json.NewDecoder(resp.Body).Decode(&sched)
	drainAndClose(resp)
	if err != nil {
		return nil, NewCollectorError(mlbschedName, ErrCodeInvalidData, "failed to parse schedule response", err)
	}

	fetchedAt := time.Now().UTC()
	stamp := fetchedAt.Truncate(time.Minute)

	var records []*models.RawRecord
	for _, day := range sched.Dates {
		for _, payload := range day.Games {
			records = append(records, c.wrapGame(payload, day.Date, fetchedAt, stamp))
		}
	}
	return records, nil
}

func (c *MlbschedCollector) wrapGame(payload json.RawMessage, date string, fetchedAt, stamp time.Time) *models.RawRecord {
	rec := &models.RawRecord{
		ID:            uuid.New(),
		Source:        mlbschedName,
		FetchedAt:     fetchedAt,
		OddsTimestamp: stamp,
		Payload:       append(json.RawMessage(nil), payload...),
	}

	var game schedGame
	if err := json.Unmarshal(payload, &game); err != nil || game.GamePk == 0 {
		rec.ExternalID = fmt.Sprintf("unparsed-%s", rec.ID)
		rec.ParseStatus = models.ParseStatusFailed
		reason := "schedule payload did not match league schema"
		rec.InvalidReason = &reason
		return rec
	}

	rec.ExternalID = strconv.FormatInt(game.GamePk, 10)
	if _, err := parseSchedGame(&game, date, stamp); err != nil {
		rec.ParseStatus = models.ParseStatusFailed
		reason := err.Error()
		rec.InvalidReason = &reason
		return rec
	}

	rec.ParseStatus = models.ParseStatusParsed
	rec.Valid = true
	return rec
}

// Parse re-derives the game record from a persisted schedule payload
func (c *MlbschedCollector) Parse(rec *models.RawRecord) ([]ProvisionalRecord, error) {
	var game schedGame
	if err := json.Unmarshal(rec.Payload, &game); err != nil {
		return nil, NewCollectorError(mlbschedName, ErrCodeInvalidData, "schedule payload did not match league schema", err)
	}
	if game.GamePk == 0 {
		return nil, NewCollectorError(mlbschedName, ErrCodeInvalidData, "schedule payload missing gamePk", nil)
	}

	prov, err := parseSchedGame(&game, "", rec.OddsTimestamp)
	if err != nil {
		return nil, NewCollectorError(mlbschedName, ErrCodeInvalidData, err.Error(), nil)
	}
	return []ProvisionalRecord{*prov}, nil
}

// HealthProbe fetches today's schedule page
func (c *MlbschedCollector) HealthProbe(ctx context.Context) error {
	resp, err := c.httpClient.Get(ctx, c.cfg.BaseURL+"/api/v1/schedule?sportId=1")
	if err != nil {
		return err
	}
	drainAndClose(resp)
	return nil
}

func parseSchedGame(game *schedGame, date string, fallbackTS time.Time) (*ProvisionalRecord, error) {
	home := teamLabel(game.Teams.Home.Team)
	away := teamLabel(game.Teams.Away.Team)
	if home == "" || away == "" {
		return nil, fmt.Errorf("schedule entry %d missing team names", game.GamePk)
	}

	var scheduled *time.Time
	gameDate := models.GameDateOf(fallbackTS)
	if at, err := time.Parse(time.RFC3339, game.GameDate); err == nil {
		utc := at.UTC()
		scheduled = &utc
		gameDate = models.GameDateOf(utc)
	}
	// the feed's own date field wins over the derived one when present
	if at, err := time.ParseInLocation("2006-01-02", date, time.UTC); err == nil {
		gameDate = at
	}

	status := mapGameStatus(game.Status.DetailedState, game.Status.AbstractGameState)
	leagueID := game.GamePk

	rec := &ProvisionalRecord{
		Kind:           KindGame,
		Source:         mlbschedName,
		ExternalID:     strconv.FormatInt(game.GamePk, 10),
		OddsTimestamp:  fallbackTS,
		LeagueGameID:   &leagueID,
		HomeTeam:       home,
		AwayTeam:       away,
		GameDate:       gameDate,
		ScheduledStart: scheduled,
		GameStatus:     &status,
	}

	if status == models.GameStatusFinal {
		rec.HomeScore = game.Teams.Home.Score
		rec.AwayScore = game.Teams.Away.Score
	}

	return rec, nil
}

func teamLabel(t schedTeam) string {
	if t.Abbreviation != "" {
		return t.Abbreviation
	}
	return t.Name
}

// mapGameStatus folds the feed's detailed states onto the statuses the rest
// of the pipeline understands
func mapGameStatus(detailed, abstract string) models.GameStatus {
	switch detailed {
	case "Scheduled", "Pre-Game", "Warmup":
		return models.GameStatusScheduled
	case "In Progress", "Live":
		return models.GameStatusInProgress
	case "Final", "Game Over", "Completed Early":
		return models.GameStatusFinal
	case "Postponed":
		return models.GameStatusPostponed
	case "Cancelled", "Canceled":
		return models.GameStatusCancelled
	}
	if strings.HasPrefix(detailed, "Delayed") || strings.HasPrefix(detailed, "Suspended") {
		return models.GameStatusDelayed
	}

	switch abstract {
	case "Live":
		return models.GameStatusInProgress
	case "Final":
		return models.GameStatusFinal
	}
	return models.GameStatusScheduled
}
