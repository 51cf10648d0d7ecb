package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/models"
)

const (
	oddsboardName           = "oddsboard"
	oddsboardMinSession     = 5 * time.Second
	oddsboardDefaultSession = time.Minute
)

// OddsboardCollector consumes a push stream of board updates. Each sweep is
// one bounded session: dial, subscribe, read frames until the session budget
// or the context runs out, close. Prices arrive as European decimal odds.
type OddsboardCollector struct {
	cfg    config.CollectorConfig
	gate   Gate
	dialer *websocket.Dialer
	logger *logrus.Entry
}

type boardSubscribe struct {
	Op      string   `json:"op"`
	League  string   `json:"league"`
	Markets []string `json:"markets"`
	Key     string   `json:"key,omitempty"`
}

type boardFrame struct {
	Type   string      `json:"type"` // board, heartbeat, info
	TS     string      `json:"ts"`
	Event  *boardEvent `json:"event,omitempty"`
	Book   string      `json:"book,omitempty"`
	Market string      `json:"market,omitempty"`
	Line   *float64    `json:"line,omitempty"`
	Home   *float64    `json:"home,omitempty"`
	Away   *float64    `json:"away,omitempty"`
	Over   *float64    `json:"over,omitempty"`
	Under  *float64    `json:"under,omitempty"`
}

type boardEvent struct {
	ID    string `json:"id"`
	Home  string `json:"home"`
	Away  string `json:"away"`
	Start string `json:"start"`
}

// NewOddsboardCollector creates the stream collector
func NewOddsboardCollector(cfg config.CollectorConfig, gate Gate, logger *logrus.Entry) *OddsboardCollector {
	return &OddsboardCollector{
		cfg:  cfg,
		gate: gate,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.WithField("collector", oddsboardName),
	}
}

// Name returns the source tag
func (c *OddsboardCollector) Name() string { return oddsboardName }

// Enabled returns whether the collector is enabled
func (c *OddsboardCollector) Enabled() bool { return c.cfg.Enabled }

// Collect runs one stream session sized to the sweep window
func (c *OddsboardCollector) Collect(ctx context.Context, start, end time.Time) ([]*models.RawRecord, error) {
	if c.gate != nil {
		if err := c.gate.Allow(); err != nil {
			return nil, NewCollectorError(oddsboardName, ErrCodeCircuitOpen, "stream session blocked", err)
		}
	}

	session := end.Sub(start)
	if budget := c.sessionCap(); session > budget {
		session = budget
	}
	if session < oddsboardMinSession {
		session = oddsboardMinSession
	}

	sessionCtx, cancel := context.WithTimeout(ctx, session)
	defer cancel()

	conn, _, err := c.dialer.DialContext(sessionCtx, c.cfg.StreamURL, nil)
	if err != nil {
		c.record(false)
		if ctx.Err() == context.Canceled {
			return nil, context.Canceled
		}
		return nil, NewCollectorError(oddsboardName, ErrCodeNetworkError, "failed to connect to stream", err)
	}

	// unblock reads when the session budget or the caller's context expires
	watcherDone := make(chan struct{})
	go func() {
		select {
		case <-sessionCtx.Done():
			conn.Close()
		case <-watcherDone:
		}
	}()
	defer func() {
		close(watcherDone)
		conn.Close()
	}()

	sub := boardSubscribe{
		Op:      "subscribe",
		League:  "mlb",
		Markets: []string{"moneyline", "spread", "total"},
		Key:     c.cfg.APIKey,
	}
	if err := conn.WriteJSON(sub); err != nil {
		c.record(false)
		return nil, NewCollectorError(oddsboardName, ErrCodeNetworkError, "failed to subscribe to stream", err)
	}

	var records []*models.RawRecord
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == context.Canceled {
				return records, context.Canceled
			}
			if sessionCtx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				break
			}
			// a drop after frames landed degrades the session, it does not void it
			if len(records) > 0 {
				c.logger.WithError(err).Warn("stream session ended early")
				break
			}
			c.record(false)
			return nil, NewCollectorError(oddsboardName, ErrCodeNetworkError, "stream read failed", err)
		}

		if rec := c.wrapFrame(message, time.Now().UTC()); rec != nil {
			records = append(records, rec)
		}
	}

	c.record(true)
	return records, nil
}

func (c *OddsboardCollector) wrapFrame(message []byte, receivedAt time.Time) *models.RawRecord {
	var frame boardFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		rec := &models.RawRecord{
			ID:            uuid.New(),
			Source:        oddsboardName,
			FetchedAt:     receivedAt,
			OddsTimestamp: receivedAt,
			Payload:       append(json.RawMessage(nil), message...),
			ParseStatus:   models.ParseStatusFailed,
		}
		rec.ExternalID = fmt.Sprintf("unparsed-%s", rec.ID)
		reason := "stream frame did not match board schema"
		rec.InvalidReason = &reason
		return rec
	}

	if frame.Type != "board" {
		return nil // heartbeats and info frames keep the socket warm, nothing more
	}

	rec := &models.RawRecord{
		ID:            uuid.New(),
		Source:        oddsboardName,
		FetchedAt:     receivedAt,
		OddsTimestamp: receivedAt,
		Payload:       append(json.RawMessage(nil), message...),
	}
	if at, err := time.Parse(time.RFC3339, frame.TS); err == nil {
		rec.OddsTimestamp = at.UTC()
	}

	if frame.Event == nil || frame.Event.ID == "" || frame.Book == "" {
		rec.ExternalID = fmt.Sprintf("unparsed-%s", rec.ID)
		rec.ParseStatus = models.ParseStatusFailed
		reason := "board frame missing event or book identity"
		rec.InvalidReason = &reason
		return rec
	}

	// one frame carries one book/market pair, so identity needs all three parts
	rec.ExternalID = fmt.Sprintf("%s|%s|%s", frame.Event.ID, frame.Book, frame.Market)

	if _, err := parseBoardFrame(&frame, rec.OddsTimestamp); err != nil {
		rec.ParseStatus = models.ParseStatusFailed
		reason := err.Error()
		rec.InvalidReason = &reason
		return rec
	}

	rec.ParseStatus = models.ParseStatusParsed
	rec.Valid = true
	return rec
}

// Parse re-derives the provisional line from a persisted board frame
func (c *OddsboardCollector) Parse(rec *models.RawRecord) ([]ProvisionalRecord, error) {
	var frame boardFrame
	if err := json.Unmarshal(rec.Payload, &frame); err != nil {
		return nil, NewCollectorError(oddsboardName, ErrCodeInvalidData, "stream frame did not match board schema", err)
	}
	if frame.Event == nil || frame.Event.ID == "" {
		return nil, NewCollectorError(oddsboardName, ErrCodeInvalidData, "board frame missing event identity", nil)
	}

	prov, err := parseBoardFrame(&frame, rec.OddsTimestamp)
	if err != nil {
		return nil, NewCollectorError(oddsboardName, ErrCodeInvalidData, err.Error(), nil)
	}
	return []ProvisionalRecord{*prov}, nil
}

// HealthProbe dials the stream endpoint and closes immediately
func (c *OddsboardCollector) HealthProbe(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.StreamURL, nil)
	if err != nil {
		return NewCollectorError(oddsboardName, ErrCodeNetworkError, "stream endpoint unreachable", err)
	}
	return conn.Close()
}

func (c *OddsboardCollector) sessionCap() time.Duration {
	if c.cfg.SweepIntervalS > 0 {
		return time.Duration(c.cfg.SweepIntervalS) * time.Second
	}
	return oddsboardDefaultSession
}

func (c *OddsboardCollector) record(success bool) {
	if c.gate != nil {
		c.gate.Record(success)
	}
}

func parseBoardFrame(frame *boardFrame, ts time.Time) (*ProvisionalRecord, error) {
	gameDate := models.GameDateOf(ts)
	var scheduled *time.Time
	if at, err := time.Parse(time.RFC3339, frame.Event.Start); err == nil {
		utc := at.UTC()
		scheduled = &utc
		gameDate = models.GameDateOf(utc)
	}

	rec := &ProvisionalRecord{
		Kind:                   KindLine,
		Source:                 oddsboardName,
		ExternalID:             fmt.Sprintf("%s|%s|%s", frame.Event.ID, frame.Book, frame.Market),
		OddsTimestamp:          ts,
		HomeTeam:               frame.Event.Home,
		AwayTeam:               frame.Event.Away,
		GameDate:               gameDate,
		ScheduledStart:         scheduled,
		SportsbookExternalName: frame.Book,
	}

	switch frame.Market {
	case "moneyline":
		rec.Market = models.MarketMoneyline
		rec.HomePriceDec = floatToDecimal(frame.Home)
		rec.AwayPriceDec = floatToDecimal(frame.Away)
		if rec.HomePriceDec == nil && rec.AwayPriceDec == nil {
			return nil, fmt.Errorf("moneyline frame carries no prices")
		}
	case "spread":
		rec.Market = models.MarketSpread
		rec.HomePriceDec = floatToDecimal(frame.Home)
		rec.AwayPriceDec = floatToDecimal(frame.Away)
		rec.SpreadLine = floatToDecimal(frame.Line)
		if rec.SpreadLine == nil {
			return nil, fmt.Errorf("spread frame carries no line")
		}
	case "total":
		rec.Market = models.MarketTotal
		rec.OverPriceDec = floatToDecimal(frame.Over)
		rec.UnderPriceDec = floatToDecimal(frame.Under)
		rec.TotalLine = floatToDecimal(frame.Line)
		if rec.TotalLine == nil {
			return nil, fmt.Errorf("total frame carries no line")
		}
	default:
		return nil, fmt.Errorf("unknown board market %q", frame.Market)
	}

	return rec, nil
}
