package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/metrics"
	"github.com/yourusername/line-drive/internal/models"
	"github.com/yourusername/line-drive/internal/repository"
	"github.com/yourusername/line-drive/internal/sharp"
)

var curatedMarkets = []models.Market{models.MarketMoneyline, models.MarketSpread, models.MarketTotal}

// CuratedProcessor promotes staging lines into the curated zone. Promotion is
// two passes per market: a content pass that tags sharp action per quote and
// upserts behind the quality gate, then a movement pass that recomputes RLM
// and steam over a lookback-extended window, so quotes near the window edge
// see the context that justifies their flags.
type CuratedProcessor struct {
	lines    repository.BettingLineRepository
	detector *sharp.Detector
	cfg      *config.PipelineConfig
	logger   *logrus.Entry
}

// NewCuratedProcessor creates the curated zone processor
func NewCuratedProcessor(lines repository.BettingLineRepository, detector *sharp.Detector, cfg *config.PipelineConfig, logger *logrus.Logger) *CuratedProcessor {
	return &CuratedProcessor{
		lines:    lines,
		detector: detector,
		cfg:      cfg,
		logger:   logger.WithField("component", "curated_zone").WithField("zone", "curated"),
	}
}

// Process promotes every staging line in [start, end) across all markets
func (c *CuratedProcessor) Process(ctx context.Context, start, end time.Time) (*models.ZoneMetrics, error) {
	began := time.Now()
	zm := newZoneMetrics()

	for _, market := range curatedMarkets {
		if err := c.processMarket(ctx, zm, market, start, end); err != nil {
			return zm, err
		}
	}

	zm.DurationMs = time.Since(began).Milliseconds()
	metrics.RecordZoneBatch("curated", time.Since(began).Seconds())
	c.logger.WithFields(logrus.Fields{
		"window_start": start,
		"window_end":   end,
		"records_in":   zm.RecordsIn,
		"records_out":  zm.RecordsOut,
	}).Info("Curated window processed")

	return zm, nil
}

func (c *CuratedProcessor) processMarket(ctx context.Context, zm *models.ZoneMetrics, market models.Market, start, end time.Time) error {
	staged, err := c.lines.StagingWindow(ctx, market, start, end)
	if err != nil {
		return fmt.Errorf("staging window %s: %w", market, err)
	}
	if len(staged) == 0 {
		return nil
	}
	zm.RecordsIn += len(staged)

	for _, line := range staged {
		tag, _ := c.detector.Action(line)
		line.SharpActionTag = &tag
		if tag != models.SharpActionNone {
			metrics.RecordSharpSignal(string(market), string(tag))
		}
	}

	for startIdx := 0; startIdx < len(staged); startIdx += c.cfg.BatchSize {
		endIdx := startIdx + c.cfg.BatchSize
		if endIdx > len(staged) {
			endIdx = len(staged)
		}
		chunk := staged[startIdx:endIdx]
		if err := c.upsertChunk(ctx, market, chunk); err != nil {
			zm.Errors += len(chunk)
			return err
		}
		zm.RecordsOut += len(chunk)
		for _, line := range chunk {
			zm.QualityDist[string(line.DataQuality)]++
		}
		metrics.RecordCurated(string(market), len(chunk))
	}

	return c.markMovement(ctx, market, start, end)
}

// markMovement recomputes RLM and steam over the window extended backward by
// the larger detection lookback, then writes only the newly raised flags.
func (c *CuratedProcessor) markMovement(ctx context.Context, market models.Market, start, end time.Time) error {
	lookback := c.cfg.Sharp.RLMWindow()
	if sw := c.cfg.Sharp.SteamWindow(); sw > lookback {
		lookback = sw
	}

	window, err := c.lines.CuratedWindow(ctx, market, start.Add(-lookback), end)
	if err != nil {
		return fmt.Errorf("curated window %s: %w", market, err)
	}
	if len(window) == 0 {
		return nil
	}

	hadRLM := make(map[uuid.UUID]bool, len(window))
	hadSteam := make(map[uuid.UUID]bool, len(window))
	byGame := make(map[uuid.UUID][]*models.BettingLine)
	for _, line := range window {
		hadRLM[line.ID] = line.RLM
		hadSteam[line.ID] = line.Steam
		byGame[line.GameID] = append(byGame[line.GameID], line)
	}

	var flagged []*models.BettingLine
	gameIDs := make([]uuid.UUID, 0, len(byGame))
	for gameID, gameLines := range byGame {
		gameIDs = append(gameIDs, gameID)

		// Steam reads the whole board for the game; RLM is per book.
		c.detector.MarkSteam(gameLines)
		byBook := make(map[int][]*models.BettingLine)
		for _, line := range gameLines {
			byBook[line.SportsbookID] = append(byBook[line.SportsbookID], line)
		}
		for _, bookLines := range byBook {
			c.detector.MarkRLM(bookLines)
		}

		for _, line := range gameLines {
			newRLM := line.RLM && !hadRLM[line.ID]
			newSteam := line.Steam && !hadSteam[line.ID]
			if newRLM || newSteam {
				flagged = append(flagged, line)
			}
			if newRLM {
				metrics.RecordSharpSignal(string(market), "rlm")
			}
			if newSteam {
				metrics.RecordSharpSignal(string(market), "steam")
			}
		}
	}

	for startIdx := 0; startIdx < len(flagged); startIdx += c.cfg.BatchSize {
		endIdx := startIdx + c.cfg.BatchSize
		if endIdx > len(flagged) {
			endIdx = len(flagged)
		}
		if err := c.upsertChunk(ctx, market, flagged[startIdx:endIdx]); err != nil {
			return err
		}
	}

	sort.Slice(gameIDs, func(i, j int) bool { return gameIDs[i].String() < gameIDs[j].String() })
	if err := c.lines.RefreshOpenings(ctx, market, gameIDs); err != nil {
		return fmt.Errorf("refresh openings %s: %w", market, err)
	}

	if len(flagged) > 0 {
		c.logger.WithFields(logrus.Fields{
			"market":  market,
			"flagged": len(flagged),
		}).Info("Movement flags raised")
	}
	return nil
}

// upsertChunk writes one batch, retrying once for transient store errors
func (c *CuratedProcessor) upsertChunk(ctx context.Context, market models.Market, chunk []*models.BettingLine) error {
	written, err := c.lines.UpsertCurated(ctx, market, chunk)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		c.logger.WithError(err).WithField("market", market).Warn("Curated upsert failed, retrying")
		written, err = c.lines.UpsertCurated(ctx, market, chunk)
		if err != nil {
			return fmt.Errorf("curated upsert %s: %w", market, err)
		}
	}
	c.logger.WithFields(logrus.Fields{
		"market":  market,
		"batch":   len(chunk),
		"written": written,
	}).Debug("Curated batch upserted")
	return nil
}
