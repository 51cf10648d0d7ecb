package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/yourusername/line-drive/internal/database"
	"github.com/yourusername/line-drive/internal/models"
)

// PostgresBettingLineRepository implements BettingLineRepository for
// PostgreSQL. Each market has its own table in the staging and curated
// schemas; all six tables share one column layout.
type PostgresBettingLineRepository struct {
	db *database.DB
}

// NewPostgresBettingLineRepository creates a new betting line repository
func NewPostgresBettingLineRepository(db *database.DB) BettingLineRepository {
	return &PostgresBettingLineRepository{db: db}
}

const lineColumns = `id, game_id, sportsbook_id, market, source, external_id, odds_timestamp,
	home_price, away_price, spread_line, total_line, over_price, under_price,
	bets_pct_home, money_pct_home, bets_pct_away, money_pct_away,
	sharp_action, rlm, steam, is_opening, is_closing,
	completeness_score, reliability_score, data_quality, quality_rank,
	ingest_seq, created_at, updated_at`

func lineTable(schema string, market models.Market) (string, error) {
	switch market {
	case models.MarketMoneyline:
		return schema + ".moneyline_lines", nil
	case models.MarketSpread:
		return schema + ".spread_lines", nil
	case models.MarketTotal:
		return schema + ".total_lines", nil
	default:
		return "", fmt.Errorf("unknown market %q", market)
	}
}

// UpsertStaging writes normalized lines into the staging table for a market.
// The conflict key is (game_id, sportsbook_id, odds_timestamp); on a
// cross-source timestamp tie the row with the higher reliability score wins,
// then the lexically smaller source tag.
func (b *PostgresBettingLineRepository) UpsertStaging(ctx context.Context, market models.Market, lines []*models.BettingLine) (int, error) {
	table, err := lineTable("staging", market)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s AS t (id, game_id, sportsbook_id, market, source, external_id,
			odds_timestamp, home_price, away_price, spread_line, total_line,
			over_price, under_price, bets_pct_home, money_pct_home, bets_pct_away,
			money_pct_away, sharp_action, rlm, steam, is_opening, is_closing,
			completeness_score, reliability_score, data_quality, quality_rank)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		ON CONFLICT (game_id, sportsbook_id, odds_timestamp) DO UPDATE SET
			source             = EXCLUDED.source,
			external_id        = EXCLUDED.external_id,
			home_price         = EXCLUDED.home_price,
			away_price         = EXCLUDED.away_price,
			spread_line        = EXCLUDED.spread_line,
			total_line         = EXCLUDED.total_line,
			over_price         = EXCLUDED.over_price,
			under_price        = EXCLUDED.under_price,
			bets_pct_home      = EXCLUDED.bets_pct_home,
			money_pct_home     = EXCLUDED.money_pct_home,
			bets_pct_away      = EXCLUDED.bets_pct_away,
			money_pct_away     = EXCLUDED.money_pct_away,
			completeness_score = EXCLUDED.completeness_score,
			reliability_score  = EXCLUDED.reliability_score,
			data_quality       = EXCLUDED.data_quality,
			quality_rank       = EXCLUDED.quality_rank,
			updated_at         = now()
		WHERE EXCLUDED.reliability_score > t.reliability_score
		   OR (EXCLUDED.reliability_score = t.reliability_score AND EXCLUDED.source < t.source)
	`, table)

	return b.upsertBatch(ctx, query, lines)
}

// UpsertCurated writes analysis-ready lines into the curated table for a
// market. On the idempotency key, the record with the higher quality tier
// wins, then the higher reliability score. Derived signal flags are applied
// independent of the content gate: the sharp-action tag is recomputed
// content, while rlm and steam accumulate monotonically.
func (b *PostgresBettingLineRepository) UpsertCurated(ctx context.Context, market models.Market, lines []*models.BettingLine) (int, error) {
	table, err := lineTable("curated", market)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s AS t (id, game_id, sportsbook_id, market, source, external_id,
			odds_timestamp, home_price, away_price, spread_line, total_line,
			over_price, under_price, bets_pct_home, money_pct_home, bets_pct_away,
			money_pct_away, sharp_action, rlm, steam, is_opening, is_closing,
			completeness_score, reliability_score, data_quality, quality_rank, ingest_seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
		ON CONFLICT (game_id, sportsbook_id, odds_timestamp) DO UPDATE SET
			source             = EXCLUDED.source,
			external_id        = EXCLUDED.external_id,
			home_price         = EXCLUDED.home_price,
			away_price         = EXCLUDED.away_price,
			spread_line        = EXCLUDED.spread_line,
			total_line         = EXCLUDED.total_line,
			over_price         = EXCLUDED.over_price,
			under_price        = EXCLUDED.under_price,
			bets_pct_home      = EXCLUDED.bets_pct_home,
			money_pct_home     = EXCLUDED.money_pct_home,
			bets_pct_away      = EXCLUDED.bets_pct_away,
			money_pct_away     = EXCLUDED.money_pct_away,
			completeness_score = EXCLUDED.completeness_score,
			reliability_score  = EXCLUDED.reliability_score,
			data_quality       = EXCLUDED.data_quality,
			quality_rank       = EXCLUDED.quality_rank,
			ingest_seq         = EXCLUDED.ingest_seq,
			updated_at         = now()
		WHERE EXCLUDED.quality_rank > t.quality_rank
		   OR (EXCLUDED.quality_rank = t.quality_rank AND EXCLUDED.reliability_score > t.reliability_score)
	`, table)

	// Movement flags only ever accumulate. A replayed window may lack the
	// anchor quotes that justified a flag, so clearing here would undo a
	// correct earlier pass; clearing flags requires a zone rebuild.
	signalQuery := fmt.Sprintf(`
		UPDATE %s t SET sharp_action = $4, rlm = t.rlm OR $5, steam = t.steam OR $6, updated_at = now()
		WHERE t.game_id = $1 AND t.sportsbook_id = $2 AND t.odds_timestamp = $3
		  AND (t.sharp_action IS DISTINCT FROM $4 OR (NOT t.rlm AND $5) OR (NOT t.steam AND $6))
	`, table)

	if len(lines) == 0 {
		return 0, nil
	}

	written := 0
	err = b.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, line := range lines {
			batch.Queue(query, curatedArgs(line)...)
			batch.Queue(signalQuery, line.GameID, line.SportsbookID, line.OddsTimestamp,
				line.SharpActionTag, line.RLM, line.Steam)
		}

		results := tx.SendBatch(ctx, batch)
		defer results.Close()

		for range lines {
			tag, err := results.Exec()
			if err != nil {
				return fmt.Errorf("failed to upsert curated line: %w", err)
			}
			written += int(tag.RowsAffected())
			if _, err := results.Exec(); err != nil {
				return fmt.Errorf("failed to apply signal flags: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return written, nil
}

func (b *PostgresBettingLineRepository) upsertBatch(ctx context.Context, query string, lines []*models.BettingLine) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}

	written := 0
	err := b.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, line := range lines {
			batch.Queue(query, stagingArgs(line)...)
		}

		results := tx.SendBatch(ctx, batch)
		defer results.Close()

		for range lines {
			tag, err := results.Exec()
			if err != nil {
				return fmt.Errorf("failed to upsert line: %w", err)
			}
			written += int(tag.RowsAffected())
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return written, nil
}

func stagingArgs(line *models.BettingLine) []interface{} {
	return []interface{}{
		line.ID, line.GameID, line.SportsbookID, line.Market, line.Source,
		line.ExternalID, line.OddsTimestamp,
		line.HomePrice, line.AwayPrice, nullDecimal(line.SpreadLine), nullDecimal(line.TotalLine),
		line.OverPrice, line.UnderPrice,
		line.BetsPctHome, line.MoneyPctHome, line.BetsPctAway, line.MoneyPctAway,
		line.SharpActionTag, line.RLM, line.Steam, line.IsOpening, line.IsClosing,
		line.CompletenessScore, line.ReliabilityScore, line.DataQuality, line.DataQuality.Rank(),
	}
}

func curatedArgs(line *models.BettingLine) []interface{} {
	return append(stagingArgs(line), line.IngestSeq)
}

// StagingWindow loads staging lines for a market in [start, end)
func (b *PostgresBettingLineRepository) StagingWindow(ctx context.Context, market models.Market, start, end time.Time) ([]*models.BettingLine, error) {
	table, err := lineTable("staging", market)
	if err != nil {
		return nil, err
	}
	return b.window(ctx, table, start, end)
}

// CuratedWindow loads curated lines for a market in [start, end)
func (b *PostgresBettingLineRepository) CuratedWindow(ctx context.Context, market models.Market, start, end time.Time) ([]*models.BettingLine, error) {
	table, err := lineTable("curated", market)
	if err != nil {
		return nil, err
	}
	return b.window(ctx, table, start, end)
}

func (b *PostgresBettingLineRepository) window(ctx context.Context, table string, start, end time.Time) ([]*models.BettingLine, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE odds_timestamp >= $1 AND odds_timestamp < $2
		ORDER BY game_id, sportsbook_id, odds_timestamp, reliability_score DESC, ingest_seq
	`, lineColumns, table)

	rows, err := b.db.GetPool().Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query line window: %w", err)
	}
	defer rows.Close()

	return scanLines(rows)
}

// CuratedMovement loads the canonical ordered line-movement sequence for one
// (game, sportsbook, market) key.
func (b *PostgresBettingLineRepository) CuratedMovement(ctx context.Context, market models.Market, gameID uuid.UUID, sportsbookID int) ([]*models.BettingLine, error) {
	table, err := lineTable("curated", market)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE game_id = $1 AND sportsbook_id = $2
		ORDER BY odds_timestamp, reliability_score DESC, ingest_seq
	`, lineColumns, table)

	rows, err := b.db.GetPool().Query(ctx, query, gameID, sportsbookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line movement: %w", err)
	}
	defer rows.Close()

	return scanLines(rows)
}

// CuratedCount returns the number of curated rows for a market
func (b *PostgresBettingLineRepository) CuratedCount(ctx context.Context, market models.Market) (int64, error) {
	table, err := lineTable("curated", market)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := b.db.GetPool().QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count curated lines: %w", err)
	}

	return count, nil
}

// RefreshOpenings re-marks the earliest quote per (game, sportsbook) key as
// the opening snapshot for the given games. Rows already carrying the right
// flag are untouched so re-runs leave identical state.
func (b *PostgresBettingLineRepository) RefreshOpenings(ctx context.Context, market models.Market, gameIDs []uuid.UUID) error {
	if len(gameIDs) == 0 {
		return nil
	}
	table, err := lineTable("curated", market)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s t SET is_opening = (t.odds_timestamp = m.min_ts)
		FROM (
			SELECT game_id, sportsbook_id, min(odds_timestamp) AS min_ts
			FROM %s WHERE game_id = ANY($1) GROUP BY game_id, sportsbook_id
		) m
		WHERE t.game_id = m.game_id AND t.sportsbook_id = m.sportsbook_id
		  AND t.is_opening IS DISTINCT FROM (t.odds_timestamp = m.min_ts)
	`, table, table)

	if _, err := b.db.GetPool().Exec(ctx, query, gameIDs); err != nil {
		return fmt.Errorf("failed to refresh opening flags: %w", err)
	}

	return nil
}

// MarkClosings flags the latest quote per sportsbook as the closing snapshot
// for one game, called when the game's outcome is resolved.
func (b *PostgresBettingLineRepository) MarkClosings(ctx context.Context, market models.Market, gameID uuid.UUID) error {
	table, err := lineTable("curated", market)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s t SET is_closing = (t.odds_timestamp = m.max_ts)
		FROM (
			SELECT sportsbook_id, max(odds_timestamp) AS max_ts
			FROM %s WHERE game_id = $1 GROUP BY sportsbook_id
		) m
		WHERE t.game_id = $1 AND t.sportsbook_id = m.sportsbook_id
		  AND t.is_closing IS DISTINCT FROM (t.odds_timestamp = m.max_ts)
	`, table, table)

	if _, err := b.db.GetPool().Exec(ctx, query, gameID); err != nil {
		return fmt.Errorf("failed to mark closing flags: %w", err)
	}

	return nil
}

func scanLines(rows pgx.Rows) ([]*models.BettingLine, error) {
	var lines []*models.BettingLine
	for rows.Next() {
		line := &models.BettingLine{}
		var spread, total decimal.NullDecimal
		var qualityRank int16
		err := rows.Scan(
			&line.ID, &line.GameID, &line.SportsbookID, &line.Market, &line.Source,
			&line.ExternalID, &line.OddsTimestamp,
			&line.HomePrice, &line.AwayPrice, &spread, &total,
			&line.OverPrice, &line.UnderPrice,
			&line.BetsPctHome, &line.MoneyPctHome, &line.BetsPctAway, &line.MoneyPctAway,
			&line.SharpActionTag, &line.RLM, &line.Steam, &line.IsOpening, &line.IsClosing,
			&line.CompletenessScore, &line.ReliabilityScore, &line.DataQuality, &qualityRank,
			&line.IngestSeq, &line.CreatedAt, &line.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line: %w", err)
		}
		line.SpreadLine = decimalPtr(spread)
		line.TotalLine = decimalPtr(total)
		lines = append(lines, line)
	}

	return lines, rows.Err()
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	d := nd.Decimal
	return &d
}
