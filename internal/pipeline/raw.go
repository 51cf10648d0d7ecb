package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/metrics"
	"github.com/yourusername/line-drive/internal/models"
	"github.com/yourusername/line-drive/internal/repository"
)

// IngestResult summarizes one raw ingestion batch
type IngestResult struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Invalid    int `json:"invalid"`
}

// RawProcessor owns the append-only raw zone. Every capture persists, valid
// or not; invalid captures stay flagged and never propagate to staging.
type RawProcessor struct {
	records repository.RawRecordRepository
	cfg     *config.PipelineConfig
	logger  *logrus.Entry
}

// NewRawProcessor creates the raw zone processor
func NewRawProcessor(records repository.RawRecordRepository, cfg *config.PipelineConfig, logger *logrus.Logger) *RawProcessor {
	return &RawProcessor{
		records: records,
		cfg:     cfg,
		logger:  logger.WithField("component", "raw_zone").WithField("zone", "raw"),
	}
}

// Validate flags a record that cannot enter the zone intact. The record
// still persists; only the valid flag and reason change.
func (p *RawProcessor) Validate(rec *models.RawRecord) {
	reason := ""
	switch {
	case rec.Source == "":
		reason = "missing source"
	case rec.ExternalID == "":
		reason = "missing external id"
	case rec.OddsTimestamp.IsZero():
		reason = "missing odds timestamp"
	case rec.FetchedAt.IsZero():
		reason = "missing fetch timestamp"
	case len(rec.Payload) == 0 || !json.Valid(rec.Payload):
		reason = "payload is not valid JSON"
	case rec.ParseStatus == models.ParseStatusFailed:
		if rec.InvalidReason != nil {
			reason = *rec.InvalidReason
		} else {
			reason = "parser rejected payload"
		}
	}

	if reason == "" {
		rec.Valid = true
		rec.InvalidReason = nil
		return
	}
	rec.Valid = false
	rec.InvalidReason = &reason
}

// Ingest appends a batch of captures. Idempotency-key duplicates are
// silently dropped by the insert; each chunk is one transaction, retried
// once on a persistence error before the zone gives up.
func (p *RawProcessor) Ingest(ctx context.Context, records []*models.RawRecord) (IngestResult, error) {
	var res IngestResult
	if len(records) == 0 {
		return res, nil
	}

	for _, rec := range records {
		p.Validate(rec)
		if !rec.Valid {
			res.Invalid++
		}
	}

	for start := 0; start < len(records); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		inserted, err := p.records.InsertBatch(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			p.logger.WithError(err).Warn("Raw insert failed, retrying batch once")
			inserted, err = p.records.InsertBatch(ctx, chunk)
			if err != nil {
				return res, err
			}
		}
		res.Inserted += inserted
		res.Duplicates += len(chunk) - inserted
	}

	metrics.RecordIngested(records[0].Source, res.Inserted)

	p.logger.WithFields(logrus.Fields{
		"records":    len(records),
		"inserted":   res.Inserted,
		"duplicates": res.Duplicates,
		"invalid":    res.Invalid,
	}).Info("Raw batch ingested")

	return res, nil
}

// Prune deletes raw captures older than the retention cutoff for a source
// and reports how many rows went.
func (p *RawProcessor) Prune(ctx context.Context, source string, retainDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retainDays)
	n, err := p.records.DeleteOlderThan(ctx, source, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.WithFields(logrus.Fields{
			"source":  source,
			"cutoff":  cutoff.Format(time.RFC3339),
			"deleted": n,
		}).Info("Raw retention pruned")
	}
	return n, nil
}
