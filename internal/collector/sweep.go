package collector

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/models"
)

// Sweep runs one collection pass for a collector, times it, classifies the
// outcome and publishes a CollectionAttempt to the health tracker's channel.
// Cancellation produces no attempt: shutdown is not a health signal.
func Sweep(ctx context.Context, c Collector, start, end time.Time,
	attempts chan<- *models.CollectionAttempt, logger *logrus.Entry) ([]*models.RawRecord, *models.CollectionAttempt) {

	batchID := uuid.New()
	startedAt := time.Now().UTC()

	records, err := c.Collect(ctx, start, end)
	finishedAt := time.Now().UTC()

	if err != nil && errors.Is(err, context.Canceled) {
		return records, nil
	}

	outcome, category := Classify(err)
	attempt := &models.CollectionAttempt{
		ID:             uuid.New(),
		Collector:      c.Name(),
		BatchID:        batchID,
		StartedAt:      startedAt,
		FinishedAt:     finishedAt,
		Outcome:        outcome,
		RecordCount:    len(records),
		ResponseTimeMs: finishedAt.Sub(startedAt).Milliseconds(),
		ErrorCategory:  category,
	}
	if err != nil {
		msg := err.Error()
		attempt.ErrorMessage = &msg

		logger.WithFields(logrus.Fields{
			"collector": c.Name(),
			"batch_id":  batchID,
			"outcome":   outcome,
		}).WithError(err).Warn("Collection sweep failed")
	} else {
		logger.WithFields(logrus.Fields{
			"collector":   c.Name(),
			"batch_id":    batchID,
			"records":     len(records),
			"duration_ms": attempt.ResponseTimeMs,
		}).Info("Collection sweep completed")
	}

	for _, rec := range records {
		rec.BatchID = batchID
	}

	if attempts != nil {
		select {
		case attempts <- attempt:
		case <-ctx.Done():
		}
	}

	return records, attempt
}

// Classify maps a collect error onto the attempt outcome taxonomy
func Classify(err error) (models.AttemptOutcome, *string) {
	if err == nil {
		return models.AttemptOutcomeOK, nil
	}

	var ce CollectorError
	if errors.As(err, &ce) {
		category := ce.Code
		switch ce.Code {
		case ErrCodeCircuitOpen:
			return models.AttemptOutcomeCircuitOpen, &category
		case ErrCodeRateLimitExceeded:
			return models.AttemptOutcomeRateLimited, &category
		case ErrCodeTimeout:
			return models.AttemptOutcomeTimeout, &category
		case ErrCodeInvalidData:
			return models.AttemptOutcomeParseError, &category
		default:
			return models.AttemptOutcomeNetworkError, &category
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		category := ErrCodeTimeout
		return models.AttemptOutcomeTimeout, &category
	}

	category := ErrCodeUnknown
	return models.AttemptOutcomeNetworkError, &category
}
