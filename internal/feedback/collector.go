// Package feedback joins realised T+3 outcomes with the audits that predicted them.
package feedback

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	apperrors "newstrace/internal/errors"
	"newstrace/internal/logging"
	"newstrace/internal/models"
	"newstrace/internal/store"
)

// FeedbackOffset is the checkpoint whose return is fed back into evolution.
const FeedbackOffset = 3

// DefaultLimit caps the size of one feedback batch.
const DefaultLimit = 200

// Collector assembles MarketFeedback on demand. Nothing it produces is stored.
type Collector struct {
	tasks  store.TrackingStore
	audits store.AuditSource
	logger zerolog.Logger
}

// NewCollector creates a new Collector.
func NewCollector(tasks store.TrackingStore, audits store.AuditSource, logger zerolog.Logger) *Collector {
	return &Collector{
		tasks:  tasks,
		audits: audits,
		logger: logging.WithComponent(logger, "feedback"),
	}
}

// Collect returns up to limit unconsumed samples, newest T+3 capture first.
// Samples whose audit is missing, malformed or cannot be read are skipped.
func (c *Collector) Collect(ctx context.Context, limit int) ([]models.MarketFeedback, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	tasks, err := c.tasks.FeedbackCandidates(ctx, FeedbackOffset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback candidates: %w", err)
	}

	samples := make([]models.MarketFeedback, 0, len(tasks))
	audits := make(map[string]*models.AuditResult)
	missing, malformed, failed := 0, 0, 0

	for i := range tasks {
		task := &tasks[i]

		audit, seen := audits[task.NewsID]
		if !seen {
			audit, err = c.audits.GetAudit(ctx, task.NewsID)
			switch {
			case err == nil && !audit.Valid():
				audit = nil
				malformed++
			case apperrors.Is(err, apperrors.ErrAuditNotFound):
				audit = nil
				missing++
			case apperrors.Is(err, apperrors.ErrAuditMalformed):
				audit = nil
				malformed++
			case err != nil:
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				c.logger.Warn().Err(err).Str("news_id", task.NewsID).Msg("Audit lookup failed")
				audit = nil
				failed++
			}
			audits[task.NewsID] = audit
		}
		if audit == nil {
			continue
		}

		ret, ok := task.ReturnAt(FeedbackOffset)
		if !ok {
			continue
		}

		samples = append(samples, models.MarketFeedback{
			TrackingID:       task.ID,
			NewsID:           task.NewsID,
			Ticker:           task.Ticker,
			AIAuditScore:     audit.Score,
			DetectedFeatures: append([]string(nil), audit.DetectedFeatures...),
			ActualReturnT3:   ret,
			Regime:           task.Regime,
		})
	}

	if missing > 0 || malformed > 0 || failed > 0 {
		c.logger.Warn().
			Int("missing_audits", missing).
			Int("malformed_audits", malformed).
			Int("failed_lookups", failed).
			Msg("Skipped feedback candidates without a usable audit")
	}
	c.logger.Debug().
		Int("candidates", len(tasks)).
		Int("samples", len(samples)).
		Msg("Feedback collected")

	return samples, nil
}

// Count returns the number of unconsumed samples with resolvable audits.
func (c *Collector) Count(ctx context.Context) (int, error) {
	n, err := c.tasks.CountFeedbackCandidates(ctx, FeedbackOffset)
	if err != nil {
		return 0, fmt.Errorf("failed to count feedback candidates: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	samples, err := c.Collect(ctx, n)
	if err != nil {
		return 0, err
	}
	return len(samples), nil
}

// MarkConsumed flags the given samples so later cycles do not reuse them.
// Marking an already consumed sample is a no-op.
func (c *Collector) MarkConsumed(ctx context.Context, samples []models.MarketFeedback) (int, error) {
	ids := make([]string, 0, len(samples))
	for _, s := range samples {
		ids = append(ids, s.TrackingID)
	}

	n, err := c.tasks.MarkEvolved(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to mark feedback consumed: %w", err)
	}
	return n, nil
}
