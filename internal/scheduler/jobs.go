package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"newstrace/internal/config"
	"newstrace/internal/evolution"
	"newstrace/internal/market"
)

// Tracker is the part of the market tracker driven by the scheduler.
type Tracker interface {
	UpdateAllPrices(ctx context.Context) (market.UpdateReport, error)
	CheckAndCloseCompleted(ctx context.Context) (int, error)
}

// Evolver is the part of the weight evolver driven by the scheduler.
type Evolver interface {
	RunCycle(ctx context.Context, force bool) (evolution.CycleResult, error)
}

// RegisterDefaults registers the three standard jobs.
func (s *Scheduler) RegisterDefaults(cfg config.SchedulerConfig, tracker Tracker, evolver Evolver) error {
	intervals := Intervals(cfg)
	jobs := []Job{
		{Name: JobUpdatePrices, Interval: intervals[JobUpdatePrices], Run: UpdatePricesJob(tracker)},
		{Name: JobCloseCompleted, Interval: intervals[JobCloseCompleted], Run: CloseCompletedJob(tracker, s.logger)},
		{Name: JobEvolve, Interval: intervals[JobEvolve], Run: EvolveJob(evolver, s.logger)},
	}
	for _, job := range jobs {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	return nil
}

// UpdatePricesJob captures due checkpoints for all active tasks. The tracker
// logs the run summary itself.
func UpdatePricesJob(tracker Tracker) JobFunc {
	return func(ctx context.Context) error {
		_, err := tracker.UpdateAllPrices(ctx)
		return err
	}
}

// CloseCompletedJob closes tasks past their tracking window.
func CloseCompletedJob(tracker Tracker, logger zerolog.Logger) JobFunc {
	return func(ctx context.Context) error {
		closed, err := tracker.CheckAndCloseCompleted(ctx)
		if err != nil {
			return err
		}
		logger.Info().Int("closed", closed).Msg("Close check finished")
		return nil
	}
}

// EvolveJob runs one gated evolution cycle.
func EvolveJob(evolver Evolver, logger zerolog.Logger) JobFunc {
	return func(ctx context.Context) error {
		res, err := evolver.RunCycle(ctx, false)
		if err != nil {
			return err
		}
		logger.Info().
			Bool("evolved", res.Evolved).
			Str("reason", res.Assessment.Reason).
			Msg("Evolution check finished")
		return nil
	}
}
