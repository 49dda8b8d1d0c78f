// Package scheduler runs the periodic tracking and evolution jobs.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"newstrace/internal/config"
	apperrors "newstrace/internal/errors"
	"newstrace/internal/lock"
	"newstrace/internal/logging"
	"newstrace/internal/metrics"
)

// Job names.
const (
	JobUpdatePrices   = "update_prices"
	JobCloseCompleted = "close_completed"
	JobEvolve         = "evolve"
)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// Job is a named function run on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
}

// Scheduler runs registered jobs on tickers. A job never overlaps with
// itself: each invocation holds a named lock for the job's interval.
type Scheduler struct {
	mu      sync.RWMutex
	jobs    map[string]Job
	locker  lock.Locker
	metrics metrics.Metrics
	logger  zerolog.Logger

	wg              sync.WaitGroup
	panicRecoveries int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a scheduler guarded by locker.
func New(locker lock.Locker, logger zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:    make(map[string]Job),
		locker:  locker,
		metrics: metrics.Nop{},
		logger:  logging.WithComponent(logger, "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds or replaces a job. Non-positive intervals are rejected.
func (s *Scheduler) Register(job Job) error {
	if job.Interval <= 0 {
		return apperrors.NewValidationError("interval", job.Interval, fmt.Sprintf("job %s needs a positive interval", job.Name))
	}
	if job.Run == nil {
		return apperrors.NewValidationError("run", nil, fmt.Sprintf("job %s has no body", job.Name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job
	return nil
}

// Jobs returns the registered job names in sorted order.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches one loop per job. Each loop runs immediately and then on
// every tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.RUnlock()

	for _, job := range jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.logger.Info().Int("jobs", len(jobs)).Msg("Scheduler started")
}

// Wait blocks until every loop started by Start has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.tick(ctx, job)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, job)
		}
	}
}

// tick runs a job once and absorbs lock contention and panics so the loop
// keeps going.
func (s *Scheduler) tick(ctx context.Context, job Job) {
	defer s.recoverPanic(job.Name)

	if err := s.execute(ctx, job); err != nil && !apperrors.Is(err, apperrors.ErrLockHeld) {
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Str("job", job.Name).Msg("Scheduled run failed")
		}
	}
}

// RunOnce runs the named job immediately under the same lock as the loops.
// It returns ErrLockHeld when another invocation is in progress.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrUnknownJob, name)
	}
	return s.execute(ctx, job)
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	logger := logging.WithJob(s.logger, job.Name)

	release, ok, err := s.locker.Acquire(ctx, "job:"+job.Name, job.Interval)
	if err != nil {
		return apperrors.Wrapf(err, "acquiring lock for %s", job.Name)
	}
	if !ok {
		s.metrics.JobSkipped(job.Name)
		logger.Info().Msg("Previous run still in progress, skipping")
		return apperrors.ErrLockHeld
	}
	defer release()

	start := time.Now()
	err = job.Run(ctx)
	elapsed := time.Since(start)

	s.metrics.ObserveJob(job.Name, elapsed)
	logging.LogJob(logger, job.Name, elapsed, err)
	return err
}

func (s *Scheduler) recoverPanic(job string) {
	if r := recover(); r != nil {
		s.mu.Lock()
		s.panicRecoveries++
		s.mu.Unlock()

		s.logger.Error().
			Str("job", job).
			Interface("panic", r).
			Msg("Panic recovered in scheduled job")
	}
}

// PanicRecoveries returns how many job panics have been absorbed.
func (s *Scheduler) PanicRecoveries() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.panicRecoveries
}

// Intervals maps the configured scheduler section onto job intervals.
func Intervals(cfg config.SchedulerConfig) map[string]time.Duration {
	return map[string]time.Duration{
		JobUpdatePrices:   cfg.UpdateInterval,
		JobCloseCompleted: cfg.CloseInterval,
		JobEvolve:         cfg.EvolveInterval,
	}
}
