package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newstrace/internal/config"
	apperrors "newstrace/internal/errors"
	"newstrace/internal/evolution"
	"newstrace/internal/lock"
	"newstrace/internal/market"
	"newstrace/internal/metrics"
)

type fakeTracker struct {
	updates   atomic.Int32
	closes    atomic.Int32
	updateErr error
}

func (f *fakeTracker) UpdateAllPrices(ctx context.Context) (market.UpdateReport, error) {
	f.updates.Add(1)
	return market.UpdateReport{Active: 2, Captured: 1}, f.updateErr
}

func (f *fakeTracker) CheckAndCloseCompleted(ctx context.Context) (int, error) {
	f.closes.Add(1)
	return 0, nil
}

type fakeEvolver struct {
	runs atomic.Int32
}

func (f *fakeEvolver) RunCycle(ctx context.Context, force bool) (evolution.CycleResult, error) {
	f.runs.Add(1)
	return evolution.CycleResult{Assessment: evolution.Assessment{Reason: "disabled"}}, nil
}

type skipCounter struct {
	metrics.Nop
	skipped atomic.Int32
}

func (s *skipCounter) JobSkipped(string) { s.skipped.Add(1) }

func TestRunOnce_UnknownJob(t *testing.T) {
	s := New(lock.NewLocalLocker(), zerolog.Nop())

	err := s.RunOnce(context.Background(), "nope")
	assert.True(t, errors.Is(err, apperrors.ErrUnknownJob))
}

func TestRegister_RejectsBadJobs(t *testing.T) {
	s := New(lock.NewLocalLocker(), zerolog.Nop())

	err := s.Register(Job{Name: "x", Interval: 0, Run: func(context.Context) error { return nil }})
	assert.True(t, errors.Is(err, apperrors.ErrConfigInvalid))

	err = s.Register(Job{Name: "x", Interval: time.Second})
	assert.True(t, errors.Is(err, apperrors.ErrConfigInvalid))
}

func TestRegisterDefaults_RunsEachJob(t *testing.T) {
	tracker := &fakeTracker{}
	evolver := &fakeEvolver{}
	s := New(lock.NewLocalLocker(), zerolog.Nop())

	require.NoError(t, s.RegisterDefaults(config.Default().Scheduler, tracker, evolver))
	assert.Equal(t, []string{JobCloseCompleted, JobEvolve, JobUpdatePrices}, s.Jobs())

	ctx := context.Background()
	require.NoError(t, s.RunOnce(ctx, JobUpdatePrices))
	require.NoError(t, s.RunOnce(ctx, JobCloseCompleted))
	require.NoError(t, s.RunOnce(ctx, JobEvolve))

	assert.Equal(t, int32(1), tracker.updates.Load())
	assert.Equal(t, int32(1), tracker.closes.Load())
	assert.Equal(t, int32(1), evolver.runs.Load())
}

func TestUpdatePricesJob_ReturnsTrackerError(t *testing.T) {
	boom := errors.New("store offline")
	tracker := &fakeTracker{updateErr: boom}

	err := UpdatePricesJob(tracker)(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), tracker.updates.Load())
}

func TestRunOnce_SkipsWhileLocked(t *testing.T) {
	counter := &skipCounter{}
	s := New(lock.NewLocalLocker(), zerolog.Nop(), WithMetrics(counter))

	started := make(chan struct{}, 1)
	finish := make(chan struct{}, 1)
	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name:     "slow",
		Interval: time.Minute,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			started <- struct{}{}
			<-finish
			return nil
		},
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.RunOnce(context.Background(), "slow"))
	}()

	<-started
	err := s.RunOnce(context.Background(), "slow")
	assert.True(t, errors.Is(err, apperrors.ErrLockHeld))

	finish <- struct{}{}
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, int32(1), counter.skipped.Load())

	// Lock is released after the run completes.
	finish <- struct{}{}
	require.NoError(t, s.RunOnce(context.Background(), "slow"))
	assert.Equal(t, int32(2), runs.Load())
}

func TestRunOnce_PropagatesJobError(t *testing.T) {
	s := New(lock.NewLocalLocker(), zerolog.Nop())
	boom := errors.New("boom")
	require.NoError(t, s.Register(Job{
		Name:     "failing",
		Interval: time.Minute,
		Run:      func(context.Context) error { return boom },
	}))

	assert.ErrorIs(t, s.RunOnce(context.Background(), "failing"), boom)
}

func TestStart_TicksAndRecoversPanics(t *testing.T) {
	s := New(lock.NewLocalLocker(), zerolog.Nop())

	var calls atomic.Int32
	require.NoError(t, s.Register(Job{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			if calls.Add(1) == 1 {
				panic("first run")
			}
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()

	assert.Equal(t, int64(1), s.PanicRecoveries())
}
