package evolution

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "newstrace/internal/errors"
	"newstrace/internal/models"
	"newstrace/internal/store"
)

// memFeedback is an in-memory FeedbackSource.
type memFeedback struct {
	mu       sync.Mutex
	samples  []models.MarketFeedback
	consumed map[string]bool
}

func newMemFeedback(samples []models.MarketFeedback) *memFeedback {
	return &memFeedback{samples: samples, consumed: make(map[string]bool)}
}

func (m *memFeedback) Collect(ctx context.Context, limit int) ([]models.MarketFeedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MarketFeedback
	for _, s := range m.samples {
		if m.consumed[s.TrackingID] {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memFeedback) MarkConsumed(ctx context.Context, samples []models.MarketFeedback) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range samples {
		if !m.consumed[s.TrackingID] {
			m.consumed[s.TrackingID] = true
			n++
		}
	}
	return n, nil
}

// memWeights is an in-memory WeightStore. saveErr makes SaveSnapshot fail.
type memWeights struct {
	mu         sync.Mutex
	snapshots  []models.WeightSnapshot
	evolutions []models.EvolutionRecord
	saveErr    error
}

func (m *memWeights) SaveSnapshot(ctx context.Context, snap models.WeightSnapshot) (models.WeightSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return snap, m.saveErr
	}
	snap.Version = int64(len(m.snapshots) + 1)
	snap.Weights = snap.Weights.Clone()
	m.snapshots = append(m.snapshots, snap)
	return snap, nil
}

func (m *memWeights) LatestSnapshot(ctx context.Context) (models.WeightSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snapshots) == 0 {
		return models.WeightSnapshot{}, apperrors.ErrNoSnapshot
	}
	s := m.snapshots[len(m.snapshots)-1]
	s.Weights = s.Weights.Clone()
	return s, nil
}

func (m *memWeights) ListSnapshots(ctx context.Context, limit int) ([]models.WeightSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.WeightSnapshot(nil), m.snapshots...), nil
}

func (m *memWeights) AppendEvolution(ctx context.Context, rec *models.EvolutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.evolutions) + 1)
	m.evolutions = append(m.evolutions, *rec)
	return nil
}

func (m *memWeights) ListEvolutions(ctx context.Context, limit int) ([]models.EvolutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.EvolutionRecord(nil), m.evolutions...), nil
}

func makeSamples(n int, score, ret float64, features ...string) []models.MarketFeedback {
	out := make([]models.MarketFeedback, n)
	for i := range out {
		out[i] = models.MarketFeedback{
			TrackingID:       fmt.Sprintf("TRK%04d", i),
			NewsID:           fmt.Sprintf("news-%d", i),
			Ticker:           "AAA",
			AIAuditScore:     score,
			DetectedFeatures: features,
			ActualReturnT3:   ret,
			Regime:           models.RegimeBull,
		}
	}
	return out
}

// monday is outside the default Sunday 02:00 window.
var monday = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

func newEvolver(weights store.WeightStore, fb FeedbackSource, cfg Config, now time.Time) *Evolver {
	return NewEvolver(weights, fb, cfg, zerolog.Nop(), WithClock(func() time.Time { return now }))
}

func TestAssess_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	e := newEvolver(&memWeights{}, newMemFeedback(makeSamples(100, 80, -0.1)), cfg, monday)

	ok, reason := e.ShouldEvolve(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "disabled", reason)
}

func TestAssess_InsufficientSamples(t *testing.T) {
	e := newEvolver(&memWeights{}, newMemFeedback(makeSamples(29, 80, -0.1)), DefaultConfig(), monday)

	ok, reason := e.ShouldEvolve(context.Background())
	assert.False(t, ok)
	assert.Contains(t, reason, "29")
	assert.Equal(t, "insufficient samples: 29/30", reason)
}

func TestAssess_LowAccuracy(t *testing.T) {
	// High scores followed by losses: every prediction is wrong.
	e := newEvolver(&memWeights{}, newMemFeedback(makeSamples(30, 80, -0.05)), DefaultConfig(), monday)

	a := e.Assess(context.Background())
	assert.True(t, a.Evolve)
	assert.Equal(t, 0.0, a.Accuracy)
	assert.Equal(t, 30, a.Samples)
	assert.Contains(t, a.Reason, "accuracy below threshold")
}

func TestAssess_MaintenanceWindow(t *testing.T) {
	accurate := makeSamples(30, 80, 0.05)

	sunday := time.Date(2024, 6, 2, 2, 30, 0, 0, time.UTC)
	a := newEvolver(&memWeights{}, newMemFeedback(accurate), DefaultConfig(), sunday).Assess(context.Background())
	assert.True(t, a.Evolve)
	assert.Equal(t, "weekly maintenance window", a.Reason)

	a = newEvolver(&memWeights{}, newMemFeedback(accurate), DefaultConfig(), monday).Assess(context.Background())
	assert.False(t, a.Evolve)
	assert.Equal(t, "no evolution needed: accuracy=100.00%, samples=30", a.Reason)
}

func TestEvolve_BelowMinimumIsNoOp(t *testing.T) {
	weights := &memWeights{}
	fb := newMemFeedback(nil)
	e := newEvolver(weights, fb, DefaultConfig(), monday)

	got := e.Evolve(context.Background(), makeSamples(29, 30, 0.5, "hype_language"))

	assert.True(t, got.Equal(models.DefaultWeights()))
	assert.Empty(t, weights.snapshots)
	assert.Empty(t, weights.evolutions)
}

func TestEvolve_HypeScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 10
	weights := &memWeights{}
	samples := makeSamples(10, 30, 0.05, "hype_language")
	fb := newMemFeedback(samples)
	e := newEvolver(weights, fb, cfg, monday)

	before := models.DefaultWeights()
	after := e.Evolve(context.Background(), samples)

	assert.Greater(t, after["hype_language"], before["hype_language"])
	assert.InDelta(t, -0.12, after["hype_language"], 1e-9)
	for _, f := range []string{"policy_demand", "logical_rigor", "data_support", "uncertainty", "source_credibility"} {
		assert.Equal(t, before[f], after[f], "feature %s without support is unchanged", f)
	}

	require.Len(t, weights.snapshots, 1)
	assert.Equal(t, int64(1), weights.snapshots[0].Version)

	require.Len(t, weights.evolutions, 1)
	rec := weights.evolutions[0]
	assert.Equal(t, 10, rec.BatchSize)
	require.Len(t, rec.Changes, 1)
	assert.Equal(t, models.FeatureChange{Feature: "hype_language", OldWeight: -0.3, NewWeight: -0.12, SampleCount: 10}, rec.Changes[0])

	remaining, _ := fb.Collect(context.Background(), 0)
	assert.Empty(t, remaining, "samples are marked consumed")
}

func TestEvolve_NeutralEvidenceDecays(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 5
	weights := &memWeights{}
	e := newEvolver(weights, newMemFeedback(nil), cfg, monday)

	// Returns inside the ±0.02 band are not clearly directional.
	after := e.Evolve(context.Background(), makeSamples(5, 50, 0.015, "logical_rigor"))

	assert.InDelta(t, 0.225, after["logical_rigor"], 1e-9)
	require.Len(t, weights.evolutions, 1)
}

func TestEvolve_EmptyChangeListStillRecorded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 5
	weights := &memWeights{}
	e := newEvolver(weights, newMemFeedback(nil), cfg, monday)

	e.Evolve(context.Background(), makeSamples(5, 50, 0.3, "unknown_feature"))

	require.Len(t, weights.evolutions, 1)
	assert.Empty(t, weights.evolutions[0].Changes)
	assert.Len(t, weights.snapshots, 1)
}

func TestEvolve_RoundTripThroughFreshInstance(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "weights.db"))
	require.NoError(t, err)
	defer st.Close()

	cfg := DefaultConfig()
	cfg.MinSamples = 10
	samples := append(makeSamples(10, 30, 0.05, "hype_language", "data_support"),
		makeSamples(10, 80, -0.08, "uncertainty")...)
	for i := range samples {
		samples[i].TrackingID = fmt.Sprintf("TRK%04d", i)
	}

	written := newEvolver(st, newMemFeedback(nil), cfg, monday).Evolve(context.Background(), samples)

	fresh := newEvolver(st, newMemFeedback(nil), cfg, monday)
	snap := fresh.Current(context.Background())

	assert.Equal(t, int64(1), snap.Version)
	assert.True(t, snap.Weights.Equal(written), "reloaded %v, written %v", snap.Weights, written)
	for _, f := range written.Features() {
		assert.Equal(t, written[f], snap.Weights[f], f)
	}
}

func TestEvolve_PersistenceFailureKeepsVectorInProcess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 10
	weights := &memWeights{saveErr: errors.New("disk full")}
	e := newEvolver(weights, newMemFeedback(nil), cfg, monday)

	after := e.Evolve(context.Background(), makeSamples(10, 30, 0.05, "hype_language"))
	assert.InDelta(t, -0.12, after["hype_language"], 1e-9)

	current := e.Current(context.Background())
	assert.True(t, current.Weights.Equal(after))

	// A fresh process only sees the defaults.
	stale := newEvolver(weights, newMemFeedback(nil), cfg, monday).Current(context.Background())
	assert.True(t, stale.Weights.Equal(models.DefaultWeights()))
}

func TestCurrent_DefaultsWhenEmpty(t *testing.T) {
	snap := newEvolver(&memWeights{}, newMemFeedback(nil), DefaultConfig(), monday).Current(context.Background())
	assert.Equal(t, int64(0), snap.Version)
	assert.True(t, snap.Weights.Equal(models.DefaultWeights()))
}

func TestRunCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("force still needs min samples", func(t *testing.T) {
		e := newEvolver(&memWeights{}, newMemFeedback(makeSamples(29, 80, 0.05)), DefaultConfig(), monday)
		res, err := e.RunCycle(ctx, true)
		require.NoError(t, err)
		assert.False(t, res.Evolved)
		assert.Equal(t, "insufficient samples: 29/30", res.Assessment.Reason)
	})

	t.Run("force bypasses accuracy", func(t *testing.T) {
		weights := &memWeights{}
		e := newEvolver(weights, newMemFeedback(makeSamples(30, 80, 0.05, "data_support")), DefaultConfig(), monday)
		res, err := e.RunCycle(ctx, true)
		require.NoError(t, err)
		assert.True(t, res.Evolved)
		assert.InDelta(t, 0.33, res.After["data_support"], 1e-9)
		assert.Equal(t, 0.2, res.Before["data_support"])
		require.NotNil(t, res.Snapshot)
		assert.Equal(t, int64(1), res.Snapshot.Version)
		assert.True(t, res.Committed)
	})

	t.Run("failed snapshot is reported uncommitted", func(t *testing.T) {
		weights := &memWeights{saveErr: errors.New("disk full")}
		e := newEvolver(weights, newMemFeedback(makeSamples(30, 80, 0.05, "data_support")), DefaultConfig(), monday)
		res, err := e.RunCycle(ctx, true)
		require.NoError(t, err)
		assert.True(t, res.Evolved)
		assert.False(t, res.Committed)
	})

	t.Run("accurate batch is skipped", func(t *testing.T) {
		weights := &memWeights{}
		e := newEvolver(weights, newMemFeedback(makeSamples(30, 80, 0.05)), DefaultConfig(), monday)
		res, err := e.RunCycle(ctx, false)
		require.NoError(t, err)
		assert.False(t, res.Evolved)
		assert.Empty(t, weights.evolutions)
	})

	t.Run("inaccurate batch evolves once", func(t *testing.T) {
		fb := newMemFeedback(makeSamples(30, 80, -0.05, "hype_language"))
		e := newEvolver(&memWeights{}, fb, DefaultConfig(), monday)

		res, err := e.RunCycle(ctx, false)
		require.NoError(t, err)
		assert.True(t, res.Evolved)
		assert.InDelta(t, -0.42, res.After["hype_language"], 1e-9)

		res, err = e.RunCycle(ctx, false)
		require.NoError(t, err)
		assert.False(t, res.Evolved, "consumed samples are not reused")
	})
}

func TestAccuracy(t *testing.T) {
	samples := []models.MarketFeedback{
		{AIAuditScore: 61, ActualReturnT3: 0.02},  // up, up
		{AIAuditScore: 60, ActualReturnT3: 0.01},  // flat, flat
		{AIAuditScore: 90, ActualReturnT3: 0.01},  // up, flat
		{AIAuditScore: 10, ActualReturnT3: 0.011}, // flat, up
	}
	assert.Equal(t, 0.5, Accuracy(samples, 60, 0.01))
	assert.Equal(t, 0.5, Accuracy(nil, 60, 0.01))
}

func TestFeaturePerformance(t *testing.T) {
	cfg := DefaultConfig()
	samples := append(makeSamples(5, 50, 0.03, "a"), makeSamples(4, 50, 0.5, "b")...)
	samples = append(samples, makeSamples(6, 50, -0.021, "c")...)

	perf := FeaturePerformance(samples, cfg)

	assert.Equal(t, 1.0, perf["a"].Correlation)
	assert.Equal(t, 5, perf["a"].SampleCount)
	_, ok := perf["b"]
	assert.False(t, ok, "below minimum support")
	assert.Equal(t, -1.0, perf["c"].Correlation)
}
