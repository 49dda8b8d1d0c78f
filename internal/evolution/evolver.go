// Package evolution decides when the audit feature weights should change and
// computes the next weight vector from realised market feedback.
package evolution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"newstrace/internal/config"
	apperrors "newstrace/internal/errors"
	"newstrace/internal/logging"
	"newstrace/internal/metrics"
	"newstrace/internal/models"
	"newstrace/internal/store"
)

// FeedbackSource provides unconsumed feedback samples.
type FeedbackSource interface {
	Collect(ctx context.Context, limit int) ([]models.MarketFeedback, error)
	MarkConsumed(ctx context.Context, samples []models.MarketFeedback) (int, error)
}

// Config holds evolution settings. Weights live on the [WeightMin, WeightMax] scale.
type Config struct {
	Enabled            bool
	MinSamples         int
	SampleLimit        int
	AccuracyThreshold  float64
	ScoreThreshold     float64
	ReturnThreshold    float64
	MaxWeightChange    float64
	DecayFactor        float64
	MinFeatureSupport  int
	UpThreshold        float64
	DownThreshold      float64
	WeightMin          float64
	WeightMax          float64
	Epsilon            float64
	MaintenanceWeekday time.Weekday
	MaintenanceHour    int
}

// DefaultConfig returns the built-in evolution settings.
func DefaultConfig() Config {
	return ConfigFrom(config.Default().Evolution)
}

// ConfigFrom converts the [evolution] section.
func ConfigFrom(c config.EvolutionConfig) Config {
	weekday, _ := config.ParseWeekday(c.MaintenanceWeekday)
	return Config{
		Enabled:            c.Enabled,
		MinSamples:         c.MinSamples,
		SampleLimit:        c.SampleLimit,
		AccuracyThreshold:  c.AccuracyThreshold,
		ScoreThreshold:     c.ScoreThreshold,
		ReturnThreshold:    c.ReturnThreshold,
		MaxWeightChange:    c.MaxWeightChange,
		DecayFactor:        c.DecayFactor,
		MinFeatureSupport:  c.MinFeatureSupport,
		UpThreshold:        c.UpThreshold,
		DownThreshold:      c.DownThreshold,
		WeightMin:          c.WeightMin,
		WeightMax:          c.WeightMax,
		Epsilon:            c.Epsilon,
		MaintenanceWeekday: weekday,
		MaintenanceHour:    c.MaintenanceHour,
	}
}

// Assessment is the outcome of the gating check.
type Assessment struct {
	Evolve   bool    `json:"evolve"`
	Reason   string  `json:"reason"`
	Accuracy float64 `json:"accuracy"`
	Samples  int     `json:"samples"`
}

// CycleResult describes one RunCycle invocation.
type CycleResult struct {
	Assessment Assessment              `json:"assessment"`
	Evolved    bool                    `json:"evolved"`
	Before     models.WeightVector     `json:"before,omitempty"`
	After      models.WeightVector     `json:"after,omitempty"`
	Snapshot   *models.WeightSnapshot  `json:"snapshot,omitempty"`
	Committed  bool                    `json:"committed"` // false: snapshot held in memory only
	Record     *models.EvolutionRecord `json:"record,omitempty"`
}

// FeaturePerf summarises the realised returns of samples mentioning a feature.
type FeaturePerf struct {
	AvgReturn   float64 `json:"avg_return"`
	SampleCount int     `json:"sample_count"`
	Correlation float64 `json:"correlation"`
}

// Evolver owns the weight vector. Every change is a whole-vector snapshot.
type Evolver struct {
	weights  store.WeightStore
	feedback FeedbackSource
	metrics  metrics.Metrics
	logger   zerolog.Logger
	cfg      Config
	clock    func() time.Time

	mu sync.RWMutex
	// local is the last vector this process produced; committed is false when
	// persisting it failed.
	local     *models.WeightSnapshot
	committed bool
}

// Option configures an Evolver.
type Option func(*Evolver)

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(e *Evolver) { e.metrics = m }
}

// WithClock overrides the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(e *Evolver) { e.clock = clock }
}

// NewEvolver creates a new Evolver.
func NewEvolver(weights store.WeightStore, feedback FeedbackSource, cfg Config, logger zerolog.Logger, opts ...Option) *Evolver {
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = 200
	}
	e := &Evolver{
		weights:  weights,
		feedback: feedback,
		metrics:  metrics.Nop{},
		logger:   logging.WithComponent(logger, "evolver"),
		cfg:      cfg,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ShouldEvolve reports whether an evolution cycle should run now, and why.
func (e *Evolver) ShouldEvolve(ctx context.Context) (bool, string) {
	a := e.Assess(ctx)
	return a.Evolve, a.Reason
}

// Assess runs the gating check against the current unconsumed feedback.
func (e *Evolver) Assess(ctx context.Context) Assessment {
	if !e.cfg.Enabled {
		return Assessment{Reason: "disabled"}
	}

	samples, err := e.feedback.Collect(ctx, e.cfg.SampleLimit)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to collect feedback for gating")
		return Assessment{Reason: fmt.Sprintf("feedback unavailable: %v", err)}
	}
	return e.assess(samples, false)
}

func (e *Evolver) assess(samples []models.MarketFeedback, force bool) Assessment {
	a := Assessment{Samples: len(samples)}

	if !e.cfg.Enabled {
		a.Reason = "disabled"
		return a
	}
	if len(samples) < e.cfg.MinSamples {
		a.Reason = fmt.Sprintf("insufficient samples: %d/%d", len(samples), e.cfg.MinSamples)
		return a
	}

	a.Accuracy = Accuracy(samples, e.cfg.ScoreThreshold, e.cfg.ReturnThreshold)
	e.metrics.SetAccuracy(a.Accuracy)

	switch {
	case force:
		a.Evolve = true
		a.Reason = fmt.Sprintf("forced: accuracy=%.2f%%, samples=%d", a.Accuracy*100, a.Samples)
	case a.Accuracy < e.cfg.AccuracyThreshold:
		a.Evolve = true
		a.Reason = fmt.Sprintf("accuracy below threshold: %.2f%% < %.0f%%", a.Accuracy*100, e.cfg.AccuracyThreshold*100)
	case e.inMaintenanceWindow(e.clock()):
		a.Evolve = true
		a.Reason = "weekly maintenance window"
	default:
		a.Reason = fmt.Sprintf("no evolution needed: accuracy=%.2f%%, samples=%d", a.Accuracy*100, a.Samples)
	}
	return a
}

func (e *Evolver) inMaintenanceWindow(now time.Time) bool {
	return now.Weekday() == e.cfg.MaintenanceWeekday && now.Hour() == e.cfg.MaintenanceHour
}

// RunCycle gates, collects and evolves. force bypasses the accuracy and
// maintenance-window checks but never the enabled flag or the sample minimum.
func (e *Evolver) RunCycle(ctx context.Context, force bool) (CycleResult, error) {
	if !e.cfg.Enabled {
		e.metrics.EvolutionRun("skipped")
		return CycleResult{Assessment: Assessment{Reason: "disabled"}}, nil
	}

	samples, err := e.feedback.Collect(ctx, e.cfg.SampleLimit)
	if err != nil {
		e.metrics.EvolutionRun("failed")
		return CycleResult{}, fmt.Errorf("failed to collect feedback: %w", err)
	}

	result := CycleResult{Assessment: e.assess(samples, force)}
	e.logger.Info().
		Bool("evolve", result.Assessment.Evolve).
		Int("samples", result.Assessment.Samples).
		Str("reason", result.Assessment.Reason).
		Msg("Evolution gating")

	if !result.Assessment.Evolve {
		e.metrics.EvolutionRun("skipped")
		return result, nil
	}

	before := e.Current(ctx)
	after, snap, rec := e.evolve(ctx, samples, result.Assessment.Reason)

	result.Evolved = true
	result.Before = before.Weights
	result.After = after
	result.Snapshot = snap
	result.Record = rec
	e.mu.RLock()
	result.Committed = e.committed
	e.mu.RUnlock()
	e.metrics.EvolutionRun("evolved")
	return result, nil
}

// Evolve applies one update from samples and returns the new vector. Fewer
// than MinSamples samples leave the current vector unchanged.
func (e *Evolver) Evolve(ctx context.Context, samples []models.MarketFeedback) models.WeightVector {
	w, _, _ := e.evolve(ctx, samples, "manual")
	return w
}

func (e *Evolver) evolve(ctx context.Context, samples []models.MarketFeedback, reason string) (models.WeightVector, *models.WeightSnapshot, *models.EvolutionRecord) {
	current := e.Current(ctx)

	if len(samples) < e.cfg.MinSamples {
		e.logger.Warn().
			Int("samples", len(samples)).
			Int("min_samples", e.cfg.MinSamples).
			Msg("Insufficient samples, skipping evolution")
		return current.Weights.Clone(), nil, nil
	}

	perf := FeaturePerformance(samples, e.cfg)
	next := e.nextWeights(current.Weights, perf)
	now := e.clock()

	snap := models.WeightSnapshot{Weights: next.Clone(), CreatedAt: now, Reason: reason}
	saved, err := e.weights.SaveSnapshot(ctx, snap)
	committed := err == nil
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to persist weight snapshot, keeping weights in memory")
		saved = snap
		saved.Version = current.Version
	}
	e.setLocal(saved, committed)

	rec := &models.EvolutionRecord{
		EvolvedAt: now,
		BatchSize: len(samples),
		Reason:    reason,
		Changes:   e.changes(current.Weights, next, perf),
	}
	if err := e.weights.AppendEvolution(ctx, rec); err != nil {
		e.logger.Error().Err(err).Msg("Failed to append evolution record")
	}

	if n, err := e.feedback.MarkConsumed(ctx, samples); err != nil {
		e.logger.Error().Err(err).Msg("Failed to mark feedback consumed")
	} else {
		e.logger.Debug().Int("marked", n).Msg("Feedback consumed")
	}

	for feature, w := range next {
		e.metrics.SetWeight(feature, w)
	}
	e.logChanges(rec)

	return next, &saved, rec
}

// nextWeights applies decay-then-step to every feature of the current vector
// with enough support. Features never seen in the batch are left unchanged.
func (e *Evolver) nextWeights(current models.WeightVector, perf map[string]FeaturePerf) models.WeightVector {
	next := current.Clone()
	for feature, old := range current {
		p, ok := perf[feature]
		if !ok || p.SampleCount < e.cfg.MinFeatureSupport {
			continue
		}
		w := old*e.cfg.DecayFactor + p.Correlation*e.cfg.MaxWeightChange
		next[feature] = clamp(round4(w), e.cfg.WeightMin, e.cfg.WeightMax)
	}
	return next
}

func (e *Evolver) changes(before, after models.WeightVector, perf map[string]FeaturePerf) []models.FeatureChange {
	changes := []models.FeatureChange{}
	for _, feature := range after.Features() {
		old := before[feature]
		if math.Abs(after[feature]-old) <= e.cfg.Epsilon {
			continue
		}
		changes = append(changes, models.FeatureChange{
			Feature:     feature,
			OldWeight:   old,
			NewWeight:   after[feature],
			SampleCount: perf[feature].SampleCount,
		})
	}
	return changes
}

func (e *Evolver) logChanges(rec *models.EvolutionRecord) {
	if len(rec.Changes) == 0 {
		e.logger.Info().Int("samples", rec.BatchSize).Msg("Weights unchanged")
		return
	}
	for _, c := range rec.Changes {
		e.logger.Info().
			Str("feature", c.Feature).
			Float64("old", c.OldWeight).
			Float64("new", c.NewWeight).
			Int("support", c.SampleCount).
			Msg("Weight evolved")
	}
	e.logger.Info().Int("samples", rec.BatchSize).Int("changed", len(rec.Changes)).Msg("Evolution complete")
}

// Current returns the snapshot scoring should use: this process's own
// uncommitted vector if it is newer than anything committed, else the latest
// committed snapshot, else the built-in defaults.
func (e *Evolver) Current(ctx context.Context) models.WeightSnapshot {
	e.mu.RLock()
	local, committed := e.local, e.committed
	e.mu.RUnlock()

	latest, err := e.weights.LatestSnapshot(ctx)
	switch {
	case err == nil:
		if local != nil && !committed && local.CreatedAt.After(latest.CreatedAt) {
			return cloneSnapshot(*local)
		}
		return latest
	case !apperrors.Is(err, apperrors.ErrNoSnapshot):
		e.logger.Warn().Err(err).Msg("Failed to load weight snapshot")
	}

	if local != nil {
		return cloneSnapshot(*local)
	}
	return models.DefaultSnapshot()
}

func (e *Evolver) setLocal(snap models.WeightSnapshot, committed bool) {
	s := cloneSnapshot(snap)
	e.mu.Lock()
	e.local = &s
	e.committed = committed
	e.mu.Unlock()
}

func cloneSnapshot(s models.WeightSnapshot) models.WeightSnapshot {
	s.Weights = s.Weights.Clone()
	return s
}

// Accuracy returns the share of samples whose score side matches the return
// side: score above scoreThreshold predicts a return above returnThreshold.
// An empty batch scores 0.5.
func Accuracy(samples []models.MarketFeedback, scoreThreshold, returnThreshold float64) float64 {
	if len(samples) == 0 {
		return 0.5
	}
	correct := 0
	for _, s := range samples {
		predictedUp := s.AIAuditScore > scoreThreshold
		actualUp := s.ActualReturnT3 > returnThreshold
		if predictedUp == actualUp {
			correct++
		}
	}
	return float64(correct) / float64(len(samples))
}

// FeaturePerformance groups sample returns by feature. Only features with at
// least MinFeatureSupport samples are reported.
func FeaturePerformance(samples []models.MarketFeedback, cfg Config) map[string]FeaturePerf {
	returns := make(map[string][]float64)
	for _, s := range samples {
		seen := make(map[string]bool, len(s.DetectedFeatures))
		for _, f := range s.DetectedFeatures {
			if seen[f] {
				continue
			}
			seen[f] = true
			returns[f] = append(returns[f], s.ActualReturnT3)
		}
	}

	names := make([]string, 0, len(returns))
	for f := range returns {
		names = append(names, f)
	}
	sort.Strings(names)

	perf := make(map[string]FeaturePerf, len(names))
	for _, f := range names {
		rs := returns[f]
		if len(rs) < cfg.MinFeatureSupport {
			continue
		}
		sum := 0.0
		for _, r := range rs {
			sum += r
		}
		avg := sum / float64(len(rs))

		corr := 0.0
		switch {
		case avg > cfg.UpThreshold:
			corr = 1
		case avg < cfg.DownThreshold:
			corr = -1
		}
		perf[f] = FeaturePerf{AvgReturn: avg, SampleCount: len(rs), Correlation: corr}
	}
	return perf
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		v = 0
	}
	return math.Max(lo, math.Min(hi, v))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
