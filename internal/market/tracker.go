package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"newstrace/internal/config"
	apperrors "newstrace/internal/errors"
	"newstrace/internal/logging"
	"newstrace/internal/metrics"
	"newstrace/internal/models"
	"newstrace/internal/notify"
	"newstrace/internal/performance"
	"newstrace/internal/security"
	"newstrace/internal/store"
)

// CheckpointRule describes one checkpoint offset and its drawdown alert.
// The alert fires when the return is at or below AlertBelow; zero disables it.
type CheckpointRule struct {
	Offset     int
	AlertBelow float64
	AlertTitle string
	AlertLevel notify.Level
}

// Config holds tracker settings.
type Config struct {
	Duration    time.Duration
	Checkpoints []CheckpointRule
	Workers     int
}

// DefaultConfig returns the T+1/T+3/T+7 schedule over seven days.
func DefaultConfig() Config {
	return Config{
		Duration: 7 * 24 * time.Hour,
		Checkpoints: []CheckpointRule{
			{Offset: 1, AlertBelow: -0.03, AlertTitle: "T+1 drawdown warning", AlertLevel: notify.LevelWarning},
			{Offset: 3, AlertBelow: -0.05, AlertTitle: "T+3 severe drawdown", AlertLevel: notify.LevelCritical},
			{Offset: 7},
		},
		Workers: 4,
	}
}

// ConfigFrom converts the [tracking] section.
func ConfigFrom(cfg config.TrackingConfig) Config {
	out := Config{
		Duration: time.Duration(cfg.DurationDays) * 24 * time.Hour,
		Workers:  cfg.Workers,
	}
	for _, cp := range cfg.Checkpoints {
		out.Checkpoints = append(out.Checkpoints, CheckpointRule{
			Offset:     cp.Offset,
			AlertBelow: cp.AlertBelow,
			AlertTitle: cp.AlertTitle,
			AlertLevel: notify.ParseLevel(cp.AlertLevel),
		})
	}
	sort.Slice(out.Checkpoints, func(i, j int) bool {
		return out.Checkpoints[i].Offset < out.Checkpoints[j].Offset
	})
	return out
}

// FinalOffset returns the offset of the last checkpoint.
func (c Config) FinalOffset() int {
	if len(c.Checkpoints) == 0 {
		return 0
	}
	return c.Checkpoints[len(c.Checkpoints)-1].Offset
}

// DueRule returns the checkpoint that should be captured at dayOffset.
// Intermediate checkpoints are due only on their exact day; a missed one is
// skipped. The final checkpoint stays due from its offset onwards so a
// late tick still completes the task.
func (c Config) DueRule(dayOffset int) (CheckpointRule, bool) {
	n := len(c.Checkpoints)
	if n == 0 {
		return CheckpointRule{}, false
	}
	if final := c.Checkpoints[n-1]; dayOffset >= final.Offset {
		return final, true
	}
	for _, rule := range c.Checkpoints[:n-1] {
		if rule.Offset == dayOffset {
			return rule, true
		}
	}
	return CheckpointRule{}, false
}

// UpdateReport summarises one price update run.
type UpdateReport struct {
	Active   int `json:"active"`
	Captured int `json:"captured"`
	Pending  int `json:"pending"`
	Failed   int `json:"failed"`
	Alerts   int `json:"alerts"`
}

// MarketTracker owns tracking tasks for their whole lifecycle.
type MarketTracker struct {
	store    store.TrackingStore
	prices   PriceSource
	notifier notify.Notifier
	metrics  metrics.Metrics
	logger   zerolog.Logger
	cfg      Config
	clock    func() time.Time
}

// Option configures a MarketTracker.
type Option func(*MarketTracker)

// WithNotifier sets the alert notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(t *MarketTracker) { t.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(t *MarketTracker) { t.metrics = m }
}

// WithClock overrides the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(t *MarketTracker) { t.clock = clock }
}

// NewMarketTracker creates a new MarketTracker.
func NewMarketTracker(st store.TrackingStore, prices PriceSource, cfg Config, logger zerolog.Logger, opts ...Option) *MarketTracker {
	if len(cfg.Checkpoints) == 0 {
		cfg.Checkpoints = DefaultConfig().Checkpoints
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultConfig().Duration
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	t := &MarketTracker{
		store:    st,
		prices:   prices,
		notifier: notify.NewNoOpNotifier(),
		metrics:  metrics.Nop{},
		logger:   logging.WithComponent(logger, "tracker"),
		cfg:      cfg,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CreateTracking opens one task per ticker at the current price. Tickers whose
// price cannot be read are logged and skipped. It returns the created IDs.
func (t *MarketTracker) CreateTracking(ctx context.Context, newsID string, tickers []string, regime models.Regime) ([]string, error) {
	parsed, ok := models.ParseRegime(string(regime))
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRegime, "regime %q", regime)
	}
	regime = parsed

	var ids []string
	for _, raw := range tickers {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		ticker, err := security.ValidateTicker(raw)
		if err != nil {
			t.logger.Warn().Err(err).Str("news_id", newsID).Msg("Skipping malformed ticker")
			continue
		}
		log := logging.WithTicker(t.logger, ticker).With().Str("news_id", newsID).Logger()

		price, err := fetchPrice(ctx, t.prices, ticker)
		if err != nil {
			if ctx.Err() != nil {
				return ids, ctx.Err()
			}
			t.metrics.PriceError(t.prices.Name())
			log.Warn().Err(err).Msg("Skipping ticker, entry price unavailable")
			continue
		}

		now := t.clock()
		task := &models.TrackingTask{
			ID:              models.NewTrackingID(now),
			NewsID:          newsID,
			Ticker:          ticker,
			Regime:          regime,
			Status:          models.StatusActive,
			EntryPrice:      price,
			CreatedAt:       now,
			ExpectedCloseAt: now.Add(t.cfg.Duration),
			Checkpoints: []models.Checkpoint{
				{Offset: models.EntryOffset, Price: price, CapturedAt: now},
			},
		}

		if err := t.store.CreateTask(ctx, task); err != nil {
			log.Error().Err(err).Msg("Failed to persist tracking task")
			continue
		}

		t.metrics.TaskCreated(ticker)
		taskLog := logging.WithTask(t.logger, task.ID, ticker)
		taskLog.Info().
			Str("news_id", newsID).
			Str("regime", string(regime)).
			Float64("price_t0", price).
			Msg("Tracking task created")
		ids = append(ids, task.ID)
	}

	return ids, nil
}

// UpdateAllPrices captures every due checkpoint of every active task.
// It is safe to call repeatedly; each checkpoint is captured at most once.
func (t *MarketTracker) UpdateAllPrices(ctx context.Context) (UpdateReport, error) {
	tasks, err := t.store.ActiveTasks(ctx)
	if err != nil {
		return UpdateReport{}, fmt.Errorf("failed to load active tasks: %w", err)
	}

	var captured, pending, failed, alerts atomic.Int64
	now := t.clock()

	batch := performance.ForEach(ctx, t.cfg.Workers, len(tasks), func(ctx context.Context, i int) {
		switch t.updateTask(ctx, &tasks[i], now) {
		case outcomeCaptured:
			captured.Add(1)
		case outcomeAlerted:
			captured.Add(1)
			alerts.Add(1)
		case outcomeFailed:
			failed.Add(1)
		default:
			pending.Add(1)
		}
	})

	for i, pe := range batch.Panics {
		taskLog := logging.WithTask(t.logger, tasks[i].ID, tasks[i].Ticker)
		taskLog.Error().Err(pe).Msg("Task update panicked")
		failed.Add(1)
	}

	report := UpdateReport{
		Active:   len(tasks),
		Captured: int(captured.Load()),
		Pending:  int(pending.Load()),
		Failed:   int(failed.Load()),
		Alerts:   int(alerts.Load()),
	}
	t.logger.Info().
		Int("active", report.Active).
		Int("captured", report.Captured).
		Int("failed", report.Failed).
		Int("alerts", report.Alerts).
		Msg("Price update finished")

	return report, ctx.Err()
}

type updateOutcome int

const (
	outcomeNone updateOutcome = iota
	outcomeCaptured
	outcomeAlerted
	outcomeFailed
)

func (t *MarketTracker) updateTask(ctx context.Context, task *models.TrackingTask, now time.Time) updateOutcome {
	log := logging.WithTask(t.logger, task.ID, task.Ticker)

	offset := task.DayOffset(now)
	rule, ok := t.cfg.DueRule(offset)
	if !ok || task.HasCheckpoint(rule.Offset) {
		return outcomeNone
	}

	price, err := fetchPrice(ctx, t.prices, task.Ticker)
	if err != nil {
		t.metrics.PriceError(t.prices.Name())
		log.Warn().Err(err).Int("offset", rule.Offset).Msg("Price unavailable, checkpoint deferred")
		return outcomeFailed
	}

	cp := models.Checkpoint{Offset: rule.Offset, Price: price, CapturedAt: now}
	written, err := t.store.CaptureCheckpoint(ctx, task.ID, cp)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrTaskClosed) || apperrors.Is(err, apperrors.ErrTaskNotFound) {
			return outcomeNone
		}
		log.Error().Err(err).Int("offset", rule.Offset).Msg("Failed to store checkpoint")
		return outcomeFailed
	}
	if !written {
		return outcomeNone
	}
	task.AddCheckpoint(cp)

	ret := models.FractionalReturn(task.EntryPrice, price)
	t.metrics.CheckpointCaptured(rule.Offset)
	logging.LogCheckpoint(log, rule.Offset, price, ret)

	if rule.Offset == t.cfg.FinalOffset() {
		if m, ok := models.ComputeMetrics(task, rule.Offset); ok {
			log.Info().
				Float64("final_pnl", m.FinalPnL).
				Float64("max_drawdown", m.MaxDrawdown).
				Msg("Final checkpoint reached")
		}
	}

	if rule.AlertBelow < 0 && ret <= rule.AlertBelow {
		t.sendDrawdownAlert(ctx, task, rule, price, ret)
		return outcomeAlerted
	}
	return outcomeCaptured
}

func (t *MarketTracker) sendDrawdownAlert(ctx context.Context, task *models.TrackingTask, rule CheckpointRule, price, ret float64) {
	title := rule.AlertTitle
	if title == "" {
		title = fmt.Sprintf("T+%d drawdown", rule.Offset)
	}
	content := fmt.Sprintf("%s: T+%d return %.2f%% (entry %.2f, current %.2f), news %s",
		task.Ticker, rule.Offset, ret*100, task.EntryPrice, price, task.NewsID)

	t.metrics.AlertSent(rule.Offset)
	if err := t.notifier.SendAlert(ctx, title, content, rule.AlertLevel); err != nil {
		taskLog := logging.WithTask(t.logger, task.ID, task.Ticker)
		taskLog.Warn().Err(err).Msg("Failed to deliver drawdown alert")
	}
}

// CheckAndCloseCompleted closes active tasks past their close date that hold
// the final checkpoint. Tasks still missing it stay active for the next run.
func (t *MarketTracker) CheckAndCloseCompleted(ctx context.Context) (int, error) {
	tasks, err := t.store.ActiveTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load active tasks: %w", err)
	}

	now := t.clock()
	final := t.cfg.FinalOffset()
	closed := 0

	for i := range tasks {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		task := &tasks[i]
		log := logging.WithTask(t.logger, task.ID, task.Ticker)

		if task.ExpectedCloseAt.After(now) {
			continue
		}
		m, ok := models.ComputeMetrics(task, final)
		if !ok {
			log.Debug().Int("offset", final).Msg("Close date passed without final checkpoint, keeping active")
			continue
		}

		done, err := t.store.CloseTask(ctx, task.ID, m, now)
		if err != nil {
			log.Error().Err(err).Msg("Failed to close task")
			continue
		}
		if !done {
			continue
		}

		closed++
		t.metrics.TaskClosed()
		log.Info().
			Float64("final_pnl", m.FinalPnL).
			Float64("max_drawdown", m.MaxDrawdown).
			Msg("Tracking task closed")
	}

	return closed, nil
}

// Results returns every task opened for newsID.
func (t *MarketTracker) Results(ctx context.Context, newsID string) ([]models.TrackingTask, error) {
	return t.store.ListTasks(ctx, store.TaskFilter{NewsID: newsID})
}
