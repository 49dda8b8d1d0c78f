package cli

import (
	"sync"

	"github.com/rs/zerolog"

	"newstrace/internal/config"
	"newstrace/internal/evolution"
	"newstrace/internal/feedback"
	"newstrace/internal/lock"
	"newstrace/internal/market"
	"newstrace/internal/metrics"
	"newstrace/internal/notify"
	"newstrace/internal/scheduler"
	"newstrace/internal/store"
)

// App holds the application dependencies. Services are built on first use so
// that commands like version and config never touch the database.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger

	once sync.Once
	err  error

	Store     store.DataStore
	Prices    market.PriceSource
	Notifier  notify.Notifier
	Metrics   *metrics.Recorder
	Locker    lock.Locker
	Tracker   *market.MarketTracker
	Collector *feedback.Collector
	Evolver   *evolution.Evolver
	Scheduler *scheduler.Scheduler

	closers []func() error
}

func (a *App) configDir() string {
	if a.ConfigDir != "" {
		return a.ConfigDir
	}
	return config.DefaultConfigDir()
}

// services wires every component from the configuration.
func (a *App) services() error {
	a.once.Do(func() {
		a.err = a.build()
	})
	return a.err
}

func (a *App) build() error {
	cfg := a.Config

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)
	a.Logger.Debug().Str("path", cfg.Database.Path).Msg("SQLite store initialized")

	prices, err := market.NewPriceSource(cfg.Price, a.Logger)
	if err != nil {
		return err
	}
	a.Prices = prices

	if cfg.Notifications.Enabled {
		a.Notifier = notify.NewMultiNotifier(&cfg.Notifications, a.Logger)
	} else {
		a.Notifier = notify.NewNoOpNotifier()
	}

	a.Metrics = metrics.New()

	switch cfg.Scheduler.Locker {
	case "redis":
		rl, err := lock.NewRedisLocker(cfg.Redis)
		if err != nil {
			return err
		}
		a.Locker = rl
		a.closers = append(a.closers, rl.Close)
	default:
		a.Locker = lock.NewLocalLocker()
	}

	a.Tracker = market.NewMarketTracker(st, prices, market.ConfigFrom(cfg.Tracking), a.Logger,
		market.WithNotifier(a.Notifier),
		market.WithMetrics(a.Metrics),
	)
	a.Collector = feedback.NewCollector(st, st, a.Logger)
	a.Evolver = evolution.NewEvolver(st, a.Collector, evolution.ConfigFrom(cfg.Evolution), a.Logger,
		evolution.WithMetrics(a.Metrics),
	)

	a.Scheduler = scheduler.New(a.Locker, a.Logger, scheduler.WithMetrics(a.Metrics))
	return a.Scheduler.RegisterDefaults(cfg.Scheduler, a.Tracker, a.Evolver)
}

// Close releases resources acquired by services.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
