// Package notify provides alert delivery for tracking and evolution events.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"newstrace/internal/config"
	"newstrace/internal/resilience"
)

// Notifier delivers alerts. Delivery is fire-and-forget from the caller's view.
type Notifier interface {
	SendAlert(ctx context.Context, title, content string, level Level) error
}

// NotificationChannel is one delivery target of a MultiNotifier.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification is one alert as handed to channels.
type Notification struct {
	Title     string
	Message   string
	Level     Level
	Timestamp time.Time
}

// Level represents the severity of a notification.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

func (l Level) rank() int {
	switch l {
	case LevelCritical:
		return 2
	case LevelWarning:
		return 1
	default:
		return 0
	}
}

// ParseLevel parses a level name, defaulting to LevelInfo.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelCritical:
		return LevelCritical
	case LevelWarning:
		return LevelWarning
	default:
		return LevelInfo
	}
}

// MultiNotifier fans a notification out to every enabled channel at or above
// the minimum level, retrying each channel independently.
type MultiNotifier struct {
	mu       sync.RWMutex
	channels []NotificationChannel
	minLevel Level
	retry    resilience.RetryConfig
	logger   zerolog.Logger
	clock    func() time.Time
}

// NewMultiNotifier builds the channels enabled in cfg.
func NewMultiNotifier(cfg *config.NotificationConfig, logger zerolog.Logger) *MultiNotifier {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryAttempts
	if cfg.RetryDelay > 0 {
		retry.InitialDelay = cfg.RetryDelay
	}
	retry.Retryable = isRetryable

	mn := &MultiNotifier{
		minLevel: ParseLevel(cfg.Level),
		retry:    retry,
		logger:   logger.With().Str("component", "notify").Logger(),
		clock:    time.Now,
	}

	if cfg.Log {
		mn.channels = append(mn.channels, NewLogNotifier(logger))
	}
	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}
	if cfg.Email.Enabled {
		mn.channels = append(mn.channels, NewEmailNotifier(cfg.Email))
	}
	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Channels returns the names of the enabled channels.
func (mn *MultiNotifier) Channels() []string {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	var names []string
	for _, ch := range mn.channels {
		if ch.IsEnabled() {
			names = append(names, ch.Name())
		}
	}
	return names
}

// Send delivers n to all enabled channels. Every channel is attempted; the
// returned error lists the channels that failed after their retries.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if n.Level.rank() < mn.minLevel.rank() {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = mn.clock()
	}

	mn.mu.RLock()
	channels := append([]NotificationChannel(nil), mn.channels...)
	mn.mu.RUnlock()

	var failed []string
	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		attempts := 0
		err := resilience.Retry(ctx, mn.retry, func(ctx context.Context) error {
			attempts++
			return ch.Send(ctx, n)
		})
		if err != nil {
			mn.logger.Debug().Err(err).Str("channel", ch.Name()).Int("attempts", attempts).Msg("Channel delivery failed")
			failed = append(failed, fmt.Sprintf("%s: %v", ch.Name(), err))
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(failed, "; "))
	}
	return nil
}

// SendAlert sends an alert notification.
func (mn *MultiNotifier) SendAlert(ctx context.Context, title, content string, level Level) error {
	return mn.Send(ctx, Notification{
		Title:   title,
		Message: content,
		Level:   level,
	})
}

// LogNotifier mirrors notifications into the application log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("channel", "log").Logger()}
}

func (l *LogNotifier) Name() string    { return "log" }
func (l *LogNotifier) IsEnabled() bool { return true }

// Send writes the notification as a structured log line.
func (l *LogNotifier) Send(ctx context.Context, n Notification) error {
	event := l.logger.Info()
	if n.Level != LevelInfo {
		event = l.logger.Warn()
	}
	event.Str("alert_level", string(n.Level)).
		Str("title", n.Title).
		Str("content", n.Message).
		Msg("Alert")
	return nil
}

// NoOpNotifier drops every alert.
type NoOpNotifier struct{}

func NewNoOpNotifier() *NoOpNotifier { return &NoOpNotifier{} }

func (n *NoOpNotifier) SendAlert(ctx context.Context, title, content string, level Level) error {
	return nil
}
