// Package config provides configuration management for the tracking and evolution engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database      DatabaseConfig     `mapstructure:"database"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Tracking      TrackingConfig     `mapstructure:"tracking"`
	Evolution     EvolutionConfig    `mapstructure:"evolution"`
	Price         PriceConfig        `mapstructure:"price"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
	Redis         RedisConfig        `mapstructure:"redis"`
}

// DatabaseConfig holds persistence configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// TrackingConfig holds market tracking configuration.
type TrackingConfig struct {
	DurationDays int                `mapstructure:"duration_days"`
	Workers      int                `mapstructure:"workers"`
	Checkpoints  []CheckpointConfig `mapstructure:"checkpoints"`
}

// CheckpointConfig describes one price checkpoint and its drawdown alert.
// AlertBelow of zero disables the alert.
type CheckpointConfig struct {
	Offset     int     `mapstructure:"offset"`
	AlertBelow float64 `mapstructure:"alert_below"`
	AlertTitle string  `mapstructure:"alert_title"`
	AlertLevel string  `mapstructure:"alert_level"`
}

// EvolutionConfig holds weight evolution configuration.
type EvolutionConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	MinSamples         int     `mapstructure:"min_samples"`
	SampleLimit        int     `mapstructure:"sample_limit"`
	AccuracyThreshold  float64 `mapstructure:"accuracy_threshold"`
	ScoreThreshold     float64 `mapstructure:"score_threshold"`
	ReturnThreshold    float64 `mapstructure:"return_threshold"`
	MaxWeightChange    float64 `mapstructure:"max_weight_change"`
	DecayFactor        float64 `mapstructure:"decay_factor"`
	MinFeatureSupport  int     `mapstructure:"min_feature_support"`
	UpThreshold        float64 `mapstructure:"up_threshold"`
	DownThreshold      float64 `mapstructure:"down_threshold"`
	WeightMin          float64 `mapstructure:"weight_min"`
	WeightMax          float64 `mapstructure:"weight_max"`
	Epsilon            float64 `mapstructure:"epsilon"`
	MaintenanceWeekday string  `mapstructure:"maintenance_weekday"`
	MaintenanceHour    int     `mapstructure:"maintenance_hour"`
}

// PriceConfig holds price source configuration.
type PriceConfig struct {
	Provider          string             `mapstructure:"provider"` // "kite", "static"
	DefaultExchange   string             `mapstructure:"default_exchange"`
	RequestsPerSecond float64            `mapstructure:"requests_per_second"`
	Burst             int                `mapstructure:"burst"`
	FallbackEnabled   bool               `mapstructure:"fallback_enabled"`
	FallbackPrice     float64            `mapstructure:"fallback_price"`
	BreakerFailures   int                `mapstructure:"breaker_failures"` // 0 disables the breaker
	BreakerCooldown   time.Duration      `mapstructure:"breaker_cooldown"`
	Static            map[string]float64 `mapstructure:"static"`
	Kite              KiteConfig         `mapstructure:"kite"`
}

// KiteConfig holds Zerodha Kite Connect credentials.
type KiteConfig struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
}

// SchedulerConfig holds batch job intervals.
type SchedulerConfig struct {
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	CloseInterval  time.Duration `mapstructure:"close_interval"`
	EvolveInterval time.Duration `mapstructure:"evolve_interval"`
	Locker         string        `mapstructure:"locker"` // "local", "redis"
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	Level         string         `mapstructure:"level"` // info, warning, critical
	Log           bool           `mapstructure:"log"`
	RetryAttempts int            `mapstructure:"retry_attempts"` // 1 disables retries
	RetryDelay    time.Duration  `mapstructure:"retry_delay"`
	Webhook       WebhookConfig  `mapstructure:"webhook"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
	Email         EmailConfig    `mapstructure:"email"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// EmailConfig holds email notification configuration.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// RedisConfig holds Redis connection settings used for job locks.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/newstrace"
	}
	return filepath.Join(home, ".config", "newstrace")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		// First run: write a template and continue on defaults.
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file overrides anything.
func Default() *Config {
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("database.path", filepath.Join(configDir, "newstrace.db"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", false)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "newstrace.log"))
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("tracking.duration_days", 7)
	v.SetDefault("tracking.workers", 4)
	v.SetDefault("tracking.checkpoints", []map[string]interface{}{
		{"offset": 1, "alert_below": -0.03, "alert_title": "T+1 drawdown warning", "alert_level": "warning"},
		{"offset": 3, "alert_below": -0.05, "alert_title": "T+3 severe drawdown", "alert_level": "critical"},
		{"offset": 7},
	})

	v.SetDefault("evolution.enabled", true)
	v.SetDefault("evolution.min_samples", 30)
	v.SetDefault("evolution.sample_limit", 200)
	v.SetDefault("evolution.accuracy_threshold", 0.55)
	v.SetDefault("evolution.score_threshold", 60.0)
	v.SetDefault("evolution.return_threshold", 0.01)
	v.SetDefault("evolution.max_weight_change", 0.15)
	v.SetDefault("evolution.decay_factor", 0.9)
	v.SetDefault("evolution.min_feature_support", 5)
	v.SetDefault("evolution.up_threshold", 0.02)
	v.SetDefault("evolution.down_threshold", -0.02)
	v.SetDefault("evolution.weight_min", -0.5)
	v.SetDefault("evolution.weight_max", 0.5)
	v.SetDefault("evolution.epsilon", 0.001)
	v.SetDefault("evolution.maintenance_weekday", "sunday")
	v.SetDefault("evolution.maintenance_hour", 2)

	v.SetDefault("price.provider", "static")
	v.SetDefault("price.default_exchange", "NSE")
	v.SetDefault("price.requests_per_second", 3.0)
	v.SetDefault("price.burst", 1)
	v.SetDefault("price.fallback_enabled", false)
	v.SetDefault("price.fallback_price", 100.0)
	v.SetDefault("price.breaker_failures", 5)
	v.SetDefault("price.breaker_cooldown", time.Minute)

	v.SetDefault("scheduler.update_interval", time.Hour)
	v.SetDefault("scheduler.close_interval", 24*time.Hour)
	v.SetDefault("scheduler.evolve_interval", time.Hour)
	v.SetDefault("scheduler.locker", "local")

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.level", "warning")
	v.SetDefault("notifications.log", true)
	v.SetDefault("notifications.retry_attempts", 3)
	v.SetDefault("notifications.retry_delay", 500*time.Millisecond)
	v.SetDefault("notifications.email.smtp_port", 587)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9464")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "newstrace")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NEWSTRACE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Price.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Price.Kite.AccessToken = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Tracking.DurationDays <= 0 {
		return fmt.Errorf("tracking.duration_days must be positive")
	}
	if len(c.Tracking.Checkpoints) == 0 {
		return fmt.Errorf("tracking.checkpoints must not be empty")
	}
	last := 0
	for i, cp := range c.Tracking.Checkpoints {
		if cp.Offset <= last {
			return fmt.Errorf("tracking.checkpoints[%d]: offsets must be positive and strictly increasing", i)
		}
		if cp.AlertBelow > 0 {
			return fmt.Errorf("tracking.checkpoints[%d]: alert_below must not be positive", i)
		}
		last = cp.Offset
	}
	if last > c.Tracking.DurationDays {
		return fmt.Errorf("final checkpoint T+%d exceeds tracking duration of %d days", last, c.Tracking.DurationDays)
	}

	e := c.Evolution
	if e.MinSamples < 1 {
		return fmt.Errorf("evolution.min_samples must be at least 1")
	}
	if e.WeightMin >= e.WeightMax {
		return fmt.Errorf("evolution.weight_min must be below weight_max")
	}
	if e.DecayFactor <= 0 || e.DecayFactor > 1 {
		return fmt.Errorf("evolution.decay_factor must be in (0, 1]")
	}
	if e.AccuracyThreshold < 0 || e.AccuracyThreshold > 1 {
		return fmt.Errorf("evolution.accuracy_threshold must be between 0 and 1")
	}
	if e.MaxWeightChange < 0 {
		return fmt.Errorf("evolution.max_weight_change must be non-negative")
	}
	if e.DownThreshold > e.UpThreshold {
		return fmt.Errorf("evolution.down_threshold must not exceed up_threshold")
	}
	if _, ok := ParseWeekday(e.MaintenanceWeekday); !ok {
		return fmt.Errorf("invalid evolution.maintenance_weekday: %s", e.MaintenanceWeekday)
	}
	if e.MaintenanceHour < 0 || e.MaintenanceHour > 23 {
		return fmt.Errorf("evolution.maintenance_hour must be between 0 and 23")
	}

	switch c.Price.Provider {
	case "static", "kite":
	default:
		return fmt.Errorf("invalid price provider: %s (must be 'static' or 'kite')", c.Price.Provider)
	}

	if c.Notifications.RetryAttempts < 0 {
		return fmt.Errorf("notifications.retry_attempts must not be negative")
	}

	switch c.Scheduler.Locker {
	case "", "local", "redis":
	default:
		return fmt.Errorf("invalid scheduler locker: %s (must be 'local' or 'redis')", c.Scheduler.Locker)
	}

	return nil
}

// ParseWeekday parses an English weekday name.
func ParseWeekday(s string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), strings.TrimSpace(s)) {
			return d, true
		}
	}
	return time.Sunday, false
}

// FinalCheckpoint returns the offset of the last configured checkpoint.
func (t TrackingConfig) FinalCheckpoint() int {
	offsets := make([]int, 0, len(t.Checkpoints))
	for _, cp := range t.Checkpoints {
		offsets = append(offsets, cp.Offset)
	}
	if len(offsets) == 0 {
		return 0
	}
	sort.Ints(offsets)
	return offsets[len(offsets)-1]
}
