package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WritesTemplateOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "config.toml"))
	require.NoError(t, err, "template written")

	assert.Equal(t, filepath.Join(dir, "newstrace.db"), cfg.Database.Path)
	assert.Equal(t, 7, cfg.Tracking.DurationDays)
	require.Len(t, cfg.Tracking.Checkpoints, 3)
	assert.Equal(t, -0.03, cfg.Tracking.Checkpoints[0].AlertBelow)
	assert.Equal(t, 7, cfg.Tracking.FinalCheckpoint())
	assert.Equal(t, 30, cfg.Evolution.MinSamples)
	assert.Equal(t, time.Hour, cfg.Scheduler.UpdateInterval)
	assert.Equal(t, 5, cfg.Price.BreakerFailures)

	// The written template parses back to the same settings.
	again, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Tracking, again.Tracking)
	assert.Equal(t, cfg.Evolution, again.Evolution)
	assert.Equal(t, cfg.Scheduler, again.Scheduler)
}

func TestLoad_FileOverridesAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := `
[evolution]
min_samples = 10
maintenance_weekday = "monday"

[price]
provider = "static"

[price.static]
RELIANCE = 2500.0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))
	t.Setenv("NEWSTRACE_DB_PATH", filepath.Join(dir, "env.db"))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Evolution.MinSamples)
	assert.Equal(t, "monday", cfg.Evolution.MaintenanceWeekday)
	assert.Equal(t, 0.9, cfg.Evolution.DecayFactor, "unset keys keep defaults")
	assert.Equal(t, filepath.Join(dir, "env.db"), cfg.Database.Path)
	assert.Equal(t, 2500.0, cfg.Price.Static["reliance"])
}

func TestLoad_RejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[evolution]\ndecay_factor = 1.5\n"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero duration", func(c *Config) { c.Tracking.DurationDays = 0 }},
		{"no checkpoints", func(c *Config) { c.Tracking.Checkpoints = nil }},
		{"unsorted checkpoints", func(c *Config) {
			c.Tracking.Checkpoints = []CheckpointConfig{{Offset: 3}, {Offset: 1}}
		}},
		{"final beyond duration", func(c *Config) { c.Tracking.DurationDays = 5 }},
		{"positive alert", func(c *Config) { c.Tracking.Checkpoints[0].AlertBelow = 0.1 }},
		{"bounds inverted", func(c *Config) { c.Evolution.WeightMin = 0.5; c.Evolution.WeightMax = -0.5 }},
		{"decay zero", func(c *Config) { c.Evolution.DecayFactor = 0 }},
		{"accuracy above one", func(c *Config) { c.Evolution.AccuracyThreshold = 1.2 }},
		{"min samples zero", func(c *Config) { c.Evolution.MinSamples = 0 }},
		{"bad weekday", func(c *Config) { c.Evolution.MaintenanceWeekday = "someday" }},
		{"bad hour", func(c *Config) { c.Evolution.MaintenanceHour = 24 }},
		{"bad provider", func(c *Config) { c.Price.Provider = "yahoo" }},
		{"bad locker", func(c *Config) { c.Scheduler.Locker = "etcd" }},
	}

	require.NoError(t, Default().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseWeekday(t *testing.T) {
	d, ok := ParseWeekday(" Sunday ")
	assert.True(t, ok)
	assert.Equal(t, time.Sunday, d)

	_, ok = ParseWeekday("funday")
	assert.False(t, ok)
}
