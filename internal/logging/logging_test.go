package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newstrace/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel(" error "))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("chatty"))
}

func TestFromConfig_DefaultsFilePath(t *testing.T) {
	lc := FromConfig(config.LoggingConfig{Level: "info", File: true})
	assert.Equal(t, DefaultLogConfig().FilePath, lc.FilePath)
}

func TestNewLoggerWithConfig_WritesRotatingFile(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	path := filepath.Join(t.TempDir(), "logs", "newstrace.log")

	logger := NewLoggerWithConfig(LogConfig{Level: "info", File: true, FilePath: path, MaxSize: 1})
	taskLog := WithTask(logger, "TRK1", "RELIANCE")
	taskLog.Info().Msg("Checkpoint captured")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tracking_id":"TRK1"`)
	assert.Contains(t, string(data), `"ticker":"RELIANCE"`)
}

func TestLogJob(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	LogJob(logger, "update_prices", 1500*time.Millisecond, nil)
	assert.Contains(t, buf.String(), `"message":"Job completed"`)

	buf.Reset()
	LogJob(logger, "evolve", time.Second, errors.New("store down"))
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"error":"store down"`)
}
