package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := New()

	r.TaskCreated("RELIANCE")
	r.TaskCreated("RELIANCE")
	r.CheckpointCaptured(3)
	r.AlertSent(3)
	r.EvolutionRun("evolved")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.tasksCreated.WithLabelValues("RELIANCE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.checkpoints.WithLabelValues("3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.alertsSent.WithLabelValues("3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.evolutionRuns.WithLabelValues("evolved")))
}

func TestRecorder_Gauges(t *testing.T) {
	r := New()

	r.SetWeight("hype_language", -0.12)
	r.SetAccuracy(0.4)

	assert.InDelta(t, -0.12, testutil.ToFloat64(r.weights.WithLabelValues("hype_language")), 1e-9)
	assert.InDelta(t, 0.4, testutil.ToFloat64(r.accuracy), 1e-9)
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.ObserveJob("update_prices", 150*time.Millisecond)
	r.JobSkipped("evolve")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "newstrace_job_duration_seconds")
	assert.Contains(t, string(body), `newstrace_jobs_skipped_total{job="evolve"} 1`)
}

func TestNop_ImplementsMetrics(t *testing.T) {
	var m Metrics = Nop{}
	m.TaskCreated("X")
	m.ObserveJob("x", time.Second)
}
