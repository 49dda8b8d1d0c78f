// Package metrics exposes tracking and evolution counters through Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics is the sink used by the tracker, evolver and scheduler.
type Metrics interface {
	TaskCreated(ticker string)
	TaskClosed()
	CheckpointCaptured(offset int)
	PriceError(source string)
	AlertSent(offset int)
	EvolutionRun(outcome string)
	SetWeight(feature string, value float64)
	SetAccuracy(value float64)
	ObserveJob(job string, d time.Duration)
	JobSkipped(job string)
}

// Recorder implements Metrics using Prometheus.
type Recorder struct {
	registry *prometheus.Registry

	tasksCreated  *prometheus.CounterVec
	tasksClosed   prometheus.Counter
	checkpoints   *prometheus.CounterVec
	priceErrors   *prometheus.CounterVec
	alertsSent    *prometheus.CounterVec
	evolutionRuns *prometheus.CounterVec
	weights       *prometheus.GaugeVec
	accuracy      prometheus.Gauge
	jobDuration   *prometheus.HistogramVec
	jobsSkipped   *prometheus.CounterVec
}

// New creates a Prometheus recorder registered on its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		tasksCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newstrace_tasks_created_total",
				Help: "Total number of tracking tasks created",
			},
			[]string{"ticker"},
		),
		tasksClosed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "newstrace_tasks_closed_total",
				Help: "Total number of tracking tasks closed",
			},
		),
		checkpoints: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newstrace_checkpoints_captured_total",
				Help: "Total number of price checkpoints captured",
			},
			[]string{"offset"},
		),
		priceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newstrace_price_errors_total",
				Help: "Total number of failed price lookups",
			},
			[]string{"source"},
		),
		alertsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newstrace_alerts_total",
				Help: "Total number of drawdown alerts raised",
			},
			[]string{"offset"},
		),
		evolutionRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newstrace_evolution_runs_total",
				Help: "Evolution cycles by outcome",
			},
			[]string{"outcome"},
		),
		weights: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "newstrace_feature_weight",
				Help: "Current weight of each audit feature",
			},
			[]string{"feature"},
		),
		accuracy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "newstrace_prediction_accuracy",
				Help: "Prediction accuracy over the latest feedback batch",
			},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newstrace_job_duration_seconds",
				Help:    "Duration of batch jobs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		jobsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newstrace_jobs_skipped_total",
				Help: "Job invocations skipped because another run held the lock",
			},
			[]string{"job"},
		),
	}
}

// Registry returns the registry the recorder's collectors live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) TaskCreated(ticker string) {
	r.tasksCreated.WithLabelValues(ticker).Inc()
}

func (r *Recorder) TaskClosed() {
	r.tasksClosed.Inc()
}

func (r *Recorder) CheckpointCaptured(offset int) {
	r.checkpoints.WithLabelValues(strconv.Itoa(offset)).Inc()
}

func (r *Recorder) PriceError(source string) {
	r.priceErrors.WithLabelValues(source).Inc()
}

func (r *Recorder) AlertSent(offset int) {
	r.alertsSent.WithLabelValues(strconv.Itoa(offset)).Inc()
}

func (r *Recorder) EvolutionRun(outcome string) {
	r.evolutionRuns.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SetWeight(feature string, value float64) {
	r.weights.WithLabelValues(feature).Set(value)
}

func (r *Recorder) SetAccuracy(value float64) {
	r.accuracy.Set(value)
}

func (r *Recorder) ObserveJob(job string, d time.Duration) {
	r.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (r *Recorder) JobSkipped(job string) {
	r.jobsSkipped.WithLabelValues(job).Inc()
}

// Handler returns the HTTP handler serving the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Nop discards every observation.
type Nop struct{}

func (Nop) TaskCreated(string) {}
func (Nop) TaskClosed() {}
func (Nop) CheckpointCaptured(int) {}
func (Nop) PriceError(string) {}
func (Nop) AlertSent(int) {}
func (Nop) EvolutionRun(string) {}
func (Nop) SetWeight(string, float64) {}
func (Nop) SetAccuracy(float64) {}
func (Nop) ObserveJob(string, time.Duration) {}
func (Nop) JobSkipped(string) {}
