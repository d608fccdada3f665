package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// forecasting pipeline.
type Metrics struct {
	PhaseOutcomes      *prometheus.CounterVec // labels: phase, outcome={success,failed,skipped}
	RetryAttempts      prometheus.Counter
	PredictionsWritten prometheus.Counter
	InferenceFailures  prometheus.Counter
	PipelineRunning    prometheus.Gauge

	// Backfill metrics.
	GapDaysFound     prometheus.Counter
	BackfillDuration prometheus.Histogram

	InferenceDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		PhaseOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_pipeline",
			Name:      "phase_outcomes_total",
			Help:      "Pipeline phase completions by phase and outcome.",
		}, []string{"phase", "outcome"}),
		RetryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_pipeline",
			Name:      "retry_attempts_total",
			Help:      "Total retried attempts across all phases.",
		}),
		PredictionsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_pipeline",
			Name:      "predictions_written_total",
			Help:      "Prediction records upserted into the store.",
		}),
		InferenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_pipeline",
			Name:      "inference_failures_total",
			Help:      "Per-location or per-date inference failures.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_pipeline",
			Name:      "running",
			Help:      "1 while a pipeline or backfill run is active.",
		}),
		GapDaysFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_pipeline",
			Name:      "gap_days_found_total",
			Help:      "Missing prediction dates discovered by gap scans.",
		}),
		BackfillDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flood_pipeline",
			Name:      "backfill_duration_seconds",
			Help:      "Duration of a complete backfill execution.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flood_pipeline",
			Name:      "inference_duration_seconds",
			Help:      "Duration of a single inference call.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}

	prometheus.MustRegister(
		m.PhaseOutcomes,
		m.RetryAttempts,
		m.PredictionsWritten,
		m.InferenceFailures,
		m.PipelineRunning,
		m.GapDaysFound,
		m.BackfillDuration,
		m.InferenceDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		PhaseOutcomes:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "flood_pipeline", Name: "phase_outcomes_total"}, []string{"phase", "outcome"}),
		RetryAttempts:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_pipeline", Name: "retry_attempts_total"}),
		PredictionsWritten: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_pipeline", Name: "predictions_written_total"}),
		InferenceFailures:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_pipeline", Name: "inference_failures_total"}),
		PipelineRunning:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "flood_pipeline", Name: "running"}),
		GapDaysFound:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_pipeline", Name: "gap_days_found_total"}),
		BackfillDuration:   prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "flood_pipeline", Name: "backfill_duration_seconds"}),
		InferenceDuration:  prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "flood_pipeline", Name: "inference_duration_seconds"}),
	}
}
