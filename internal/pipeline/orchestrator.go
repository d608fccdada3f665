// Package pipeline sequences the daily forecasting run: ingest weather and
// river data, run inference per station, classify risk, dispatch alerts.
// Failures degrade or abort per phase criticality instead of crashing the
// cron job halfway through.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
	"github.com/saadaal/flood-forecast-pipeline/internal/observability"
	"github.com/saadaal/flood-forecast-pipeline/internal/retry"
)

// WeatherIngestor fetches weather data from the upstream API into the store.
// Each fetch is atomic from the orchestrator's view: it either completed or
// it failed, with no partial-result contract.
type WeatherIngestor interface {
	FetchHistorical(ctx context.Context) error
	FetchForecast(ctx context.Context) error
}

// RiverIngestor fetches observed river gauge readings into the store.
type RiverIngestor interface {
	FetchLevels(ctx context.Context) error
}

// Inferrer produces one prediction for one station and target date.
// It returns domain.ErrLocationUnsupported when no trained model exists and
// domain.ErrMissingInputData when the date cannot be computed.
type Inferrer interface {
	Infer(ctx context.Context, location string, horizonDays int, modelName string, targetDate time.Time) (domain.PredictionRecord, error)
}

// RecordWriter persists predictions idempotently.
type RecordWriter interface {
	UpsertPrediction(ctx context.Context, rec *domain.PredictionRecord) error
}

// RiskAssessor classifies all unclassified predictions as a single unit.
type RiskAssessor interface {
	Assess(ctx context.Context) error
}

// AlertDispatcher publishes the current risk-classified records as a single
// unit.
type AlertDispatcher interface {
	Dispatch(ctx context.Context) error
}

// LocationSource lists the configured stations.
type LocationSource interface {
	ListLocations(ctx context.Context) ([]domain.LocationMetadata, error)
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Weather   WeatherIngestor
	River     RiverIngestor
	Locations LocationSource
	Inferrer  Inferrer
	Writer    RecordWriter
	Risk      RiskAssessor
	Alerts    AlertDispatcher
	Freshness *FreshnessValidator
}

// Options carries the tunable run parameters. All of them are operational
// choices surfaced through config, not invariants.
type Options struct {
	ModelName        string
	HorizonDays      int
	MinLookaheadDays int
}

// Orchestrator drives one daily pipeline run.
type Orchestrator struct {
	deps    Deps
	opts    Options
	retry   retry.Policy
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewOrchestrator creates an Orchestrator with the real clock.
func NewOrchestrator(deps Deps, opts Options, policy retry.Policy, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		deps:    deps,
		opts:    opts,
		retry:   policy,
		clock:   clockwork.NewRealClock(),
		logger:  logger,
		metrics: metrics,
	}
}

// WithClock returns a copy of the orchestrator using the given clock.
func (o *Orchestrator) WithClock(c clockwork.Clock) *Orchestrator {
	cp := *o
	cp.clock = c
	return &cp
}

// Run executes the full daily pipeline and returns its outcome. The only
// error returns are the stale-forecast abort (wrapping
// domain.ErrStaleForecast) and a failure to list stations; everything else
// is absorbed into the returned PipelineRun.
func (o *Orchestrator) Run(ctx context.Context) (domain.PipelineRun, error) {
	run := domain.NewPipelineRun()
	o.metrics.PipelineRunning.Set(1)
	defer o.metrics.PipelineRunning.Set(0)

	o.logger.Info("pipeline run started", "run_id", run.ID,
		"model", o.opts.ModelName, "horizon_days", o.opts.HorizonDays)

	// Historical weather: non-critical. Models tolerate a short observation
	// tail, so a failed fetch downgrades to a warning.
	o.runPhase(ctx, &run, domain.PhaseIngestHistorical, o.deps.Weather.FetchHistorical)

	// Forecast weather: critical unless existing data is still fresh.
	if err := o.ingestForecast(ctx, &run); err != nil {
		return run, err
	}

	// River levels: non-critical, same reasoning as historical weather.
	o.runPhase(ctx, &run, domain.PhaseIngestRiver, o.deps.River.FetchLevels)

	if err := o.inferAll(ctx, &run); err != nil {
		return run, err
	}

	o.runPhase(ctx, &run, domain.PhaseRiskAssessment, o.deps.Risk.Assess)
	o.runPhase(ctx, &run, domain.PhaseAlert, o.deps.Alerts.Dispatch)

	o.logger.Info("pipeline run finished", "run_id", run.ID,
		"succeeded", run.Succeeded, "failed", run.Failed, "skipped", run.Skipped,
		"exit_code", run.ExitCode())
	return run, nil
}

// ingestForecast attempts the forecast fetch and, when it fails, falls back
// to the freshness check. Stale persisted data aborts the run before any
// inference: predicting off an outdated forecast is worse than not
// predicting at all.
func (o *Orchestrator) ingestForecast(ctx context.Context, run *domain.PipelineRun) error {
	outcome, err := o.retry.Execute(ctx, string(domain.PhaseIngestForecast), o.deps.Weather.FetchForecast)
	if outcome == retry.Success {
		o.recordPhase(run, domain.PhaseIngestForecast, domain.PhaseSuccess, "")
		return nil
	}

	fresh, maxDate, freshErr := o.deps.Freshness.IsFresh(ctx, "", o.opts.MinLookaheadDays)
	if freshErr != nil || !fresh {
		o.recordPhase(run, domain.PhaseIngestForecast, domain.PhaseFailed, "forecast stale, aborting")
		o.logger.Error("aborting: forecast ingestion failed and persisted data is stale",
			"ingest_error", err,
			"latest_forecast_date", formatDiagDate(maxDate, !maxDate.IsZero()),
			"min_lookahead_days", o.opts.MinLookaheadDays,
			"freshness_error", freshErr)
		return fmt.Errorf("forecast ingestion failed (%v) and persisted data does not cover today+%d: %w",
			err, o.opts.MinLookaheadDays, domain.ErrStaleForecast)
	}

	detail := fmt.Sprintf("continuing on persisted forecast data through %s", maxDate.Format(domain.DateFormat))
	o.recordPhase(run, domain.PhaseIngestForecast, domain.PhaseFailed, detail)
	o.logger.Warn("forecast ingestion failed, continuing on fresh persisted data",
		"error", err, "latest_forecast_date", maxDate.Format(domain.DateFormat))
	return nil
}

// inferAll runs inference for today's target date across all stations. One
// station's failure never blocks the others.
func (o *Orchestrator) inferAll(ctx context.Context, run *domain.PipelineRun) error {
	locations, err := o.deps.Locations.ListLocations(ctx)
	if err != nil {
		return fmt.Errorf("list locations: %w", err)
	}

	targetDate := domain.Day(o.clock.Now())
	for _, loc := range locations {
		if !loc.Supported() {
			run.MarkUnsupported(loc.Name, 1)
			o.logger.Info("skipping station without a trained model", "location", loc.Name)
			continue
		}
		o.inferOne(ctx, run, loc, targetDate)
	}
	return nil
}

func (o *Orchestrator) inferOne(ctx context.Context, run *domain.PipelineRun, loc domain.LocationMetadata, targetDate time.Time) {
	model := loc.ModelName
	if model == "" {
		model = o.opts.ModelName
	}

	start := o.clock.Now()
	rec, err := o.deps.Inferrer.Infer(ctx, loc.Name, o.opts.HorizonDays, model, targetDate)
	o.metrics.InferenceDuration.Observe(o.clock.Since(start).Seconds())

	if errors.Is(err, domain.ErrLocationUnsupported) {
		run.MarkUnsupported(loc.Name, 1)
		o.logger.Info("model server reports station unsupported", "location", loc.Name, "model", model)
		return
	}
	if err != nil {
		run.ItemFailed()
		o.metrics.InferenceFailures.Inc()
		o.logger.Warn("inference failed", "location", loc.Name,
			"date", targetDate.Format(domain.DateFormat), "error", err)
		return
	}

	if err := o.deps.Writer.UpsertPrediction(ctx, &rec); err != nil {
		run.ItemFailed()
		o.logger.Warn("persist prediction failed", "location", loc.Name,
			"date", targetDate.Format(domain.DateFormat), "error", err)
		return
	}

	run.ItemSucceeded()
	o.metrics.PredictionsWritten.Inc()
	o.logger.Info("prediction stored", "location", loc.Name,
		"date", targetDate.Format(domain.DateFormat), "level_m", rec.Level, "model", model)
}

// runPhase executes a non-critical phase through the retry policy and
// records its outcome. Failure is logged and absorbed; the critical forecast
// phase goes through ingestForecast instead.
func (o *Orchestrator) runPhase(ctx context.Context, run *domain.PipelineRun, phase domain.Phase, work func(context.Context) error) {
	outcome, err := o.retry.Execute(ctx, string(phase), work)
	if outcome == retry.Success {
		o.recordPhase(run, phase, domain.PhaseSuccess, "")
		return
	}

	detail := ""
	if err != nil {
		detail = err.Error()
	}
	o.recordPhase(run, phase, domain.PhaseFailed, detail)
	o.logger.Warn("non-critical phase failed, continuing", "phase", phase, "error", err)
}

func (o *Orchestrator) recordPhase(run *domain.PipelineRun, phase domain.Phase, status domain.PhaseStatus, detail string) {
	run.RecordPhase(phase, status, detail)
	o.metrics.PhaseOutcomes.WithLabelValues(string(phase), string(status)).Inc()
}
