package backfill

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
	"github.com/saadaal/flood-forecast-pipeline/internal/observability"
	"github.com/saadaal/flood-forecast-pipeline/internal/retry"
)

// Inferrer produces one prediction for one station and target date.
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

// Scheduler executes a confirmed backfill plan: one inference and one upsert
// per missing date, then a single risk assessment pass over everything
// written. Once started it runs to completion, recording failures instead of
// aborting on them.
type Scheduler struct {
	inferrer    Inferrer
	writer      RecordWriter
	risk        RiskAssessor
	retry       retry.Policy
	horizonDays int
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewScheduler creates a Scheduler with the real clock.
func NewScheduler(inferrer Inferrer, writer RecordWriter, risk RiskAssessor, policy retry.Policy, horizonDays int, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		inferrer:    inferrer,
		writer:      writer,
		risk:        risk,
		retry:       policy,
		horizonDays: horizonDays,
		clock:       clockwork.NewRealClock(),
		logger:      logger,
		metrics:     metrics,
	}
}

// WithClock returns a copy of the scheduler using the given clock.
func (s *Scheduler) WithClock(c clockwork.Clock) *Scheduler {
	cp := *s
	cp.clock = c
	return &cp
}

// Execute fills every gap date in the plan, station by station in plan
// order, dates ascending within a station. Per-date failures are tallied
// and skipped over; a station the model server rejects as unsupported has
// its remaining dates skipped and is reported separately.
func (s *Scheduler) Execute(ctx context.Context, plan Plan) (domain.PipelineRun, error) {
	run := domain.NewPipelineRun()
	s.metrics.PipelineRunning.Set(1)
	defer s.metrics.PipelineRunning.Set(0)
	start := s.clock.Now()
	defer func() { s.metrics.BackfillDuration.Observe(s.clock.Since(start).Seconds()) }()

	s.metrics.GapDaysFound.Add(float64(plan.TotalMissingDays()))
	for _, name := range plan.Unsupported {
		run.MarkUnsupported(name, 0)
	}

	s.logger.Info("backfill started", "run_id", run.ID,
		"stations", len(plan.Locations), "missing_days", plan.TotalMissingDays())

	for _, lp := range plan.Locations {
		s.fillLocation(ctx, &run, lp)
	}

	outcome, err := s.retry.Execute(ctx, string(domain.PhaseRiskAssessment), s.risk.Assess)
	status := domain.PhaseSuccess
	detail := ""
	if outcome != retry.Success {
		status = domain.PhaseFailed
		if err != nil {
			detail = err.Error()
		}
		s.logger.Warn("risk assessment failed after backfill", "error", err)
	}
	run.RecordPhase(domain.PhaseRiskAssessment, status, detail)
	s.metrics.PhaseOutcomes.WithLabelValues(string(domain.PhaseRiskAssessment), string(status)).Inc()

	s.logger.Info("backfill finished", "run_id", run.ID,
		"succeeded", run.Succeeded, "failed", run.Failed, "skipped", run.Skipped,
		"unsupported", run.Unsupported)
	return run, nil
}

// fillLocation processes one station's gap dates in ascending order so
// operator-visible progress is monotonic.
func (s *Scheduler) fillLocation(ctx context.Context, run *domain.PipelineRun, lp LocationPlan) {
	dates := make([]time.Time, 0, lp.MissingDays())
	for _, g := range lp.Gaps {
		dates = append(dates, g.Dates()...)
	}

	for i, date := range dates {
		rec, err := s.inferrer.Infer(ctx, lp.Location, s.horizonDays, lp.ModelName, date)
		if errors.Is(err, domain.ErrLocationUnsupported) {
			// No point attempting the station's remaining dates.
			run.MarkUnsupported(lp.Location, len(dates)-i)
			s.logger.Info("station unsupported, skipping remaining dates",
				"location", lp.Location, "skipped_dates", len(dates)-i)
			return
		}
		if err != nil {
			run.ItemFailed()
			s.metrics.InferenceFailures.Inc()
			s.logger.Warn("backfill inference failed",
				"location", lp.Location, "date", date.Format(domain.DateFormat), "error", err)
			continue
		}

		if err := s.writer.UpsertPrediction(ctx, &rec); err != nil {
			run.ItemFailed()
			s.logger.Warn("backfill persist failed",
				"location", lp.Location, "date", date.Format(domain.DateFormat), "error", err)
			continue
		}

		run.ItemSucceeded()
		s.metrics.PredictionsWritten.Inc()
		s.logger.Info("gap filled",
			"location", lp.Location, "date", date.Format(domain.DateFormat), "level_m", rec.Level)
	}
}
