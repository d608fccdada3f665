package domain

import (
	"time"

	"github.com/google/uuid"
)

// Process exit codes. Automation (cron wrappers, alerting on the scheduler
// host) branches on these, so the four outcomes must stay distinguishable.
const (
	ExitSuccess        = 0
	ExitPartialFailure = 1
	ExitTotalFailure   = 2
	ExitStaleForecast  = 3
	ExitPrecondition   = 4
)

// Phase names one step of the daily pipeline or a backfill run.
type Phase string

const (
	PhaseIngestHistorical Phase = "ingest_historical_weather"
	PhaseIngestForecast   Phase = "ingest_forecast_weather"
	PhaseIngestRiver      Phase = "ingest_river_levels"
	PhaseInference        Phase = "inference"
	PhaseRiskAssessment   Phase = "risk_assessment"
	PhaseAlert            Phase = "alert_dispatch"
)

// PhaseStatus is the terminal outcome of one phase.
type PhaseStatus string

const (
	PhaseSuccess PhaseStatus = "success"
	PhaseFailed  PhaseStatus = "failed"
	PhaseSkipped PhaseStatus = "skipped"
)

// PhaseResult records one phase outcome within a run.
type PhaseResult struct {
	Phase  Phase
	Status PhaseStatus
	Detail string
}

// PipelineRun is the ephemeral outcome of one orchestrator or backfill
// execution. It is accumulated as the run progresses and discarded after
// the exit code is derived; it is never persisted.
type PipelineRun struct {
	ID        uuid.UUID
	StartedAt time.Time

	Phases []PhaseResult

	// Per-item tallies: one item is one (location, date) unit of work.
	Succeeded int
	Failed    int
	Skipped   int

	// Unsupported lists stations skipped because no trained model exists.
	// They count toward Skipped, never toward Failed.
	Unsupported []string
}

// NewPipelineRun starts an empty run stamped with the current time.
func NewPipelineRun() PipelineRun {
	return PipelineRun{ID: uuid.New(), StartedAt: clock.Now()}
}

// RecordPhase appends a phase outcome.
func (r *PipelineRun) RecordPhase(phase Phase, status PhaseStatus, detail string) {
	r.Phases = append(r.Phases, PhaseResult{Phase: phase, Status: status, Detail: detail})
}

// ItemSucceeded tallies one successful unit of work.
func (r *PipelineRun) ItemSucceeded() { r.Succeeded++ }

// ItemFailed tallies one failed unit of work.
func (r *PipelineRun) ItemFailed() { r.Failed++ }

// ItemSkipped tallies one skipped unit of work.
func (r *PipelineRun) ItemSkipped() { r.Skipped++ }

// MarkUnsupported records a station with no trained model. Its pending work
// is reported as skipped, separately from genuine failures.
func (r *PipelineRun) MarkUnsupported(location string, pendingItems int) {
	r.Unsupported = append(r.Unsupported, location)
	r.Skipped += pendingItems
}

// PhaseCounts returns how many recorded phases succeeded and failed.
func (r PipelineRun) PhaseCounts() (succeeded, failed int) {
	for _, p := range r.Phases {
		switch p.Status {
		case PhaseSuccess:
			succeeded++
		case PhaseFailed:
			failed++
		}
	}
	return succeeded, failed
}

// ExitCode derives the process exit code from item and phase outcomes:
// zero failures is success, a mix is partial failure, and failures with
// nothing succeeded is total failure. The stale-forecast abort never reaches
// this point; it exits with ExitStaleForecast before any counting begins.
func (r PipelineRun) ExitCode() int {
	phaseOK, phaseFailed := r.PhaseCounts()
	failed := r.Failed + phaseFailed
	succeeded := r.Succeeded + phaseOK

	switch {
	case failed == 0:
		return ExitSuccess
	case succeeded > 0:
		return ExitPartialFailure
	default:
		return ExitTotalFailure
	}
}
