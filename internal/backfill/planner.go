// Package backfill fills historical holes in the prediction time series.
// Planning is a read-only computation producing a reviewable plan; execution
// is a separate commit step, so an operator (or the -yes flag) sits between
// the two.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
	"github.com/saadaal/flood-forecast-pipeline/internal/gaps"
)

// LocationSource lists the configured stations.
type LocationSource interface {
	ListLocations(ctx context.Context) ([]domain.LocationMetadata, error)
}

// LastPredictionIndex reports a location's most recent prediction date.
type LastPredictionIndex interface {
	LastPredictionDate(ctx context.Context, location string) (time.Time, bool, error)
}

// LocationPlan is the gap scan result for one station.
type LocationPlan struct {
	Location  string
	ModelName string

	// LastPrediction is the newest persisted prediction date; HasPredictions
	// is false when the station has none at all.
	LastPrediction time.Time
	HasPredictions bool

	Gaps []domain.Gap
}

// MissingDays is the number of dates this station needs backfilled.
func (lp LocationPlan) MissingDays() int {
	total := 0
	for _, g := range lp.Gaps {
		total += g.Days()
	}
	return total
}

// Plan is the full computed backfill: which dates will be inferred for which
// stations. Nothing has been written when a Plan exists.
type Plan struct {
	StartDate time.Time
	EndDate   time.Time

	Locations []LocationPlan

	// Unsupported lists selected stations with no trained model. They are
	// excluded from the plan and reported, never treated as failures.
	Unsupported []string
}

// TotalMissingDays sums missing dates across all planned stations.
func (p Plan) TotalMissingDays() int {
	total := 0
	for _, lp := range p.Locations {
		total += lp.MissingDays()
	}
	return total
}

// Empty reports whether the plan has no work.
func (p Plan) Empty() bool { return p.TotalMissingDays() == 0 }

// Planner computes backfill plans.
type Planner struct {
	locations    LocationSource
	index        LastPredictionIndex
	detector     *gaps.Detector
	defaultModel string
	clock        clockwork.Clock
	logger       *slog.Logger
}

// NewPlanner creates a Planner with the real clock. defaultModel is used for
// stations whose metadata does not pin one.
func NewPlanner(locations LocationSource, index LastPredictionIndex, detector *gaps.Detector, defaultModel string, logger *slog.Logger) *Planner {
	return &Planner{
		locations:    locations,
		index:        index,
		detector:     detector,
		defaultModel: defaultModel,
		clock:        clockwork.NewRealClock(),
		logger:       logger,
	}
}

// WithClock returns a copy of the planner using the given clock.
func (p *Planner) WithClock(c clockwork.Clock) *Planner {
	cp := *p
	cp.clock = c
	return &cp
}

// Plan scans [startDate, today] for every selected station and returns the
// gaps found. selected is a set of station names; empty means all configured
// stations. An unknown name is an error rather than a silent no-op.
func (p *Planner) Plan(ctx context.Context, selected []string, startDate time.Time) (Plan, error) {
	all, err := p.locations.ListLocations(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("plan backfill: %w", err)
	}

	stations, err := filterStations(all, selected)
	if err != nil {
		return Plan{}, fmt.Errorf("plan backfill: %w", err)
	}

	plan := Plan{
		StartDate: domain.Day(startDate),
		EndDate:   domain.Day(p.clock.Now()),
	}

	for _, station := range stations {
		if !station.Supported() {
			plan.Unsupported = append(plan.Unsupported, station.Name)
			p.logger.Info("excluding station without a trained model", "location", station.Name)
			continue
		}

		last, has, err := p.index.LastPredictionDate(ctx, station.Name)
		if err != nil {
			return Plan{}, fmt.Errorf("plan backfill for %s: %w", station.Name, err)
		}

		found, err := p.detector.FindGaps(ctx, station.Name, plan.StartDate, plan.EndDate)
		if err != nil {
			return Plan{}, fmt.Errorf("plan backfill: %w", err)
		}

		model := station.ModelName
		if model == "" {
			model = p.defaultModel
		}
		plan.Locations = append(plan.Locations, LocationPlan{
			Location:       station.Name,
			ModelName:      model,
			LastPrediction: last,
			HasPredictions: has,
			Gaps:           found,
		})
	}

	p.logger.Info("backfill plan computed",
		"start", plan.StartDate.Format(domain.DateFormat),
		"end", plan.EndDate.Format(domain.DateFormat),
		"stations", len(plan.Locations),
		"unsupported", len(plan.Unsupported),
		"missing_days", plan.TotalMissingDays())
	return plan, nil
}

// filterStations resolves the selected names against configured stations,
// preserving the configured order. Empty selection means all stations.
func filterStations(all []domain.LocationMetadata, selected []string) ([]domain.LocationMetadata, error) {
	if len(selected) == 0 {
		return all, nil
	}

	byName := make(map[string]domain.LocationMetadata, len(all))
	for _, s := range all {
		byName[s.Name] = s
	}

	stations := make([]domain.LocationMetadata, 0, len(selected))
	for _, name := range selected {
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown station %q", name)
		}
		stations = append(stations, s)
	}
	return stations, nil
}
