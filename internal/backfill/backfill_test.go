package backfill_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saadaal/flood-forecast-pipeline/internal/backfill"
	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
	"github.com/saadaal/flood-forecast-pipeline/internal/gaps"
	"github.com/saadaal/flood-forecast-pipeline/internal/observability"
	"github.com/saadaal/flood-forecast-pipeline/internal/retry"
)

var planToday = time.Date(2024, time.January, 10, 9, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory stand-in for the persistence layer, serving both
// the planner's read interfaces and the scheduler's writer so plan-execute
// round trips exercise real convergence.
type memStore struct {
	locs    []domain.LocationMetadata
	records map[string]map[time.Time]domain.PredictionRecord
}

func newMemStore(locs ...domain.LocationMetadata) *memStore {
	return &memStore{locs: locs, records: make(map[string]map[time.Time]domain.PredictionRecord)}
}

func (m *memStore) ListLocations(context.Context) ([]domain.LocationMetadata, error) {
	return m.locs, nil
}

func (m *memStore) LastPredictionDate(_ context.Context, location string) (time.Time, bool, error) {
	var last time.Time
	for d := range m.records[location] {
		if d.After(last) {
			last = d
		}
	}
	return last, !last.IsZero(), nil
}

func (m *memStore) PredictionDates(_ context.Context, location string, start, end time.Time) ([]time.Time, error) {
	var dates []time.Time
	for d := range m.records[location] {
		if !d.Before(start) && !d.After(end) {
			dates = append(dates, d)
		}
	}
	return dates, nil
}

func (m *memStore) UpsertPrediction(_ context.Context, rec *domain.PredictionRecord) error {
	byDate, ok := m.records[rec.Location]
	if !ok {
		byDate = make(map[time.Time]domain.PredictionRecord)
		m.records[rec.Location] = byDate
	}
	byDate[domain.Day(rec.Date)] = *rec
	return nil
}

func (m *memStore) seed(location string, dates ...time.Time) {
	for _, d := range dates {
		_ = m.UpsertPrediction(context.Background(), &domain.PredictionRecord{
			Location: location, Date: d, ModelName: "Prophet_001", Level: 2.0,
		})
	}
}

type mockInferrer struct {
	failFor map[string]error
	calls   []string
	dates   map[string][]time.Time
}

func (m *mockInferrer) Infer(_ context.Context, location string, horizonDays int, modelName string, targetDate time.Time) (domain.PredictionRecord, error) {
	m.calls = append(m.calls, location)
	if m.dates == nil {
		m.dates = make(map[string][]time.Time)
	}
	m.dates[location] = append(m.dates[location], targetDate)
	if err, ok := m.failFor[location]; ok {
		return domain.PredictionRecord{}, err
	}
	return domain.PredictionRecord{
		Location: location, Date: targetDate, ModelName: modelName,
		ForecastDays: horizonDays, Level: 4.1,
	}, nil
}

type mockRisk struct {
	err   error
	calls int
}

func (m *mockRisk) Assess(context.Context) error { m.calls++; return m.err }

func station(name string) domain.LocationMetadata {
	return domain.LocationMetadata{Name: name, ModelName: "Prophet_001"}
}

func newPlanner(store *memStore) *backfill.Planner {
	logger := discardLogger()
	detector := gaps.NewDetector(store, logger)
	fc := clockwork.NewFakeClockAt(planToday)
	return backfill.NewPlanner(store, store, detector, "Prophet_001", logger).WithClock(fc)
}

func newScheduler(inf *mockInferrer, store *memStore, risk *mockRisk) *backfill.Scheduler {
	logger := discardLogger()
	policy := retry.New(2, 0, logger)
	return backfill.NewScheduler(inf, store, risk, policy, 7, logger, observability.NewMetricsForTesting())
}

// --- planner ---

func TestPlan_LocationWithNoPredictions(t *testing.T) {
	store := newMemStore(station("belet_weyne"))
	p := newPlanner(store)

	plan, err := p.Plan(context.Background(), nil, date(2024, time.January, 1))
	require.NoError(t, err)

	require.Len(t, plan.Locations, 1)
	lp := plan.Locations[0]
	assert.False(t, lp.HasPredictions)
	assert.Equal(t, []domain.Gap{{Start: date(2024, time.January, 1), End: date(2024, time.January, 10)}}, lp.Gaps)
	assert.Equal(t, 10, plan.TotalMissingDays())
}

func TestPlan_DetectsHolesBetweenPredictions(t *testing.T) {
	store := newMemStore(station("belet_weyne"))
	for _, d := range domain.DateRange(date(2024, time.January, 1), date(2024, time.January, 10)) {
		if d.Day() == 3 || d.Day() == 7 || d.Day() == 8 {
			continue
		}
		store.seed("belet_weyne", d)
	}
	p := newPlanner(store)

	plan, err := p.Plan(context.Background(), nil, date(2024, time.January, 1))
	require.NoError(t, err)

	require.Len(t, plan.Locations, 1)
	lp := plan.Locations[0]
	assert.True(t, lp.HasPredictions)
	assert.Equal(t, date(2024, time.January, 10), lp.LastPrediction)
	assert.Equal(t, []domain.Gap{
		{Start: date(2024, time.January, 3), End: date(2024, time.January, 3)},
		{Start: date(2024, time.January, 7), End: date(2024, time.January, 8)},
	}, lp.Gaps)
}

func TestPlan_UnsupportedStationExcluded(t *testing.T) {
	store := newMemStore(station("belet_weyne"), domain.LocationMetadata{Name: "luuq"})
	p := newPlanner(store)

	plan, err := p.Plan(context.Background(), nil, date(2024, time.January, 1))
	require.NoError(t, err)

	require.Len(t, plan.Locations, 1)
	assert.Equal(t, "belet_weyne", plan.Locations[0].Location)
	assert.Equal(t, []string{"luuq"}, plan.Unsupported)
}

func TestPlan_SelectionFiltersStations(t *testing.T) {
	store := newMemStore(station("belet_weyne"), station("bulo_burti"), station("jowhar"))
	p := newPlanner(store)

	plan, err := p.Plan(context.Background(), []string{"jowhar"}, date(2024, time.January, 1))
	require.NoError(t, err)
	require.Len(t, plan.Locations, 1)
	assert.Equal(t, "jowhar", plan.Locations[0].Location)
}

func TestPlan_UnknownStationIsError(t *testing.T) {
	store := newMemStore(station("belet_weyne"))
	p := newPlanner(store)

	_, err := p.Plan(context.Background(), []string{"atlantis"}, date(2024, time.January, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "atlantis")
}

func TestPlan_FullyCoveredRangeIsEmpty(t *testing.T) {
	store := newMemStore(station("belet_weyne"))
	store.seed("belet_weyne", domain.DateRange(date(2024, time.January, 1), date(2024, time.January, 10))...)
	p := newPlanner(store)

	plan, err := p.Plan(context.Background(), nil, date(2024, time.January, 1))
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

// --- scheduler ---

func TestExecute_FillsAllGapDatesAscending(t *testing.T) {
	store := newMemStore(station("belet_weyne"))
	store.seed("belet_weyne", date(2024, time.January, 5))
	p := newPlanner(store)
	plan, err := p.Plan(context.Background(), nil, date(2024, time.January, 1))
	require.NoError(t, err)

	inf := &mockInferrer{}
	risk := &mockRisk{}
	run, err := newScheduler(inf, store, risk).Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, 9, run.Succeeded)
	assert.Zero(t, run.Failed)
	assert.Equal(t, 1, risk.calls)
	assert.Equal(t, domain.ExitSuccess, run.ExitCode())

	// Dates processed in ascending order.
	dates := inf.dates["belet_weyne"]
	for i := 1; i < len(dates); i++ {
		assert.True(t, dates[i].After(dates[i-1]))
	}
}

func TestExecute_PerLocationFailureDoesNotBlockOthers(t *testing.T) {
	store := newMemStore(station("belet_weyne"), station("bulo_burti"))
	p := newPlanner(store)
	plan, err := p.Plan(context.Background(), nil, date(2024, time.January, 8))
	require.NoError(t, err)

	inf := &mockInferrer{failFor: map[string]error{"belet_weyne": errors.New("missing weather data")}}
	risk := &mockRisk{}
	run, err := newScheduler(inf, store, risk).Execute(context.Background(), plan)
	require.NoError(t, err)

	// 3 dates per station; one station fails every date, the other succeeds.
	assert.Equal(t, 3, run.Succeeded)
	assert.Equal(t, 3, run.Failed)
	assert.Equal(t, domain.ExitPartialFailure, run.ExitCode())
}

func TestExecute_UnsupportedStationSkipsRemainingDates(t *testing.T) {
	store := newMemStore(station("belet_weyne"))
	p := newPlanner(store)
	plan, err := p.Plan(context.Background(), nil, date(2024, time.January, 6))
	require.NoError(t, err)
	require.Equal(t, 5, plan.TotalMissingDays())

	inf := &mockInferrer{failFor: map[string]error{"belet_weyne": domain.ErrLocationUnsupported}}
	risk := &mockRisk{}
	run, err := newScheduler(inf, store, risk).Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Zero(t, run.Succeeded)
	assert.Zero(t, run.Failed)
	assert.Equal(t, 5, run.Skipped)
	assert.Equal(t, []string{"belet_weyne"}, run.Unsupported)
	// Only the first date was attempted.
	assert.Len(t, inf.calls, 1)
}

func TestExecute_RiskAssessmentFailureIsRecorded(t *testing.T) {
	store := newMemStore(station("belet_weyne"))
	p := newPlanner(store)
	plan, err := p.Plan(context.Background(), nil, date(2024, time.January, 9))
	require.NoError(t, err)

	inf := &mockInferrer{}
	risk := &mockRisk{err: errors.New("thresholds table missing")}
	run, err := newScheduler(inf, store, risk).Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, 2, run.Succeeded)
	_, phaseFailed := run.PhaseCounts()
	assert.Equal(t, 1, phaseFailed)
	assert.Equal(t, domain.ExitPartialFailure, run.ExitCode())
	// Policy retried the risk pass before giving up.
	assert.Equal(t, 2, risk.calls)
}

// Filling every planned date and re-planning must converge to an empty plan.
func TestPlanExecutePlan_Converges(t *testing.T) {
	store := newMemStore(station("belet_weyne"), station("bulo_burti"))
	store.seed("belet_weyne", date(2024, time.January, 2), date(2024, time.January, 6))
	p := newPlanner(store)

	plan, err := p.Plan(context.Background(), nil, date(2024, time.January, 1))
	require.NoError(t, err)
	require.False(t, plan.Empty())

	_, err = newScheduler(&mockInferrer{}, store, &mockRisk{}).Execute(context.Background(), plan)
	require.NoError(t, err)

	again, err := p.Plan(context.Background(), nil, date(2024, time.January, 1))
	require.NoError(t, err)
	assert.True(t, again.Empty())
}
