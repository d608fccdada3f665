package pipeline_test

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

	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
	"github.com/saadaal/flood-forecast-pipeline/internal/observability"
	"github.com/saadaal/flood-forecast-pipeline/internal/pipeline"
	"github.com/saadaal/flood-forecast-pipeline/internal/retry"
)

var testToday = time.Date(2024, time.June, 1, 8, 30, 0, 0, time.UTC)

// --- mocks ---

type mockWeather struct {
	histErr, forecastErr error
	histCalls, fcCalls   int
}

func (m *mockWeather) FetchHistorical(context.Context) error { m.histCalls++; return m.histErr }
func (m *mockWeather) FetchForecast(context.Context) error   { m.fcCalls++; return m.forecastErr }

type mockRiver struct {
	err   error
	calls int
}

func (m *mockRiver) FetchLevels(context.Context) error { m.calls++; return m.err }

type mockLocations struct {
	locs []domain.LocationMetadata
	err  error
}

func (m *mockLocations) ListLocations(context.Context) ([]domain.LocationMetadata, error) {
	return m.locs, m.err
}

type mockInferrer struct {
	failFor map[string]error
	calls   []string
}

func (m *mockInferrer) Infer(_ context.Context, location string, horizonDays int, modelName string, targetDate time.Time) (domain.PredictionRecord, error) {
	m.calls = append(m.calls, location)
	if err, ok := m.failFor[location]; ok {
		return domain.PredictionRecord{}, err
	}
	return domain.PredictionRecord{
		Location:     location,
		Date:         targetDate,
		ModelName:    modelName,
		ForecastDays: horizonDays,
		Level:        3.2,
	}, nil
}

type mockWriter struct {
	upserts []domain.PredictionRecord
	err     error
}

func (m *mockWriter) UpsertPrediction(_ context.Context, rec *domain.PredictionRecord) error {
	if m.err != nil {
		return m.err
	}
	m.upserts = append(m.upserts, *rec)
	return nil
}

type mockUnit struct {
	err   error
	calls int
}

func (m *mockUnit) Assess(context.Context) error   { m.calls++; return m.err }
func (m *mockUnit) Dispatch(context.Context) error { m.calls++; return m.err }

type mockInventory struct {
	max   time.Time
	found bool
	err   error
}

func (m *mockInventory) LatestForecastDate(context.Context, string) (time.Time, bool, error) {
	return m.max, m.found, m.err
}

// --- fixture ---

type fixture struct {
	weather   *mockWeather
	river     *mockRiver
	locations *mockLocations
	inferrer  *mockInferrer
	writer    *mockWriter
	risk      *mockUnit
	alerts    *mockUnit
	inventory *mockInventory
	orch      *pipeline.Orchestrator
}

func supported(names ...string) []domain.LocationMetadata {
	locs := make([]domain.LocationMetadata, len(names))
	for i, n := range names {
		locs[i] = domain.LocationMetadata{Name: n, ModelName: "Prophet_001"}
	}
	return locs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fc := clockwork.NewFakeClockAt(testToday)

	f := &fixture{
		weather:   &mockWeather{},
		river:     &mockRiver{},
		locations: &mockLocations{locs: supported("belet_weyne", "bulo_burti")},
		inferrer:  &mockInferrer{},
		writer:    &mockWriter{},
		risk:      &mockUnit{},
		alerts:    &mockUnit{},
		inventory: &mockInventory{},
	}

	freshness := pipeline.NewFreshnessValidator(f.inventory, logger).WithClock(fc)
	deps := pipeline.Deps{
		Weather:   f.weather,
		River:     f.river,
		Locations: f.locations,
		Inferrer:  f.inferrer,
		Writer:    f.writer,
		Risk:      f.risk,
		Alerts:    f.alerts,
		Freshness: freshness,
	}
	opts := pipeline.Options{ModelName: "Prophet_001", HorizonDays: 7, MinLookaheadDays: 5}
	policy := retry.New(2, 0, logger)

	f.orch = pipeline.NewOrchestrator(deps, opts, policy, logger, observability.NewMetricsForTesting()).WithClock(fc)
	return f
}

// --- tests ---

func TestRun_HappyPath(t *testing.T) {
	f := newFixture(t)

	run, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, run.Succeeded)
	assert.Zero(t, run.Failed)
	assert.Zero(t, run.Skipped)
	assert.Equal(t, domain.ExitSuccess, run.ExitCode())
	assert.Len(t, f.writer.upserts, 2)
	assert.Equal(t, 1, f.risk.calls)
	assert.Equal(t, 1, f.alerts.calls)

	// All predictions target today's civil date.
	for _, rec := range f.writer.upserts {
		assert.Equal(t, domain.Day(testToday), rec.Date)
	}
}

func TestRun_PartialSuccess(t *testing.T) {
	f := newFixture(t)
	f.locations.locs = supported("a", "b", "c", "d", "e")
	f.inferrer.failFor = map[string]error{"c": errors.New("model server timeout")}

	run, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, run.Succeeded)
	assert.Equal(t, 1, run.Failed)
	assert.Zero(t, run.Skipped)
	assert.Equal(t, domain.ExitPartialFailure, run.ExitCode())
	// The failing station never blocks the remaining ones.
	assert.Len(t, f.inferrer.calls, 5)
}

func TestRun_StaleForecastAborts(t *testing.T) {
	f := newFixture(t)
	f.weather.forecastErr = errors.New("open-meteo unreachable")
	f.inventory.max = domain.Day(testToday).AddDate(0, 0, 2)
	f.inventory.found = true

	_, err := f.orch.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStaleForecast)

	// Abort happens before any inference is attempted.
	assert.Empty(t, f.inferrer.calls)
	assert.Zero(t, f.risk.calls)
	assert.Zero(t, f.alerts.calls)
}

func TestRun_NoForecastDataAborts(t *testing.T) {
	f := newFixture(t)
	f.weather.forecastErr = errors.New("open-meteo unreachable")
	f.inventory.found = false

	_, err := f.orch.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrStaleForecast)
}

func TestRun_ForecastFailsButPersistedDataFresh(t *testing.T) {
	f := newFixture(t)
	f.weather.forecastErr = errors.New("open-meteo unreachable")
	f.inventory.max = domain.Day(testToday).AddDate(0, 0, 5)
	f.inventory.found = true

	run, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	// Inference proceeds on the persisted forecast.
	assert.Equal(t, 2, run.Succeeded)
	assert.Len(t, f.inferrer.calls, 2)

	// The failed phase is still recorded and degrades the exit code.
	_, phaseFailed := run.PhaseCounts()
	assert.Equal(t, 1, phaseFailed)
	assert.Equal(t, domain.ExitPartialFailure, run.ExitCode())
}

func TestRun_HistoricalAndRiverFailuresAreNonCritical(t *testing.T) {
	f := newFixture(t)
	f.weather.histErr = errors.New("archive API down")
	f.river.err = errors.New("swalim down")

	run, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, run.Succeeded)
	assert.Len(t, f.inferrer.calls, 2)
	_, phaseFailed := run.PhaseCounts()
	assert.Equal(t, 2, phaseFailed)
}

func TestRun_RetriesTransientIngestFailures(t *testing.T) {
	f := newFixture(t)

	run, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.ExitSuccess, run.ExitCode())

	// Policy allows 2 attempts; successful fetches use exactly one.
	assert.Equal(t, 1, f.weather.fcCalls)
	assert.Equal(t, 1, f.weather.histCalls)
	assert.Equal(t, 1, f.river.calls)
}

func TestRun_UnsupportedLocationSkipped(t *testing.T) {
	f := newFixture(t)
	f.locations.locs = append(supported("belet_weyne"), domain.LocationMetadata{Name: "luuq"})

	run, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, []string{"luuq"}, run.Unsupported)
	assert.NotContains(t, f.inferrer.calls, "luuq")
	// Skips are not failures.
	assert.Equal(t, domain.ExitSuccess, run.ExitCode())
}

func TestRun_InferrerReportsUnsupported(t *testing.T) {
	f := newFixture(t)
	f.inferrer.failFor = map[string]error{"bulo_burti": domain.ErrLocationUnsupported}

	run, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 1, run.Skipped)
	assert.Zero(t, run.Failed)
	assert.Equal(t, []string{"bulo_burti"}, run.Unsupported)
}

func TestRun_PersistFailureCountsAsItemFailure(t *testing.T) {
	f := newFixture(t)
	f.writer.err = errors.New("connection reset")

	run, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, run.Succeeded)
	assert.Equal(t, 2, run.Failed)
}

func TestRun_AllInferenceFailsIsTotalFailureWithoutPhaseSuccesses(t *testing.T) {
	f := newFixture(t)
	f.inferrer.failFor = map[string]error{
		"belet_weyne": errors.New("boom"),
		"bulo_burti":  errors.New("boom"),
	}

	run, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, run.Succeeded)
	assert.Equal(t, 2, run.Failed)
	// Ingest, risk, and alert phases still succeeded, so the aggregate run
	// counts as partial rather than total failure.
	assert.Equal(t, domain.ExitPartialFailure, run.ExitCode())
}

func TestRun_ListLocationsErrorIsFatal(t *testing.T) {
	f := newFixture(t)
	f.locations.err = errors.New("relation does not exist")

	_, err := f.orch.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrStaleForecast)
}

func TestFreshness_IsFresh(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fc := clockwork.NewFakeClockAt(testToday)
	today := domain.Day(testToday)

	tests := []struct {
		name      string
		inventory mockInventory
		wantFresh bool
	}{
		{"max date exactly today+5 is fresh", mockInventory{max: today.AddDate(0, 0, 5), found: true}, true},
		{"max date today+4 is not fresh", mockInventory{max: today.AddDate(0, 0, 4), found: true}, false},
		{"no forecast records is not fresh", mockInventory{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := pipeline.NewFreshnessValidator(&tt.inventory, logger).WithClock(fc)
			fresh, maxDate, err := v.IsFresh(context.Background(), "", 5)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFresh, fresh)
			// The computed max date is surfaced for diagnostics either way.
			assert.Equal(t, tt.inventory.max, maxDate)
		})
	}
}

func TestFreshness_QueryErrorFailsClosed(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := pipeline.NewFreshnessValidator(&mockInventory{err: errors.New("db down")}, logger)

	fresh, _, err := v.IsFresh(context.Background(), "", 5)
	require.Error(t, err)
	assert.False(t, fresh)
}
