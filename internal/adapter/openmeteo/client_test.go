package openmeteo

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
)

var fetchToday = time.Date(2024, time.June, 1, 6, 0, 0, 0, time.UTC)

type fakeLocations struct {
	stations []domain.LocationMetadata
}

func (f *fakeLocations) ListLocations(context.Context) ([]domain.LocationMetadata, error) {
	return f.stations, nil
}

type fakeWriter struct {
	forecast   []domain.ForecastWeatherRecord
	historical []domain.HistoricalWeatherRecord
	err        error
}

func (f *fakeWriter) UpsertForecastWeather(_ context.Context, recs []domain.ForecastWeatherRecord) error {
	if f.err != nil {
		return f.err
	}
	f.forecast = append(f.forecast, recs...)
	return nil
}

func (f *fakeWriter) UpsertHistoricalWeather(_ context.Context, recs []domain.HistoricalWeatherRecord) error {
	if f.err != nil {
		return f.err
	}
	f.historical = append(f.historical, recs...)
	return nil
}

type mapCache struct {
	entries map[string][]byte
	hits    int
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool) {
	body, ok := m.entries[key]
	if ok {
		m.hits++
	}
	return body, ok
}

func (m *mapCache) Set(_ context.Context, key string, body []byte) {
	if m.entries == nil {
		m.entries = make(map[string][]byte)
	}
	m.entries[key] = body
}

func testStations() []domain.LocationMetadata {
	return []domain.LocationMetadata{
		{Name: "belet_weyne", Latitude: 4.7358, Longitude: 45.2036},
	}
}

func newTestClient(baseURL string, writer *fakeWriter) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{
		ForecastURL:  baseURL + "/v1/forecast",
		ArchiveURL:   baseURL + "/v1/archive",
		Timeout:      5 * time.Second,
		ForecastDays: 7,
		LookbackDays: 3,
	}
	c := NewClient(cfg, &fakeLocations{stations: testStations()}, writer, logger)
	return c.WithClock(clockwork.NewFakeClockAt(fetchToday))
}

const forecastBody = `{"daily":{
	"time":["2024-06-01","2024-06-02"],
	"temperature_2m_max":[34.1,33.8],
	"temperature_2m_min":[24.0,23.5],
	"precipitation_sum":[12.4,null],
	"rain_sum":[12.4,0.0],
	"precipitation_hours":[6.0,0.0],
	"wind_speed_10m_max":[18.2,16.9]}}`

func TestFetchForecast_PersistsDailyRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		assert.Equal(t, "4.7358", r.URL.Query().Get("latitude"))
		assert.Equal(t, "7", r.URL.Query().Get("forecast_days"))
		_, _ = w.Write([]byte(forecastBody))
	}))
	defer srv.Close()

	writer := &fakeWriter{}
	err := newTestClient(srv.URL, writer).FetchForecast(context.Background())
	require.NoError(t, err)

	require.Len(t, writer.forecast, 2)
	first := writer.forecast[0]
	assert.Equal(t, "belet_weyne", first.Location)
	assert.Equal(t, time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC), first.Date)
	assert.Equal(t, 34.1, first.TemperatureMax)
	assert.Equal(t, 12.4, first.PrecipitationSum)
	// Null entries decode to zero.
	assert.Zero(t, writer.forecast[1].PrecipitationSum)
}

func TestFetchHistorical_RequestsLookbackWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/archive", r.URL.Path)
		// Today is 2024-06-01; a 3-day lookback ends yesterday.
		assert.Equal(t, "2024-05-29", r.URL.Query().Get("start_date"))
		assert.Equal(t, "2024-05-31", r.URL.Query().Get("end_date"))
		_, _ = w.Write([]byte(`{"daily":{"time":["2024-05-29"],"temperature_2m_max":[31.0],"temperature_2m_min":[22.1],"precipitation_sum":[0.0],"rain_sum":[0.0]}}`))
	}))
	defer srv.Close()

	writer := &fakeWriter{}
	err := newTestClient(srv.URL, writer).FetchHistorical(context.Background())
	require.NoError(t, err)
	require.Len(t, writer.historical, 1)
	assert.Equal(t, 31.0, writer.historical[0].TemperatureMax)
}

func TestFetchForecast_APIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"reason":"Minutely API request limit exceeded"}`))
	}))
	defer srv.Close()

	err := newTestClient(srv.URL, &fakeWriter{}).FetchForecast(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "belet_weyne")
}

func TestFetchForecast_SkipsStationWithoutCoordinates(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(forecastBody))
	}))
	defer srv.Close()

	writer := &fakeWriter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{ForecastURL: srv.URL, ArchiveURL: srv.URL, Timeout: time.Second, ForecastDays: 7, LookbackDays: 3}
	locs := &fakeLocations{stations: []domain.LocationMetadata{{Name: "unmapped"}}}
	c := NewClient(cfg, locs, writer, logger)

	require.NoError(t, c.FetchForecast(context.Background()))
	assert.Zero(t, requests.Load())
	assert.Empty(t, writer.forecast)
}

func TestFetchForecast_SecondRunServedFromCache(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(forecastBody))
	}))
	defer srv.Close()

	cache := &mapCache{}
	writer := &fakeWriter{}
	c := newTestClient(srv.URL, writer).WithCache(cache)

	require.NoError(t, c.FetchForecast(context.Background()))
	require.NoError(t, c.FetchForecast(context.Background()))

	assert.Equal(t, int32(1), requests.Load())
	assert.Equal(t, 1, cache.hits)
	assert.Len(t, writer.forecast, 4)
}
