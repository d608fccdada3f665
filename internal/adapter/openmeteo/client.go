// Package openmeteo ingests daily weather data from the Open-Meteo forecast
// and archive APIs into the store, one request per monitored station.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
)

// LocationSource yields the stations to fetch weather for.
type LocationSource interface {
	ListLocations(ctx context.Context) ([]domain.LocationMetadata, error)
}

// WeatherWriter persists fetched weather batches idempotently.
type WeatherWriter interface {
	UpsertForecastWeather(ctx context.Context, recs []domain.ForecastWeatherRecord) error
	UpsertHistoricalWeather(ctx context.Context, recs []domain.HistoricalWeatherRecord) error
}

// Cache is an optional read-through cache for raw API responses, so a rerun
// shortly after a failure does not hammer the upstream API.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, body []byte)
}

// Config carries the upstream endpoints and fetch windows.
type Config struct {
	ForecastURL  string
	ArchiveURL   string
	Timeout      time.Duration
	ForecastDays int
	LookbackDays int
}

// Client fetches daily weather from Open-Meteo and writes it to the store.
type Client struct {
	cfg        Config
	httpClient *http.Client
	locations  LocationSource
	writer     WeatherWriter
	cache      Cache
	clock      clockwork.Clock
	logger     *slog.Logger
}

func NewClient(cfg Config, locations LocationSource, writer WeatherWriter, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		locations:  locations,
		writer:     writer,
		clock:      clockwork.NewRealClock(),
		logger:     logger.With("component", "openmeteo"),
	}
}

// WithCache returns a copy of the client that reads API responses through
// the given cache.
func (c *Client) WithCache(cache Cache) *Client {
	cp := *c
	cp.cache = cache
	return &cp
}

// WithClock returns a copy of the client using the given clock.
func (c *Client) WithClock(clock clockwork.Clock) *Client {
	cp := *c
	cp.clock = clock
	return &cp
}

// FetchForecast pulls the daily forecast for every station and upserts it.
// A station without coordinates is skipped. Per-station failures are
// collected and joined so one flaky request does not lose the rest.
func (c *Client) FetchForecast(ctx context.Context) error {
	stations, err := c.locations.ListLocations(ctx)
	if err != nil {
		return fmt.Errorf("list stations: %w", err)
	}

	var errs []error
	for _, station := range stations {
		if station.Latitude == 0 && station.Longitude == 0 {
			c.logger.Warn("station has no coordinates, skipping forecast fetch",
				"location", station.Name)
			continue
		}

		params := url.Values{
			"latitude":      {fmt.Sprintf("%.4f", station.Latitude)},
			"longitude":     {fmt.Sprintf("%.4f", station.Longitude)},
			"daily":         {"temperature_2m_max,temperature_2m_min,precipitation_sum,rain_sum,precipitation_hours,wind_speed_10m_max"},
			"forecast_days": {fmt.Sprintf("%d", c.cfg.ForecastDays)},
			"timezone":      {"UTC"},
		}
		payload, err := c.fetchDaily(ctx, c.cfg.ForecastURL+"?"+params.Encode())
		if err != nil {
			errs = append(errs, fmt.Errorf("forecast %s: %w", station.Name, err))
			continue
		}

		recs, err := forecastRecords(station.Name, payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("forecast %s: %w", station.Name, err))
			continue
		}
		if err := c.writer.UpsertForecastWeather(ctx, recs); err != nil {
			errs = append(errs, fmt.Errorf("persist forecast %s: %w", station.Name, err))
			continue
		}
		c.logger.Info("forecast weather ingested", "location", station.Name, "days", len(recs))
	}
	return errors.Join(errs...)
}

// FetchHistorical pulls observed weather for the configured lookback window
// ending yesterday and upserts it.
func (c *Client) FetchHistorical(ctx context.Context) error {
	stations, err := c.locations.ListLocations(ctx)
	if err != nil {
		return fmt.Errorf("list stations: %w", err)
	}

	end := domain.Day(c.clock.Now()).AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -c.cfg.LookbackDays+1)

	var errs []error
	for _, station := range stations {
		if station.Latitude == 0 && station.Longitude == 0 {
			continue
		}

		params := url.Values{
			"latitude":   {fmt.Sprintf("%.4f", station.Latitude)},
			"longitude":  {fmt.Sprintf("%.4f", station.Longitude)},
			"daily":      {"temperature_2m_max,temperature_2m_min,precipitation_sum,rain_sum"},
			"start_date": {start.Format(domain.DateFormat)},
			"end_date":   {end.Format(domain.DateFormat)},
			"timezone":   {"UTC"},
		}
		payload, err := c.fetchDaily(ctx, c.cfg.ArchiveURL+"?"+params.Encode())
		if err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", station.Name, err))
			continue
		}

		recs, err := historicalRecords(station.Name, payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", station.Name, err))
			continue
		}
		if err := c.writer.UpsertHistoricalWeather(ctx, recs); err != nil {
			errs = append(errs, fmt.Errorf("persist archive %s: %w", station.Name, err))
			continue
		}
		c.logger.Info("historical weather ingested",
			"location", station.Name, "days", len(recs),
			"from", start.Format(domain.DateFormat), "to", end.Format(domain.DateFormat))
	}
	return errors.Join(errs...)
}

// fetchDaily GETs the given URL, going through the cache when one is
// configured. Only 200 responses are cached.
func (c *Client) fetchDaily(ctx context.Context, fullURL string) (dailyResponse, error) {
	var payload dailyResponse

	if c.cache != nil {
		if body, ok := c.cache.Get(ctx, fullURL); ok {
			if err := json.Unmarshal(body, &payload); err == nil {
				return payload, nil
			}
			// A corrupt cache entry falls through to a live fetch.
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return payload, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return payload, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return payload, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return payload, fmt.Errorf("open-meteo API error: status %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, fmt.Errorf("decode response: %w", err)
	}

	if c.cache != nil {
		c.cache.Set(ctx, fullURL, body)
	}
	return payload, nil
}

// Open-Meteo daily API response types. Values can be null for days the
// model has no data for, hence the pointers.

type dailyResponse struct {
	Daily dailyBlock `json:"daily"`
}

type dailyBlock struct {
	Time               []string   `json:"time"`
	TemperatureMax     []*float64 `json:"temperature_2m_max"`
	TemperatureMin     []*float64 `json:"temperature_2m_min"`
	PrecipitationSum   []*float64 `json:"precipitation_sum"`
	RainSum            []*float64 `json:"rain_sum"`
	PrecipitationHours []*float64 `json:"precipitation_hours"`
	WindSpeedMax       []*float64 `json:"wind_speed_10m_max"`
}

func forecastRecords(location string, payload dailyResponse) ([]domain.ForecastWeatherRecord, error) {
	recs := make([]domain.ForecastWeatherRecord, 0, len(payload.Daily.Time))
	for i, ds := range payload.Daily.Time {
		date, err := time.Parse(domain.DateFormat, ds)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", ds, err)
		}
		recs = append(recs, domain.ForecastWeatherRecord{
			Location:           location,
			Date:               date,
			TemperatureMax:     at(payload.Daily.TemperatureMax, i),
			TemperatureMin:     at(payload.Daily.TemperatureMin, i),
			PrecipitationSum:   at(payload.Daily.PrecipitationSum, i),
			RainSum:            at(payload.Daily.RainSum, i),
			PrecipitationHours: at(payload.Daily.PrecipitationHours, i),
			WindSpeedMax:       at(payload.Daily.WindSpeedMax, i),
		})
	}
	return recs, nil
}

func historicalRecords(location string, payload dailyResponse) ([]domain.HistoricalWeatherRecord, error) {
	recs := make([]domain.HistoricalWeatherRecord, 0, len(payload.Daily.Time))
	for i, ds := range payload.Daily.Time {
		date, err := time.Parse(domain.DateFormat, ds)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", ds, err)
		}
		recs = append(recs, domain.HistoricalWeatherRecord{
			Location:         location,
			Date:             date,
			TemperatureMax:   at(payload.Daily.TemperatureMax, i),
			TemperatureMin:   at(payload.Daily.TemperatureMin, i),
			PrecipitationSum: at(payload.Daily.PrecipitationSum, i),
			RainSum:          at(payload.Daily.RainSum, i),
		})
	}
	return recs, nil
}

func at(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}
