// Package swalim ingests observed river gauge readings from the SWALIM
// river monitoring API (frrims.faoswalim.org).
package swalim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
)

// The gauge API returns reading dates as DD-MM-YYYY strings.
const readingDateFormat = "02-01-2006"

// LocationSource yields the stations to fetch gauge readings for.
type LocationSource interface {
	ListLocations(ctx context.Context) ([]domain.LocationMetadata, error)
}

// RiverWriter persists gauge reading batches idempotently.
type RiverWriter interface {
	UpsertRiverLevels(ctx context.Context, recs []domain.HistoricalRiverLevelRecord) error
}

// Client fetches per-station river levels from the SWALIM chart endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	locations  LocationSource
	writer     RiverWriter
	logger     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, locations LocationSource, writer RiverWriter, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		locations:  locations,
		writer:     writer,
		logger:     logger.With("component", "swalim"),
	}
}

// FetchLevels pulls the gauge reading series for every station that has a
// station number and upserts it. A station without a number cannot be
// queried and is skipped. Per-station failures are collected and joined.
func (c *Client) FetchLevels(ctx context.Context) error {
	stations, err := c.locations.ListLocations(ctx)
	if err != nil {
		return fmt.Errorf("list stations: %w", err)
	}

	var errs []error
	for _, station := range stations {
		if station.StationNumber == "" {
			c.logger.Warn("station has no SWALIM station number, skipping gauge fetch",
				"location", station.Name)
			continue
		}

		recs, err := c.fetchStation(ctx, station)
		if err != nil {
			errs = append(errs, fmt.Errorf("gauge %s: %w", station.Name, err))
			continue
		}
		if err := c.writer.UpsertRiverLevels(ctx, recs); err != nil {
			errs = append(errs, fmt.Errorf("persist gauge %s: %w", station.Name, err))
			continue
		}
		c.logger.Info("river levels ingested", "location", station.Name, "readings", len(recs))
	}
	return errors.Join(errs...)
}

func (c *Client) fetchStation(ctx context.Context, station domain.LocationMetadata) ([]domain.HistoricalRiverLevelRecord, error) {
	form := url.Values{
		"station_id":      {station.StationNumber},
		"start_timestamp": {"0"},
		"end_timestamp":   {"0"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/rivers/graph", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("SWALIM API error: status %d: %s", resp.StatusCode, body)
	}

	var payload chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	recs := make([]domain.HistoricalRiverLevelRecord, 0, len(payload.GaugeReadingList))
	for _, reading := range payload.GaugeReadingList {
		date, err := time.Parse(readingDateFormat, reading.DateOfReadingStr)
		if err != nil {
			c.logger.Warn("unparseable reading date, skipping",
				"location", station.Name, "date", reading.DateOfReadingStr)
			continue
		}
		level, err := strconv.ParseFloat(reading.ReadingValue, 64)
		if err != nil {
			// Unvalidated readings sometimes come through empty.
			continue
		}
		recs = append(recs, domain.HistoricalRiverLevelRecord{
			Location:      station.Name,
			Date:          date,
			Level:         level,
			StationNumber: station.StationNumber,
		})
	}
	return recs, nil
}

// Chart endpoint response types. Numeric fields arrive as strings.

type chartResponse struct {
	GaugeReadingList []gaugeReading `json:"gaugeReadingList"`
}

type gaugeReading struct {
	DateOfReadingStr string `json:"dateOfReadingStr"`
	ReadingValue     string `json:"readingValue"`
	IsValidated      string `json:"isValidated"`
}
