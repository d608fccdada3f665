// Package modelapi calls the model serving API that runs the trained river
// level models (Prophet, XGBoost) and returns one prediction per request.
package modelapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
)

// Error codes the model server reports in its error payload.
const (
	codeUnsupportedLocation = "unsupported_location"
	codeMissingInputData    = "missing_input_data"
)

// Client implements single-date inference against the model server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "modelapi"),
	}
}

type predictRequest struct {
	Location     string `json:"location"`
	ModelName    string `json:"model_name"`
	ForecastDays int    `json:"forecast_days"`
	TargetDate   string `json:"target_date"`
}

type predictResponse struct {
	Location     string  `json:"location"`
	Date         string  `json:"date"`
	ModelName    string  `json:"model_name"`
	ForecastDays int     `json:"forecast_days"`
	Level        float64 `json:"level_m"`
}

type errorResponse struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

// Infer requests a prediction for one station and target date. Model server
// rejections are translated to domain errors so callers can tell a station
// with no trained model from a date with no input features.
func (c *Client) Infer(ctx context.Context, location string, horizonDays int, modelName string, targetDate time.Time) (domain.PredictionRecord, error) {
	body, err := json.Marshal(predictRequest{
		Location:     location,
		ModelName:    modelName,
		ForecastDays: horizonDays,
		TargetDate:   targetDate.Format(domain.DateFormat),
	})
	if err != nil {
		return domain.PredictionRecord{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return domain.PredictionRecord{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.PredictionRecord{}, fmt.Errorf("predict request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.PredictionRecord{}, c.translateError(resp, location)
	}

	var payload predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.PredictionRecord{}, fmt.Errorf("decode response: %w", err)
	}

	date, err := time.Parse(domain.DateFormat, payload.Date)
	if err != nil {
		return domain.PredictionRecord{}, fmt.Errorf("parse prediction date %q: %w", payload.Date, err)
	}

	return domain.PredictionRecord{
		Location:     payload.Location,
		Date:         date,
		ModelName:    payload.ModelName,
		ForecastDays: payload.ForecastDays,
		Level:        payload.Level,
	}, nil
}

func (c *Client) translateError(resp *http.Response, location string) error {
	body, _ := io.ReadAll(resp.Body)

	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err == nil {
		switch payload.Code {
		case codeUnsupportedLocation:
			return fmt.Errorf("%s: %w", location, domain.ErrLocationUnsupported)
		case codeMissingInputData:
			return fmt.Errorf("%s: %w", location, domain.ErrMissingInputData)
		}
	}
	return fmt.Errorf("model API error: status %d: %s", resp.StatusCode, body)
}
