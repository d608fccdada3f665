package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
)

// ForecastInventory reports the maximum target date among persisted forecast
// weather records, filtered to one location or evaluated globally when
// location is "".
type ForecastInventory interface {
	LatestForecastDate(ctx context.Context, location string) (time.Time, bool, error)
}

// FreshnessValidator decides whether persisted forecast data extends far
// enough past today to support a prediction run. It fails closed: no data
// and query errors both count as not fresh.
type FreshnessValidator struct {
	inventory ForecastInventory
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewFreshnessValidator creates a validator with the real clock.
func NewFreshnessValidator(inventory ForecastInventory, logger *slog.Logger) *FreshnessValidator {
	return &FreshnessValidator{
		inventory: inventory,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
	}
}

// WithClock returns a copy of the validator using the given clock.
func (v *FreshnessValidator) WithClock(c clockwork.Clock) *FreshnessValidator {
	cp := *v
	cp.clock = c
	return &cp
}

// IsFresh reports whether the latest forecast date reaches at least
// today + minLookaheadDays. The maximum date found is returned for operator
// diagnostics regardless of outcome (zero when no records exist).
func (v *FreshnessValidator) IsFresh(ctx context.Context, location string, minLookaheadDays int) (bool, time.Time, error) {
	maxDate, found, err := v.inventory.LatestForecastDate(ctx, location)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("query latest forecast date: %w", err)
	}

	required := domain.Day(v.clock.Now()).AddDate(0, 0, minLookaheadDays)
	fresh := found && !maxDate.Before(required)

	v.logger.Info("forecast freshness checked",
		"location", location,
		"latest_forecast_date", formatDiagDate(maxDate, found),
		"required_through", required.Format(domain.DateFormat),
		"fresh", fresh)
	return fresh, maxDate, nil
}

func formatDiagDate(d time.Time, found bool) string {
	if !found {
		return "none"
	}
	return d.Format(domain.DateFormat)
}
