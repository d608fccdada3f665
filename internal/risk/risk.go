// Package risk classifies persisted river level predictions into flood
// risk bands using per-station thresholds.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
)

// LocationSource yields the stations whose predictions need classifying.
type LocationSource interface {
	ListLocations(ctx context.Context) ([]domain.LocationMetadata, error)
}

// Classifier stamps a risk band onto a station's unclassified predictions
// and reports how many rows it touched.
type Classifier interface {
	ClassifyPending(ctx context.Context, station domain.LocationMetadata) (int64, error)
}

// Assessor sweeps every station and classifies predictions that have no
// risk band yet. Already-classified rows are never touched, so repeated
// sweeps are harmless.
type Assessor struct {
	locations  LocationSource
	classifier Classifier
	logger     *slog.Logger
}

func NewAssessor(locations LocationSource, classifier Classifier, logger *slog.Logger) *Assessor {
	return &Assessor{
		locations:  locations,
		classifier: classifier,
		logger:     logger.With("component", "risk_assessor"),
	}
}

// Assess classifies pending predictions for all stations with thresholds.
// A station without survey thresholds is skipped rather than misclassified
// as low risk. Per-station errors are collected so one broken station does
// not leave the rest unclassified; the joined error is returned at the end.
func (a *Assessor) Assess(ctx context.Context) error {
	stations, err := a.locations.ListLocations(ctx)
	if err != nil {
		return fmt.Errorf("list stations: %w", err)
	}

	var errs []error
	var total int64
	for _, station := range stations {
		if station.FullThreshold <= 0 {
			a.logger.Warn("station has no flood thresholds, skipping classification",
				"location", station.Name)
			continue
		}

		updated, err := a.classifier.ClassifyPending(ctx, station)
		if err != nil {
			errs = append(errs, fmt.Errorf("classify %s: %w", station.Name, err))
			continue
		}
		total += updated
		if updated > 0 {
			a.logger.Info("risk bands assigned",
				"location", station.Name, "rows", updated)
		}
	}

	a.logger.Info("risk assessment complete", "stations", len(stations), "rows", total)
	return errors.Join(errs...)
}
