// Package gaps computes the minimal set of missing date ranges in a
// location's prediction time series.
package gaps

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
)

// PredictionIndex lists the civil dates inside [start, end] for which a
// location already has a persisted prediction.
type PredictionIndex interface {
	PredictionDates(ctx context.Context, location string, start, end time.Time) ([]time.Time, error)
}

// Detector finds the gaps in a location's expected date range.
type Detector struct {
	index  PredictionIndex
	logger *slog.Logger
}

// NewDetector creates a Detector over the given prediction index.
func NewDetector(index PredictionIndex, logger *slog.Logger) *Detector {
	return &Detector{index: index, logger: logger}
}

// FindGaps returns the ordered, non-overlapping, non-adjacent list of
// maximal missing date runs for location within [expectedStart, expectedEnd]
// inclusive. A location with no predictions at all yields a single gap
// covering the whole range; a fully covered range yields nil.
func (d *Detector) FindGaps(ctx context.Context, location string, expectedStart, expectedEnd time.Time) ([]domain.Gap, error) {
	expectedStart, expectedEnd = domain.Day(expectedStart), domain.Day(expectedEnd)
	if expectedStart.After(expectedEnd) {
		return nil, fmt.Errorf("find gaps for %s: start %s is after end %s",
			location, expectedStart.Format(domain.DateFormat), expectedEnd.Format(domain.DateFormat))
	}

	existing, err := d.index.PredictionDates(ctx, location, expectedStart, expectedEnd)
	if err != nil {
		return nil, fmt.Errorf("find gaps for %s: %w", location, err)
	}

	found := Partition(expectedStart, expectedEnd, existing)
	d.logger.Debug("gap scan complete",
		"location", location,
		"start", expectedStart.Format(domain.DateFormat),
		"end", expectedEnd.Format(domain.DateFormat),
		"existing_dates", len(existing),
		"gaps", len(found))
	return found, nil
}

// Partition computes the complement of present within [start, end] inclusive
// and merges adjacent missing dates into maximal runs, ordered by start date.
func Partition(start, end time.Time, present []time.Time) []domain.Gap {
	existing := make(map[time.Time]struct{}, len(present))
	for _, d := range present {
		existing[domain.Day(d)] = struct{}{}
	}

	var gaps []domain.Gap
	var open *domain.Gap
	for d := domain.Day(start); !d.After(domain.Day(end)); d = d.AddDate(0, 0, 1) {
		if _, ok := existing[d]; ok {
			if open != nil {
				gaps = append(gaps, *open)
				open = nil
			}
			continue
		}
		if open == nil {
			open = &domain.Gap{Start: d, End: d}
		} else {
			open.End = d
		}
	}
	if open != nil {
		gaps = append(gaps, *open)
	}
	return gaps
}
