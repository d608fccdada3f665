package domain

import "errors"

var (
	// ErrLocationUnsupported means no trained model exists for the station.
	// Expected, not a failure: callers skip the station and report it.
	ErrLocationUnsupported = errors.New("location has no trained model")

	// ErrMissingInputData means required weather or river data is absent for
	// the requested target date, so inference cannot run.
	ErrMissingInputData = errors.New("missing required input data for date")

	// ErrStaleForecast means persisted forecast data does not extend far
	// enough past today to support a prediction run. The only error that
	// aborts a full pipeline run.
	ErrStaleForecast = errors.New("forecast data is stale")
)
