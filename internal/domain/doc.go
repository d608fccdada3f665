// Package domain models the flood forecasting time series and pipeline state.
//
// # Data Source
//
// River stations along the Shabelle and Juba basins are monitored daily.
// Weather observations and 16-day forecasts come from the Open-Meteo API;
// river gauge readings come from the SWALIM flood watch feed. A nightly cron
// run ingests both, asks the model-serving API for a river level prediction
// per station, classifies the result against per-station flood thresholds,
// and publishes alert events.
//
// # Prediction Identity
//
// A prediction is identified by (location, target date, model name). The
// predicted_river_level table carries a unique index over those three
// columns, so recomputing a prediction is an upsert: the level and risk
// fields are replaced, created_at is preserved, updated_at advances. This is
// what makes retries, cron re-runs, and historical backfills safe to repeat.
//
// # Dates
//
// Target dates are civil dates, stored in DATE columns and represented here
// as UTC midnight time.Time values. [Day] normalizes arbitrary timestamps;
// always compare prediction dates through it. A Gap is a maximal contiguous
// run of civil dates with no persisted prediction.
//
// # Risk Levels
//
// Each station carries three river level thresholds (moderate, high, full).
// A prediction below the moderate threshold is "low" risk; at or above the
// full threshold it is "full" (banks overflowing). Risk is assigned after
// inference by a separate assessment pass and left NULL until then.
package domain
