// Package store is the persistence layer over Postgres. Every write is an
// upsert keyed by a unique index, which is the concurrency control that makes
// retries and re-runs of the pipeline and backfill safe.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
)

// Store wraps the gorm connection with the queries the pipeline depends on.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to Postgres using the given DSN.
func Open(databaseURL string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an existing gorm connection; integration tests use this directly.
func New(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Migrate creates or updates the schema for all persisted entities.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&domain.LocationMetadata{},
		&domain.PredictionRecord{},
		&domain.ForecastWeatherRecord{},
		&domain.HistoricalWeatherRecord{},
		&domain.HistoricalRiverLevelRecord{},
	)
}

// CheckReadiness reports whether the database is reachable.
func (s *Store) CheckReadiness(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertPrediction inserts the record or, when a row already exists for
// (location, date, model), replaces its level, horizon, and risk fields.
// created_at is preserved on conflict; updated_at advances. Safe to call any
// number of times with the same key.
func (s *Store) UpsertPrediction(ctx context.Context, rec *domain.PredictionRecord) error {
	rec.Date = domain.Day(rec.Date)
	err := s.db.WithContext(ctx).Clauses(upsertPrediction).Create(rec).Error
	if err != nil {
		return fmt.Errorf("upsert prediction %s %s %s: %w",
			rec.Location, rec.Date.Format(domain.DateFormat), rec.ModelName, err)
	}
	return nil
}

// UpsertForecastWeather writes a batch of forecast weather rows, replacing
// any existing (location, date) rows with the fresh values.
func (s *Store) UpsertForecastWeather(ctx context.Context, recs []domain.ForecastWeatherRecord) error {
	if len(recs) == 0 {
		return nil
	}
	for i := range recs {
		recs[i].Date = domain.Day(recs[i].Date)
	}
	err := s.db.WithContext(ctx).Clauses(upsertForecastWeather).Create(&recs).Error
	if err != nil {
		return fmt.Errorf("upsert forecast weather batch: %w", err)
	}
	return nil
}

// UpsertHistoricalWeather writes a batch of observed weather rows.
func (s *Store) UpsertHistoricalWeather(ctx context.Context, recs []domain.HistoricalWeatherRecord) error {
	if len(recs) == 0 {
		return nil
	}
	for i := range recs {
		recs[i].Date = domain.Day(recs[i].Date)
	}
	err := s.db.WithContext(ctx).Clauses(upsertHistoricalWeather).Create(&recs).Error
	if err != nil {
		return fmt.Errorf("upsert historical weather batch: %w", err)
	}
	return nil
}

// UpsertRiverLevels writes a batch of observed gauge readings.
func (s *Store) UpsertRiverLevels(ctx context.Context, recs []domain.HistoricalRiverLevelRecord) error {
	if len(recs) == 0 {
		return nil
	}
	for i := range recs {
		recs[i].Date = domain.Day(recs[i].Date)
	}
	err := s.db.WithContext(ctx).Clauses(upsertRiverLevel).Create(&recs).Error
	if err != nil {
		return fmt.Errorf("upsert river level batch: %w", err)
	}
	return nil
}

// UpsertLocations writes a batch of station metadata, keyed by name.
func (s *Store) UpsertLocations(ctx context.Context, locs []domain.LocationMetadata) error {
	if len(locs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(upsertLocation).Create(&locs).Error
	if err != nil {
		return fmt.Errorf("upsert location batch: %w", err)
	}
	return nil
}

// PredictionDates returns the distinct civil dates in [start, end] for which
// location has a persisted prediction with a level, ascending.
func (s *Store) PredictionDates(ctx context.Context, location string, start, end time.Time) ([]time.Time, error) {
	var dates []time.Time
	err := s.db.WithContext(ctx).
		Model(&domain.PredictionRecord{}).
		Where("location_name = ? AND date >= ? AND date <= ?", location, domain.Day(start), domain.Day(end)).
		Distinct().
		Order("date").
		Pluck("date", &dates).Error
	if err != nil {
		return nil, fmt.Errorf("prediction dates for %s: %w", location, err)
	}
	for i := range dates {
		dates[i] = domain.Day(dates[i])
	}
	return dates, nil
}

// LastPredictionDate returns the most recent prediction date for a location.
// The second return is false when the location has no predictions.
func (s *Store) LastPredictionDate(ctx context.Context, location string) (time.Time, bool, error) {
	var max sql.NullTime
	row := s.db.WithContext(ctx).
		Model(&domain.PredictionRecord{}).
		Where("location_name = ?", location).
		Select("max(date)").
		Row()
	if err := row.Scan(&max); err != nil {
		return time.Time{}, false, fmt.Errorf("last prediction date for %s: %w", location, err)
	}
	if !max.Valid {
		return time.Time{}, false, nil
	}
	return domain.Day(max.Time), true, nil
}

// LatestForecastDate returns the maximum target date among persisted forecast
// weather records, filtered to one location when non-empty or evaluated
// globally when location is "". The second return is false when no forecast
// records exist.
func (s *Store) LatestForecastDate(ctx context.Context, location string) (time.Time, bool, error) {
	q := s.db.WithContext(ctx).Model(&domain.ForecastWeatherRecord{})
	if location != "" {
		q = q.Where("location_name = ?", location)
	}
	var max sql.NullTime
	if err := q.Select("max(date)").Row().Scan(&max); err != nil {
		return time.Time{}, false, fmt.Errorf("latest forecast date: %w", err)
	}
	if !max.Valid {
		return time.Time{}, false, nil
	}
	return domain.Day(max.Time), true, nil
}

// ListLocations returns all configured stations ordered by name.
func (s *Store) ListLocations(ctx context.Context) ([]domain.LocationMetadata, error) {
	var locations []domain.LocationMetadata
	err := s.db.WithContext(ctx).Order("location_name").Find(&locations).Error
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return locations, nil
}

// ClassifyPending assigns the station's risk band to every unclassified
// prediction for that station and returns the number of rows updated.
func (s *Store) ClassifyPending(ctx context.Context, station domain.LocationMetadata) (int64, error) {
	var updated int64
	for _, band := range riskBands(station) {
		q := s.db.WithContext(ctx).
			Model(&domain.PredictionRecord{}).
			Where("location_name = ? AND risk_level IS NULL", station.Name)
		if band.min != nil {
			q = q.Where("level_m >= ?", *band.min)
		}
		if band.max != nil {
			q = q.Where("level_m < ?", *band.max)
		}
		res := q.Update("risk_level", band.level)
		if res.Error != nil {
			return updated, fmt.Errorf("classify %s as %s: %w", station.Name, band.level, res.Error)
		}
		updated += res.RowsAffected
	}
	return updated, nil
}

// RiskClassifiedSince returns the risk-classified predictions with target
// dates on or after the given date, for alert dispatch.
func (s *Store) RiskClassifiedSince(ctx context.Context, from time.Time) ([]domain.PredictionRecord, error) {
	var recs []domain.PredictionRecord
	err := s.db.WithContext(ctx).
		Where("date >= ? AND risk_level IS NOT NULL", domain.Day(from)).
		Order("location_name, date").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("risk classified since %s: %w", from.Format(domain.DateFormat), err)
	}
	return recs, nil
}

type riskBand struct {
	level    domain.RiskLevel
	min, max *float64
}

// riskBands carves the station's thresholds into half-open level ranges,
// lowest band first.
func riskBands(station domain.LocationMetadata) []riskBand {
	moderate, high, full := station.ModerateThreshold, station.HighThreshold, station.FullThreshold
	return []riskBand{
		{level: domain.RiskLow, max: &moderate},
		{level: domain.RiskModerate, min: &moderate, max: &high},
		{level: domain.RiskHigh, min: &high, max: &full},
		{level: domain.RiskFull, min: &full},
	}
}
