package domain

import "time"

// RiskLevel classifies a predicted river level against station thresholds.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskFull     RiskLevel = "full"
)

// PredictionRecord is one forecast for one location, one target date, one
// model. The unique index makes writes idempotent: re-running inference for
// the same key updates the existing row instead of inserting a duplicate.
type PredictionRecord struct {
	ID           uint      `gorm:"primaryKey"`
	Location     string    `gorm:"column:location_name;size:100;not null;uniqueIndex:uq_prediction_location_date_model"`
	Date         time.Time `gorm:"column:date;type:date;not null;uniqueIndex:uq_prediction_location_date_model"`
	ModelName    string    `gorm:"column:ml_model_name;size:100;not null;uniqueIndex:uq_prediction_location_date_model"`
	ForecastDays int       `gorm:"column:forecast_days"`
	Level        float64   `gorm:"column:level_m"`
	// Risk is nil until a risk assessment pass classifies the prediction.
	Risk      *RiskLevel `gorm:"column:risk_level;size:20"`
	CreatedAt time.Time  `gorm:"column:created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at"`
}

func (PredictionRecord) TableName() string { return "predicted_river_level" }

// ForecastWeatherRecord is one day of forecast weather for one location.
// Its maximum date per location drives the freshness check.
type ForecastWeatherRecord struct {
	ID                 uint      `gorm:"primaryKey"`
	Location           string    `gorm:"column:location_name;size:100;not null;uniqueIndex:uq_forecast_location_date"`
	Date               time.Time `gorm:"column:date;type:date;not null;uniqueIndex:uq_forecast_location_date"`
	TemperatureMax     float64   `gorm:"column:temperature_2m_max"`
	TemperatureMin     float64   `gorm:"column:temperature_2m_min"`
	PrecipitationSum   float64   `gorm:"column:precipitation_sum"`
	RainSum            float64   `gorm:"column:rain_sum"`
	PrecipitationHours float64   `gorm:"column:precipitation_hours"`
	WindSpeedMax       float64   `gorm:"column:wind_speed_10m_max"`
	CreatedAt          time.Time `gorm:"column:created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

func (ForecastWeatherRecord) TableName() string { return "forecast_weather_daily" }

// HistoricalWeatherRecord is one day of observed weather for one location.
type HistoricalWeatherRecord struct {
	ID               uint      `gorm:"primaryKey"`
	Location         string    `gorm:"column:location_name;size:100;not null;uniqueIndex:uq_historical_weather_location_date"`
	Date             time.Time `gorm:"column:date;type:date;not null;uniqueIndex:uq_historical_weather_location_date"`
	TemperatureMax   float64   `gorm:"column:temperature_2m_max"`
	TemperatureMin   float64   `gorm:"column:temperature_2m_min"`
	PrecipitationSum float64   `gorm:"column:precipitation_sum"`
	RainSum          float64   `gorm:"column:rain_sum"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (HistoricalWeatherRecord) TableName() string { return "historical_weather_daily" }

// HistoricalRiverLevelRecord is one observed gauge reading for one location.
type HistoricalRiverLevelRecord struct {
	ID            uint      `gorm:"primaryKey"`
	Location      string    `gorm:"column:location_name;size:100;not null;uniqueIndex:uq_river_level_location_date"`
	Date          time.Time `gorm:"column:date;type:date;not null;uniqueIndex:uq_river_level_location_date"`
	Level         float64   `gorm:"column:level_m"`
	StationNumber string    `gorm:"column:station_number;size:50"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (HistoricalRiverLevelRecord) TableName() string { return "historical_river_level" }

// LocationMetadata describes a monitored river station: where it is, which
// trained model serves it (empty means none), and its flood thresholds in
// meters. Thresholds come from the SWALIM station survey.
type LocationMetadata struct {
	ID                uint    `gorm:"primaryKey"`
	Name              string  `gorm:"column:location_name;size:100;not null;uniqueIndex"`
	StationNumber     string  `gorm:"column:station_number;size:50"`
	Latitude          float64 `gorm:"column:latitude"`
	Longitude         float64 `gorm:"column:longitude"`
	ModelName         string  `gorm:"column:ml_model_name;size:100"`
	ModerateThreshold float64 `gorm:"column:moderate_threshold_m"`
	HighThreshold     float64 `gorm:"column:high_threshold_m"`
	FullThreshold     float64 `gorm:"column:full_threshold_m"`
}

func (LocationMetadata) TableName() string { return "location_metadata" }

// Supported reports whether a trained model exists for this station.
func (m LocationMetadata) Supported() bool { return m.ModelName != "" }

// ClassifyRisk maps a predicted level to this station's risk band.
func (m LocationMetadata) ClassifyRisk(level float64) RiskLevel {
	switch {
	case level >= m.FullThreshold:
		return RiskFull
	case level >= m.HighThreshold:
		return RiskHigh
	case level >= m.ModerateThreshold:
		return RiskModerate
	default:
		return RiskLow
	}
}
