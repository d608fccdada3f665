package store

import "gorm.io/gorm/clause"

// Conflict targets mirror the unique indexes declared on the domain models.
// On conflict only the value columns and updated_at are replaced, never
// created_at, so the first write's creation time survives recomputation.
var (
	upsertPrediction = clause.OnConflict{
		Columns: []clause.Column{{Name: "location_name"}, {Name: "date"}, {Name: "ml_model_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"level_m", "forecast_days", "risk_level", "updated_at",
		}),
	}

	upsertForecastWeather = clause.OnConflict{
		Columns: []clause.Column{{Name: "location_name"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"temperature_2m_max", "temperature_2m_min", "precipitation_sum",
			"rain_sum", "precipitation_hours", "wind_speed_10m_max", "updated_at",
		}),
	}

	upsertHistoricalWeather = clause.OnConflict{
		Columns: []clause.Column{{Name: "location_name"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"temperature_2m_max", "temperature_2m_min", "precipitation_sum",
			"rain_sum", "updated_at",
		}),
	}

	upsertRiverLevel = clause.OnConflict{
		Columns: []clause.Column{{Name: "location_name"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"level_m", "station_number", "updated_at",
		}),
	}

	upsertLocation = clause.OnConflict{
		Columns: []clause.Column{{Name: "location_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"station_number", "latitude", "longitude", "ml_model_name",
			"moderate_threshold_m", "high_threshold_m", "full_threshold_m",
		}),
	}
)
