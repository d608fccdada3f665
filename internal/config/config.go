package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	// OpsAddr enables the health/metrics HTTP listener when non-empty.
	OpsAddr string `env:"OPS_ADDR"`

	ModelName   string `env:"MODEL_NAME" envDefault:"Prophet_001"`
	HorizonDays int    `env:"FORECAST_HORIZON_DAYS" envDefault:"7"`

	// MinLookaheadDays is how far past today persisted forecast weather must
	// extend for a prediction run to proceed when fresh ingestion fails.
	MinLookaheadDays int `env:"MIN_FORECAST_LOOKAHEAD_DAYS" envDefault:"5"`

	RetryMaxAttempts  int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialDelay time.Duration `env:"RETRY_INITIAL_DELAY" envDefault:"5s"`

	// Open-Meteo ingestion. The archive endpoint serves observed history,
	// the forecast endpoint serves the 16-day outlook.
	OpenMeteoForecastURL   string        `env:"OPENMETEO_FORECAST_URL" envDefault:"https://api.open-meteo.com/v1/forecast"`
	OpenMeteoArchiveURL    string        `env:"OPENMETEO_ARCHIVE_URL" envDefault:"https://archive-api.open-meteo.com/v1/archive"`
	OpenMeteoTimeout       time.Duration `env:"OPENMETEO_TIMEOUT" envDefault:"30s"`
	HistoricalLookbackDays int           `env:"HISTORICAL_LOOKBACK_DAYS" envDefault:"90"`

	SwalimBaseURL string        `env:"SWALIM_BASE_URL" envDefault:"https://frrims.faoswalim.org/api"`
	SwalimTimeout time.Duration `env:"SWALIM_TIMEOUT" envDefault:"30s"`

	ModelAPIBaseURL string        `env:"MODEL_API_URL" envDefault:"http://localhost:8501"`
	ModelAPITimeout time.Duration `env:"MODEL_API_TIMEOUT" envDefault:"2m"`

	// RedisAddr enables the ingestion response cache when non-empty.
	RedisAddr string        `env:"REDIS_ADDR"`
	CacheTTL  time.Duration `env:"INGEST_CACHE_TTL" envDefault:"1h"`

	// KafkaBrokers enables alert publishing when non-empty.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	AlertTopic   string   `env:"ALERT_TOPIC" envDefault:"flood-risk-alerts"`

	// BackfillDefaultStart is the documented fallback when the operator
	// accepts the start date prompt without typing one.
	BackfillDefaultStart string `env:"BACKFILL_DEFAULT_START" envDefault:"2024-01-01"`
}

// Load reads configuration from environment variables, applying defaults
// where unset, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.HorizonDays < 1 {
		return nil, errors.New("FORECAST_HORIZON_DAYS must be at least 1")
	}
	if cfg.MinLookaheadDays < 0 {
		return nil, errors.New("MIN_FORECAST_LOOKAHEAD_DAYS must not be negative")
	}
	if cfg.RetryMaxAttempts < 1 {
		return nil, errors.New("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.RetryInitialDelay < 0 {
		return nil, errors.New("RETRY_INITIAL_DELAY must not be negative")
	}
	if _, err := time.Parse("2006-01-02", cfg.BackfillDefaultStart); err != nil {
		return nil, fmt.Errorf("invalid BACKFILL_DEFAULT_START: %w", err)
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.AlertTopic == "" {
		return nil, errors.New("ALERT_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}
