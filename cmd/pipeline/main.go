// Command pipeline runs one daily forecasting cycle: ingest weather and
// river data, predict river levels per station, classify risk, and publish
// alerts. It is designed to run under cron; the exit code tells the
// scheduler how the run went.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saadaal/flood-forecast-pipeline/internal/adapter/alert"
	httpadapter "github.com/saadaal/flood-forecast-pipeline/internal/adapter/http"
	"github.com/saadaal/flood-forecast-pipeline/internal/adapter/modelapi"
	"github.com/saadaal/flood-forecast-pipeline/internal/adapter/openmeteo"
	"github.com/saadaal/flood-forecast-pipeline/internal/adapter/swalim"
	"github.com/saadaal/flood-forecast-pipeline/internal/config"
	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
	"github.com/saadaal/flood-forecast-pipeline/internal/observability"
	"github.com/saadaal/flood-forecast-pipeline/internal/pipeline"
	"github.com/saadaal/flood-forecast-pipeline/internal/retry"
	"github.com/saadaal/flood-forecast-pipeline/internal/risk"
	"github.com/saadaal/flood-forecast-pipeline/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	migrate := flag.Bool("migrate", false, "run database migrations before the pipeline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return domain.ExitPrecondition
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return domain.ExitPrecondition
	}
	defer st.Close() //nolint:errcheck

	if *migrate {
		if err := st.Migrate(ctx); err != nil {
			logger.Error("migration failed", "error", err)
			return domain.ExitPrecondition
		}
		logger.Info("database migrated")
	}

	// Ops listener is optional; a plain cron deployment runs without it.
	var srv *httpadapter.Server
	if cfg.OpsAddr != "" {
		srv = httpadapter.NewServer(cfg.OpsAddr, st, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("ops server shutdown error", "error", err)
			}
		}()
	}

	weather := openmeteo.NewClient(openmeteo.Config{
		ForecastURL:  cfg.OpenMeteoForecastURL,
		ArchiveURL:   cfg.OpenMeteoArchiveURL,
		Timeout:      cfg.OpenMeteoTimeout,
		ForecastDays: cfg.HorizonDays,
		LookbackDays: cfg.HistoricalLookbackDays,
	}, st, st, logger)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		weather = weather.WithCache(openmeteo.NewRedisCache(rdb, cfg.CacheTTL, logger))
		logger.Info("ingestion cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
	}

	river := swalim.NewClient(cfg.SwalimBaseURL, cfg.SwalimTimeout, st, st, logger)
	inferrer := modelapi.NewClient(cfg.ModelAPIBaseURL, cfg.ModelAPITimeout, logger)
	assessor := risk.NewAssessor(st, st, logger)

	var alerts pipeline.AlertDispatcher
	if len(cfg.KafkaBrokers) > 0 {
		pub := alert.NewPublisher(cfg.KafkaBrokers, cfg.AlertTopic, st, logger)
		defer pub.Close() //nolint:errcheck
		alerts = pub
	} else {
		logger.Info("alert publishing disabled")
		alerts = noopDispatcher{logger: logger}
	}

	policy := retry.New(cfg.RetryMaxAttempts, cfg.RetryInitialDelay, logger).
		WithAttemptsCounter(metrics.RetryAttempts)

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Weather:   weather,
		River:     river,
		Locations: st,
		Inferrer:  inferrer,
		Writer:    st,
		Risk:      assessor,
		Alerts:    alerts,
		Freshness: pipeline.NewFreshnessValidator(st, logger),
	}, pipeline.Options{
		ModelName:        cfg.ModelName,
		HorizonDays:      cfg.HorizonDays,
		MinLookaheadDays: cfg.MinLookaheadDays,
	}, policy, logger, metrics)

	result, err := orch.Run(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrStaleForecast) {
			logger.Error("aborting: forecast data too stale to predict on", "error", err)
			return domain.ExitStaleForecast
		}
		logger.Error("pipeline aborted", "error", err)
		return domain.ExitTotalFailure
	}

	if srv != nil {
		srv.RecordRun(result)
	}

	code := result.ExitCode()
	logger.Info("pipeline finished",
		"run_id", result.ID,
		"succeeded", result.Succeeded, "failed", result.Failed, "skipped", result.Skipped,
		"unsupported", result.Unsupported, "exit_code", code)
	return code
}

type noopDispatcher struct {
	logger *slog.Logger
}

func (d noopDispatcher) Dispatch(context.Context) error {
	d.logger.Info("no alert sink configured, skipping dispatch")
	return nil
}
