package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/forecast-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/forecast-etl/internal/adapter/kafka"
	"github.com/couchcryptid/forecast-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/forecast-etl/internal/adapter/parquet"
	"github.com/couchcryptid/forecast-etl/internal/adapter/tz"
	"github.com/couchcryptid/forecast-etl/internal/config"
	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	"github.com/couchcryptid/forecast-etl/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	registry, err := domain.NewRegistry(domain.DefaultLocations())
	if err != nil {
		logger.Error("invalid location registry", "error", err)
		return 1
	}

	client := openmeteo.NewClient(openmeteo.Options{
		BaseURL:    cfg.ForecastBaseURL,
		Timeout:    cfg.ForecastTimeout,
		Retries:    cfg.ForecastRetries,
		Backoff:    cfg.ForecastBackoff,
		MaxBackoff: cfg.ForecastMaxBackoff,
		RateLimit:  cfg.ForecastRateLimit,
	}, metrics, logger)
	forecasts := openmeteo.NewCachedClient(client, cfg.ForecastCacheTTL, clockwork.NewRealClock(), metrics)
	logger.Info("forecast client configured",
		"base_url", cfg.ForecastBaseURL,
		"retries", cfg.ForecastRetries,
		"backoff", cfg.ForecastBackoff,
		"cache_ttl", cfg.ForecastCacheTTL,
		"rate_limit", cfg.ForecastRateLimit,
	)

	finder, err := tz.NewFinder()
	if err != nil {
		logger.Error("failed to load timezone data", "error", err)
		return 1
	}
	resolver := tz.NewCachedResolver(finder, cfg.TZCacheSize, metrics)

	var loaders []pipeline.TableLoader
	if cfg.ParquetDir != "" {
		loaders = append(loaders, parquet.NewExporter(cfg.ParquetDir, logger))
		logger.Info("parquet export enabled", "dir", cfg.ParquetDir)
	}
	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		loaders = append(loaders, writer)
		logger.Info("kafka publishing enabled",
			"brokers", cfg.KafkaBrokers,
			"daily_topic", cfg.KafkaDailyTopic,
			"hourly_topic", cfg.KafkaHourlyTopic,
		)
	}

	p := pipeline.New(registry, forecasts, resolver, loaders, pipeline.Options{
		Days:       cfg.ForecastDays,
		Workers:    cfg.Workers,
		RunTimeout: cfg.RunTimeout,
		Fallback:   pipeline.TimezoneFallback(cfg.TZFallback),
	}, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Serve health and metrics for the duration of the run.
	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	exitCode := 0
	report, err := p.Run(ctx)
	if err != nil {
		logger.Error("export failed", "error", err)
		exitCode = 1
	}
	for _, d := range report.Diagnostics {
		logger.Warn("location diagnostic",
			"location", d.Location,
			"kind", d.Kind,
			"granularity", d.Granularity,
			"approximate", d.Approximate,
			"error", d.Err,
		)
	}
	if derr := report.Err(); derr != nil {
		logger.Warn("run finished with diagnostics", "count", len(report.Diagnostics), "error", derr)
	}
	if registry.Len() > 0 && len(report.Tables.Daily) == 0 && len(report.Tables.Hourly) == 0 {
		logger.Error("no forecast rows produced", "locations", registry.Len())
		exitCode = 1
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}

	logger.Info("shutdown complete", "run_id", report.RunID, "cached_forecasts", forecasts.Len())
	return exitCode
}
