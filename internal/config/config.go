package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Timezone fallback policies for coordinates with no resolvable zone.
const (
	TZFallbackUTC  = "utc"
	TZFallbackSkip = "skip"
)

const maxWorkers = 8

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Forecast API client.
	ForecastBaseURL    string
	ForecastDays       int
	ForecastTimeout    time.Duration
	ForecastRetries    int
	ForecastBackoff    time.Duration
	ForecastMaxBackoff time.Duration
	ForecastCacheTTL   time.Duration
	ForecastRateLimit  float64

	// Run shape.
	Workers    int
	RunTimeout time.Duration

	// Timezone resolution.
	TZFallback  string
	TZCacheSize int

	// Exports.
	ParquetDir       string
	KafkaEnabled     bool
	KafkaBrokers     []string
	KafkaDailyTopic  string
	KafkaHourlyTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	forecastTimeout, err := parseDuration("FORECAST_TIMEOUT", "10s", false)
	if err != nil {
		return nil, err
	}
	backoff, err := parseDuration("FORECAST_BACKOFF", "200ms", false)
	if err != nil {
		return nil, err
	}
	maxBackoff, err := parseDuration("FORECAST_MAX_BACKOFF", "5s", false)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("FORECAST_CACHE_TTL", "1h", true)
	if err != nil {
		return nil, err
	}
	runTimeout, err := parseDuration("RUN_TIMEOUT", "2m", false)
	if err != nil {
		return nil, err
	}

	days, err := parseInt("FORECAST_DAYS", 7, 1, 16)
	if err != nil {
		return nil, err
	}
	retries, err := parseInt("FORECAST_RETRIES", 5, 0, 10)
	if err != nil {
		return nil, err
	}
	workers, err := parseInt("WORKERS", 1, 1, maxWorkers)
	if err != nil {
		return nil, err
	}
	tzCacheSize, err := parseInt("TZ_CACHE_SIZE", 1000, 1, 1_000_000)
	if err != nil {
		return nil, err
	}

	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("FORECAST_RATE_LIMIT", "5"), 64)
	if err != nil || rateLimit <= 0 {
		return nil, errors.New("invalid FORECAST_RATE_LIMIT: must be a positive number")
	}

	brokers := sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS"))
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		ForecastBaseURL:    sharedcfg.EnvOrDefault("FORECAST_BASE_URL", "https://api.open-meteo.com/v1/forecast"),
		ForecastDays:       days,
		ForecastTimeout:    forecastTimeout,
		ForecastRetries:    retries,
		ForecastBackoff:    backoff,
		ForecastMaxBackoff: maxBackoff,
		ForecastCacheTTL:   cacheTTL,
		ForecastRateLimit:  rateLimit,

		Workers:    workers,
		RunTimeout: runTimeout,

		TZFallback:  strings.ToLower(sharedcfg.EnvOrDefault("TZ_FALLBACK", TZFallbackUTC)),
		TZCacheSize: tzCacheSize,

		ParquetDir:       os.Getenv("PARQUET_DIR"),
		KafkaEnabled:     kafkaEnabled,
		KafkaBrokers:     brokers,
		KafkaDailyTopic:  sharedcfg.EnvOrDefault("KAFKA_DAILY_TOPIC", "forecast-daily"),
		KafkaHourlyTopic: sharedcfg.EnvOrDefault("KAFKA_HOURLY_TOPIC", "forecast-hourly"),
	}
	if _, set := os.LookupEnv("HTTP_ADDR"); !set {
		cfg.HTTPAddr = ":8080"
	}

	if cfg.ForecastBaseURL == "" {
		return nil, errors.New("FORECAST_BASE_URL is required")
	}
	if cfg.ForecastMaxBackoff < cfg.ForecastBackoff {
		return nil, errors.New("FORECAST_MAX_BACKOFF must not be smaller than FORECAST_BACKOFF")
	}
	if cfg.TZFallback != TZFallbackUTC && cfg.TZFallback != TZFallbackSkip {
		return nil, fmt.Errorf("invalid TZ_FALLBACK %q: must be %q or %q", cfg.TZFallback, TZFallbackUTC, TZFallbackSkip)
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && (cfg.KafkaDailyTopic == "" || cfg.KafkaHourlyTopic == "") {
		return nil, errors.New("KAFKA_DAILY_TOPIC and KAFKA_HOURLY_TOPIC are required when kafka is enabled")
	}

	return cfg, nil
}

// parseDuration reads a duration env var. Zero is accepted only when allowZero is set.
func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseInt(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}
