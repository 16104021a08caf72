package openmeteo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
)

// DefaultBaseURL is the public Open-Meteo forecast endpoint.
const DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

const (
	dailyInterval  = 24 * time.Hour
	hourlyInterval = time.Hour
)

// Options configures the HTTP behaviour of a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	MaxBackoff time.Duration
	// RateLimit is the sustained requests per second across all callers.
	RateLimit float64
}

// Client implements domain.ForecastClient against the Open-Meteo forecast API.
// Requests ask for unix timestamps in GMT so both blocks arrive in UTC.
type Client struct {
	baseURL string
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewClient creates an Open-Meteo client with retry, rate limiting and a
// circuit breaker around the upstream.
func NewClient(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(opts.Backoff).
		SetRetryMaxWaitTime(opts.MaxBackoff).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{logger}).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "open-meteo",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		// A request the API rejects for its own parameters says nothing
		// about the upstream's health.
		IsSuccessful: func(err error) bool { return err == nil || !upstreamFailure(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	limit := rate.Inf
	burst := 1
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
		burst = max(1, int(math.Ceil(opts.RateLimit)))
	}

	return &Client{
		baseURL: opts.BaseURL,
		http:    rc,
		breaker: cb,
		limiter: rate.NewLimiter(limit, burst),
		metrics: metrics,
		logger:  logger,
	}
}

// Fetch retrieves the daily and hourly blocks for one location.
func (c *Client) Fetch(ctx context.Context, req domain.ForecastRequest) (domain.ForecastResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.ForecastResponse{}, fmt.Errorf("rate limit wait: %w: %w", domain.ErrNotAttempted, err)
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.get(ctx, req)
	})
	c.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.ForecastResponse{}, err
	}

	payload, _ := result.(*apiResponse)
	resp, err := payload.toDomain(req)
	if err != nil {
		return domain.ForecastResponse{}, err
	}
	c.logger.Debug("forecast fetched",
		"latitude", req.Latitude,
		"longitude", req.Longitude,
		"daily_points", resp.Daily.Range.Count(),
		"hourly_points", resp.Hourly.Range.Count(),
	)
	return resp, nil
}

func (c *Client) get(ctx context.Context, req domain.ForecastRequest) (*apiResponse, error) {
	var payload apiResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(queryParams(req)).
		SetResult(&payload).
		SetError(&apiErr).
		ForceContentType("application/json").
		Get(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("forecast request: %w", err)
	}
	if resp.IsError() {
		return nil, &statusError{status: resp.StatusCode(), reason: apiErr.Reason}
	}
	return &payload, nil
}

// statusError is a non-2xx answer from the API.
type statusError struct {
	status int
	reason string
}

func (e *statusError) Error() string {
	if e.reason != "" {
		return fmt.Sprintf("open-meteo API error: status %d: %s", e.status, e.reason)
	}
	return fmt.Sprintf("open-meteo API error: status %d", e.status)
}

// upstreamFailure reports whether err counts against the circuit breaker:
// network errors, throttling and server errors. Other 4xx answers and
// cancellation do not.
func upstreamFailure(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func queryParams(req domain.ForecastRequest) map[string]string {
	params := map[string]string{
		"latitude":   strconv.FormatFloat(req.Latitude, 'f', -1, 64),
		"longitude":  strconv.FormatFloat(req.Longitude, 'f', -1, 64),
		"timeformat": "unixtime",
		"timezone":   "GMT",
	}
	if len(req.Daily) > 0 {
		params["daily"] = strings.Join(req.Daily, ",")
	}
	if len(req.Hourly) > 0 {
		params["hourly"] = strings.Join(req.Hourly, ",")
	}
	if req.ForecastDays > 0 {
		params["forecast_days"] = strconv.Itoa(req.ForecastDays)
	}
	return params
}

// Open-Meteo API response types. Each block maps variable names, plus "time",
// to arrays; null entries decode as nil.

type apiResponse struct {
	Latitude         float64               `json:"latitude"`
	Longitude        float64               `json:"longitude"`
	UTCOffsetSeconds int                   `json:"utc_offset_seconds"`
	Daily            map[string][]*float64 `json:"daily"`
	Hourly           map[string][]*float64 `json:"hourly"`
}

type apiError struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

func (r *apiResponse) toDomain(req domain.ForecastRequest) (domain.ForecastResponse, error) {
	if r == nil {
		return domain.ForecastResponse{}, &domain.DataIntegrityError{Reason: "empty response body"}
	}
	daily, err := toBlock(domain.Daily, r.Daily, req.Daily, dailyInterval)
	if err != nil {
		return domain.ForecastResponse{}, err
	}
	hourly, err := toBlock(domain.Hourly, r.Hourly, req.Hourly, hourlyInterval)
	if err != nil {
		return domain.ForecastResponse{}, err
	}
	return domain.ForecastResponse{Daily: daily, Hourly: hourly}, nil
}

// toBlock rebuilds the compact time range from the explicit time axis. The
// axis must be evenly spaced. A variable absent from the response becomes a
// nil series so the expander reports it as a length mismatch.
func toBlock(g domain.Granularity, raw map[string][]*float64, names []string, nominal time.Duration) (domain.ForecastBlock, error) {
	if len(names) == 0 {
		return domain.ForecastBlock{}, nil
	}
	axis := raw["time"]
	interval := nominal
	if len(axis) >= 2 {
		if axis[0] == nil || axis[1] == nil {
			return domain.ForecastBlock{}, &domain.DataIntegrityError{Granularity: g, Reason: "null timestamp in time axis"}
		}
		interval = time.Duration(int64(*axis[1])-int64(*axis[0])) * time.Second
		if interval <= 0 {
			return domain.ForecastBlock{}, &domain.DataIntegrityError{
				Granularity: g,
				Reason:      fmt.Sprintf("time axis is not increasing (step %s)", interval),
			}
		}
	}

	var start int64
	for i, ts := range axis {
		if ts == nil {
			return domain.ForecastBlock{}, &domain.DataIntegrityError{Granularity: g, Reason: "null timestamp in time axis"}
		}
		if i == 0 {
			start = int64(*ts)
			continue
		}
		if want := start + int64(i)*int64(interval/time.Second); int64(*ts) != want {
			return domain.ForecastBlock{}, &domain.DataIntegrityError{
				Granularity: g,
				Reason:      fmt.Sprintf("irregular time axis at index %d", i),
			}
		}
	}

	tr := domain.NewTimeRange(start, start+int64(len(axis))*int64(interval/time.Second), int64(interval/time.Second))
	if len(axis) == 0 {
		tr = domain.TimeRange{Interval: interval}
	}

	vars := make([][]float64, len(names))
	for i, name := range names {
		series, ok := raw[name]
		if !ok {
			continue
		}
		vals := make([]float64, len(series))
		for k, v := range series {
			if v == nil {
				vals[k] = math.NaN()
				continue
			}
			vals[k] = *v
		}
		vars[i] = vals
	}
	return domain.ForecastBlock{Range: tr, Variables: vars}, nil
}

// restyLogger routes resty's retry and warning output through slog.
type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}
