package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
)

// TableLoader writes the finished tables of a run to a destination.
type TableLoader interface {
	LoadTables(ctx context.Context, runID string, tables domain.Tables) error
}

// TimezoneFallback selects what happens to a location's hourly rows when its
// timezone cannot be resolved.
type TimezoneFallback string

const (
	// FallbackUTC keeps the hourly rows in UTC and marks them approximate.
	FallbackUTC TimezoneFallback = "utc"
	// FallbackSkip drops the location's hourly rows.
	FallbackSkip TimezoneFallback = "skip"
)

// Options shapes a run.
type Options struct {
	Days       int
	Workers    int
	RunTimeout time.Duration
	Fallback   TimezoneFallback
}

// Pipeline fetches, expands and accumulates forecasts for every registered
// location. A failure at one location never affects another.
type Pipeline struct {
	registry *domain.Registry
	client   domain.ForecastClient
	resolver domain.TimezoneResolver
	loaders  []TableLoader
	opts     Options
	logger   *slog.Logger
	metrics  *observability.Metrics
	done     atomic.Bool

	mu     sync.Mutex
	status Status
}

// Status is a snapshot of the current or most recent run.
type Status struct {
	RunID     string `json:"run_id,omitempty"`
	Running   bool   `json:"running"`
	Settled   int    `json:"settled"`
	Locations int    `json:"locations"`
}

// New creates a Pipeline. Loaders run in order after the tables are built.
func New(
	registry *domain.Registry,
	client domain.ForecastClient,
	resolver domain.TimezoneResolver,
	loaders []TableLoader,
	opts Options,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Pipeline {
	if opts.Days <= 0 {
		opts.Days = domain.DefaultForecastDays
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Fallback == "" {
		opts.Fallback = FallbackUTC
	}
	return &Pipeline{
		registry: registry,
		client:   client,
		resolver: resolver,
		loaders:  loaders,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckReadiness returns nil once a run has completed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.done.Load() {
		return errors.New("forecast run has not completed yet")
	}
	return nil
}

// Status reports progress of the current run, or the final state of the
// last one.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Pipeline) setStatus(fn func(*Status)) {
	p.mu.Lock()
	fn(&p.status)
	p.mu.Unlock()
}

// Run processes every location once and returns the report. Per-location
// problems are recorded in the report and never end the run; the returned
// error is non-nil only when a loader fails. A report is returned either way.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	logger := p.logger.With("run_id", report.RunID)
	locations := p.registry.Locations()

	logger.Info("forecast run started",
		"locations", len(locations),
		"workers", p.opts.Workers,
		"days", p.opts.Days,
	)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)
	p.setStatus(func(s *Status) {
		*s = Status{RunID: report.RunID, Running: true, Locations: len(locations)}
	})
	defer p.setStatus(func(s *Status) { s.Running = false })

	runCtx := ctx
	if p.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.opts.RunTimeout)
		defer cancel()
	}

	// Each task owns one slot; slots are merged in registry order so table
	// order does not depend on the worker count.
	results := make([]locationResult, len(locations))
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i, loc := range locations {
		if err := runCtx.Err(); err != nil {
			results[i] = notAttempted(loc, err)
			p.setStatus(func(s *Status) { s.Settled++ })
			continue
		}
		g.Go(func() error {
			results[i] = p.safeProcessLocation(runCtx, logger, loc)
			p.setStatus(func(s *Status) { s.Settled++ })
			return nil
		})
	}
	_ = g.Wait()

	acc := domain.NewAccumulator(len(locations), p.opts.Days)
	report.Outcomes = make(map[string]Outcome, len(locations))
	for _, r := range results {
		if r.daily != nil {
			acc.AppendDaily(r.location, r.daily)
		}
		if r.hourly != nil {
			acc.AppendHourly(r.location, r.hourly)
		}
		report.Diagnostics = append(report.Diagnostics, r.diagnostics...)
		report.Outcomes[r.location] = r.outcome()

		p.metrics.Rows.WithLabelValues(string(domain.Daily)).Add(float64(len(r.daily)))
		p.metrics.Rows.WithLabelValues(string(domain.Hourly)).Add(float64(len(r.hourly)))
		p.metrics.Locations.WithLabelValues(string(r.outcome())).Inc()
		for _, d := range r.diagnostics {
			p.metrics.Diagnostics.WithLabelValues(string(d.Kind)).Inc()
		}
	}
	report.Tables = acc.Finalize()
	report.Counts = acc.Counts()

	loadErr := p.load(ctx, logger, report)

	report.FinishedAt = time.Now().UTC()
	duration := report.FinishedAt.Sub(report.StartedAt)
	p.metrics.RunDuration.Observe(duration.Seconds())
	p.done.Store(true)

	logger.Info("forecast run complete",
		"daily_rows", len(report.Tables.Daily),
		"hourly_rows", len(report.Tables.Hourly),
		"diagnostics", len(report.Diagnostics),
		"duration", duration,
	)
	return report, loadErr
}

// load hands the tables to every loader. A failing loader does not stop the
// others.
func (p *Pipeline) load(ctx context.Context, logger *slog.Logger, report *Report) error {
	var result *multierror.Error
	for _, l := range p.loaders {
		if err := l.LoadTables(ctx, report.RunID, report.Tables); err != nil {
			logger.Error("load tables failed", "loader", fmt.Sprintf("%T", l), "error", err)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
