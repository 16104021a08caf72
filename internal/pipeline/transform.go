package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/couchcryptid/forecast-etl/internal/domain"
)

// locationResult holds one location's row batches and diagnostics until
// they are merged into the tables.
type locationResult struct {
	location    string
	daily       []domain.DailyRow
	hourly      []domain.HourlyRow
	diagnostics []domain.Diagnostic
}

func (r locationResult) outcome() Outcome {
	hasRows := len(r.daily) > 0 || len(r.hourly) > 0
	switch {
	case len(r.diagnostics) == 0:
		return OutcomeOK
	case hasRows:
		return OutcomePartial
	}
	for _, d := range r.diagnostics {
		if d.Kind == domain.KindCancelled {
			return OutcomeCancelled
		}
	}
	return OutcomeFailed
}

func (r *locationResult) record(d domain.Diagnostic) {
	d.Location = r.location
	r.diagnostics = append(r.diagnostics, d)
}

// safeProcessLocation turns a panic while processing loc into a transport
// diagnostic for that location alone.
func (p *Pipeline) safeProcessLocation(ctx context.Context, logger *slog.Logger, loc domain.Location) (r locationResult) {
	defer func() {
		if v := recover(); v != nil {
			r = locationResult{location: loc.Name}
			err := fmt.Errorf("panic: %v", v)
			r.record(domain.Diagnostic{
				Kind: domain.KindTransport,
				Err:  &domain.TransportError{Location: loc.Name, Err: err},
			})
			logger.Error("location processing panicked", "location", loc.Name, "error", err, "stack", string(debug.Stack()))
		}
	}()
	return p.processLocation(ctx, logger, loc)
}

func notAttempted(loc domain.Location, cause error) locationResult {
	r := locationResult{location: loc.Name}
	r.record(domain.Diagnostic{
		Kind: domain.KindCancelled,
		Err:  fmt.Errorf("%w: %w", domain.ErrNotAttempted, cause),
	})
	return r
}

// processLocation fetches one forecast and turns it into rows: daily rows in
// UTC, hourly rows in the location's own zone.
func (p *Pipeline) processLocation(ctx context.Context, logger *slog.Logger, loc domain.Location) locationResult {
	if err := ctx.Err(); err != nil {
		return notAttempted(loc, err)
	}
	logger = logger.With("location", loc.Name)
	r := locationResult{location: loc.Name}

	resp, err := p.client.Fetch(ctx, domain.NewForecastRequest(loc, p.opts.Days))
	if err != nil {
		r.record(fetchDiagnostic(ctx, loc, err))
		logger.Error("fetch forecast failed", "error", err)
		return r
	}

	daily, err := expand(resp.Daily, domain.DailyVariables(), domain.Daily, time.UTC)
	if err != nil {
		r.record(domain.Diagnostic{Kind: domain.KindDataIntegrity, Granularity: domain.Daily, Err: err})
		logger.Warn("daily batch dropped", "granularity", domain.Daily, "error", err)
	} else {
		r.daily = domain.DailyRows(loc.Name, daily)
	}

	zone := p.resolveZone(logger, loc, &r)
	if zone == nil {
		return r
	}
	hourly, err := expand(resp.Hourly, domain.HourlyVariables(), domain.Hourly, zone)
	if err != nil {
		r.record(domain.Diagnostic{Kind: domain.KindDataIntegrity, Granularity: domain.Hourly, Err: err})
		logger.Warn("hourly batch dropped", "granularity", domain.Hourly, "error", err)
	} else {
		r.hourly = domain.HourlyRows(loc.Name, hourly)
	}

	logger.Info("location processed",
		"daily_rows", len(r.daily),
		"hourly_rows", len(r.hourly),
		"timezone", zone.String(),
	)
	return r
}

// fetchDiagnostic classifies a failed fetch. Malformed responses are data
// integrity problems, everything else is transport, and a request that was
// refused or failed because of the run deadline is reported as cancelled.
func fetchDiagnostic(ctx context.Context, loc domain.Location, err error) domain.Diagnostic {
	kind := domain.KindOf(err)
	switch {
	case kind == domain.KindDataIntegrity:
		var integrity *domain.DataIntegrityError
		errors.As(err, &integrity)
		return domain.Diagnostic{Kind: kind, Granularity: integrity.Granularity, Err: err}
	case kind == domain.KindCancelled || ctx.Err() != nil:
		kind = domain.KindCancelled
	default:
		kind = domain.KindTransport
	}
	return domain.Diagnostic{Kind: kind, Err: &domain.TransportError{Location: loc.Name, Err: err}}
}

// resolveZone looks up the location's zone and applies the fallback policy.
// It returns nil when the hourly batch should be skipped.
func (p *Pipeline) resolveZone(logger *slog.Logger, loc domain.Location, r *locationResult) *time.Location {
	zone, err := p.lookupZone(loc)
	if err == nil {
		return zone
	}

	d := domain.Diagnostic{Kind: domain.KindLookup, Granularity: domain.Hourly, Err: err}
	if p.opts.Fallback == FallbackSkip {
		r.record(d)
		logger.Warn("timezone lookup failed, skipping hourly rows", "error", err)
		return nil
	}
	d.Approximate = true
	r.record(d)
	logger.Warn("timezone lookup failed, hourly rows left in UTC", "error", err)
	return time.UTC
}

func (p *Pipeline) lookupZone(loc domain.Location) (*time.Location, error) {
	name, err := p.resolver.Resolve(loc.Lat, loc.Lon)
	if err != nil {
		var lookup *domain.LookupError
		if errors.As(err, &lookup) {
			return nil, err
		}
		return nil, &domain.LookupError{Lat: loc.Lat, Lon: loc.Lon, Err: err}
	}
	zone, err := time.LoadLocation(name)
	if err != nil {
		return nil, &domain.LookupError{Lat: loc.Lat, Lon: loc.Lon, Err: fmt.Errorf("load zone %q: %w", name, err)}
	}
	return zone, nil
}

// expand zips a block's variables and reconstructs its timestamps in zone.
func expand(block domain.ForecastBlock, names []string, g domain.Granularity, zone *time.Location) ([]domain.Record, error) {
	series, err := block.Zip(names)
	if err == nil {
		var records []domain.Record
		records, err = domain.Expand(block.Range, series, zone)
		if err == nil {
			return records, nil
		}
	}
	var integrity *domain.DataIntegrityError
	if errors.As(err, &integrity) && integrity.Granularity == "" {
		integrity.Granularity = g
	}
	return nil, err
}
