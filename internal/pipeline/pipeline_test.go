package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	"github.com/couchcryptid/forecast-etl/internal/pipeline"
)

var (
	baseDate = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	london = domain.Location{Name: "London", Lat: 51.5085, Lon: -0.1257}
	tokyo  = domain.Location{Name: "Tokyo", Lat: 35.6895, Lon: 139.6917}
	sydney = domain.Location{Name: "Sydney", Lat: -33.8688, Lon: 151.2093}
)

// --- mocks ---

type mockClient struct {
	mu        sync.Mutex
	responses map[float64]domain.ForecastResponse // keyed by latitude
	errs      map[float64]error
	delays    map[float64]time.Duration
	block     map[float64]bool
	panics    map[float64]bool
	calls     atomic.Int32
}

func newMockClient() *mockClient {
	return &mockClient{
		responses: map[float64]domain.ForecastResponse{},
		errs:      map[float64]error{},
		delays:    map[float64]time.Duration{},
		block:     map[float64]bool{},
		panics:    map[float64]bool{},
	}
}

func (m *mockClient) Fetch(ctx context.Context, req domain.ForecastRequest) (domain.ForecastResponse, error) {
	m.calls.Add(1)
	m.mu.Lock()
	resp, ok := m.responses[req.Latitude]
	err := m.errs[req.Latitude]
	delay := m.delays[req.Latitude]
	block := m.block[req.Latitude]
	panics := m.panics[req.Latitude]
	m.mu.Unlock()

	if panics {
		panic("nil map write in decoder")
	}
	if block {
		<-ctx.Done()
		return domain.ForecastResponse{}, ctx.Err()
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return domain.ForecastResponse{}, err
	}
	if !ok {
		return makeResponse(baseDate, req.ForecastDays, req.Latitude), nil
	}
	return resp, nil
}

type mockResolver struct {
	zones map[float64]string
	err   error
}

func (m *mockResolver) Resolve(lat, lon float64) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if z, ok := m.zones[lat]; ok {
		return z, nil
	}
	return "", &domain.LookupError{Lat: lat, Lon: lon}
}

func defaultResolver() *mockResolver {
	return &mockResolver{zones: map[float64]string{
		london.Lat: "Europe/London",
		tokyo.Lat:  "Asia/Tokyo",
		sydney.Lat: "Australia/Sydney",
	}}
}

type mockLoader struct {
	calls  int
	runID  string
	tables domain.Tables
	err    error
}

func (m *mockLoader) LoadTables(_ context.Context, runID string, tables domain.Tables) error {
	m.calls++
	m.runID = runID
	m.tables = tables
	return m.err
}

// makeResponse builds a well-formed response whose values encode the
// latitude and position so rows can be traced back.
func makeResponse(start time.Time, days int, seed float64) domain.ForecastResponse {
	n := days * 24
	daily := [][]float64{make([]float64, days), make([]float64, days), make([]float64, days)}
	for k := range days {
		daily[0][k] = seed + float64(k)
		daily[1][k] = float64(k * 10)
		daily[2][k] = float64(k % 4)
	}
	hourly := [][]float64{make([]float64, n), make([]float64, n), make([]float64, n)}
	for k := range n {
		hourly[0][k] = seed + float64(k)/100
		hourly[1][k] = 3
		hourly[2][k] = float64(k)
	}
	s := start.Unix()
	return domain.ForecastResponse{
		Daily: domain.ForecastBlock{
			Range:     domain.NewTimeRange(s, s+int64(days)*86400, 86400),
			Variables: daily,
		},
		Hourly: domain.ForecastBlock{
			Range:     domain.NewTimeRange(s, s+int64(n)*3600, 3600),
			Variables: hourly,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRegistry(t *testing.T, locs ...domain.Location) *domain.Registry {
	t.Helper()
	reg, err := domain.NewRegistry(locs)
	require.NoError(t, err)
	return reg
}

func newPipeline(t *testing.T, reg *domain.Registry, client domain.ForecastClient, resolver domain.TimezoneResolver, opts pipeline.Options, loaders ...pipeline.TableLoader) *pipeline.Pipeline {
	t.Helper()
	return pipeline.New(reg, client, resolver, loaders, opts, discardLogger(), observability.NewMetricsForTesting())
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	client := newMockClient()
	loader := &mockLoader{}
	p := newPipeline(t, newRegistry(t, london, tokyo), client, defaultResolver(), pipeline.Options{Days: 1}, loader)

	require.Error(t, p.CheckReadiness(context.Background()))

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.NoError(t, p.CheckReadiness(context.Background()))

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, int32(2), client.calls.Load())
	assert.Empty(t, report.Diagnostics)
	assert.Equal(t, pipeline.OutcomeOK, report.Outcomes["London"])
	assert.Equal(t, pipeline.OutcomeOK, report.Outcomes["Tokyo"])
	assert.Equal(t, domain.RowCount{Daily: 1, Hourly: 24}, report.Counts["Tokyo"])

	daily := report.Tables.Daily
	require.Len(t, daily, 2)
	assert.Equal(t, "London", daily[0].Location)
	assert.Equal(t, "Tokyo", daily[1].Location)
	assert.Equal(t, time.UTC, daily[1].Date.Location())
	assert.Equal(t, baseDate, daily[1].Date)
	assert.Equal(t, tokyo.Lat, daily[1].MaxWindSpeed)

	hourly := report.Tables.Hourly
	require.Len(t, hourly, 48)
	assert.Equal(t, "London", hourly[0].Location)
	assert.Equal(t, "Europe/London", hourly[0].Date.Location().String())
	assert.Equal(t, "Tokyo", hourly[24].Location)
	assert.Equal(t, "Asia/Tokyo", hourly[24].Date.Location().String())

	assert.Equal(t, pipeline.Status{RunID: report.RunID, Settled: 2, Locations: 2}, p.Status())

	assert.Equal(t, 1, loader.calls)
	assert.Equal(t, report.RunID, loader.runID)
	assert.Len(t, loader.tables.Hourly, 48)
}

func TestPipeline_Run_HourlyDayInLocalTime(t *testing.T) {
	p := newPipeline(t, newRegistry(t, tokyo), newMockClient(), defaultResolver(), pipeline.Options{Days: 1})

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	hourly := report.Tables.Hourly
	require.Len(t, hourly, 24)

	first := hourly[0].Date
	assert.Equal(t, 9, first.Hour())
	assert.Equal(t, 1, first.Day())
	last := hourly[23].Date
	assert.Equal(t, 8, last.Hour())
	assert.Equal(t, 2, last.Day())

	for k, row := range hourly {
		assert.True(t, row.Date.Equal(baseDate.Add(time.Duration(k)*time.Hour)), "row %d instant", k)
		assert.Equal(t, float64(k), row.WindSpeed)
	}
}

func TestPipeline_Run_FailureIsolation(t *testing.T) {
	tests := []struct {
		name    string
		locs    []domain.Location
		failing domain.Location
		healthy domain.Location
	}{
		{"first fails", []domain.Location{london, tokyo}, london, tokyo},
		{"second fails", []domain.Location{london, tokyo}, tokyo, london},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMockClient()
			client.errs[tt.failing.Lat] = errors.New("connection reset by peer")

			p := newPipeline(t, newRegistry(t, tt.locs...), client, defaultResolver(), pipeline.Options{Days: 2})
			report, err := p.Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, int32(2), client.calls.Load(), "both locations attempted")
			assert.Equal(t, domain.RowCount{Daily: 2, Hourly: 48}, report.Counts[tt.healthy.Name])
			assert.Len(t, report.Tables.Daily, 2)
			assert.Len(t, report.Tables.Hourly, 48)
			for _, row := range report.Tables.Daily {
				assert.Equal(t, tt.healthy.Name, row.Location)
			}

			require.Len(t, report.Diagnostics, 1)
			d := report.Diagnostics[0]
			assert.Equal(t, tt.failing.Name, d.Location)
			assert.Equal(t, domain.KindTransport, d.Kind)
			var transport *domain.TransportError
			require.ErrorAs(t, d.Err, &transport)
			assert.Equal(t, tt.failing.Name, transport.Location)

			assert.Equal(t, pipeline.OutcomeFailed, report.Outcomes[tt.failing.Name])
			assert.Equal(t, pipeline.OutcomeOK, report.Outcomes[tt.healthy.Name])
			require.Error(t, report.Err())
			assert.Contains(t, report.Err().Error(), tt.failing.Name+" [transport]")
		})
	}
}

func TestPipeline_Run_DataIntegrityDropsOnlyThatBatch(t *testing.T) {
	client := newMockClient()
	bad := makeResponse(baseDate, 1, london.Lat)
	bad.Hourly.Variables[0] = bad.Hourly.Variables[0][:23]
	client.responses[london.Lat] = bad

	p := newPipeline(t, newRegistry(t, london, tokyo), client, defaultResolver(), pipeline.Options{Days: 1})
	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RowCount{Daily: 1}, report.Counts["London"])
	assert.Equal(t, domain.RowCount{Daily: 1, Hourly: 24}, report.Counts["Tokyo"])
	assert.Len(t, report.Tables.Hourly, 24)

	diags := report.DiagnosticsFor("London")
	require.Len(t, diags, 1)
	assert.Equal(t, domain.KindDataIntegrity, diags[0].Kind)
	assert.Equal(t, domain.Hourly, diags[0].Granularity)

	var integrity *domain.DataIntegrityError
	require.ErrorAs(t, diags[0].Err, &integrity)
	assert.Equal(t, domain.VarTemperature, integrity.Field)
	assert.Equal(t, 24, integrity.Want)
	assert.Equal(t, 23, integrity.Got)
	assert.Equal(t, pipeline.OutcomePartial, report.Outcomes["London"])
}

func TestPipeline_Run_MalformedResponseIsDataIntegrity(t *testing.T) {
	client := newMockClient()
	client.errs[london.Lat] = &domain.DataIntegrityError{Granularity: domain.Daily, Reason: "irregular time axis at index 3"}

	p := newPipeline(t, newRegistry(t, london), client, defaultResolver(), pipeline.Options{Days: 1})
	report, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Diagnostics, 1)
	assert.Equal(t, domain.KindDataIntegrity, report.Diagnostics[0].Kind)
	assert.Equal(t, domain.Daily, report.Diagnostics[0].Granularity)
	assert.Empty(t, report.Tables.Daily)
}

func TestPipeline_Run_TimezoneFallbackUTC(t *testing.T) {
	resolver := &mockResolver{err: &domain.LookupError{Lat: london.Lat, Lon: london.Lon}}
	p := newPipeline(t, newRegistry(t, london), newMockClient(), resolver, pipeline.Options{Days: 1, Fallback: pipeline.FallbackUTC})

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Tables.Hourly, 24)
	assert.Equal(t, time.UTC, report.Tables.Hourly[0].Date.Location())
	assert.Equal(t, baseDate, report.Tables.Hourly[0].Date)

	require.Len(t, report.Diagnostics, 1)
	d := report.Diagnostics[0]
	assert.Equal(t, domain.KindLookup, d.Kind)
	assert.Equal(t, domain.Hourly, d.Granularity)
	assert.True(t, d.Approximate)
	assert.Equal(t, pipeline.OutcomePartial, report.Outcomes["London"])
}

func TestPipeline_Run_TimezoneFallbackSkip(t *testing.T) {
	resolver := &mockResolver{zones: map[float64]string{tokyo.Lat: "Asia/Tokyo"}}
	p := newPipeline(t, newRegistry(t, london, tokyo), newMockClient(), resolver, pipeline.Options{Days: 1, Fallback: pipeline.FallbackSkip})

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RowCount{Daily: 1}, report.Counts["London"])
	assert.Len(t, report.Tables.Daily, 2)
	require.Len(t, report.Tables.Hourly, 24)
	assert.Equal(t, "Tokyo", report.Tables.Hourly[0].Location)

	diags := report.DiagnosticsFor("London")
	require.Len(t, diags, 1)
	assert.Equal(t, domain.KindLookup, diags[0].Kind)
	assert.False(t, diags[0].Approximate)
}

func TestPipeline_Run_UnloadableZoneIsLookupError(t *testing.T) {
	resolver := &mockResolver{zones: map[float64]string{london.Lat: "Mars/Olympus_Mons"}}
	p := newPipeline(t, newRegistry(t, london), newMockClient(), resolver, pipeline.Options{Days: 1})

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Diagnostics, 1)
	var lookup *domain.LookupError
	require.ErrorAs(t, report.Diagnostics[0].Err, &lookup)
	assert.Contains(t, lookup.Error(), "Mars/Olympus_Mons")
}

func TestPipeline_Run_WorkersKeepRegistryOrder(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, time.January, 2, 6, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	locs := domain.DefaultLocations()
	resolver := &mockResolver{zones: map[float64]string{}}
	for _, loc := range locs {
		resolver.zones[loc.Lat] = "UTC"
	}
	resolver.zones[tokyo.Lat] = "Asia/Tokyo"

	run := func(workers int) *pipeline.Report {
		client := newMockClient()
		// Later locations finish first.
		for i, loc := range locs {
			client.delays[loc.Lat] = time.Duration(len(locs)-i) * 2 * time.Millisecond
		}
		client.errs[locs[3].Lat] = errors.New("timeout awaiting response headers")
		p := newPipeline(t, newRegistry(t, locs...), client, resolver, pipeline.Options{Days: 2, Workers: workers})
		report, err := p.Run(context.Background())
		require.NoError(t, err)
		return report
	}

	sequential := run(1)
	concurrent := run(8)

	assert.Len(t, sequential.Tables.Daily, (len(locs)-1)*2)
	if diff := cmp.Diff(sequential.Tables, concurrent.Tables); diff != "" {
		t.Errorf("tables differ between 1 and 8 workers (-sequential +concurrent):\n%s", diff)
	}
	assert.Equal(t, sequential.Counts, concurrent.Counts)
	require.Len(t, concurrent.Diagnostics, 1)
	assert.Equal(t, locs[3].Name, concurrent.Diagnostics[0].Location)
}

func TestPipeline_Run_TimeoutKeepsCompletedRows(t *testing.T) {
	client := newMockClient()
	client.block[tokyo.Lat] = true

	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(newRegistry(t, london, tokyo, sydney), client, defaultResolver(), nil,
		pipeline.Options{Days: 1, Workers: 1, RunTimeout: 100 * time.Millisecond},
		discardLogger(), metrics)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RowCount{Daily: 1, Hourly: 24}, report.Counts["London"])
	assert.Len(t, report.Tables.Daily, 1)
	assert.Len(t, report.Tables.Hourly, 24)

	assert.Equal(t, pipeline.OutcomeOK, report.Outcomes["London"])
	assert.Equal(t, pipeline.OutcomeCancelled, report.Outcomes["Tokyo"])
	assert.Equal(t, pipeline.OutcomeCancelled, report.Outcomes["Sydney"])

	sydneyDiags := report.DiagnosticsFor("Sydney")
	require.Len(t, sydneyDiags, 1)
	assert.Equal(t, domain.KindCancelled, sydneyDiags[0].Kind)
	assert.ErrorIs(t, sydneyDiags[0].Err, domain.ErrNotAttempted)
	assert.Equal(t, int32(2), client.calls.Load(), "Sydney is never fetched")

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Diagnostics.WithLabelValues("cancelled")))
	assert.Equal(t, 24.0, testutil.ToFloat64(metrics.Rows.WithLabelValues("hourly")))
}

func TestPipeline_Run_ParentCancelled(t *testing.T) {
	client := newMockClient()
	p := newPipeline(t, newRegistry(t, london, tokyo), client, defaultResolver(), pipeline.Options{Days: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Tables.Daily)
	assert.Equal(t, int32(0), client.calls.Load())
	assert.Len(t, report.Diagnostics, 2)
	assert.Equal(t, 2, p.Status().Settled)
	require.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_LoaderErrorDoesNotStopOtherLoaders(t *testing.T) {
	failing := &mockLoader{err: errors.New("disk full")}
	ok := &mockLoader{}
	p := newPipeline(t, newRegistry(t, london), newMockClient(), defaultResolver(), pipeline.Options{Days: 1}, failing, ok)

	report, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NotNil(t, report)
	assert.Len(t, report.Tables.Daily, 1)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)
}

func TestPipeline_Run_DeadlineRefusalIsCancelled(t *testing.T) {
	client := newMockClient()
	client.errs[tokyo.Lat] = fmt.Errorf("rate limit wait: %w: %w",
		domain.ErrNotAttempted, errors.New("rate: Wait(n=1) would exceed context deadline"))

	p := newPipeline(t, newRegistry(t, london, tokyo), client, defaultResolver(), pipeline.Options{Days: 1})
	report, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Diagnostics, 1)
	assert.Equal(t, domain.KindCancelled, report.Diagnostics[0].Kind)
	assert.Equal(t, pipeline.OutcomeCancelled, report.Outcomes["Tokyo"])
	assert.Equal(t, pipeline.OutcomeOK, report.Outcomes["London"])
}

func TestPipeline_Run_PanicIsolatedToLocation(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			client := newMockClient()
			client.panics[london.Lat] = true

			p := newPipeline(t, newRegistry(t, london, tokyo, sydney), client, defaultResolver(), pipeline.Options{Days: 1, Workers: workers})
			report, err := p.Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, pipeline.OutcomeFailed, report.Outcomes["London"])
			assert.Equal(t, pipeline.OutcomeOK, report.Outcomes["Tokyo"])
			assert.Equal(t, pipeline.OutcomeOK, report.Outcomes["Sydney"])
			assert.Len(t, report.Tables.Daily, 2)
			assert.Equal(t, "Tokyo", report.Tables.Daily[0].Location)

			diags := report.DiagnosticsFor("London")
			require.Len(t, diags, 1)
			assert.Equal(t, domain.KindTransport, diags[0].Kind)
			assert.ErrorContains(t, diags[0].Err, "panic: nil map write in decoder")
			assert.Equal(t, 3, p.Status().Settled)
		})
	}
}
