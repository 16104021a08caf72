//go:build openmeteo

package openmeteo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
)

// These tests hit the public Open-Meteo API.
// Run with: go test -tags=openmeteo ./internal/adapter/openmeteo/ -v -count=1

func TestSmoke_Fetch(t *testing.T) {
	c := NewClient(Options{
		Timeout:    10 * time.Second,
		Retries:    2,
		Backoff:    200 * time.Millisecond,
		MaxBackoff: 2 * time.Second,
		RateLimit:  1,
	}, observability.NewMetricsForTesting(), testLogger())

	resp, err := c.Fetch(context.Background(), domain.NewForecastRequest(london, 3))
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Daily.Range.Count())
	assert.Equal(t, 72, resp.Hourly.Range.Count())
	assert.Equal(t, time.UTC, resp.Daily.Range.Start.Location())

	for i, name := range domain.HourlyVariables() {
		assert.Len(t, resp.Hourly.Variables[i], 72, name)
	}
}
