package openmeteo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
)

// CachedClient wraps a ForecastClient with an in-memory TTL cache keyed by
// the full request. Only successful responses are cached.
type CachedClient struct {
	inner   domain.ForecastClient
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	resp    domain.ForecastResponse
	expires time.Time
}

// NewCachedClient creates a cache decorator around a forecast client. A
// non-positive ttl disables caching.
func NewCachedClient(inner domain.ForecastClient, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedClient {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CachedClient{
		inner:   inner,
		ttl:     ttl,
		clock:   clock,
		metrics: metrics,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedClient) Fetch(ctx context.Context, req domain.ForecastRequest) (domain.ForecastResponse, error) {
	if c.ttl <= 0 {
		return c.inner.Fetch(ctx, req)
	}

	key := cacheKey(req)
	now := c.clock.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && now.After(e.expires) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if ok {
		c.metrics.ForecastCache.WithLabelValues("hit").Inc()
		return e.resp, nil
	}
	c.metrics.ForecastCache.WithLabelValues("miss").Inc()

	resp, err := c.inner.Fetch(ctx, req)
	if err != nil {
		return resp, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{resp: resp, expires: c.clock.Now().Add(c.ttl)}
	c.mu.Unlock()
	return resp, nil
}

// Len reports the number of cached responses, expired ones included.
func (c *CachedClient) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func cacheKey(req domain.ForecastRequest) string {
	return fmt.Sprintf("%.6f,%.6f|d=%s|h=%s|n=%d",
		req.Latitude, req.Longitude,
		strings.Join(req.Daily, ","), strings.Join(req.Hourly, ","),
		req.ForecastDays)
}
