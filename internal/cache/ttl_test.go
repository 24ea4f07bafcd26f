package cache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTTLCache[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)

	v, ok = c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestTTLCachePurgeAndDelete(t *testing.T) {
	c := NewTTLCache[string, string]()
	c.Set("x", "1", time.Hour)
	c.Set("y", "2", time.Hour)

	c.Delete("x")
	_, ok := c.Get("x")
	assert.False(t, ok)

	c.Purge()
	assert.Zero(t, c.Len())
}

func TestRateCacheKeysByExactInstant(t *testing.T) {
	c := NewRateCache()
	asOf := time.Date(2026, 3, 1, 10, 0, 0, 100, time.UTC)
	c.Set("usd", "EUR", asOf, decimal.RequireFromString("0.9"), c.Generation())

	rate, ok := c.Get("USD", "eur", asOf)
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.9")))

	_, ok = c.Get("USD", "EUR", asOf.Add(500*time.Millisecond))
	assert.False(t, ok)

	c.Invalidate()
	_, ok = c.Get("USD", "EUR", asOf)
	assert.False(t, ok)
}

func TestRateCacheDropsSetFromBeforeInvalidate(t *testing.T) {
	c := NewRateCache()
	asOf := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	stale := c.Generation()
	c.Invalidate()
	c.Set("EUR", "USD", asOf, decimal.RequireFromString("1.1"), stale)
	_, ok := c.Get("EUR", "USD", asOf)
	assert.False(t, ok)

	c.Set("EUR", "USD", asOf, decimal.RequireFromString("1.2"), c.Generation())
	rate, ok := c.Get("EUR", "USD", asOf)
	require.True(t, ok)
	assert.Equal(t, "1.2", rate.String())
}
