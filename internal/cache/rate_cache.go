package cache

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

const defaultRateTTL = 5 * time.Minute

// RateCache memoizes resolved exchange rates by (from, to, as-of instant).
//
// Callers read Generation before resolving a rate and pass it to Set; a Set
// whose generation predates the last Invalidate is dropped.
type RateCache interface {
	Get(from, to string, asOf time.Time) (decimal.Decimal, bool)
	Generation() uint64
	Set(from, to string, asOf time.Time, rate decimal.Decimal, generation uint64)
	Invalidate()
}

type rateCache struct {
	rates      Cache[string, generational]
	generation atomic.Uint64
	ttl        time.Duration
}

type generational struct {
	rate       decimal.Decimal
	generation uint64
}

func NewRateCache() RateCache {
	return &rateCache{
		rates: NewTTLCache[string, generational](),
		ttl:   defaultRateTTL,
	}
}

func (c *rateCache) Get(from, to string, asOf time.Time) (decimal.Decimal, bool) {
	v, ok := c.rates.Get(rateKey(from, to, asOf))
	if !ok || v.generation != c.generation.Load() {
		return decimal.Zero, false
	}
	return v.rate, true
}

func (c *rateCache) Generation() uint64 {
	return c.generation.Load()
}

func (c *rateCache) Set(from, to string, asOf time.Time, rate decimal.Decimal, generation uint64) {
	if generation != c.generation.Load() {
		return
	}
	c.rates.Set(rateKey(from, to, asOf), generational{rate: rate, generation: generation}, c.ttl)
}

// Invalidate drops every memoized rate. Called after any rate is recorded.
func (c *rateCache) Invalidate() {
	c.generation.Add(1)
	c.rates.Purge()
}

func rateKey(from, to string, asOf time.Time) string {
	return strings.ToUpper(from) + ":" + strings.ToUpper(to) + ":" + asOf.UTC().Format(time.RFC3339Nano)
}
