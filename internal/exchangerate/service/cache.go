package service

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/cache"
)

// rateEntry holds every rate known for one base currency.
type rateEntry struct {
	rates     map[string]float64
	quoteIDs  map[string]snowflake.ID
	fetchedAt time.Time
	fallback  bool
}

type rateCache struct {
	entries cache.Cache[string, rateEntry]
	ttl     time.Duration
}

func newRateCache(now func() time.Time, ttl time.Duration) *rateCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &rateCache{
		entries: cache.NewTTLCacheWithClock[string, rateEntry](now),
		ttl:     ttl,
	}
}

func (c *rateCache) lookup(base, target string) (float64, snowflake.ID, rateEntry, bool) {
	entry, ok := c.entries.Get(base)
	if !ok {
		return 0, 0, rateEntry{}, false
	}
	rate, ok := entry.rates[target]
	if !ok || rate <= 0 {
		return 0, 0, rateEntry{}, false
	}
	return rate, entry.quoteIDs[target], entry, true
}

func (c *rateCache) store(base string, entry rateEntry) {
	c.entries.Set(base, entry, c.ttl)
}
