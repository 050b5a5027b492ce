package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiry(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCacheWithClock[string, int](clk.Now)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clk.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry must be invisible once ttl elapsed")

	v, ok = c.Get("b")
	require.True(t, ok, "zero ttl never expires")
	assert.Equal(t, 2, v)
}

func TestTTLCacheSweep(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCacheWithClock[string, int](clk.Now)

	for i := 0; i < 10; i++ {
		c.Set(string(rune('a'+i)), i, time.Duration(i+1)*time.Second)
	}
	clk.Advance(5 * time.Second)

	assert.Equal(t, 5, c.Sweep())
	assert.Equal(t, 5, c.Len())
}

func TestTTLCacheUpdateIsAtomicPerKey(t *testing.T) {
	c := NewTTLCache[string, int]()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Update("counter", time.Hour, func(current int, _ bool) (int, bool) {
				return current + 1, true
			})
		}()
	}
	wg.Wait()

	v, ok := c.Get("counter")
	require.True(t, ok)
	assert.Equal(t, 100, v)
}

func TestTTLCacheUpdateCanDelete(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("k", 1, time.Hour)

	c.Update("k", time.Hour, func(int, bool) (int, bool) { return 0, false })

	_, ok := c.Get("k")
	assert.False(t, ok)
}
