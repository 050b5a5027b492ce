package velocity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTrackerSlidingWindow(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	tr := NewMemoryTracker(fc.Now)

	w, err := tr.Record(ctx, "m1", 100, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Window{}, w)

	fc.Advance(30 * time.Minute)
	w, _ = tr.Record(ctx, "m1", 50, time.Hour)
	assert.Equal(t, Window{Count: 1, Amount: 100}, w)

	// The first event slides out of the window.
	fc.Advance(31 * time.Minute)
	w, _ = tr.Record(ctx, "m1", 10, time.Hour)
	assert.Equal(t, Window{Count: 1, Amount: 50}, w)

	w, _ = tr.Record(ctx, "other", 1, time.Hour)
	assert.Equal(t, 0, w.Count)
}

func TestMemoryTrackerConcurrentRecords(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(nil)

	const n = 200
	seen := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := tr.Record(ctx, "merchant", 1, time.Hour)
			assert.NoError(t, err)
			seen[i] = w.Count
		}(i)
	}
	wg.Wait()

	// Each caller observed a distinct prior count.
	counts := make(map[int]bool, n)
	for _, c := range seen {
		counts[c] = true
	}
	assert.Len(t, counts, n)

	w, _ := tr.Record(ctx, "merchant", 1, time.Hour)
	assert.Equal(t, n, w.Count)
}

func TestMemoryTrackerSweep(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	tr := NewMemoryTracker(fc.Now)

	_, _ = tr.Record(ctx, "a", 1, time.Hour)
	_, _ = tr.Record(ctx, "b", 1, time.Minute)
	fc.Advance(2 * time.Minute)

	removed, err := tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestNewTrackerWithoutRedis(t *testing.T) {
	_, ok := NewTracker(nil, nil).(*MemoryTracker)
	assert.True(t, ok)

	var rt *RedisTracker
	_, err := rt.Record(context.Background(), "k", 1, time.Hour)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
