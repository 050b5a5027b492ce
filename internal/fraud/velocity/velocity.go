// Package velocity tracks sliding-window transaction counts and amounts.
package velocity

import (
	"context"
	"time"

	"github.com/smallbiznis/fxpay/internal/cache"
)

// Window is the state of one key's window.
type Window struct {
	Count  int
	Amount float64
}

// Tracker records events atomically per key. Record returns the window as it
// stood before the new event was added.
type Tracker interface {
	Record(ctx context.Context, key string, amount float64, window time.Duration) (Window, error)
	Sweep(ctx context.Context) (int, error)
}

type event struct {
	at     time.Time
	amount float64
}

type MemoryTracker struct {
	now     func() time.Time
	windows cache.Cache[string, []event]
}

func NewMemoryTracker(now func() time.Time) *MemoryTracker {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryTracker{
		now:     now,
		windows: cache.NewTTLCacheWithClock[string, []event](now),
	}
}

func (t *MemoryTracker) Record(_ context.Context, key string, amount float64, window time.Duration) (Window, error) {
	now := t.now()
	cutoff := now.Add(-window)

	var before Window
	t.windows.Update(key, window, func(events []event, exists bool) ([]event, bool) {
		kept := events[:0]
		if exists {
			for _, e := range events {
				if e.at.After(cutoff) {
					kept = append(kept, e)
					before.Count++
					before.Amount += e.amount
				}
			}
		}
		return append(kept, event{at: now, amount: amount}), true
	})
	return before, nil
}

func (t *MemoryTracker) Sweep(context.Context) (int, error) {
	return t.windows.Sweep(), nil
}
