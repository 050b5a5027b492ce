package domain

import (
	"context"
	"time"
)

// Store persists records. Reserve must be atomic per key.
type Store interface {
	// Reserve creates a processing record when none is live and reports whether it did.
	// Otherwise it returns the live record untouched.
	Reserve(ctx context.Context, key string, now time.Time, ttl time.Duration) (Record, bool, error)
	// Finish overwrites the outcome of a live record, keeping its expiry.
	Finish(ctx context.Context, rec Record, now time.Time) error
	Get(ctx context.Context, key string, now time.Time) (*Record, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}
