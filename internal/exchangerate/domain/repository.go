package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// FindActive returns the most recently fetched active quote for the pair.
	FindActive(ctx context.Context, db *gorm.DB, base, target string) (*Quote, error)
	// FindLatest returns the most recent quote for the pair regardless of status.
	FindLatest(ctx context.Context, db *gorm.DB, base, target string) (*Quote, error)
	ListActive(ctx context.Context, db *gorm.DB, base string) ([]Quote, error)
	ListHistory(ctx context.Context, db *gorm.DB, base, target string, since time.Time) ([]Quote, error)
	ExpireActive(ctx context.Context, db *gorm.DB, base string) (int64, error)
	InsertBatch(ctx context.Context, db *gorm.DB, quotes []Quote) error
}

// Provider fetches the latest rates for a base currency from an external feed.
type Provider interface {
	Fetch(ctx context.Context, base string) (UpstreamRates, error)
}
