package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListPaymentFilter struct {
	MerchantID     snowflake.ID
	Status         string
	SourceCurrency string
	TargetCurrency string
	CustomerID     string
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	MinAmount      *float64
	MaxAmount      *float64
}

type AnalyticsFilter struct {
	MerchantID  snowflake.ID
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// AmountPoint is one payment reduced to what the daily trend needs.
type AmountPoint struct {
	CreatedAt    time.Time
	SourceAmount float64
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, p *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*Payment, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*Payment, error)
	// Update writes p when its stored version still matches, then bumps the version.
	Update(ctx context.Context, db *gorm.DB, p *Payment) error
	List(ctx context.Context, db *gorm.DB, filter ListPaymentFilter, page pagination.Pagination) ([]*Payment, error)

	Summary(ctx context.Context, db *gorm.DB, filter AnalyticsFilter) (AnalyticsSummary, error)
	CountByStatus(ctx context.Context, db *gorm.DB, filter AnalyticsFilter) ([]StatusCount, error)
	CountByCurrency(ctx context.Context, db *gorm.DB, filter AnalyticsFilter) ([]CurrencyCount, error)
	AmountPoints(ctx context.Context, db *gorm.DB, filter AnalyticsFilter) ([]AmountPoint, error)
}
