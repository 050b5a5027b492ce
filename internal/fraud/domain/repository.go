package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type SimilarQuery struct {
	MerchantID    snowflake.ID
	Amount        float64
	Currency      string
	CustomerEmail string
	Since         time.Time
	Limit         int
}

// Repository reads payment history for screening.
type Repository interface {
	FindSimilar(ctx context.Context, db *gorm.DB, q SimilarQuery) ([]string, error)
	CompletedAmountStats(ctx context.Context, db *gorm.DB, merchantID snowflake.ID) (AmountStats, error)
	CountHighRisk(ctx context.Context, db *gorm.DB, r DateRange, minScore int) (int64, error)
	CountBlocked(ctx context.Context, db *gorm.DB, r DateRange) (int64, error)
	ListFlags(ctx context.Context, db *gorm.DB, r DateRange) ([][]Flag, error)
}
