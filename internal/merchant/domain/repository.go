package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, merchant *Merchant) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Merchant, error)
	IncrementVolume(ctx context.Context, db *gorm.DB, id snowflake.ID, amount float64, at time.Time) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, at time.Time) error
	// ComputeVolumes derives counters from payment rows; monthStart bounds MonthlyVolume.
	ComputeVolumes(ctx context.Context, db *gorm.DB, monthStart time.Time) ([]VolumeTotals, error)
	ApplyVolumes(ctx context.Context, db *gorm.DB, totals VolumeTotals, at time.Time) error
}
