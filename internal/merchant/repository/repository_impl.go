package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/merchant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, merchant *domain.Merchant) error {
	return db.WithContext(ctx).Create(merchant).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Merchant, error) {
	var items []domain.Merchant
	err := db.WithContext(ctx).
		Model(&domain.Merchant{}).
		Where("id = ?", id).
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 || items[0].ID == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) IncrementVolume(ctx context.Context, db *gorm.DB, id snowflake.ID, amount float64, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE merchants
		 SET total_volume = total_volume + ?,
		     monthly_volume = monthly_volume + ?,
		     transaction_count = transaction_count + 1,
		     updated_at = ?
		 WHERE id = ?`,
		amount,
		amount,
		at,
		id,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE merchants SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		at,
		id,
	).Error
}

func (r *repo) ComputeVolumes(ctx context.Context, db *gorm.DB, monthStart time.Time) ([]domain.VolumeTotals, error) {
	var rows []domain.VolumeTotals
	err := db.WithContext(ctx).Raw(
		`SELECT m.id AS merchant_id,
		        COALESCE(SUM(p.target_amount), 0) AS total_volume,
		        COALESCE(SUM(CASE WHEN p.completed_at >= ? THEN p.target_amount ELSE 0 END), 0) AS monthly_volume,
		        COUNT(p.id) AS transaction_count
		 FROM merchants m
		 LEFT JOIN payments p
		   ON p.merchant_id = m.id
		  AND p.completed_at IS NOT NULL
		 GROUP BY m.id`,
		monthStart,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ApplyVolumes(ctx context.Context, db *gorm.DB, totals domain.VolumeTotals, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE merchants
		 SET total_volume = ?, monthly_volume = ?, transaction_count = ?, updated_at = ?
		 WHERE id = ?`,
		totals.TotalVolume,
		totals.MonthlyVolume,
		totals.TransactionCount,
		at,
		totals.MerchantID,
	).Error
}
