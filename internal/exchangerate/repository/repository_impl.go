package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/fxpay/internal/exchangerate/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, base, target string) (*domain.Quote, error) {
	return r.findOne(ctx, db.Where("status = ?", domain.QuoteStatusActive), base, target)
}

func (r *repo) FindLatest(ctx context.Context, db *gorm.DB, base, target string) (*domain.Quote, error) {
	return r.findOne(ctx, db, base, target)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, base, target string) (*domain.Quote, error) {
	var items []domain.Quote
	err := db.WithContext(ctx).
		Model(&domain.Quote{}).
		Where("base_currency = ? AND target_currency = ?", base, target).
		Order("fetched_at desc, id desc").
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

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, base string) ([]domain.Quote, error) {
	var items []domain.Quote
	err := db.WithContext(ctx).
		Model(&domain.Quote{}).
		Where("base_currency = ? AND status = ?", base, domain.QuoteStatusActive).
		Order("target_currency asc, fetched_at desc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListHistory(ctx context.Context, db *gorm.DB, base, target string, since time.Time) ([]domain.Quote, error) {
	var items []domain.Quote
	err := db.WithContext(ctx).
		Model(&domain.Quote{}).
		Where("base_currency = ? AND target_currency = ? AND fetched_at >= ?", base, target, since).
		Order("fetched_at desc, id desc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ExpireActive(ctx context.Context, db *gorm.DB, base string) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE exchange_rates SET status = ? WHERE base_currency = ? AND status = ?`,
		domain.QuoteStatusExpired,
		base,
		domain.QuoteStatusActive,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, quotes []domain.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(quotes, 100).Error
}
