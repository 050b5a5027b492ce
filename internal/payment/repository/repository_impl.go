package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/payment/domain"
	"github.com/smallbiznis/fxpay/pkg/db"
	"github.com/smallbiznis/fxpay/pkg/db/option"
	"github.com/smallbiznis/fxpay/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, p *domain.Payment) error {
	err := conn.WithContext(ctx).Create(p).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateIdempotency
	}
	return err
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, conn.Where("id = ?", id))
}

func (r *repo) FindByTransactionID(ctx context.Context, conn *gorm.DB, transactionID string) (*domain.Payment, error) {
	return r.findOne(ctx, conn.Where("transaction_id = ?", transactionID))
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, conn *gorm.DB, key string) (*domain.Payment, error) {
	return r.findOne(ctx, conn.Where("idempotency_key = ?", key))
}

func (r *repo) findOne(ctx context.Context, stmt *gorm.DB) (*domain.Payment, error) {
	var p domain.Payment
	err := stmt.WithContext(ctx).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repo) Update(ctx context.Context, conn *gorm.DB, p *domain.Payment) error {
	expected := p.Version
	p.Version = expected + 1
	res := conn.WithContext(ctx).
		Model(p).
		Where("version = ?", expected).
		Select("*").
		Omit("id", "created_at").
		UpdateColumns(p)
	if res.Error != nil {
		p.Version = expected
		return res.Error
	}
	if res.RowsAffected == 0 {
		p.Version = expected
		return domain.ErrConcurrentUpdate
	}
	return nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListPaymentFilter, page pagination.Pagination) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	stmt := conn.WithContext(ctx).Model(&domain.Payment{})
	if filter.MerchantID != 0 {
		stmt = stmt.Where("merchant_id = ?", filter.MerchantID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.SourceCurrency != "" {
		stmt = stmt.Where("source_currency = ?", filter.SourceCurrency)
	}
	if filter.TargetCurrency != "" {
		stmt = stmt.Where("target_currency = ?", filter.TargetCurrency)
	}
	if filter.CustomerID != "" {
		stmt = stmt.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", *filter.CreatedTo)
	}
	if filter.MinAmount != nil {
		stmt = stmt.Where("source_amount >= ?", *filter.MinAmount)
	}
	if filter.MaxAmount != nil {
		stmt = stmt.Where("source_amount <= ?", *filter.MaxAmount)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func scoped(ctx context.Context, conn *gorm.DB, filter domain.AnalyticsFilter) *gorm.DB {
	stmt := conn.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("merchant_id = ?", filter.MerchantID)
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", *filter.CreatedTo)
	}
	return stmt
}

func (r *repo) Summary(ctx context.Context, conn *gorm.DB, filter domain.AnalyticsFilter) (domain.AnalyticsSummary, error) {
	var row struct {
		TotalCount     int64
		TotalVolume    float64
		TotalFees      float64
		AvgAmount      float64
		CompletedCount int64
	}
	err := scoped(ctx, conn, filter).
		Select(`COUNT(*) AS total_count,
			COALESCE(SUM(source_amount), 0) AS total_volume,
			COALESCE(SUM(fee_total_fee), 0) AS total_fees,
			COALESCE(AVG(source_amount), 0) AS avg_amount,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed_count`, domain.StatusCompleted).
		Scan(&row).Error
	if err != nil {
		return domain.AnalyticsSummary{}, err
	}

	out := domain.AnalyticsSummary{
		TotalCount:  row.TotalCount,
		TotalVolume: row.TotalVolume,
		TotalFees:   row.TotalFees,
		AvgAmount:   row.AvgAmount,
	}
	if row.TotalCount > 0 {
		out.SuccessRate = float64(row.CompletedCount) / float64(row.TotalCount)
	}
	return out, nil
}

func (r *repo) CountByStatus(ctx context.Context, conn *gorm.DB, filter domain.AnalyticsFilter) ([]domain.StatusCount, error) {
	var rows []domain.StatusCount
	err := scoped(ctx, conn, filter).
		Select("status, COUNT(*) AS count, COALESCE(SUM(source_amount), 0) AS volume").
		Group("status").
		Order("count desc, status asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) CountByCurrency(ctx context.Context, conn *gorm.DB, filter domain.AnalyticsFilter) ([]domain.CurrencyCount, error) {
	var rows []domain.CurrencyCount
	err := scoped(ctx, conn, filter).
		Select("source_currency AS currency, COUNT(*) AS count, COALESCE(SUM(source_amount), 0) AS volume").
		Group("source_currency").
		Order("volume desc, currency asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) AmountPoints(ctx context.Context, conn *gorm.DB, filter domain.AnalyticsFilter) ([]domain.AmountPoint, error) {
	var rows []domain.AmountPoint
	err := scoped(ctx, conn, filter).
		Select("created_at, source_amount").
		Order("created_at asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
