package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/fxpay/internal/payment/domain"
	"github.com/smallbiznis/fxpay/internal/settlement/domain"
	"github.com/smallbiznis/fxpay/pkg/db/option"
	"github.com/smallbiznis/fxpay/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, s *domain.Settlement) error {
	return db.WithContext(ctx).Create(s).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Settlement, error) {
	return r.findOne(ctx, db.Where("id = ?", id))
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Settlement, error) {
	return r.findOne(ctx, db.Where("reference = ?", reference))
}

func (r *repo) findOne(ctx context.Context, stmt *gorm.DB) (*domain.Settlement, error) {
	var s domain.Settlement
	err := stmt.WithContext(ctx).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, s *domain.Settlement) error {
	expected := s.Version
	s.Version = expected + 1
	res := db.WithContext(ctx).
		Model(s).
		Where("version = ?", expected).
		Select("*").
		Omit("id", "created_at").
		UpdateColumns(s)
	if res.Error != nil {
		s.Version = expected
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.Version = expected
		return domain.ErrConcurrentUpdate
	}
	return nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListSettlementFilter, page pagination.Pagination) ([]*domain.Settlement, error) {
	var items []*domain.Settlement
	stmt := db.WithContext(ctx).Model(&domain.Settlement{})
	if filter.MerchantID != 0 {
		stmt = stmt.Where("merchant_id = ?", filter.MerchantID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", filter.CreatedFrom.UTC())
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", filter.CreatedTo.UTC())
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ClaimPayments(ctx context.Context, db *gorm.DB, q domain.ClaimQuery) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET settlement_id = ?, version = version + 1, updated_at = ?
		 WHERE merchant_id = ?
		   AND status = ?
		   AND settlement_id IS NULL
		   AND completed_at >= ?
		   AND completed_at < ?`,
		q.SettlementID,
		q.At.UTC(),
		q.MerchantID,
		paymentdomain.StatusCompleted,
		q.From.UTC(),
		q.To.UTC(),
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListClaimed(ctx context.Context, db *gorm.DB, settlementID snowflake.ID) ([]paymentdomain.Payment, error) {
	var items []paymentdomain.Payment
	err := db.WithContext(ctx).
		Where("settlement_id = ?", settlementID).
		Order("completed_at asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) EligibleMerchants(ctx context.Context, db *gorm.DB, from, to time.Time) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&paymentdomain.Payment{}).
		Distinct("merchant_id").
		Where("status = ? AND settlement_id IS NULL AND completed_at >= ? AND completed_at < ?",
			paymentdomain.StatusCompleted, from.UTC(), to.UTC()).
		Order("merchant_id").
		Pluck("merchant_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func completedIn(stmt *gorm.DB, prefix string, r domain.DateRange) *gorm.DB {
	stmt = stmt.Where(prefix+"status = ?", domain.StatusCompleted)
	if r.From != nil {
		stmt = stmt.Where(prefix+"completed_at >= ?", r.From.UTC())
	}
	if r.To != nil {
		stmt = stmt.Where(prefix+"completed_at <= ?", r.To.UTC())
	}
	return stmt
}

func (r *repo) ReportSummary(ctx context.Context, db *gorm.DB, rng domain.DateRange) (domain.ReportSummary, error) {
	var out domain.ReportSummary
	stmt := db.WithContext(ctx).
		Model(&domain.Settlement{}).
		Select(`COUNT(*) AS total_settlements,
			COALESCE(SUM(gross_amount), 0) AS total_gross,
			COALESCE(SUM(total_fees), 0) AS total_fees,
			COALESCE(SUM(net_amount), 0) AS total_net,
			COALESCE(SUM(transaction_count), 0) AS total_transactions,
			COALESCE(SUM(CASE WHEN recon_status = ? THEN 1 ELSE 0 END), 0) AS reconciled_count`,
			domain.ReconciliationCompleted)
	if err := completedIn(stmt, "", rng).Scan(&out).Error; err != nil {
		return domain.ReportSummary{}, err
	}
	return out, nil
}

func (r *repo) ReportByMerchant(ctx context.Context, db *gorm.DB, rng domain.DateRange) ([]domain.MerchantSummary, error) {
	var rows []domain.MerchantSummary
	stmt := db.WithContext(ctx).
		Table("settlements AS s").
		Select(`s.merchant_id AS merchant_id,
			COALESCE(m.business_name, '') AS merchant_name,
			COUNT(*) AS count,
			COALESCE(SUM(s.net_amount), 0) AS total_net,
			COALESCE(SUM(s.transaction_count), 0) AS transactions`).
		Joins("LEFT JOIN merchants m ON m.id = s.merchant_id")
	err := completedIn(stmt, "s.", rng).
		Group("s.merchant_id, m.business_name").
		Order("total_net desc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListDiscrepancies(ctx context.Context, db *gorm.DB, rng domain.DateRange) ([]domain.Settlement, error) {
	var items []domain.Settlement
	stmt := db.WithContext(ctx).
		Model(&domain.Settlement{}).
		Where("recon_status = ?", domain.ReconciliationDiscrepancyFound)
	err := completedIn(stmt, "", rng).
		Order("completed_at desc, id desc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
