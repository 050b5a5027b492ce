package repository

import (
	"context"
	"math"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/fraud/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const paymentsTable = "payments"

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindSimilar(ctx context.Context, db *gorm.DB, q domain.SimilarQuery) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Table(paymentsTable).
		Where("merchant_id = ? AND source_amount = ? AND source_currency = ?", q.MerchantID, q.Amount, q.Currency).
		Where("customer_email = ?", q.CustomerEmail).
		Where("created_at >= ?", q.Since).
		Where("status NOT IN ?", []string{"failed", "cancelled"}).
		Order("created_at desc").
		Limit(q.Limit).
		Pluck("transaction_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

type amountRow struct {
	Count int64
	Sum   float64
	SumSq float64
}

// CompletedAmountStats computes the population standard deviation from running sums
// so it works on every supported dialect.
func (r *repo) CompletedAmountStats(ctx context.Context, db *gorm.DB, merchantID snowflake.ID) (domain.AmountStats, error) {
	var row amountRow
	err := db.WithContext(ctx).
		Table(paymentsTable).
		Select("COUNT(*) AS count, COALESCE(SUM(source_amount), 0) AS sum, COALESCE(SUM(source_amount * source_amount), 0) AS sum_sq").
		Where("merchant_id = ? AND status = ?", merchantID, "completed").
		Scan(&row).Error
	if err != nil {
		return domain.AmountStats{}, err
	}
	if row.Count == 0 {
		return domain.AmountStats{}, nil
	}

	n := float64(row.Count)
	mean := row.Sum / n
	variance := row.SumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return domain.AmountStats{Count: row.Count, Mean: mean, StdDev: math.Sqrt(variance)}, nil
}

func (r *repo) CountHighRisk(ctx context.Context, db *gorm.DB, rng domain.DateRange, minScore int) (int64, error) {
	var count int64
	err := withRange(db.WithContext(ctx).Table(paymentsTable), rng).
		Where("risk_score >= ?", minScore).
		Count(&count).Error
	return count, err
}

func (r *repo) CountBlocked(ctx context.Context, db *gorm.DB, rng domain.DateRange) (int64, error) {
	var count int64
	err := withRange(db.WithContext(ctx).Table(paymentsTable), rng).
		Where("error_code = ?", domain.ErrorCodeFraudDetected).
		Count(&count).Error
	return count, err
}

type flagRow struct {
	FraudFlags datatypes.JSONSlice[domain.Flag]
}

func (r *repo) ListFlags(ctx context.Context, db *gorm.DB, rng domain.DateRange) ([][]domain.Flag, error) {
	var rows []flagRow
	err := withRange(db.WithContext(ctx).Table(paymentsTable), rng).
		Select("fraud_flags").
		Where("risk_score > 0").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([][]domain.Flag, 0, len(rows))
	for _, row := range rows {
		if len(row.FraudFlags) > 0 {
			out = append(out, row.FraudFlags)
		}
	}
	return out, nil
}

func withRange(db *gorm.DB, rng domain.DateRange) *gorm.DB {
	if rng.From != nil {
		db = db.Where("created_at >= ?", *rng.From)
	}
	if rng.To != nil {
		db = db.Where("created_at <= ?", *rng.To)
	}
	return db
}
