package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/fxpay/internal/payment/domain"
	"github.com/smallbiznis/fxpay/pkg/db/pagination"
	"gorm.io/gorm"
)

// ClaimQuery selects the completed, unsettled payments of one merchant whose
// completion falls in [From, To).
type ClaimQuery struct {
	MerchantID   snowflake.ID
	From         time.Time
	To           time.Time
	SettlementID snowflake.ID
	At           time.Time
}

type ListSettlementFilter struct {
	MerchantID  snowflake.ID
	Status      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, s *Settlement) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Settlement, error)
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Settlement, error)
	Update(ctx context.Context, db *gorm.DB, s *Settlement) error
	List(ctx context.Context, db *gorm.DB, filter ListSettlementFilter, page pagination.Pagination) ([]*Settlement, error)

	// ClaimPayments tags every eligible payment with q.SettlementID in one
	// statement. Payments already carrying a settlement are never touched.
	ClaimPayments(ctx context.Context, db *gorm.DB, q ClaimQuery) (int64, error)
	ListClaimed(ctx context.Context, db *gorm.DB, settlementID snowflake.ID) ([]paymentdomain.Payment, error)
	EligibleMerchants(ctx context.Context, db *gorm.DB, from, to time.Time) ([]snowflake.ID, error)

	ReportSummary(ctx context.Context, db *gorm.DB, r DateRange) (ReportSummary, error)
	ReportByMerchant(ctx context.Context, db *gorm.DB, r DateRange) ([]MerchantSummary, error)
	ListDiscrepancies(ctx context.Context, db *gorm.DB, r DateRange) ([]Settlement, error)
}
