package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/apperror"
	"github.com/smallbiznis/fxpay/internal/fee"
)

type CreateMerchantRequest struct {
	BusinessName     string
	ContactEmail     string
	DefaultCurrency  string
	Status           string
	FeeStructure     *fee.Structure
	VolumeIncentives []fee.VolumeIncentive
	Bank             BankDetails
}

// Directory is the read/update surface other domains depend on.
type Directory interface {
	FindByID(ctx context.Context, id snowflake.ID) (*Merchant, error)
	IncrementVolume(ctx context.Context, id snowflake.ID, amount float64) error
}

type Service interface {
	Directory
	Create(ctx context.Context, req CreateMerchantRequest) (*Merchant, error)
	UpdateStatus(ctx context.Context, id snowflake.ID, status string) (*Merchant, error)
	// ReconcileVolumes rewrites every merchant's counters from payment history.
	ReconcileVolumes(ctx context.Context) (int, error)
}

var (
	ErrMerchantNotFound    = apperror.NotFound("merchant_not_found")
	ErrMerchantInactive    = apperror.InsufficientState("merchant_not_active")
	ErrInvalidName         = apperror.Validation("invalid_business_name")
	ErrInvalidEmail        = apperror.Validation("invalid_contact_email")
	ErrInvalidCurrency     = apperror.Validation("invalid_currency")
	ErrInvalidStatus       = apperror.Validation("invalid_status")
	ErrInvalidFeeStructure = apperror.Validation("invalid_fee_structure")
	ErrInvalidID           = apperror.Validation("invalid_merchant_id")
)
