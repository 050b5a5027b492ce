package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/apperror"
	frauddomain "github.com/smallbiznis/fxpay/internal/fraud/domain"
	"github.com/smallbiznis/fxpay/pkg/db/pagination"
)

type CreatePaymentRequest struct {
	MerchantID     snowflake.ID
	SourceAmount   float64
	SourceCurrency string
	TargetCurrency string
	CustomerID     string
	CustomerEmail  string
	CustomerName   string
	PaymentMethod  PaymentMethod
	Description    string
	Reference      string
	Metadata       map[string]any
	Client         ClientInfo
	IdempotencyKey string
	Actor          string
}

type CreatePaymentResult struct {
	Payment    *Payment               `json:"payment"`
	Assessment frauddomain.Assessment `json:"fraud_assessment"`
	Elapsed    time.Duration          `json:"elapsed"`
}

type RefundRequest struct {
	PaymentID snowflake.ID
	// Amount defaults to the remaining refundable amount when nil.
	Amount *float64
	Reason string
	Actor  string
}

type RefundResult struct {
	Payment *Payment `json:"payment"`
	Refund  Refund   `json:"refund"`
}

type ListPaymentRequest struct {
	ListPaymentFilter
	PageToken string
	PageSize  int
}

type ListPaymentResponse struct {
	pagination.PageInfo
	Payments []Payment `json:"payments"`
}

// CompletionPayload is the task body that finishes an executed payment.
type CompletionPayload struct {
	PaymentID snowflake.ID `json:"payment_id"`
}

type Service interface {
	Create(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error)
	Execute(ctx context.Context, id snowflake.ID, actor string) (*Payment, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	Get(ctx context.Context, id snowflake.ID) (*Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
	List(ctx context.Context, req ListPaymentRequest) (ListPaymentResponse, error)
	Analytics(ctx context.Context, filter AnalyticsFilter) (Analytics, error)
}

var (
	ErrPaymentNotFound        = apperror.NotFound("payment_not_found")
	ErrInvalidID              = apperror.Validation("invalid_payment_id")
	ErrInvalidMerchant        = apperror.Validation("invalid_merchant_id")
	ErrInvalidStatus          = apperror.Validation("invalid_status")
	ErrInvalidAmount          = apperror.Validation("invalid_amount")
	ErrInvalidCurrency        = apperror.Validation("invalid_currency")
	ErrInvalidEmail           = apperror.Validation("invalid_customer_email")
	ErrInvalidRefundAmount    = apperror.Validation("invalid_refund_amount")
	ErrInvalidIdempotencyKey  = apperror.Validation("invalid_idempotency_key")
	ErrInvalidPageToken       = apperror.Validation("invalid_page_token")
	ErrInvalidTransition      = apperror.InsufficientState("invalid_payment_transition")
	ErrNotRefundable          = apperror.InsufficientState("payment_not_refundable")
	ErrRefundExceedsRemaining = apperror.InsufficientState("refund_exceeds_remaining")
	ErrDuplicateIdempotency   = apperror.Conflict("duplicate_idempotency_key")
	ErrConcurrentUpdate       = apperror.Conflict("payment_concurrent_update")
)
