package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/apperror"
	"github.com/smallbiznis/fxpay/pkg/db/pagination"
)

type CreateBatchRequest struct {
	MerchantID  snowflake.ID
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	Actor       string
}

// BatchResult is returned by CreateBatch. Settlement is nil when the period
// had nothing to settle.
type BatchResult struct {
	Settlement *Settlement `json:"settlement,omitempty"`
	Payments   int         `json:"payments"`
	Message    string      `json:"message,omitempty"`
}

type ReconcileRequest struct {
	SettlementID snowflake.ID
	ActualAmount float64
	ReconciledBy string
	Notes        string
}

type ReconcileResult struct {
	Settlement     *Settlement    `json:"settlement"`
	Reconciliation Reconciliation `json:"reconciliation"`
}

type ListSettlementRequest struct {
	ListSettlementFilter
	PageToken string
	PageSize  int
}

type ListSettlementResponse struct {
	pagination.PageInfo
	Settlements []Settlement `json:"settlements"`
}

// DailyResult is the outcome for one merchant of a daily batch run.
type DailyResult struct {
	MerchantID   snowflake.ID `json:"merchant_id"`
	Success      bool         `json:"success"`
	SettlementID string       `json:"settlement_id,omitempty"`
	Amount       float64      `json:"amount,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// TransferPayload is the task body that resolves a settlement's bank transfer.
type TransferPayload struct {
	SettlementID snowflake.ID `json:"settlement_id"`
}

type Service interface {
	CreateBatch(ctx context.Context, req CreateBatchRequest) (*BatchResult, error)
	Process(ctx context.Context, id snowflake.ID, actor string) (*Settlement, error)
	Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error)
	Get(ctx context.Context, id snowflake.ID) (*Settlement, error)
	List(ctx context.Context, req ListSettlementRequest) (ListSettlementResponse, error)
	ReconciliationReport(ctx context.Context, r DateRange) (Report, error)
	RunDailyBatch(ctx context.Context) ([]DailyResult, error)
}

var (
	ErrSettlementNotFound = apperror.NotFound("settlement_not_found")
	ErrInvalidID          = apperror.Validation("invalid_settlement_id")
	ErrInvalidMerchant    = apperror.Validation("invalid_merchant_id")
	ErrInvalidPeriod      = apperror.Validation("invalid_period")
	ErrInvalidAmount      = apperror.Validation("invalid_actual_amount")
	ErrInvalidStatus      = apperror.Validation("invalid_status")
	ErrInvalidPageToken   = apperror.Validation("invalid_page_token")
	ErrInvalidRange       = apperror.Validation("invalid_date_range")
	ErrInvalidTransition  = apperror.InsufficientState("invalid_settlement_transition")
	ErrNotReconcilable    = apperror.InsufficientState("settlement_not_completed")
	ErrAlreadyReconciled  = apperror.InsufficientState("settlement_already_reconciled")
	ErrBatchInProgress    = apperror.Conflict("settlement_batch_in_progress")
	ErrConcurrentUpdate   = apperror.Conflict("settlement_concurrent_update")
)
