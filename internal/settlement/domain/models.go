package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	ReconciliationPending          = "pending"
	ReconciliationInProgress       = "in_progress"
	ReconciliationCompleted        = "completed"
	ReconciliationDiscrepancyFound = "discrepancy_found"
)

var transitions = map[string][]string{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type StatusEntry struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
	Actor     string    `json:"actor,omitempty"`
}

type Reconciliation struct {
	Status         string     `json:"status"`
	ExpectedAmount *float64   `json:"expected_amount,omitempty"`
	ActualAmount   *float64   `json:"actual_amount,omitempty"`
	Discrepancy    *float64   `json:"discrepancy,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	ReconciledBy   string     `json:"reconciled_by,omitempty"`
	ReconciledAt   *time.Time `json:"reconciled_at,omitempty"`
}

// BankTransfer is the simulated payout attached to a settlement.
type BankTransfer struct {
	BankName      string     `json:"bank_name,omitempty"`
	AccountLast4  string     `json:"account_last4,omitempty"`
	Reference     string     `json:"reference,omitempty"`
	InitiatedAt   *time.Time `json:"initiated_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

type Settlement struct {
	ID               snowflake.ID                      `gorm:"primaryKey" json:"id"`
	Reference        string                            `gorm:"not null;uniqueIndex" json:"settlement_id"`
	MerchantID       snowflake.ID                      `gorm:"not null;index" json:"merchant_id"`
	PeriodStart      time.Time                         `gorm:"not null" json:"period_start"`
	PeriodEnd        time.Time                         `gorm:"not null" json:"period_end"`
	GrossAmount      float64                           `gorm:"not null" json:"gross_amount"`
	TotalFees        float64                           `gorm:"not null" json:"total_fees"`
	RefundAmount     float64                           `gorm:"not null" json:"refund_amount"`
	NetAmount        float64                           `gorm:"not null" json:"net_amount"`
	Currency         string                            `gorm:"not null" json:"currency"`
	TransactionCount int                               `gorm:"not null" json:"transaction_count"`
	SuccessfulCount  int                               `gorm:"not null" json:"successful_transactions"`
	FailedCount      int                               `gorm:"not null" json:"failed_transactions"`
	RefundedCount    int                               `gorm:"not null" json:"refunded_transactions"`
	PaymentIDs       datatypes.JSONSlice[snowflake.ID] `json:"payments"`
	Status           string                            `gorm:"not null;index" json:"status"`
	StatusHistory    datatypes.JSONSlice[StatusEntry]  `json:"status_history"`
	Reconciliation   Reconciliation                    `gorm:"embedded;embeddedPrefix:recon_" json:"reconciliation"`
	Transfer         BankTransfer                      `gorm:"embedded;embeddedPrefix:transfer_" json:"bank_transfer"`
	ProcessedAt      *time.Time                        `json:"processed_at,omitempty"`
	CompletedAt      *time.Time                        `gorm:"index" json:"completed_at,omitempty"`
	FailedAt         *time.Time                        `json:"failed_at,omitempty"`
	Version          int                               `gorm:"not null;default:1" json:"version"`
	CreatedAt        time.Time                         `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time                         `gorm:"not null" json:"updated_at"`
}

func (Settlement) TableName() string { return "settlements" }

func (s *Settlement) Transition(to, reason, actor string, at time.Time) error {
	if !CanTransition(s.Status, to) {
		return ErrInvalidTransition
	}
	s.Status = to
	s.StatusHistory = append(s.StatusHistory, StatusEntry{
		Status:    to,
		Timestamp: at,
		Reason:    reason,
		Actor:     actor,
	})
	switch to {
	case StatusProcessing:
		s.ProcessedAt = &at
	case StatusCompleted:
		s.CompletedAt = &at
	case StatusFailed:
		s.FailedAt = &at
	}
	s.UpdatedAt = at
	return nil
}

// Totals is the money view of a claimed payment set.
type Totals struct {
	Gross         float64
	Fees          float64
	Refunds       float64
	Net           float64
	Count         int
	RefundedCount int
}

type DateRange struct {
	From *time.Time
	To   *time.Time
}

type ReportSummary struct {
	TotalSettlements  int64   `json:"total_settlements"`
	TotalGross        float64 `json:"total_gross"`
	TotalFees         float64 `json:"total_fees"`
	TotalNet          float64 `json:"total_net"`
	TotalTransactions int64   `json:"total_transactions"`
	ReconciledCount   int64   `json:"reconciled_count"`
}

type MerchantSummary struct {
	MerchantID   snowflake.ID `json:"merchant_id"`
	MerchantName string       `json:"merchant_name"`
	Count        int64        `json:"count"`
	TotalNet     float64      `json:"total_net"`
	Transactions int64        `json:"transactions"`
}

type Report struct {
	Summary       ReportSummary     `json:"summary"`
	ByMerchant    []MerchantSummary `json:"by_merchant"`
	Discrepancies []Settlement      `json:"discrepancies"`
	GeneratedAt   time.Time         `json:"generated_at"`
}
