package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	frauddomain "github.com/smallbiznis/fxpay/internal/fraud/domain"
	"github.com/smallbiznis/fxpay/pkg/money"
	"gorm.io/datatypes"
)

const (
	StatusInitiated  = "initiated"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
	StatusSettled    = "settled"
)

const (
	RefundStatusPending   = "pending"
	RefundStatusCompleted = "completed"
	RefundStatusFailed    = "failed"
)

const ErrorCodeProcessingFailed = "PROCESSING_FAILED"

var transitions = map[string][]string{
	StatusInitiated:  {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusRefunded, StatusSettled},
	StatusSettled:    {StatusRefunded},
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
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

type Refund struct {
	RefundID    string     `json:"refund_id"`
	Amount      float64    `json:"amount"`
	Currency    string     `json:"currency"`
	Reason      string     `json:"reason,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ExchangeRate snapshots the rate the payment was priced at.
type ExchangeRate struct {
	Rate        float64      `json:"rate"`
	InverseRate float64      `json:"inverse_rate"`
	Source      string       `json:"source"`
	QuoteID     snowflake.ID `json:"quote_id,omitempty"`
	FetchedAt   *time.Time   `json:"fetched_at,omitempty"`
}

type Fees struct {
	PercentageFee    float64 `json:"percentage_fee"`
	FlatFee          float64 `json:"flat_fee"`
	CurrencyOverride bool    `json:"currency_override"`
	Discount         float64 `json:"discount"`
	TotalFee         float64 `json:"total_fee"`
	Currency         string  `json:"fee_currency"`
}

type PaymentMethod struct {
	Type  string `json:"type,omitempty"`
	Brand string `json:"brand,omitempty"`
	Last4 string `json:"last4,omitempty"`
}

type ClientInfo struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type Payment struct {
	ID             snowflake.ID                          `gorm:"primaryKey" json:"id"`
	TransactionID  string                                `gorm:"not null;uniqueIndex" json:"transaction_id"`
	IdempotencyKey *string                               `gorm:"uniqueIndex" json:"idempotency_key,omitempty"`
	MerchantID     snowflake.ID                          `gorm:"not null;index:idx_payments_merchant_status,priority:1" json:"merchant_id"`
	CustomerID     string                                `gorm:"index" json:"customer_id,omitempty"`
	CustomerEmail  string                                `json:"customer_email,omitempty"`
	CustomerName   string                                `json:"customer_name,omitempty"`
	SourceAmount   float64                               `gorm:"not null" json:"source_amount"`
	SourceCurrency string                                `gorm:"not null" json:"source_currency"`
	TargetAmount   float64                               `gorm:"not null" json:"target_amount"`
	TargetCurrency string                                `gorm:"not null" json:"target_currency"`
	ExchangeRate   ExchangeRate                          `gorm:"embedded;embeddedPrefix:fx_" json:"exchange_rate"`
	Fees           Fees                                  `gorm:"embedded;embeddedPrefix:fee_" json:"fees"`
	NetAmount      float64                               `gorm:"not null" json:"net_amount"`
	Status         string                                `gorm:"not null;index:idx_payments_merchant_status,priority:2" json:"status"`
	StatusHistory  datatypes.JSONSlice[StatusEntry]      `json:"status_history"`
	RiskScore      int                                   `gorm:"not null;default:0" json:"risk_score"`
	FraudFlags     datatypes.JSONSlice[frauddomain.Flag] `json:"fraud_flags"`
	Refunds        datatypes.JSONSlice[Refund]           `json:"refunds"`
	TotalRefunded  float64                               `gorm:"not null;default:0" json:"total_refunded"`
	SettlementID   *snowflake.ID                         `gorm:"index" json:"settlement_id,omitempty"`
	ErrorCode      string                                `json:"error_code,omitempty"`
	ErrorMessage   string                                `json:"error_message,omitempty"`
	ProcessedAt    *time.Time                            `json:"processed_at,omitempty"`
	CompletedAt    *time.Time                            `json:"completed_at,omitempty"`
	FailedAt       *time.Time                            `json:"failed_at,omitempty"`
	SettledAt      *time.Time                            `json:"settled_at,omitempty"`
	PaymentMethod  PaymentMethod                         `gorm:"embedded;embeddedPrefix:method_" json:"payment_method"`
	Description    string                                `json:"description,omitempty"`
	Reference      string                                `json:"reference,omitempty"`
	Metadata       datatypes.JSONMap                     `json:"metadata,omitempty"`
	Client         ClientInfo                            `gorm:"embedded;embeddedPrefix:client_" json:"client_info"`
	Version        int                                   `gorm:"not null;default:1" json:"version"`
	CreatedAt      time.Time                             `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time                             `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// Transition moves the payment forward and appends to its history.
func (p *Payment) Transition(to, reason, actor string, at time.Time) error {
	if !CanTransition(p.Status, to) {
		return ErrInvalidTransition
	}
	p.Status = to
	p.StatusHistory = append(p.StatusHistory, StatusEntry{
		Status:    to,
		Timestamp: at,
		Reason:    reason,
		Actor:     actor,
	})
	switch to {
	case StatusProcessing:
		p.ProcessedAt = &at
	case StatusCompleted:
		p.CompletedAt = &at
	case StatusFailed:
		p.FailedAt = &at
	case StatusSettled:
		p.SettledAt = &at
	}
	p.UpdatedAt = at
	return nil
}

func (p Payment) RefundableAmount() float64 {
	return money.Sub(p.SourceAmount, p.TotalRefunded)
}

// CanRefund checks status and that amount fits in what is left to refund.
func (p Payment) CanRefund(amount float64) bool {
	if p.Status != StatusCompleted && p.Status != StatusSettled {
		return false
	}
	return amount > 0 && money.Sub(p.RefundableAmount(), amount) >= 0
}

type StatusCount struct {
	Status string  `json:"status"`
	Count  int64   `json:"count"`
	Volume float64 `json:"volume"`
}

type CurrencyCount struct {
	Currency string  `json:"currency"`
	Count    int64   `json:"count"`
	Volume   float64 `json:"volume"`
}

type DailyCount struct {
	Date   string  `json:"date"`
	Count  int64   `json:"count"`
	Volume float64 `json:"volume"`
}

type AnalyticsSummary struct {
	TotalCount  int64   `json:"total_count"`
	TotalVolume float64 `json:"total_volume"`
	TotalFees   float64 `json:"total_fees"`
	AvgAmount   float64 `json:"avg_amount"`
	SuccessRate float64 `json:"success_rate"`
}

type Analytics struct {
	Summary    AnalyticsSummary `json:"summary"`
	ByStatus   []StatusCount    `json:"by_status"`
	ByCurrency []CurrencyCount  `json:"by_currency"`
	DailyTrend []DailyCount     `json:"daily_trend"`
}
