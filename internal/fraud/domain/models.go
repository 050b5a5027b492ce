package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	FlagMerchantVelocityExceeded = "MERCHANT_VELOCITY_EXCEEDED"
	FlagMerchantAmountVelocity   = "MERCHANT_AMOUNT_VELOCITY"
	FlagCustomerVelocityExceeded = "CUSTOMER_VELOCITY_EXCEEDED"
	FlagPotentialDuplicate       = "POTENTIAL_DUPLICATE"
	FlagAmountExceedsLimit       = "AMOUNT_EXCEEDS_LIMIT"
	FlagUnusualAmount            = "UNUSUAL_AMOUNT"
	FlagFallbackRateUsed         = "FALLBACK_RATE_USED"
	FlagRoundAmount              = "ROUND_AMOUNT"
	FlagUnusualHour              = "UNUSUAL_HOUR"
	FlagNewCustomerHighAmount    = "NEW_CUSTOMER_HIGH_AMOUNT"
)

// ErrorCodeFraudDetected marks payments recorded as failed because screening blocked them.
const ErrorCodeFraudDetected = "FRAUD_DETECTED"

const BlockedReason = "Transaction blocked due to high risk"

const MaxScore = 100

var severityPoints = map[string]int{
	SeverityLow:      5,
	SeverityMedium:   15,
	SeverityHigh:     30,
	SeverityCritical: 50,
}

// Points returns the score contribution of a severity. Unknown severities count 10.
func Points(severity string) int {
	if p, ok := severityPoints[severity]; ok {
		return p
	}
	return 10
}

type Flag struct {
	Type                string   `json:"type"`
	Message             string   `json:"message"`
	Severity            string   `json:"severity"`
	RelatedTransactions []string `json:"related_transactions,omitempty"`
}

type Assessment struct {
	RiskScore int       `json:"risk_score"`
	Flags     []Flag    `json:"flags"`
	Blocked   bool      `json:"blocked"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Score sums flag points, capped at MaxScore.
func Score(flags []Flag) int {
	score := 0
	for _, f := range flags {
		score += Points(f.Severity)
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Candidate is the subset of a payment under evaluation.
type Candidate struct {
	TransactionID  string
	MerchantID     snowflake.ID
	CustomerID     string
	CustomerEmail  string
	IPAddress      string
	SourceAmount   float64
	SourceCurrency string
	RateSource     string
}

// VelocitySubject is the customer identity used for velocity windows.
func (c Candidate) VelocitySubject() string {
	switch {
	case c.CustomerID != "":
		return c.CustomerID
	case c.IPAddress != "":
		return c.IPAddress
	default:
		return "unknown"
	}
}

type DateRange struct {
	From *time.Time
	To   *time.Time
}

type FlagCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type Stats struct {
	HighRiskTransactions int64       `json:"high_risk_transactions"`
	BlockedTransactions  int64       `json:"blocked_transactions"`
	FlagDistribution     []FlagCount `json:"flag_distribution"`
	GeneratedAt          time.Time   `json:"generated_at"`
}

// AmountStats summarises a merchant's completed payment amounts.
type AmountStats struct {
	Count  int64
	Mean   float64
	StdDev float64
}
