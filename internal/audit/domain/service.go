package domain

import (
	"context"
	"errors"
	"time"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

const (
	ActionFraudAlert            = "fraud_alert"
	ActionExchangeRateAnomaly   = "exchange_rate_anomaly"
	ActionOperationError        = "operation_error"
	ActionSettlementDiscrepancy = "settlement_discrepancy"
)

type Event struct {
	Action        string         `json:"action"`
	Severity      string         `json:"severity"`
	TargetType    string         `json:"target_type,omitempty"`
	TargetID      string         `json:"target_id,omitempty"`
	ActorID       string         `json:"actor_id,omitempty"`
	Method        string         `json:"method,omitempty"`
	Path          string         `json:"path,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// Sink receives audit events. Callers never block on or fail because of it.
type Sink interface {
	Record(ctx context.Context, evt Event) error
}

var ErrInvalidAction = errors.New("invalid_action")
