package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	KindPaymentCompletion  = "payment.complete"
	KindSettlementTransfer = "settlement.transfer"
)

// Handler runs one task. Returning an error schedules a retry.
type Handler func(ctx context.Context, t Task) error

type Dispatcher interface {
	Register(kind string, h Handler)
	// Enqueue writes the task with db, so callers pass their transaction.
	Enqueue(ctx context.Context, db *gorm.DB, kind string, payload any, runAt time.Time) (*Task, error)
	// Kick wakes the dispatch loop without waiting for the next poll.
	Kick()
	DispatchDue(ctx context.Context) (int, error)
	Run(ctx context.Context)
}

var (
	ErrUnknownKind  = errors.New("task_kind_unknown")
	ErrEmptyPayload = errors.New("task_payload_empty")
)
