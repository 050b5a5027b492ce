package domain

import (
	"context"

	"github.com/smallbiznis/fxpay/internal/apperror"
)

type Service interface {
	Begin(ctx context.Context, clientKey, actor, endpoint string) (Decision, error)
	Complete(ctx context.Context, key string, statusCode int, body []byte) error
	Status(ctx context.Context, clientKey, actor, endpoint string) (*Record, error)
	Sweep(ctx context.Context) (int, error)
}

var (
	ErrInvalidKey     = apperror.Validation("invalid_idempotency_key")
	ErrConflict       = apperror.Conflict("idempotency_conflict")
	ErrRecordNotFound = apperror.NotFound("idempotency_record_not_found")
)
