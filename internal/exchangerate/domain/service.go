package domain

import (
	"context"

	"github.com/smallbiznis/fxpay/internal/apperror"
)

// Resolver is what payment creation depends on.
type Resolver interface {
	Resolve(ctx context.Context, from, to string) (Resolution, error)
}

type Service interface {
	Resolver
	Convert(ctx context.Context, amount float64, from, to string) (Conversion, error)
	Refresh(ctx context.Context) ([]RefreshResult, error)
	ListRates(ctx context.Context, base string) (RateList, error)
	RateHistory(ctx context.Context, base, target string, days int) ([]Quote, error)
}

var (
	ErrRateUnavailable = apperror.RateUnavailable("rate_unavailable")
	ErrInvalidCurrency = apperror.Validation("invalid_currency")
	ErrInvalidAmount   = apperror.Validation("invalid_amount")
	ErrInvalidDays     = apperror.Validation("invalid_days")
)
