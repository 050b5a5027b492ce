package domain

import (
	"context"

	"github.com/smallbiznis/fxpay/internal/apperror"
)

type Service interface {
	Assess(ctx context.Context, c Candidate) (Assessment, error)
	Stats(ctx context.Context, r DateRange) (Stats, error)
	// SweepVelocity drops expired velocity windows.
	SweepVelocity(ctx context.Context) (int, error)
}

var ErrInvalidRange = apperror.Validation("invalid_date_range")
