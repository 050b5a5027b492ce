// Package transfer moves settlement proceeds to a merchant's bank account.
// Only a simulated gateway exists; real banking rails plug in behind Gateway.
package transfer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/config"
	"github.com/smallbiznis/fxpay/pkg/refid"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Request struct {
	SettlementRef string
	MerchantID    snowflake.ID
	BankName      string
	AccountLast4  string
	Amount        float64
	Currency      string
}

type Receipt struct {
	Reference   string
	InitiatedAt time.Time
}

// Gateway initiates a transfer and later confirms it. A Confirm error is the
// failure reason recorded on the settlement.
type Gateway interface {
	Initiate(ctx context.Context, req Request) (Receipt, error)
	Confirm(ctx context.Context, reference string) error
}

var (
	ErrInvalidAmount    = errors.New("transfer_amount_invalid")
	ErrMissingReference = errors.New("transfer_reference_missing")
	ErrRejected         = errors.New("bank transfer rejected by receiving institution")
)

var Module = fx.Module("transfer",
	fx.Provide(NewSimulated),
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Clock  clock.Clock
	Config config.Config
}

type Simulated struct {
	log   *zap.Logger
	clock clock.Clock
	fail  bool
}

func NewSimulated(p Params) Gateway {
	return &Simulated{
		log:   p.Log.Named("transfer.gateway"),
		clock: p.Clock,
		fail:  p.Config.Settlement.TransferFailure,
	}
}

func (s *Simulated) Initiate(_ context.Context, req Request) (Receipt, error) {
	if req.Amount < 0 {
		return Receipt{}, ErrInvalidAmount
	}
	now := s.clock.Now()
	receipt := Receipt{Reference: refid.Transfer(now), InitiatedAt: now}
	s.log.Info("bank transfer initiated",
		zap.String("settlement", req.SettlementRef),
		zap.String("reference", receipt.Reference),
		zap.String("bank", req.BankName),
		zap.String("account_last4", req.AccountLast4),
		zap.Float64("amount", req.Amount),
		zap.String("currency", req.Currency),
	)
	return receipt, nil
}

func (s *Simulated) Confirm(_ context.Context, reference string) error {
	if strings.TrimSpace(reference) == "" {
		return ErrMissingReference
	}
	if s.fail {
		return ErrRejected
	}
	return nil
}
