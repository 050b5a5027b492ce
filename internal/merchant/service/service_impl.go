package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/fee"
	"github.com/smallbiznis/fxpay/internal/merchant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("merchant.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// NewDirectory exposes the narrower interface to payment and settlement.
func NewDirectory(svc domain.Service) domain.Directory {
	return svc
}

func (s *Service) Create(ctx context.Context, req domain.CreateMerchantRequest) (*domain.Merchant, error) {
	name := strings.TrimSpace(req.BusinessName)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	email := strings.ToLower(strings.TrimSpace(req.ContactEmail))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, domain.ErrInvalidEmail
	}
	currency := strings.ToUpper(strings.TrimSpace(req.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}
	if len(currency) != 3 {
		return nil, domain.ErrInvalidCurrency
	}
	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = domain.StatusPending
	}
	if !validStatus(status) {
		return nil, domain.ErrInvalidStatus
	}

	structure := fee.Structure{Percentage: fee.DefaultPercentage, Flat: fee.DefaultFlat}
	if req.FeeStructure != nil {
		structure = *req.FeeStructure
	}
	if structure.Percentage < 0 || structure.Flat < 0 {
		return nil, domain.ErrInvalidFeeStructure
	}
	for i := range structure.CurrencyFees {
		structure.CurrencyFees[i].Currency = strings.ToUpper(strings.TrimSpace(structure.CurrencyFees[i].Currency))
	}

	now := s.clock.Now()
	merchant := domain.Merchant{
		ID:               s.genID.Generate(),
		BusinessName:     name,
		ContactEmail:     email,
		Status:           status,
		DefaultCurrency:  currency,
		FeeStructure:     datatypes.NewJSONType(structure),
		VolumeIncentives: datatypes.JSONSlice[fee.VolumeIncentive](req.VolumeIncentives),
		Bank:             req.Bank,
		Metadata:         datatypes.JSONMap{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if merchant.Bank.Currency == "" {
		merchant.Bank.Currency = currency
	}

	if err := s.repo.Insert(ctx, s.db, &merchant); err != nil {
		return nil, err
	}
	return &merchant, nil
}

func (s *Service) FindByID(ctx context.Context, id snowflake.ID) (*domain.Merchant, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}
	merchant, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if merchant == nil {
		return nil, domain.ErrMerchantNotFound
	}
	return merchant, nil
}

func (s *Service) IncrementVolume(ctx context.Context, id snowflake.ID, amount float64) error {
	return s.repo.IncrementVolume(ctx, s.db, id, amount, s.clock.Now())
}

func (s *Service) UpdateStatus(ctx context.Context, id snowflake.ID, status string) (*domain.Merchant, error) {
	status = strings.TrimSpace(status)
	if !validStatus(status) {
		return nil, domain.ErrInvalidStatus
	}
	if _, err := s.FindByID(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, s.db, id, status, s.clock.Now()); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

func (s *Service) ReconcileVolumes(ctx context.Context) (int, error) {
	now := s.clock.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	totals, err := s.repo.ComputeVolumes(ctx, s.db, monthStart)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, t := range totals {
		if err := s.repo.ApplyVolumes(ctx, s.db, t, now); err != nil {
			s.log.Warn("merchant volume reconcile failed",
				zap.String("merchant_id", t.MerchantID.String()),
				zap.Error(err),
			)
			continue
		}
		updated++
	}
	return updated, nil
}

func validStatus(status string) bool {
	switch status {
	case domain.StatusPending, domain.StatusActive, domain.StatusSuspended, domain.StatusTerminated:
		return true
	default:
		return false
	}
}
