package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/config"
	exchangeratedomain "github.com/smallbiznis/fxpay/internal/exchangerate/domain"
	"github.com/smallbiznis/fxpay/internal/fee"
	frauddomain "github.com/smallbiznis/fxpay/internal/fraud/domain"
	merchantdomain "github.com/smallbiznis/fxpay/internal/merchant/domain"
	"github.com/smallbiznis/fxpay/internal/observability/metrics"
	"github.com/smallbiznis/fxpay/internal/payment/domain"
	taskdomain "github.com/smallbiznis/fxpay/internal/task/domain"
	"github.com/smallbiznis/fxpay/pkg/db/pagination"
	"github.com/smallbiznis/fxpay/pkg/money"
	"github.com/smallbiznis/fxpay/pkg/refid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	systemActor = "system"
	trendDays   = 30
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Repo      domain.Repository
	Merchants merchantdomain.Directory
	Rates     exchangeratedomain.Resolver
	Fraud     frauddomain.Service
	Tasks     taskdomain.Dispatcher
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	cfg       config.PaymentConfig
	repo      domain.Repository
	merchants merchantdomain.Directory
	rates     exchangeratedomain.Resolver
	fraud     frauddomain.Service
	tasks     taskdomain.Dispatcher
	metrics   *metrics.PaymentMetrics
}

func New(p Params) domain.Service {
	svc := &Service{
		db:        p.DB,
		log:       p.Log.Named("payment.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		cfg:       p.Config.Payment,
		repo:      p.Repo,
		merchants: p.Merchants,
		rates:     p.Rates,
		fraud:     p.Fraud,
		tasks:     p.Tasks,
		metrics:   metrics.Payments(),
	}
	p.Tasks.Register(taskdomain.KindPaymentCompletion, svc.handleCompletion)
	return svc
}

func (s *Service) Create(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResult, error) {
	started := time.Now()

	if req.MerchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}
	if req.SourceAmount <= 0 || math.IsInf(req.SourceAmount, 0) || math.IsNaN(req.SourceAmount) {
		return nil, domain.ErrInvalidAmount
	}
	sourceCurrency, err := normalizeCurrency(req.SourceCurrency)
	if err != nil {
		return nil, err
	}
	targetCurrency, err := normalizeCurrency(req.TargetCurrency)
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, domain.ErrInvalidEmail
		}
	}

	var idemKey *string
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, domain.ErrDuplicateIdempotency
		}
		idemKey = &key
	}

	merchant, err := s.merchants.FindByID(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}
	if !merchant.IsActive() {
		return nil, merchantdomain.ErrMerchantInactive
	}

	resolution, err := s.rates.Resolve(ctx, sourceCurrency, targetCurrency)
	if err != nil {
		return nil, err
	}

	sourceAmount := money.Round2(req.SourceAmount)
	targetAmount := money.Mul(sourceAmount, resolution.Rate)
	breakdown := s.calculateFee(merchant.FeeSchedule(), sourceAmount, sourceCurrency, targetAmount, targetCurrency)
	netAmount := money.Sub(targetAmount, breakdown.TotalFee)

	now := s.clock.Now()
	transactionID := refid.Transaction(now)

	assessment, err := s.fraud.Assess(ctx, frauddomain.Candidate{
		TransactionID:  transactionID,
		MerchantID:     merchant.ID,
		CustomerID:     strings.TrimSpace(req.CustomerID),
		CustomerEmail:  email,
		IPAddress:      strings.TrimSpace(req.Client.IPAddress),
		SourceAmount:   sourceAmount,
		SourceCurrency: sourceCurrency,
		RateSource:     resolution.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("fraud assessment: %w", err)
	}

	actor := actorOrSystem(req.Actor)
	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	payment := domain.Payment{
		ID:             s.genID.Generate(),
		TransactionID:  transactionID,
		IdempotencyKey: idemKey,
		MerchantID:     merchant.ID,
		CustomerID:     strings.TrimSpace(req.CustomerID),
		CustomerEmail:  email,
		CustomerName:   strings.TrimSpace(req.CustomerName),
		SourceAmount:   sourceAmount,
		SourceCurrency: sourceCurrency,
		TargetAmount:   targetAmount,
		TargetCurrency: targetCurrency,
		ExchangeRate: domain.ExchangeRate{
			Rate:        resolution.Rate,
			InverseRate: resolution.InverseRate,
			Source:      resolution.Source,
			QuoteID:     resolution.QuoteID,
			FetchedAt:   resolution.FetchedAt,
		},
		Fees: domain.Fees{
			PercentageFee:    breakdown.PercentageFee,
			FlatFee:          breakdown.FlatFee,
			CurrencyOverride: breakdown.CurrencyOverride,
			Discount:         breakdown.Discount,
			TotalFee:         breakdown.TotalFee,
			Currency:         targetCurrency,
		},
		NetAmount:     netAmount,
		Status:        domain.StatusInitiated,
		StatusHistory: datatypes.JSONSlice[domain.StatusEntry]{{Status: domain.StatusInitiated, Timestamp: now, Actor: actor}},
		RiskScore:     assessment.RiskScore,
		FraudFlags:    datatypes.JSONSlice[frauddomain.Flag](assessment.Flags),
		Refunds:       datatypes.JSONSlice[domain.Refund]{},
		PaymentMethod: req.PaymentMethod,
		Description:   strings.TrimSpace(req.Description),
		Reference:     strings.TrimSpace(req.Reference),
		Metadata:      metadata,
		Client:        req.Client,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if assessment.Blocked {
		payment.ErrorCode = frauddomain.ErrorCodeFraudDetected
		payment.ErrorMessage = assessment.Reason
		if err := payment.Transition(domain.StatusFailed, assessment.Reason, systemActor, now); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Insert(ctx, s.db, &payment); err != nil {
		return nil, err
	}

	s.metrics.IncPaymentCreated(payment.Status)
	s.log.Info("payment created",
		zap.String("transaction_id", payment.TransactionID),
		zap.String("merchant_id", merchant.ID.String()),
		zap.String("status", payment.Status),
		zap.Int("risk_score", assessment.RiskScore),
		zap.String("rate_source", resolution.Source),
	)

	return &domain.CreatePaymentResult{
		Payment:    &payment,
		Assessment: assessment,
		Elapsed:    time.Since(started),
	}, nil
}

// calculateFee prices the fee on the configured basis. The result is always
// booked in the target currency.
func (s *Service) calculateFee(schedule fee.Schedule, sourceAmount float64, sourceCurrency string, targetAmount float64, targetCurrency string) fee.Breakdown {
	if s.cfg.FeeBasis == config.FeeBasisTarget {
		return fee.Calculate(schedule, targetAmount, targetCurrency)
	}
	return fee.Calculate(schedule, sourceAmount, sourceCurrency)
}

func (s *Service) Execute(ctx context.Context, id snowflake.ID, actor string) (*domain.Payment, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}

	now := s.clock.Now()
	runAt := now.Add(s.cfg.ProcessingDelay)

	var out *domain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		if payment.Status != domain.StatusInitiated {
			return domain.ErrInvalidTransition
		}
		if err := payment.Transition(domain.StatusProcessing, "Payment execution started", actorOrSystem(actor), now); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, tx, payment); err != nil {
			return err
		}
		if _, err := s.tasks.Enqueue(ctx, tx, taskdomain.KindPaymentCompletion, domain.CompletionPayload{PaymentID: payment.ID}, runAt); err != nil {
			return err
		}
		out = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncPaymentTransition(domain.StatusInitiated, domain.StatusProcessing)
	if !runAt.After(now) {
		s.tasks.Kick()
	}
	return out, nil
}

// handleCompletion resolves a processing payment. Deliveries for payments
// that already left processing are no-ops.
func (s *Service) handleCompletion(ctx context.Context, t taskdomain.Task) error {
	var payload domain.CompletionPayload
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		return fmt.Errorf("decode completion payload: %w", err)
	}

	var completed *domain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByID(ctx, tx, payload.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			s.log.Warn("completion for unknown payment", zap.String("payment_id", payload.PaymentID.String()))
			return nil
		}
		if payment.Status != domain.StatusProcessing {
			return nil
		}

		now := s.clock.Now()
		if s.cfg.ProcessingFailure {
			payment.ErrorCode = domain.ErrorCodeProcessingFailed
			payment.ErrorMessage = "Payment processor declined the transaction"
			if err := payment.Transition(domain.StatusFailed, "Processing failed", systemActor, now); err != nil {
				return err
			}
		} else {
			if err := payment.Transition(domain.StatusCompleted, "Payment processed successfully", systemActor, now); err != nil {
				return err
			}
			completed = payment
		}
		if err := s.repo.Update(ctx, tx, payment); err != nil {
			return err
		}
		s.metrics.IncPaymentTransition(domain.StatusProcessing, payment.Status)
		return nil
	})
	if err != nil {
		return err
	}

	if completed != nil {
		if err := s.merchants.IncrementVolume(ctx, completed.MerchantID, completed.TargetAmount); err != nil {
			s.log.Warn("merchant volume increment failed",
				zap.String("merchant_id", completed.MerchantID.String()),
				zap.String("transaction_id", completed.TransactionID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Service) Refund(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	if req.PaymentID == 0 {
		return nil, domain.ErrInvalidID
	}
	if req.Amount != nil && (*req.Amount <= 0 || math.IsInf(*req.Amount, 0) || math.IsNaN(*req.Amount)) {
		return nil, domain.ErrInvalidRefundAmount
	}

	var result domain.RefundResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByID(ctx, tx, req.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		if payment.Status != domain.StatusCompleted && payment.Status != domain.StatusSettled {
			return domain.ErrNotRefundable
		}

		amount := payment.RefundableAmount()
		if req.Amount != nil {
			amount = money.Round2(*req.Amount)
		}
		if !payment.CanRefund(amount) {
			return domain.ErrRefundExceedsRemaining
		}

		now := s.clock.Now()
		refund := domain.Refund{
			RefundID:  refid.Refund(now),
			Amount:    amount,
			Currency:  payment.SourceCurrency,
			Reason:    strings.TrimSpace(req.Reason),
			Status:    domain.RefundStatusPending,
			CreatedAt: now,
		}
		payment.Refunds = append(payment.Refunds, refund)
		payment.TotalRefunded = money.Sum(payment.TotalRefunded, amount)
		payment.UpdatedAt = now

		from := payment.Status
		if payment.RefundableAmount() <= 0 {
			reason := refund.Reason
			if reason == "" {
				reason = "Full refund"
			}
			if err := payment.Transition(domain.StatusRefunded, reason, actorOrSystem(req.Actor), now); err != nil {
				return err
			}
		}
		if err := s.repo.Update(ctx, tx, payment); err != nil {
			return err
		}
		if from != payment.Status {
			s.metrics.IncPaymentTransition(from, payment.Status)
		}

		result = domain.RefundResult{Payment: payment, Refund: refund}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment refunded",
		zap.String("transaction_id", result.Payment.TransactionID),
		zap.String("refund_id", result.Refund.RefundID),
		zap.Float64("amount", result.Refund.Amount),
	)
	return &result, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Payment, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}
	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	transactionID = strings.ToUpper(strings.TrimSpace(transactionID))
	if transactionID == "" {
		return nil, domain.ErrInvalidID
	}
	payment, err := s.repo.FindByTransactionID(ctx, s.db, transactionID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) List(ctx context.Context, req domain.ListPaymentRequest) (domain.ListPaymentResponse, error) {
	filter := req.ListPaymentFilter
	filter.Status = strings.TrimSpace(filter.Status)
	if filter.Status != "" && !validStatus(filter.Status) {
		return domain.ListPaymentResponse{}, domain.ErrInvalidStatus
	}
	filter.SourceCurrency = strings.ToUpper(strings.TrimSpace(filter.SourceCurrency))
	filter.TargetCurrency = strings.ToUpper(strings.TrimSpace(filter.TargetCurrency))
	filter.CustomerID = strings.TrimSpace(filter.CustomerID)

	if req.PageToken != "" {
		if _, err := pagination.DecodeCursor(req.PageToken); err != nil {
			return domain.ListPaymentResponse{}, domain.ErrInvalidPageToken
		}
	}
	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}

	items, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		return domain.ListPaymentResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, page.Limit(), func(p *domain.Payment) pagination.Cursor {
		return pagination.Cursor{ID: int64(p.ID), CreatedAt: p.CreatedAt}
	})

	payments := make([]domain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payments = append(payments, *item)
	}

	resp := domain.ListPaymentResponse{Payments: payments}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Analytics(ctx context.Context, filter domain.AnalyticsFilter) (domain.Analytics, error) {
	if filter.MerchantID == 0 {
		return domain.Analytics{}, domain.ErrInvalidMerchant
	}

	trendFilter := filter
	since := s.clock.Now().AddDate(0, 0, -trendDays)
	if trendFilter.CreatedFrom == nil || trendFilter.CreatedFrom.Before(since) {
		trendFilter.CreatedFrom = &since
	}

	var out domain.Analytics
	var points []domain.AmountPoint
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		summary, err := s.repo.Summary(gctx, s.db, filter)
		out.Summary = summary
		return err
	})
	g.Go(func() error {
		rows, err := s.repo.CountByStatus(gctx, s.db, filter)
		out.ByStatus = rows
		return err
	})
	g.Go(func() error {
		rows, err := s.repo.CountByCurrency(gctx, s.db, filter)
		out.ByCurrency = rows
		return err
	})
	g.Go(func() error {
		rows, err := s.repo.AmountPoints(gctx, s.db, trendFilter)
		points = rows
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Analytics{}, err
	}

	out.Summary.TotalVolume = money.Round2(out.Summary.TotalVolume)
	out.Summary.TotalFees = money.Round2(out.Summary.TotalFees)
	out.Summary.AvgAmount = money.Round2(out.Summary.AvgAmount)
	out.DailyTrend = dailyTrend(points)
	return out, nil
}

func dailyTrend(points []domain.AmountPoint) []domain.DailyCount {
	buckets := make(map[string]*domain.DailyCount)
	for _, p := range points {
		day := p.CreatedAt.UTC().Format("2006-01-02")
		b, ok := buckets[day]
		if !ok {
			b = &domain.DailyCount{Date: day}
			buckets[day] = b
		}
		b.Count++
		b.Volume = money.Sum(b.Volume, p.SourceAmount)
	}

	out := make([]domain.DailyCount, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func normalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", domain.ErrInvalidCurrency
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", domain.ErrInvalidCurrency
		}
	}
	return code, nil
}

func validStatus(status string) bool {
	switch status {
	case domain.StatusInitiated, domain.StatusProcessing, domain.StatusCompleted,
		domain.StatusFailed, domain.StatusCancelled, domain.StatusRefunded, domain.StatusSettled:
		return true
	default:
		return false
	}
}

func actorOrSystem(actor string) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	return systemActor
}
