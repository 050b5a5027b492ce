package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fxpay/internal/audit/domain"
	auditservice "github.com/smallbiznis/fxpay/internal/audit/service"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/config"
	"github.com/smallbiznis/fxpay/internal/lock"
	merchantdomain "github.com/smallbiznis/fxpay/internal/merchant/domain"
	"github.com/smallbiznis/fxpay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/fxpay/internal/payment/domain"
	"github.com/smallbiznis/fxpay/internal/settlement/domain"
	taskdomain "github.com/smallbiznis/fxpay/internal/task/domain"
	"github.com/smallbiznis/fxpay/internal/transfer"
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
	systemActor   = "system"
	batchLockTTL  = 30 * time.Second
	batchLockKey  = "fxpay:settlement:merchant:"
	noPaymentsMsg = "No payments to settle"
)

var errNothingToSettle = errors.New("nothing_to_settle")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Repo      domain.Repository
	Payments  paymentdomain.Repository
	Merchants merchantdomain.Directory
	Tasks     taskdomain.Dispatcher
	Gateway   transfer.Gateway
	Locker    *lock.RedisLocker `optional:"true"`
	Audit     auditdomain.Sink  `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	cfg       config.SettlementConfig
	loc       *time.Location
	repo      domain.Repository
	payments  paymentdomain.Repository
	merchants merchantdomain.Directory
	tasks     taskdomain.Dispatcher
	gateway   transfer.Gateway
	locker    *lock.RedisLocker
	locks     *lock.KeyedMutex
	audit     auditdomain.Sink
	metrics   *metrics.PaymentMetrics
}

func New(p Params) domain.Service {
	svc := &Service{
		db:        p.DB,
		log:       p.Log.Named("settlement.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		cfg:       p.Config.Settlement,
		loc:       p.Config.Settlement.LoadLocation(),
		repo:      p.Repo,
		payments:  p.Payments,
		merchants: p.Merchants,
		tasks:     p.Tasks,
		gateway:   p.Gateway,
		locker:    p.Locker,
		locks:     lock.NewKeyedMutex(),
		audit:     p.Audit,
		metrics:   metrics.Payments(),
	}
	p.Tasks.Register(taskdomain.KindSettlementTransfer, svc.handleTransfer)
	return svc
}

// previousDay returns [start, end) of the calendar day before now in the
// settlement timezone.
func (s *Service) previousDay() (time.Time, time.Time) {
	now := s.clock.Now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	return today.AddDate(0, 0, -1), today
}

func (s *Service) CreateBatch(ctx context.Context, req domain.CreateBatchRequest) (*domain.BatchResult, error) {
	if req.MerchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}
	start, end := s.previousDay()
	if req.PeriodStart != nil {
		start = *req.PeriodStart
	}
	if req.PeriodEnd != nil {
		end = *req.PeriodEnd
	}
	if !end.After(start) {
		return nil, domain.ErrInvalidPeriod
	}

	merchant, err := s.merchants.FindByID(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}

	release := s.locks.Lock(merchant.ID.String())
	defer release()

	if s.locker != nil {
		key := batchLockKey + merchant.ID.String()
		token, ok, err := s.locker.TryLock(ctx, key, batchLockTTL)
		if err != nil {
			return nil, fmt.Errorf("settlement batch lock: %w", err)
		}
		if !ok {
			return nil, domain.ErrBatchInProgress
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				s.log.Warn("settlement batch lock release failed", zap.String("merchant_id", merchant.ID.String()), zap.Error(err))
			}
		}()
	}

	now := s.clock.Now()
	settlementID := s.genID.Generate()

	var settlement *domain.Settlement
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.repo.ClaimPayments(ctx, tx, domain.ClaimQuery{
			MerchantID:   merchant.ID,
			From:         start,
			To:           end,
			SettlementID: settlementID,
			At:           now,
		})
		if err != nil {
			return err
		}
		if claimed == 0 {
			return errNothingToSettle
		}

		payments, err := s.repo.ListClaimed(ctx, tx, settlementID)
		if err != nil {
			return err
		}
		totals := Summarize(payments)
		ids := make([]snowflake.ID, 0, len(payments))
		for _, p := range payments {
			ids = append(ids, p.ID)
		}

		currency := merchant.DefaultCurrency
		if currency == "" {
			currency = merchant.Bank.Currency
		}
		settlement = &domain.Settlement{
			ID:               settlementID,
			Reference:        refid.Settlement(now, s.loc),
			MerchantID:       merchant.ID,
			PeriodStart:      start,
			PeriodEnd:        end,
			GrossAmount:      totals.Gross,
			TotalFees:        totals.Fees,
			RefundAmount:     totals.Refunds,
			NetAmount:        totals.Net,
			Currency:         currency,
			TransactionCount: totals.Count,
			SuccessfulCount:  totals.Count,
			RefundedCount:    totals.RefundedCount,
			PaymentIDs:       datatypes.JSONSlice[snowflake.ID](ids),
			Status:           domain.StatusPending,
			StatusHistory: datatypes.JSONSlice[domain.StatusEntry]{{
				Status:    domain.StatusPending,
				Timestamp: now,
				Reason:    "Settlement batch created",
				Actor:     actorOrSystem(req.Actor),
			}},
			Reconciliation: domain.Reconciliation{Status: domain.ReconciliationPending},
			Transfer: domain.BankTransfer{
				BankName:     merchant.Bank.Name,
				AccountLast4: merchant.Bank.AccountLast4(),
			},
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return s.repo.Insert(ctx, tx, settlement)
	})
	if errors.Is(err, errNothingToSettle) {
		return &domain.BatchResult{Message: noPaymentsMsg}, nil
	}
	if err != nil {
		return nil, err
	}

	s.metrics.IncSettlementTransition(domain.StatusPending)
	s.log.Info("settlement batch created",
		zap.String("settlement", settlement.Reference),
		zap.String("merchant_id", merchant.ID.String()),
		zap.Int("payments", settlement.TransactionCount),
		zap.Float64("net_amount", settlement.NetAmount),
	)
	return &domain.BatchResult{Settlement: settlement, Payments: settlement.TransactionCount}, nil
}

// Summarize totals a set of payments; net is gross minus fees minus refunds.
func Summarize(payments []paymentdomain.Payment) domain.Totals {
	gross := make([]float64, 0, len(payments))
	fees := make([]float64, 0, len(payments))
	refunds := make([]float64, 0, len(payments))
	out := domain.Totals{Count: len(payments)}
	for _, p := range payments {
		gross = append(gross, p.TargetAmount)
		fees = append(fees, p.Fees.TotalFee)
		refunds = append(refunds, p.TotalRefunded)
		if p.TotalRefunded > 0 {
			out.RefundedCount++
		}
	}
	out.Gross = money.Sum(gross...)
	out.Fees = money.Sum(fees...)
	out.Refunds = money.Sum(refunds...)
	out.Net = money.Sub(money.Sub(out.Gross, out.Fees), out.Refunds)
	return out
}

func (s *Service) Process(ctx context.Context, id snowflake.ID, actor string) (*domain.Settlement, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}

	settlement, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if settlement == nil {
		return nil, domain.ErrSettlementNotFound
	}
	if settlement.Status != domain.StatusPending {
		return nil, domain.ErrInvalidTransition
	}

	// The gateway is called outside the transaction. The version check on
	// Update rejects a settlement that changed in the meantime.
	receipt, err := s.gateway.Initiate(ctx, transfer.Request{
		SettlementRef: settlement.Reference,
		MerchantID:    settlement.MerchantID,
		BankName:      settlement.Transfer.BankName,
		AccountLast4:  settlement.Transfer.AccountLast4,
		Amount:        settlement.NetAmount,
		Currency:      settlement.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("initiate transfer: %w", err)
	}

	now := s.clock.Now()
	runAt := now.Add(s.cfg.TransferDelay)
	settlement.Transfer.Reference = receipt.Reference
	settlement.Transfer.InitiatedAt = &receipt.InitiatedAt
	if err := settlement.Transition(domain.StatusProcessing, "Bank transfer initiated", actorOrSystem(actor), now); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Update(ctx, tx, settlement); err != nil {
			return err
		}
		_, err := s.tasks.Enqueue(ctx, tx, taskdomain.KindSettlementTransfer, domain.TransferPayload{SettlementID: settlement.ID}, runAt)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			s.log.Warn("settlement changed while transfer was initiated",
				zap.String("settlement_id", settlement.ID.String()),
				zap.String("transfer_reference", receipt.Reference),
			)
		}
		return nil, err
	}

	s.metrics.IncSettlementTransition(domain.StatusProcessing)
	if !runAt.After(now) {
		s.tasks.Kick()
	}
	return settlement, nil
}

// handleTransfer confirms the bank transfer of a processing settlement and
// settles its payments in the same transaction.
func (s *Service) handleTransfer(ctx context.Context, t taskdomain.Task) error {
	var payload domain.TransferPayload
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}

	var final string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settlement, err := s.repo.FindByID(ctx, tx, payload.SettlementID)
		if err != nil {
			return err
		}
		if settlement == nil {
			s.log.Warn("transfer for unknown settlement", zap.String("settlement_id", payload.SettlementID.String()))
			return nil
		}
		if settlement.Status != domain.StatusProcessing {
			return nil
		}

		now := s.clock.Now()
		if err := s.gateway.Confirm(ctx, settlement.Transfer.Reference); err != nil {
			settlement.Transfer.FailureReason = err.Error()
			if err := settlement.Transition(domain.StatusFailed, err.Error(), systemActor, now); err != nil {
				return err
			}
		} else {
			settlement.Transfer.CompletedAt = &now
			if err := settlement.Transition(domain.StatusCompleted, "Bank transfer completed", systemActor, now); err != nil {
				return err
			}
			if err := s.settlePayments(ctx, tx, settlement.ID, now); err != nil {
				return err
			}
		}
		if err := s.repo.Update(ctx, tx, settlement); err != nil {
			return err
		}
		final = settlement.Status
		return nil
	})
	if err != nil {
		return err
	}
	if final != "" {
		s.metrics.IncSettlementTransition(final)
	}
	return nil
}

func (s *Service) settlePayments(ctx context.Context, tx *gorm.DB, settlementID snowflake.ID, at time.Time) error {
	payments, err := s.repo.ListClaimed(ctx, tx, settlementID)
	if err != nil {
		return err
	}
	for i := range payments {
		p := &payments[i]
		if p.Status != paymentdomain.StatusCompleted {
			continue
		}
		if err := p.Transition(paymentdomain.StatusSettled, "Included in settlement", systemActor, at); err != nil {
			return err
		}
		if err := s.payments.Update(ctx, tx, p); err != nil {
			return err
		}
		s.metrics.IncPaymentTransition(paymentdomain.StatusCompleted, paymentdomain.StatusSettled)
	}
	return nil
}

func (s *Service) Reconcile(ctx context.Context, req domain.ReconcileRequest) (*domain.ReconcileResult, error) {
	if req.SettlementID == 0 {
		return nil, domain.ErrInvalidID
	}
	if req.ActualAmount < 0 || math.IsNaN(req.ActualAmount) || math.IsInf(req.ActualAmount, 0) {
		return nil, domain.ErrInvalidAmount
	}

	var result domain.ReconcileResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settlement, err := s.repo.FindByID(ctx, tx, req.SettlementID)
		if err != nil {
			return err
		}
		if settlement == nil {
			return domain.ErrSettlementNotFound
		}
		if settlement.Status != domain.StatusCompleted {
			return domain.ErrNotReconcilable
		}
		if settlement.Reconciliation.Status != domain.ReconciliationPending && settlement.Reconciliation.Status != "" {
			return domain.ErrAlreadyReconciled
		}

		now := s.clock.Now()
		actual := money.Round2(req.ActualAmount)
		expected := settlement.NetAmount
		discrepancy := money.Sub(actual, expected)

		recon := domain.Reconciliation{
			Status:         domain.ReconciliationInProgress,
			ExpectedAmount: &expected,
			ActualAmount:   &actual,
			Discrepancy:    &discrepancy,
			Notes:          strings.TrimSpace(req.Notes),
			ReconciledBy:   actorOrSystem(req.ReconciledBy),
			ReconciledAt:   &now,
		}
		if money.Equal(actual, expected) {
			recon.Status = domain.ReconciliationCompleted
		} else {
			recon.Status = domain.ReconciliationDiscrepancyFound
		}
		settlement.Reconciliation = recon
		settlement.UpdatedAt = now

		if err := s.repo.Update(ctx, tx, settlement); err != nil {
			return err
		}
		result = domain.ReconcileResult{Settlement: settlement, Reconciliation: recon}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncReconciliation(result.Reconciliation.Status)
	if result.Reconciliation.Status == domain.ReconciliationDiscrepancyFound {
		auditservice.Emit(ctx, s.audit, s.log, auditdomain.Event{
			Action:     auditdomain.ActionSettlementDiscrepancy,
			Severity:   auditdomain.SeverityWarning,
			TargetType: "settlement",
			TargetID:   result.Settlement.Reference,
			ActorID:    result.Reconciliation.ReconciledBy,
			Metadata: map[string]any{
				"merchant_id": result.Settlement.MerchantID.String(),
				"expected":    *result.Reconciliation.ExpectedAmount,
				"actual":      *result.Reconciliation.ActualAmount,
				"discrepancy": *result.Reconciliation.Discrepancy,
			},
			OccurredAt: s.clock.Now(),
		})
	}
	return &result, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Settlement, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}
	settlement, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if settlement == nil {
		return nil, domain.ErrSettlementNotFound
	}
	return settlement, nil
}

func (s *Service) List(ctx context.Context, req domain.ListSettlementRequest) (domain.ListSettlementResponse, error) {
	filter := req.ListSettlementFilter
	filter.Status = strings.TrimSpace(filter.Status)
	switch filter.Status {
	case "", domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed:
	default:
		return domain.ListSettlementResponse{}, domain.ErrInvalidStatus
	}
	if req.PageToken != "" {
		if _, err := pagination.DecodeCursor(req.PageToken); err != nil {
			return domain.ListSettlementResponse{}, domain.ErrInvalidPageToken
		}
	}
	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}

	items, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		return domain.ListSettlementResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, page.Limit(), func(st *domain.Settlement) pagination.Cursor {
		return pagination.Cursor{ID: int64(st.ID), CreatedAt: st.CreatedAt}
	})

	settlements := make([]domain.Settlement, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		settlements = append(settlements, *item)
	}

	resp := domain.ListSettlementResponse{Settlements: settlements}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) ReconciliationReport(ctx context.Context, r domain.DateRange) (domain.Report, error) {
	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return domain.Report{}, domain.ErrInvalidRange
	}

	var out domain.Report
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		summary, err := s.repo.ReportSummary(gctx, s.db, r)
		out.Summary = summary
		return err
	})
	g.Go(func() error {
		rows, err := s.repo.ReportByMerchant(gctx, s.db, r)
		out.ByMerchant = rows
		return err
	})
	g.Go(func() error {
		rows, err := s.repo.ListDiscrepancies(gctx, s.db, r)
		out.Discrepancies = rows
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Report{}, err
	}

	out.Summary.TotalGross = money.Round2(out.Summary.TotalGross)
	out.Summary.TotalFees = money.Round2(out.Summary.TotalFees)
	out.Summary.TotalNet = money.Round2(out.Summary.TotalNet)
	if out.ByMerchant == nil {
		out.ByMerchant = []domain.MerchantSummary{}
	}
	if out.Discrepancies == nil {
		out.Discrepancies = []domain.Settlement{}
	}
	out.GeneratedAt = s.clock.Now()
	return out, nil
}

// RunDailyBatch settles yesterday for every merchant with eligible payments.
// One merchant failing does not stop the others.
func (s *Service) RunDailyBatch(ctx context.Context) ([]domain.DailyResult, error) {
	start, end := s.previousDay()
	merchantIDs, err := s.repo.EligibleMerchants(ctx, s.db, start, end)
	if err != nil {
		return nil, err
	}

	results := make([]domain.DailyResult, 0, len(merchantIDs))
	for _, merchantID := range merchantIDs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := domain.DailyResult{MerchantID: merchantID}

		batch, err := s.CreateBatch(ctx, domain.CreateBatchRequest{
			MerchantID:  merchantID,
			PeriodStart: &start,
			PeriodEnd:   &end,
			Actor:       systemActor,
		})
		if err == nil && batch.Settlement != nil {
			_, err = s.Process(ctx, batch.Settlement.ID, systemActor)
			res.SettlementID = batch.Settlement.Reference
			res.Amount = batch.Settlement.NetAmount
		}
		if err != nil {
			res.Error = err.Error()
			s.log.Warn("daily settlement failed for merchant", zap.String("merchant_id", merchantID.String()), zap.Error(err))
		} else if batch.Settlement == nil {
			continue
		} else {
			res.Success = true
		}
		results = append(results, res)
	}

	s.log.Info("daily settlement batch completed", zap.Int("merchants", len(results)))
	return results, nil
}

func actorOrSystem(actor string) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	return systemActor
}
