package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/apperror"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/config"
	exchangeratedomain "github.com/smallbiznis/fxpay/internal/exchangerate/domain"
	frauddomain "github.com/smallbiznis/fxpay/internal/fraud/domain"
	fraudrepository "github.com/smallbiznis/fxpay/internal/fraud/repository"
	fraudservice "github.com/smallbiznis/fxpay/internal/fraud/service"
	"github.com/smallbiznis/fxpay/internal/fraud/velocity"
	merchantdomain "github.com/smallbiznis/fxpay/internal/merchant/domain"
	merchantrepository "github.com/smallbiznis/fxpay/internal/merchant/repository"
	merchantservice "github.com/smallbiznis/fxpay/internal/merchant/service"
	"github.com/smallbiznis/fxpay/internal/payment/domain"
	"github.com/smallbiznis/fxpay/internal/payment/repository"
	taskdomain "github.com/smallbiznis/fxpay/internal/task/domain"
	taskrepository "github.com/smallbiznis/fxpay/internal/task/repository"
	taskservice "github.com/smallbiznis/fxpay/internal/task/service"
	"github.com/smallbiznis/fxpay/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stubRates resolves "FROM/TO" pairs from a fixed table.
type stubRates map[string]float64

func (s stubRates) Resolve(_ context.Context, from, to string) (exchangeratedomain.Resolution, error) {
	if from == to {
		return exchangeratedomain.Resolution{From: from, To: to, Rate: 1, InverseRate: 1, Source: exchangeratedomain.SourceIdentity}, nil
	}
	rate, ok := s[from+"/"+to]
	if !ok {
		return exchangeratedomain.Resolution{}, exchangeratedomain.ErrRateUnavailable
	}
	return exchangeratedomain.Resolution{
		From:        from,
		To:          to,
		Rate:        rate,
		InverseRate: 1 / rate,
		Source:      exchangeratedomain.SourceCache,
		QuoteID:     snowflake.ID(99),
	}, nil
}

type fixture struct {
	db         *gorm.DB
	svc        domain.Service
	clock      *clock.FakeClock
	dispatcher *taskservice.Dispatcher
	merchants  merchantdomain.Service
	merchant   *merchantdomain.Merchant
}

var noon = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, at time.Time, cfg config.PaymentConfig) *fixture {
	t.Helper()
	db := dbtest.Open(t, &domain.Payment{}, &merchantdomain.Merchant{}, &taskdomain.Task{})
	fc := clock.NewFakeClock(at)
	node := dbtest.Node(t)
	log := zap.NewNop()

	merchants := merchantservice.New(merchantservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fc,
		Repo:  merchantrepository.Provide(),
	})
	merchant, err := merchants.Create(context.Background(), merchantdomain.CreateMerchantRequest{
		BusinessName:    "Globex",
		ContactEmail:    "finance@globex.test",
		DefaultCurrency: "EUR",
		Status:          merchantdomain.StatusActive,
	})
	require.NoError(t, err)

	holder, err := config.NewStaticRiskConfigHolder(config.DefaultRiskConfig())
	require.NoError(t, err)
	engine := fraudservice.New(fraudservice.Params{
		DB:      db,
		Log:     log,
		Clock:   fc,
		Repo:    fraudrepository.Provide(),
		Tracker: velocity.NewMemoryTracker(fc.Now),
		Risk:    holder,
	})

	dispatcher := taskservice.New(taskservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fc,
		Repo:  taskrepository.Provide(),
	})

	svc := New(Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fc,
		Config:    config.Config{Payment: cfg},
		Repo:      repository.Provide(),
		Merchants: merchants,
		Rates:     stubRates{"USD/EUR": 0.92, "EUR/USD": 1.087},
		Fraud:     engine,
		Tasks:     dispatcher,
	})

	return &fixture{
		db:         db,
		svc:        svc,
		clock:      fc,
		dispatcher: dispatcher,
		merchants:  merchants,
		merchant:   merchant,
	}
}

func defaultConfig() config.PaymentConfig {
	return config.PaymentConfig{FeeBasis: config.FeeBasisSource, ProcessingDelay: time.Second}
}

func (f *fixture) create(t *testing.T, amount float64, customer string) *domain.Payment {
	t.Helper()
	res, err := f.svc.Create(context.Background(), domain.CreatePaymentRequest{
		MerchantID:     f.merchant.ID,
		SourceAmount:   amount,
		SourceCurrency: "usd",
		TargetCurrency: "EUR",
		CustomerID:     customer,
		CustomerEmail:  customer + "@example.test",
	})
	require.NoError(t, err)
	return res.Payment
}

func (f *fixture) complete(t *testing.T, id snowflake.ID) *domain.Payment {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Execute(ctx, id, "ops")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.dispatcher.DispatchDue(ctx)
	require.NoError(t, err)
	p, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, p.Status)
	return p
}

func TestCreateConvertsAndPricesFees(t *testing.T) {
	f := newFixture(t, noon, defaultConfig())
	ctx := context.Background()

	res, err := f.svc.Create(ctx, domain.CreatePaymentRequest{
		MerchantID:     f.merchant.ID,
		SourceAmount:   1000,
		SourceCurrency: "USD",
		TargetCurrency: "EUR",
		CustomerID:     "cus_1",
		CustomerEmail:  "Jane@Example.test",
		Metadata:       map[string]any{"order": "A-1"},
	})
	require.NoError(t, err)

	p := res.Payment
	assert.True(t, strings.HasPrefix(p.TransactionID, "TXN-"))
	assert.Equal(t, domain.StatusInitiated, p.Status)
	assert.Equal(t, 920.00, p.TargetAmount)
	assert.Equal(t, 29.30, p.Fees.TotalFee)
	assert.Equal(t, "EUR", p.Fees.Currency)
	assert.Equal(t, 890.70, p.NetAmount)
	assert.Equal(t, exchangeratedomain.SourceCache, p.ExchangeRate.Source)
	assert.Equal(t, "jane@example.test", p.CustomerEmail)
	require.Len(t, p.StatusHistory, 1)
	assert.Equal(t, domain.StatusInitiated, p.StatusHistory[0].Status)
	assert.False(t, res.Assessment.Blocked)
	assert.Equal(t, res.Assessment.RiskScore, p.RiskScore)

	stored, err := f.svc.GetByTransactionID(ctx, strings.ToLower(p.TransactionID))
	require.NoError(t, err)
	assert.Equal(t, p.ID, stored.ID)
	assert.Equal(t, 890.70, stored.NetAmount)
	assert.Equal(t, "A-1", stored.Metadata["order"])
}

func TestCreateFeeOnTargetBasis(t *testing.T) {
	cfg := defaultConfig()
	cfg.FeeBasis = config.FeeBasisTarget
	f := newFixture(t, noon, cfg)

	p := f.create(t, 1000, "cus_1")
	assert.Equal(t, 26.98, p.Fees.TotalFee)
	assert.Equal(t, 893.02, p.NetAmount)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, noon, defaultConfig())
	ctx := context.Background()
	base := domain.CreatePaymentRequest{
		MerchantID:     f.merchant.ID,
		SourceAmount:   10,
		SourceCurrency: "USD",
		TargetCurrency: "EUR",
	}

	req := base
	req.SourceAmount = 0
	_, err := f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	req = base
	req.TargetCurrency = "EURO"
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)

	req = base
	req.CustomerEmail = "not-an-email"
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)

	req = base
	req.MerchantID = 12345
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, merchantdomain.ErrMerchantNotFound)

	req = base
	req.TargetCurrency = "JPY"
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, apperror.ErrRateUnavailable)

	_, err = f.merchants.UpdateStatus(ctx, f.merchant.ID, merchantdomain.StatusSuspended)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, base)
	assert.ErrorIs(t, err, merchantdomain.ErrMerchantInactive)

	var count int64
	require.NoError(t, f.db.Model(&domain.Payment{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateRecordsBlockedPayment(t *testing.T) {
	f := newFixture(t, time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC), defaultConfig())
	ctx := context.Background()

	res, err := f.svc.Create(ctx, domain.CreatePaymentRequest{
		MerchantID:     f.merchant.ID,
		SourceAmount:   120000,
		SourceCurrency: "EUR",
		TargetCurrency: "EUR",
	})
	require.NoError(t, err)

	p := res.Payment
	assert.True(t, res.Assessment.Blocked)
	assert.Equal(t, 70, p.RiskScore)
	assert.Equal(t, domain.StatusFailed, p.Status)
	assert.Equal(t, frauddomain.ErrorCodeFraudDetected, p.ErrorCode)
	assert.NotNil(t, p.FailedAt)
	require.Len(t, p.StatusHistory, 2)
	assert.Equal(t, domain.StatusInitiated, p.StatusHistory[0].Status)
	assert.Equal(t, domain.StatusFailed, p.StatusHistory[1].Status)
	assert.Len(t, p.FraudFlags, 5)

	stored, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)

	_, err = f.svc.Execute(ctx, p.ID, "ops")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestExecuteCompletesThroughDispatcher(t *testing.T) {
	f := newFixture(t, noon, defaultConfig())
	ctx := context.Background()
	p := f.create(t, 1000, "cus_1")

	executed, err := f.svc.Execute(ctx, p.ID, "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, executed.Status)
	assert.NotNil(t, executed.ProcessedAt)

	_, err = f.svc.Execute(ctx, p.ID, "ops")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.ErrorIs(t, err, apperror.ErrInsufficientState)

	n, err := f.dispatcher.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(time.Second)
	n, err = f.dispatcher.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	done, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
	require.Len(t, done.StatusHistory, 3)
	assert.Equal(t, "ops", done.StatusHistory[1].Actor)
	assert.Equal(t, 3, done.Version)

	m, err := f.merchants.FindByID(ctx, f.merchant.ID)
	require.NoError(t, err)
	assert.Equal(t, 920.0, m.TotalVolume)
	assert.Equal(t, int64(1), m.TransactionCount)

	n, err = f.dispatcher.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCompletionHandlerIsIdempotent(t *testing.T) {
	f := newFixture(t, noon, defaultConfig())
	ctx := context.Background()
	p := f.complete(t, f.create(t, 250, "cus_1").ID)

	task, err := f.dispatcher.Enqueue(ctx, f.db, taskdomain.KindPaymentCompletion, domain.CompletionPayload{PaymentID: p.ID}, f.clock.Now())
	require.NoError(t, err)
	require.NotNil(t, task)
	n, err := f.dispatcher.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	m, err := f.merchants.FindByID(ctx, f.merchant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.TransactionCount)
}

func TestExecuteSimulatedProcessorFailure(t *testing.T) {
	cfg := defaultConfig()
	cfg.ProcessingFailure = true
	f := newFixture(t, noon, cfg)
	ctx := context.Background()
	p := f.create(t, 75.5, "cus_1")

	_, err := f.svc.Execute(ctx, p.ID, "")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.dispatcher.DispatchDue(ctx)
	require.NoError(t, err)

	failed, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, domain.ErrorCodeProcessingFailed, failed.ErrorCode)
	assert.Equal(t, "system", failed.StatusHistory[1].Actor)

	m, err := f.merchants.FindByID(ctx, f.merchant.ID)
	require.NoError(t, err)
	assert.Zero(t, m.TransactionCount)
}

func TestRefundLifecycle(t *testing.T) {
	f := newFixture(t, noon, defaultConfig())
	ctx := context.Background()

	pending := f.create(t, 10, "cus_2")
	_, err := f.svc.Refund(ctx, domain.RefundRequest{PaymentID: pending.ID})
	assert.ErrorIs(t, err, domain.ErrNotRefundable)

	p := f.complete(t, f.create(t, 1000, "cus_1").ID)

	partial := 400.0
	res, err := f.svc.Refund(ctx, domain.RefundRequest{PaymentID: p.ID, Amount: &partial, Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Payment.Status)
	assert.Equal(t, 400.0, res.Payment.TotalRefunded)
	assert.Equal(t, domain.RefundStatusPending, res.Refund.Status)
	assert.Equal(t, "USD", res.Refund.Currency)
	assert.True(t, strings.HasPrefix(res.Refund.RefundID, "REF-"))

	tooMuch := 600.01
	_, err = f.svc.Refund(ctx, domain.RefundRequest{PaymentID: p.ID, Amount: &tooMuch})
	assert.ErrorIs(t, err, domain.ErrRefundExceedsRemaining)

	negative := -1.0
	_, err = f.svc.Refund(ctx, domain.RefundRequest{PaymentID: p.ID, Amount: &negative})
	assert.ErrorIs(t, err, domain.ErrInvalidRefundAmount)

	res, err = f.svc.Refund(ctx, domain.RefundRequest{PaymentID: p.ID, Actor: "support"})
	require.NoError(t, err)
	assert.Equal(t, 600.0, res.Refund.Amount)
	assert.Equal(t, domain.StatusRefunded, res.Payment.Status)
	assert.Equal(t, 1000.0, res.Payment.TotalRefunded)

	stored, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Refunds, 2)
	assert.LessOrEqual(t, stored.TotalRefunded, stored.SourceAmount)
	last := stored.StatusHistory[len(stored.StatusHistory)-1]
	assert.Equal(t, domain.StatusRefunded, last.Status)
	assert.Equal(t, "support", last.Actor)

	_, err = f.svc.Refund(ctx, domain.RefundRequest{PaymentID: p.ID})
	assert.ErrorIs(t, err, domain.ErrNotRefundable)

	_, err = f.svc.Refund(ctx, domain.RefundRequest{PaymentID: 424242})
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestIdempotencyKeyIsUnique(t *testing.T) {
	f := newFixture(t, noon, defaultConfig())
	ctx := context.Background()
	req := domain.CreatePaymentRequest{
		MerchantID:     f.merchant.ID,
		SourceAmount:   19.99,
		SourceCurrency: "USD",
		TargetCurrency: "EUR",
		CustomerID:     "cus_1",
		IdempotencyKey: "anon:create_payment:order-1",
	}

	_, err := f.svc.Create(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrDuplicateIdempotency)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))

	// The stored key outlives the cached response.
	f.clock.Advance(48 * time.Hour)
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrDuplicateIdempotency)

	var count int64
	require.NoError(t, f.db.Model(&domain.Payment{}).Where("idempotency_key = ?", req.IdempotencyKey).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	f := newFixture(t, noon, defaultConfig())
	ctx := context.Background()

	var created []snowflake.ID
	for i := 0; i < 5; i++ {
		created = append(created, f.create(t, float64(10+i), "cus_list").ID)
		f.clock.Advance(time.Minute)
	}

	var seen []snowflake.ID
	token := ""
	for pages := 0; pages < 5; pages++ {
		resp, err := f.svc.List(ctx, domain.ListPaymentRequest{
			ListPaymentFilter: domain.ListPaymentFilter{MerchantID: f.merchant.ID},
			PageToken:         token,
			PageSize:          2,
		})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(resp.Payments), 2)
		for _, p := range resp.Payments {
			seen = append(seen, p.ID)
		}
		if !resp.HasMore {
			break
		}
		token = resp.NextPageToken
	}

	require.Len(t, seen, 5)
	for i := range created {
		assert.Equal(t, created[len(created)-1-i], seen[i])
	}

	resp, err := f.svc.List(ctx, domain.ListPaymentRequest{
		ListPaymentFilter: domain.ListPaymentFilter{MerchantID: f.merchant.ID, Status: domain.StatusCompleted},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Payments)

	_, err = f.svc.List(ctx, domain.ListPaymentRequest{PageToken: "%%%"})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)

	_, err = f.svc.List(ctx, domain.ListPaymentRequest{ListPaymentFilter: domain.ListPaymentFilter{Status: "bogus"}})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t, noon, defaultConfig())
	ctx := context.Background()

	f.complete(t, f.create(t, 100, "cus_1").ID)
	f.create(t, 300, "cus_2")

	out, err := f.svc.Analytics(ctx, domain.AnalyticsFilter{MerchantID: f.merchant.ID})
	require.NoError(t, err)

	assert.Equal(t, int64(2), out.Summary.TotalCount)
	assert.Equal(t, 400.0, out.Summary.TotalVolume)
	assert.Equal(t, 200.0, out.Summary.AvgAmount)
	assert.Equal(t, 0.5, out.Summary.SuccessRate)
	assert.Equal(t, 12.2, out.Summary.TotalFees)

	require.Len(t, out.ByStatus, 2)
	require.Len(t, out.ByCurrency, 1)
	assert.Equal(t, "USD", out.ByCurrency[0].Currency)
	assert.Equal(t, int64(2), out.ByCurrency[0].Count)

	require.Len(t, out.DailyTrend, 1)
	assert.Equal(t, "2025-06-10", out.DailyTrend[0].Date)
	assert.Equal(t, 400.0, out.DailyTrend[0].Volume)

	_, err = f.svc.Analytics(ctx, domain.AnalyticsFilter{})
	assert.ErrorIs(t, err, domain.ErrInvalidMerchant)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, domain.CanTransition(domain.StatusInitiated, domain.StatusProcessing))
	assert.True(t, domain.CanTransition(domain.StatusCompleted, domain.StatusSettled))
	assert.True(t, domain.CanTransition(domain.StatusSettled, domain.StatusRefunded))
	assert.False(t, domain.CanTransition(domain.StatusFailed, domain.StatusProcessing))
	assert.False(t, domain.CanTransition(domain.StatusRefunded, domain.StatusCompleted))
	assert.False(t, domain.CanTransition(domain.StatusInitiated, domain.StatusCompleted))
}
