package operations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fxpay/internal/audit/domain"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/config"
	idempotencydomain "github.com/smallbiznis/fxpay/internal/idempotency/domain"
	idempotencyservice "github.com/smallbiznis/fxpay/internal/idempotency/service"
	"github.com/smallbiznis/fxpay/internal/idempotency/store"
	paymentdomain "github.com/smallbiznis/fxpay/internal/payment/domain"
	"github.com/smallbiznis/fxpay/internal/ratelimit"
	settlementdomain "github.com/smallbiznis/fxpay/internal/settlement/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

type mockPayments struct {
	mock.Mock
}

func (m *mockPayments) Create(ctx context.Context, req paymentdomain.CreatePaymentRequest) (*paymentdomain.CreatePaymentResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*paymentdomain.CreatePaymentResult)
	return res, args.Error(1)
}

func (m *mockPayments) Execute(ctx context.Context, id snowflake.ID, actor string) (*paymentdomain.Payment, error) {
	args := m.Called(ctx, id, actor)
	p, _ := args.Get(0).(*paymentdomain.Payment)
	return p, args.Error(1)
}

func (m *mockPayments) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*paymentdomain.RefundResult)
	return res, args.Error(1)
}

func (m *mockPayments) Get(ctx context.Context, id snowflake.ID) (*paymentdomain.Payment, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*paymentdomain.Payment)
	return p, args.Error(1)
}

func (m *mockPayments) GetByTransactionID(ctx context.Context, transactionID string) (*paymentdomain.Payment, error) {
	args := m.Called(ctx, transactionID)
	p, _ := args.Get(0).(*paymentdomain.Payment)
	return p, args.Error(1)
}

func (m *mockPayments) List(ctx context.Context, req paymentdomain.ListPaymentRequest) (paymentdomain.ListPaymentResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(paymentdomain.ListPaymentResponse), args.Error(1)
}

func (m *mockPayments) Analytics(ctx context.Context, filter paymentdomain.AnalyticsFilter) (paymentdomain.Analytics, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(paymentdomain.Analytics), args.Error(1)
}

type mockSettlements struct {
	mock.Mock
}

func (m *mockSettlements) CreateBatch(ctx context.Context, req settlementdomain.CreateBatchRequest) (*settlementdomain.BatchResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*settlementdomain.BatchResult)
	return res, args.Error(1)
}

func (m *mockSettlements) Process(ctx context.Context, id snowflake.ID, actor string) (*settlementdomain.Settlement, error) {
	args := m.Called(ctx, id, actor)
	s, _ := args.Get(0).(*settlementdomain.Settlement)
	return s, args.Error(1)
}

func (m *mockSettlements) Reconcile(ctx context.Context, req settlementdomain.ReconcileRequest) (*settlementdomain.ReconcileResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*settlementdomain.ReconcileResult)
	return res, args.Error(1)
}

func (m *mockSettlements) Get(ctx context.Context, id snowflake.ID) (*settlementdomain.Settlement, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*settlementdomain.Settlement)
	return s, args.Error(1)
}

func (m *mockSettlements) List(ctx context.Context, req settlementdomain.ListSettlementRequest) (settlementdomain.ListSettlementResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(settlementdomain.ListSettlementResponse), args.Error(1)
}

func (m *mockSettlements) ReconciliationReport(ctx context.Context, r settlementdomain.DateRange) (settlementdomain.Report, error) {
	args := m.Called(ctx, r)
	return args.Get(0).(settlementdomain.Report), args.Error(1)
}

func (m *mockSettlements) RunDailyBatch(ctx context.Context) ([]settlementdomain.DailyResult, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).([]settlementdomain.DailyResult)
	return res, args.Error(1)
}

type recordingSink struct {
	mu     sync.Mutex
	events []auditdomain.Event
}

func (r *recordingSink) Record(_ context.Context, evt auditdomain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingSink) all() []auditdomain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]auditdomain.Event(nil), r.events...)
}

type fixture struct {
	ops         *Service
	payments    *mockPayments
	settlements *mockSettlements
	audit       *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fc := clock.NewFakeClock(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	guard := idempotencyservice.New(idempotencyservice.Params{
		Log:    log,
		Clock:  fc,
		Config: config.Config{Idempotency: config.IdempotencyConfig{TTL: time.Hour}},
		Store:  store.NewMemoryStore(fc.Now),
	})

	f := &fixture{
		payments:    &mockPayments{},
		settlements: &mockSettlements{},
		audit:       &recordingSink{},
	}
	f.ops = New(Params{
		Log:         log,
		Clock:       fc,
		Payments:    f.payments,
		Settlements: f.settlements,
		Idempotency: guard,
		Audit:       f.audit,
	})
	t.Cleanup(func() {
		f.payments.AssertExpectations(t)
		f.settlements.AssertExpectations(t)
	})
	return f
}

func TestCreatePaymentReplaysStoredResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	meta := Meta{Actor: "user_1", IdempotencyKey: "order-42"}

	created := &paymentdomain.CreatePaymentResult{Payment: &paymentdomain.Payment{
		ID:            snowflake.ID(1),
		TransactionID: "TXN-ABC-123456",
		Status:        paymentdomain.StatusInitiated,
	}}
	f.payments.
		On("Create", mock.Anything, mock.MatchedBy(func(req paymentdomain.CreatePaymentRequest) bool {
			return req.IdempotencyKey == "user_1:POST /api/payments:order-42" && req.Actor == "user_1"
		})).
		Return(created, nil).
		Once()

	first, err := f.ops.CreatePayment(ctx, meta, paymentdomain.CreatePaymentRequest{MerchantID: snowflake.ID(9), SourceAmount: 10})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, first.StatusCode)
	assert.False(t, first.Replayed)

	var decoded paymentdomain.CreatePaymentResult
	require.NoError(t, first.Decode(&decoded))
	assert.Equal(t, "TXN-ABC-123456", decoded.Payment.TransactionID)

	second, err := f.ops.CreatePayment(ctx, meta, paymentdomain.CreatePaymentRequest{MerchantID: snowflake.ID(9), SourceAmount: 10})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.StatusCode, second.StatusCode)
	assert.JSONEq(t, string(first.Body), string(second.Body))
}

func TestRejectedOperationIsCachedAndAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	meta := Meta{Actor: "user_1", IdempotencyKey: "exec-1", CorrelationID: "cid-123"}

	f.payments.On("Execute", mock.Anything, snowflake.ID(5), "user_1").
		Return(nil, paymentdomain.ErrInvalidTransition).
		Once()

	res, err := f.ops.ExecutePayment(ctx, meta, snowflake.ID(5))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidTransition)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.True(t, res.Failed())

	var body errorResponse
	require.NoError(t, json.Unmarshal(res.Body, &body))
	assert.Equal(t, "insufficient_state", body.Error.Type)
	assert.Equal(t, "invalid_payment_transition", body.Error.Code)

	events := f.audit.all()
	require.Len(t, events, 1)
	assert.Equal(t, auditdomain.ActionOperationError, events[0].Action)
	assert.Equal(t, auditdomain.SeverityWarning, events[0].Severity)
	assert.Equal(t, http.MethodPost, events[0].Method)
	assert.Equal(t, "/api/payments/:id/execute", events[0].Path)
	assert.Equal(t, "cid-123", events[0].CorrelationID)
	assert.Equal(t, "user_1", events[0].ActorID)

	// 4xx outcomes are final for the key.
	replay, err := f.ops.ExecutePayment(ctx, meta, snowflake.ID(5))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, http.StatusConflict, replay.StatusCode)
}

func TestInternalFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	meta := Meta{Actor: "user_1", IdempotencyKey: "refund-1"}
	amount := 25.0

	f.payments.On("Refund", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset")).
		Once()
	f.payments.On("Refund", mock.Anything, mock.Anything).
		Return(&paymentdomain.RefundResult{Payment: &paymentdomain.Payment{ID: snowflake.ID(5)}}, nil).
		Once()

	res, err := f.ops.RefundPayment(ctx, meta, paymentdomain.RefundRequest{PaymentID: snowflake.ID(5), Amount: &amount})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)

	var body errorResponse
	require.NoError(t, json.Unmarshal(res.Body, &body))
	assert.Equal(t, "internal error", body.Error.Message)
	require.Len(t, f.audit.all(), 1)
	assert.Equal(t, auditdomain.SeverityCritical, f.audit.all()[0].Severity)

	retry, err := f.ops.RefundPayment(ctx, meta, paymentdomain.RefundRequest{PaymentID: snowflake.ID(5), Amount: &amount})
	require.NoError(t, err)
	assert.False(t, retry.Replayed)
	assert.Equal(t, http.StatusOK, retry.StatusCode)
}

func TestInvalidIdempotencyKeyNeverRuns(t *testing.T) {
	f := newFixture(t)

	res, err := f.ops.ExecutePayment(context.Background(), Meta{IdempotencyKey: "has space"}, snowflake.ID(5))
	require.ErrorIs(t, err, idempotencydomain.ErrInvalidKey)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	f.payments.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)

	events := f.audit.all()
	require.Len(t, events, 1)
	assert.Equal(t, idempotencydomain.AnonymousActor, events[0].ActorID)
	assert.NotEmpty(t, events[0].CorrelationID)
}

func TestWithoutKeyEveryCallRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.settlements.On("Process", mock.Anything, snowflake.ID(3), "ops").
		Return(&settlementdomain.Settlement{ID: snowflake.ID(3), Status: settlementdomain.StatusProcessing}, nil).
		Twice()

	for i := 0; i < 2; i++ {
		res, err := f.ops.ProcessSettlement(ctx, Meta{Actor: "ops"}, snowflake.ID(3))
		require.NoError(t, err)
		assert.False(t, res.Replayed)
		assert.Equal(t, http.StatusOK, res.StatusCode)
	}
}

func TestReconcileDefaultsReconcilerToActor(t *testing.T) {
	f := newFixture(t)

	f.settlements.
		On("Reconcile", mock.Anything, settlementdomain.ReconcileRequest{SettlementID: snowflake.ID(3), ActualAmount: 1000.02, ReconciledBy: "auditor"}).
		Return(&settlementdomain.ReconcileResult{Reconciliation: settlementdomain.Reconciliation{Status: settlementdomain.ReconciliationDiscrepancyFound}}, nil).
		Once()

	res, err := f.ops.ReconcileSettlement(context.Background(), Meta{Actor: "auditor"}, settlementdomain.ReconcileRequest{
		SettlementID: snowflake.ID(3),
		ActualAmount: 1000.02,
	})
	require.NoError(t, err)

	var out settlementdomain.ReconcileResult
	require.NoError(t, res.Decode(&out))
	assert.Equal(t, settlementdomain.ReconciliationDiscrepancyFound, out.Reconciliation.Status)
}

func TestQueryErrorsAreAudited(t *testing.T) {
	f := newFixture(t)

	f.payments.On("Get", mock.Anything, snowflake.ID(77)).
		Return(nil, paymentdomain.ErrPaymentNotFound).
		Once()

	_, err := f.ops.GetPayment(context.Background(), Meta{Actor: "user_1"}, snowflake.ID(77))
	require.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)

	events := f.audit.all()
	require.Len(t, events, 1)
	assert.Equal(t, http.MethodGet, events[0].Method)
	assert.Equal(t, "/api/payments/:id", events[0].Path)
	assert.Equal(t, http.StatusNotFound, events[0].Metadata["status_code"])
}

func TestRateLimitedCreateIsNotCached(t *testing.T) {
	f := newFixture(t)
	f.ops.limiter = ratelimit.NewWithBucket(zap.NewNop(), ratelimit.NewMemoryBucket(nil), 0.001, 1)
	ctx := context.Background()
	req := paymentdomain.CreatePaymentRequest{MerchantID: snowflake.ID(9), SourceAmount: 10}

	f.payments.On("Create", mock.Anything, mock.Anything).
		Return(&paymentdomain.CreatePaymentResult{Payment: &paymentdomain.Payment{ID: snowflake.ID(1)}}, nil).
		Once()

	first, err := f.ops.CreatePayment(ctx, Meta{Actor: "user_1", IdempotencyKey: "order-1"}, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, first.StatusCode)

	meta := Meta{Actor: "user_1", IdempotencyKey: "order-2"}
	limited, err := f.ops.CreatePayment(ctx, meta, req)
	require.ErrorIs(t, err, ratelimit.ErrMerchantRateLimited)
	assert.Equal(t, http.StatusTooManyRequests, limited.StatusCode)

	var body errorResponse
	require.NoError(t, json.Unmarshal(limited.Body, &body))
	assert.Equal(t, "rate_limited", body.Error.Type)
	assert.Equal(t, "merchant_rate_limited", body.Error.Code)

	again, err := f.ops.CreatePayment(ctx, meta, req)
	require.Error(t, err)
	assert.False(t, again.Replayed)
	assert.Equal(t, http.StatusTooManyRequests, again.StatusCode)
}

func TestQueryContinuesCallerTrace(t *testing.T) {
	f := newFixture(t)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	f.ops.tracer = tp.Tracer(tracerName)

	f.payments.On("Get", mock.Anything, snowflake.ID(7)).
		Return(&paymentdomain.Payment{ID: snowflake.ID(7)}, nil).
		Once()

	_, err := f.ops.GetPayment(context.Background(), Meta{
		TraceID:      "4bf92f3577b34da6a3ce929d0e0e4736",
		ParentSpanID: "00f067aa0ba902b7",
	}, snowflake.ID(7))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent().SpanID().String())
}
