// Package operations is the collaborator-facing surface of fxpay. Every
// operation runs in its own span, carries a correlation id and reports
// boundary errors to the audit sink. Mutating operations accept an
// idempotency key and replay the stored response for retries.
package operations

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/smallbiznis/fxpay/internal/apperror"
	auditdomain "github.com/smallbiznis/fxpay/internal/audit/domain"
	auditservice "github.com/smallbiznis/fxpay/internal/audit/service"
	"github.com/smallbiznis/fxpay/internal/clock"
	exchangeratedomain "github.com/smallbiznis/fxpay/internal/exchangerate/domain"
	frauddomain "github.com/smallbiznis/fxpay/internal/fraud/domain"
	idempotencydomain "github.com/smallbiznis/fxpay/internal/idempotency/domain"
	paymentdomain "github.com/smallbiznis/fxpay/internal/payment/domain"
	"github.com/smallbiznis/fxpay/internal/ratelimit"
	settlementdomain "github.com/smallbiznis/fxpay/internal/settlement/domain"
	"github.com/smallbiznis/fxpay/pkg/log/ctxlogger"
	"github.com/smallbiznis/fxpay/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const tracerName = "github.com/smallbiznis/fxpay/internal/operations"

// Meta is the caller context of one operation.
type Meta struct {
	Actor          string
	IdempotencyKey string
	CorrelationID  string
	// TraceID and ParentSpanID continue a caller's trace when both are valid hex ids.
	TraceID      string
	ParentSpanID string
}

// Result is the encoded response of a mutating operation. Replayed is set
// when Body comes from an earlier attempt with the same idempotency key.
type Result struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Replayed   bool            `json:"replayed"`
}

// Failed reports whether the result encodes an error response.
func (r Result) Failed() bool {
	return r.StatusCode >= http.StatusBadRequest
}

// Decode unmarshals a successful body into v.
func (r Result) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

type endpoint struct {
	method string
	path   string
}

func (e endpoint) String() string {
	return e.method + " " + e.path
}

var (
	epCreatePayment    = endpoint{http.MethodPost, "/api/payments"}
	epExecutePayment   = endpoint{http.MethodPost, "/api/payments/:id/execute"}
	epRefundPayment    = endpoint{http.MethodPost, "/api/payments/:id/refund"}
	epGetPayment       = endpoint{http.MethodGet, "/api/payments/:id"}
	epListPayments     = endpoint{http.MethodGet, "/api/payments"}
	epPaymentAnalytics = endpoint{http.MethodGet, "/api/payments/analytics"}
	epCreateBatch      = endpoint{http.MethodPost, "/api/settlements/batch"}
	epProcessBatch     = endpoint{http.MethodPost, "/api/settlements/:id/process"}
	epReconcile        = endpoint{http.MethodPost, "/api/settlements/:id/reconcile"}
	epGetSettlement    = endpoint{http.MethodGet, "/api/settlements/:id"}
	epListSettlements  = endpoint{http.MethodGet, "/api/settlements"}
	epReconReport      = endpoint{http.MethodGet, "/api/settlements/reports/reconciliation"}
	epConvert          = endpoint{http.MethodPost, "/api/exchange-rates/convert"}
	epGetRate          = endpoint{http.MethodGet, "/api/exchange-rates/:from/:to"}
	epListRates        = endpoint{http.MethodGet, "/api/exchange-rates"}
	epRefreshRates     = endpoint{http.MethodPost, "/api/exchange-rates/refresh"}
	epFraudStats       = endpoint{http.MethodGet, "/api/fraud/stats"}
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	Payments    paymentdomain.Service
	Settlements settlementdomain.Service
	Rates       exchangeratedomain.Service
	Fraud       frauddomain.Service
	Idempotency idempotencydomain.Service
	Limiter     *ratelimit.Limiter `optional:"true"`
	Audit       auditdomain.Sink   `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	clock       clock.Clock
	tracer      trace.Tracer
	payments    paymentdomain.Service
	settlements settlementdomain.Service
	rates       exchangeratedomain.Service
	fraud       frauddomain.Service
	idempotency idempotencydomain.Service
	limiter     *ratelimit.Limiter
	audit       auditdomain.Sink
}

func New(p Params) *Service {
	return &Service{
		log:         p.Log.Named("operations"),
		clock:       p.Clock,
		tracer:      otel.Tracer(tracerName),
		payments:    p.Payments,
		settlements: p.Settlements,
		rates:       p.Rates,
		fraud:       p.Fraud,
		idempotency: p.Idempotency,
		limiter:     p.Limiter,
		audit:       p.Audit,
	}
}

func (s *Service) start(ctx context.Context, meta Meta, ep endpoint) (context.Context, trace.Span) {
	if meta.CorrelationID != "" {
		ctx = correlation.ContextWithCorrelationID(ctx, meta.CorrelationID)
	}
	ctx, cid := correlation.EnsureCorrelationID(ctx)
	ctx = correlation.ContextWithRemoteSpan(ctx, meta.TraceID, meta.ParentSpanID)
	return s.tracer.Start(ctx, ep.String(), trace.WithAttributes(
		attribute.String("http.method", ep.method),
		attribute.String("http.route", ep.path),
		attribute.String("fxpay.correlation_id", cid),
		attribute.String("fxpay.actor", actorOrAnon(meta.Actor)),
	))
}

// mutate runs fn under the idempotency guard when the caller supplied a key.
// fn receives the composite key so it can be persisted alongside the record.
func (s *Service) mutate(ctx context.Context, meta Meta, ep endpoint, okStatus int, fn func(ctx context.Context, recordKey string) (any, error)) (Result, error) {
	ctx, span := s.start(ctx, meta, ep)
	defer span.End()

	var decision idempotencydomain.Decision
	if meta.IdempotencyKey != "" {
		var err error
		decision, err = s.idempotency.Begin(ctx, meta.IdempotencyKey, meta.Actor, ep.String())
		if err != nil {
			return s.failure(ctx, span, meta, ep, err), err
		}
		if decision.Replay {
			span.SetAttributes(attribute.Bool("fxpay.idempotent_replay", true))
			return Result{
				StatusCode: decision.Response.StatusCode,
				Body:       decision.Response.Body,
				Replayed:   true,
			}, nil
		}
	}

	value, err := fn(ctx, decision.Key)
	var res Result
	if err != nil {
		res = s.failure(ctx, span, meta, ep, err)
	} else {
		res, err = encode(okStatus, value)
		if err != nil {
			res = s.failure(ctx, span, meta, ep, err)
		}
	}

	if decision.Proceed {
		if cerr := s.idempotency.Complete(context.WithoutCancel(ctx), decision.Key, res.StatusCode, res.Body); cerr != nil {
			ctxlogger.WithContext(ctx, s.log).Warn("failed to store idempotent response",
				zap.String("endpoint", ep.String()),
				zap.Error(cerr),
			)
		}
	}
	return res, err
}

// query runs a read operation with tracing and error reporting.
func query[T any](ctx context.Context, s *Service, meta Meta, ep endpoint, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := s.start(ctx, meta, ep)
	defer span.End()

	out, err := fn(ctx)
	if err != nil {
		s.failure(ctx, span, meta, ep, err)
	}
	return out, err
}

func encode(status int, value any) (Result, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return Result{}, err
	}
	return Result{StatusCode: status, Body: body}, nil
}

// failure records err on the span, logs it, reports it to the audit sink and
// returns the encoded error response.
func (s *Service) failure(ctx context.Context, span trace.Span, meta Meta, ep endpoint, err error) Result {
	status := apperror.StatusCode(err)
	kind := apperror.KindOf(err)
	code := apperror.CodeOf(err)

	span.RecordError(err)
	span.SetStatus(codes.Error, code)
	span.SetAttributes(attribute.Int("http.status_code", status))

	log := ctxlogger.WithContext(ctx, s.log).With(
		zap.String("endpoint", ep.String()),
		zap.String("error_code", code),
		zap.Int("status_code", status),
		zap.Error(err),
	)
	severity := auditdomain.SeverityWarning
	if status >= http.StatusInternalServerError {
		severity = auditdomain.SeverityCritical
		log.Error("operation failed")
	} else {
		log.Info("operation rejected")
	}

	auditservice.Emit(ctx, s.audit, s.log, auditdomain.Event{
		Action:        auditdomain.ActionOperationError,
		Severity:      severity,
		ActorID:       actorOrAnon(meta.Actor),
		Method:        ep.method,
		Path:          ep.path,
		CorrelationID: correlation.ExtractCorrelationID(ctx),
		Metadata: map[string]any{
			"error_type":  string(kind),
			"error_code":  code,
			"status_code": status,
		},
		OccurredAt: s.clock.Now(),
	})

	message := err.Error()
	if kind == apperror.KindInternal {
		message = "internal error"
	}
	body, _ := json.Marshal(errorResponse{Error: errorPayload{Type: string(kind), Code: code, Message: message}})
	return Result{StatusCode: status, Body: body}
}

func actorOrAnon(actor string) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	return idempotencydomain.AnonymousActor
}
