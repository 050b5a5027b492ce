package operations

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/fxpay/internal/payment/domain"
	"github.com/smallbiznis/fxpay/pkg/log/ctxlogger"
)

// CreatePayment creates a payment. A fraud-blocked payment is a successful
// response carrying a failed payment. Rate-limited requests are not cached.
func (s *Service) CreatePayment(ctx context.Context, meta Meta, req paymentdomain.CreatePaymentRequest) (Result, error) {
	return s.mutate(ctx, meta, epCreatePayment, http.StatusCreated, func(ctx context.Context, recordKey string) (any, error) {
		if err := s.limiter.AllowMerchant(ctx, req.MerchantID); err != nil {
			return nil, err
		}
		req.IdempotencyKey = recordKey
		req.Actor = meta.Actor
		ctx = ctxlogger.ContextWithMerchant(ctx, req.MerchantID.String())
		return s.payments.Create(ctx, req)
	})
}

func (s *Service) ExecutePayment(ctx context.Context, meta Meta, id snowflake.ID) (Result, error) {
	return s.mutate(ctx, meta, epExecutePayment, http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		return s.payments.Execute(ctx, id, meta.Actor)
	})
}

func (s *Service) RefundPayment(ctx context.Context, meta Meta, req paymentdomain.RefundRequest) (Result, error) {
	return s.mutate(ctx, meta, epRefundPayment, http.StatusOK, func(ctx context.Context, _ string) (any, error) {
		req.Actor = meta.Actor
		return s.payments.Refund(ctx, req)
	})
}

func (s *Service) GetPayment(ctx context.Context, meta Meta, id snowflake.ID) (*paymentdomain.Payment, error) {
	return query(ctx, s, meta, epGetPayment, func(ctx context.Context) (*paymentdomain.Payment, error) {
		return s.payments.Get(ctx, id)
	})
}

func (s *Service) GetPaymentByTransactionID(ctx context.Context, meta Meta, transactionID string) (*paymentdomain.Payment, error) {
	return query(ctx, s, meta, epGetPayment, func(ctx context.Context) (*paymentdomain.Payment, error) {
		return s.payments.GetByTransactionID(ctx, transactionID)
	})
}

func (s *Service) ListPayments(ctx context.Context, meta Meta, req paymentdomain.ListPaymentRequest) (paymentdomain.ListPaymentResponse, error) {
	return query(ctx, s, meta, epListPayments, func(ctx context.Context) (paymentdomain.ListPaymentResponse, error) {
		return s.payments.List(ctx, req)
	})
}

func (s *Service) PaymentAnalytics(ctx context.Context, meta Meta, filter paymentdomain.AnalyticsFilter) (paymentdomain.Analytics, error) {
	return query(ctx, s, meta, epPaymentAnalytics, func(ctx context.Context) (paymentdomain.Analytics, error) {
		return s.payments.Analytics(ctx, filter)
	})
}
