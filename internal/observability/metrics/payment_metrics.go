package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks the request path: rates, fraud, idempotency and lifecycle.
type PaymentMetrics struct {
	paymentsCreated    *prometheus.CounterVec
	paymentTransitions *prometheus.CounterVec
	fraudBlocked       prometheus.Counter
	riskScore          prometheus.Histogram
	rateResolutions    *prometheus.CounterVec
	rateLatency        prometheus.Histogram
	rateRefreshes      *prometheus.CounterVec
	idempotency        *prometheus.CounterVec
	settlements        *prometheus.CounterVec
	reconciliations    *prometheus.CounterVec
}

var (
	paymentMetricsOnce sync.Once
	paymentMetrics     *PaymentMetrics
)

func Payments() *PaymentMetrics {
	return PaymentsWithConfig(Config{})
}

func PaymentsWithConfig(cfg Config) *PaymentMetrics {
	paymentMetricsOnce.Do(func() {
		paymentMetrics = newPaymentMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return paymentMetrics
}

func newPaymentMetrics(registerer prometheus.Registerer, cfg Config) *PaymentMetrics {
	labels := constLabels(cfg)
	riskScore := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "fxpay_fraud_risk_score",
		Help:        "Fraud risk score distribution.",
		Buckets:     []float64{0, 5, 10, 20, 30, 50, 70, 85, 100},
		ConstLabels: labels,
	})
	rateLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "fxpay_rate_resolution_seconds",
		Help:        "Exchange rate resolution latency.",
		Buckets:     []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		ConstLabels: labels,
	})

	m := &PaymentMetrics{
		paymentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fxpay_payments_created_total",
			Help:        "Payments persisted by initial status.",
			ConstLabels: labels,
		}, []string{"status"}),
		paymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fxpay_payment_transitions_total",
			Help:        "Payment lifecycle transitions.",
			ConstLabels: labels,
		}, []string{"from", "to"}),
		fraudBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fxpay_fraud_blocked_total",
			Help:        "Payments blocked by fraud screening.",
			ConstLabels: labels,
		}),
		riskScore: riskScore,
		rateResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fxpay_rate_resolutions_total",
			Help:        "Exchange rate resolutions by source tier.",
			ConstLabels: labels,
		}, []string{"source"}),
		rateLatency: rateLatency,
		rateRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fxpay_rate_refresh_total",
			Help:        "Upstream rate refreshes by base currency and outcome.",
			ConstLabels: labels,
		}, []string{"base", "outcome"}),
		idempotency: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fxpay_idempotency_decisions_total",
			Help:        "Idempotency guard decisions.",
			ConstLabels: labels,
		}, []string{"decision"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fxpay_settlement_transitions_total",
			Help:        "Settlement lifecycle transitions by resulting status.",
			ConstLabels: labels,
		}, []string{"status"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fxpay_reconciliations_total",
			Help:        "Settlement reconciliations by outcome.",
			ConstLabels: labels,
		}, []string{"status"}),
	}

	registerer.MustRegister(
		m.paymentsCreated,
		m.paymentTransitions,
		m.fraudBlocked,
		riskScore,
		m.rateResolutions,
		rateLatency,
		m.rateRefreshes,
		m.idempotency,
		m.settlements,
		m.reconciliations,
	)
	return m
}

func (m *PaymentMetrics) IncPaymentCreated(status string) {
	if m == nil {
		return
	}
	m.paymentsCreated.WithLabelValues(status).Inc()
}

func (m *PaymentMetrics) IncPaymentTransition(from, to string) {
	if m == nil {
		return
	}
	m.paymentTransitions.WithLabelValues(from, to).Inc()
}

// ObserveAssessment records the score and, when blocked, the block counter.
func (m *PaymentMetrics) ObserveAssessment(score int, blocked bool) {
	if m == nil {
		return
	}
	m.riskScore.Observe(float64(score))
	if blocked {
		m.fraudBlocked.Inc()
	}
}

func (m *PaymentMetrics) ObserveRateResolution(source string, latency time.Duration) {
	if m == nil {
		return
	}
	m.rateResolutions.WithLabelValues(source).Inc()
	m.rateLatency.Observe(latency.Seconds())
}

func (m *PaymentMetrics) IncRateRefresh(base, outcome string) {
	if m == nil {
		return
	}
	m.rateRefreshes.WithLabelValues(base, outcome).Inc()
}

func (m *PaymentMetrics) IncIdempotencyDecision(decision string) {
	if m == nil {
		return
	}
	m.idempotency.WithLabelValues(decision).Inc()
}

func (m *PaymentMetrics) IncSettlementTransition(status string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(status).Inc()
}

func (m *PaymentMetrics) IncReconciliation(status string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(status).Inc()
}
