package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/fxpay/internal/apperror"
	"github.com/smallbiznis/fxpay/pkg/db"
)

const (
	SchedulerJobReasonDeadlineExceeded = "deadline_exceeded"
	SchedulerJobReasonUniqueViolation  = "unique_violation"
	SchedulerJobReasonConflict         = "conflict"
	SchedulerJobReasonBusinessRule     = "business_rule"
	SchedulerJobReasonUnknown          = "unknown"

	SchedulerBatchDeferredReasonLockHeld = "lock_held"
)

// SchedulerMetrics captures background job health.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	batchDeferred  *prometheus.CounterVec
	runLoopLag     prometheus.Histogram
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the scheduler metrics singleton for tests.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fxpay_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: labels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "fxpay_scheduler_job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: labels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fxpay_scheduler_job_timeouts_total",
			Help:        "Scheduler job timeouts.",
			ConstLabels: labels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fxpay_scheduler_job_errors_total",
			Help:        "Scheduler job errors by low-cardinality reason.",
			ConstLabels: labels,
		}, []string{"job", "reason"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fxpay_scheduler_batch_processed_total",
			Help:        "Items processed by scheduler jobs.",
			ConstLabels: labels,
		}, []string{"job", "resource"}),
		batchDeferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fxpay_scheduler_batch_deferred_total",
			Help:        "Scheduler runs skipped by reason.",
			ConstLabels: labels,
		}, []string{"job", "reason"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "fxpay_scheduler_runloop_lag_seconds",
			Help:        "Scheduler run loop lag beyond the configured interval.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: labels,
		}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.batchProcessed,
		m.batchDeferred,
		m.runLoopLag,
	)
	return m
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

func (m *SchedulerMetrics) IncBatchDeferred(job, reason string) {
	if m == nil {
		return
	}
	m.batchDeferred.WithLabelValues(job, reason).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SchedulerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ClassifySchedulerJobReason maps a job error onto a bounded label set.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case db.IsDuplicateKeyErr(err):
		return SchedulerJobReasonUniqueViolation
	case errors.Is(err, apperror.ErrConflict):
		return SchedulerJobReasonConflict
	case errors.Is(err, apperror.ErrValidation), errors.Is(err, apperror.ErrInsufficientState), errors.Is(err, apperror.ErrNotFound):
		return SchedulerJobReasonBusinessRule
	default:
		return SchedulerJobReasonUnknown
	}
}
