package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/clock"
	exchangeratedomain "github.com/smallbiznis/fxpay/internal/exchangerate/domain"
	frauddomain "github.com/smallbiznis/fxpay/internal/fraud/domain"
	idempotencydomain "github.com/smallbiznis/fxpay/internal/idempotency/domain"
	"github.com/smallbiznis/fxpay/internal/lock"
	merchantdomain "github.com/smallbiznis/fxpay/internal/merchant/domain"
	obsmetrics "github.com/smallbiznis/fxpay/internal/observability/metrics"
	settlementdomain "github.com/smallbiznis/fxpay/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobRateRefresh      = "rate_refresh"
	JobDailySettlement  = "daily_settlement"
	JobIdempotencySweep = "idempotency_sweep"
	JobVelocitySweep    = "velocity_sweep"
	JobVolumeReconcile  = "volume_reconcile"

	lockPrefix = "fxpay:scheduler:"
)

var (
	ErrInvalidConfig = errors.New("scheduler_invalid_config")
	errLockHeld      = errors.New("scheduler_lock_held")
)

type rateRefresher interface {
	Refresh(ctx context.Context) ([]exchangeratedomain.RefreshResult, error)
}

type settlementRunner interface {
	RunDailyBatch(ctx context.Context) ([]settlementdomain.DailyResult, error)
}

type volumeReconciler interface {
	ReconcileVolumes(ctx context.Context) (int, error)
}

type velocitySweeper interface {
	SweepVelocity(ctx context.Context) (int, error)
}

type idempotencySweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      Config
	Rates       exchangeratedomain.Service
	Settlements settlementdomain.Service
	Merchants   merchantdomain.Service
	Fraud       frauddomain.Service
	Idempotency idempotencydomain.Service
	Locker      *lock.RedisLocker `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	locker      *lock.RedisLocker
	rates       rateRefresher
	settlements settlementRunner
	merchants   volumeReconciler
	fraud       velocitySweeper
	idempotency idempotencySweeper

	mu      sync.Mutex
	lastRun map[string]time.Time
}

type job struct {
	name     string
	resource string
	timeout  time.Duration
	due      func(now, last time.Time, ran bool) bool
	run      func(ctx context.Context, run *jobRun) error
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Rates == nil || p.Settlements == nil ||
		p.Merchants == nil || p.Fraud == nil || p.Idempotency == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		genID:       p.GenID,
		clock:       p.Clock,
		locker:      p.Locker,
		rates:       p.Rates,
		settlements: p.Settlements,
		merchants:   p.Merchants,
		fraud:       p.Fraud,
		idempotency: p.Idempotency,
		lastRun:     make(map[string]time.Time),
	}, nil
}

func (s *Scheduler) jobs() []job {
	return []job{
		{JobRateRefresh, "rate_base", s.cfg.JobTimeout, s.every(s.cfg.RateRefreshInterval), s.RefreshRatesJob},
		{JobDailySettlement, "merchant", s.cfg.SettlementTimeout, s.dailyDue, s.DailySettlementJob},
		{JobIdempotencySweep, "idempotency_record", s.cfg.JobTimeout, s.every(s.cfg.SweepInterval), s.IdempotencySweepJob},
		{JobVelocitySweep, "velocity_window", s.cfg.JobTimeout, s.every(s.cfg.SweepInterval), s.VelocitySweepJob},
		{JobVolumeReconcile, "merchant", s.cfg.JobTimeout, s.every(s.cfg.VolumeReconcileInterval), s.VolumeReconcileJob},
	}
}

func (s *Scheduler) every(interval time.Duration) func(now, last time.Time, ran bool) bool {
	return func(now, last time.Time, ran bool) bool {
		return !ran || now.Sub(last) >= interval
	}
}

// dailyDue fires once per local calendar day, at or after the configured hour.
func (s *Scheduler) dailyDue(now, last time.Time, ran bool) bool {
	local := now.In(s.cfg.Location)
	if local.Hour() < s.cfg.DailySettlementHour {
		return false
	}
	if !ran {
		return true
	}
	prev := last.In(s.cfg.Location)
	return prev.Year() != local.Year() || prev.YearDay() != local.YearDay()
}

func (s *Scheduler) runJob(parent context.Context, j job) error {
	if s.locker != nil {
		key := lockPrefix + j.name
		token, ok, err := s.locker.TryLock(parent, key, s.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("%s: lock: %w", j.name, err)
		}
		if !ok {
			obsmetrics.Scheduler().IncBatchDeferred(j.name, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
			return errLockHeld
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(parent), key, token); err != nil {
				s.log.Warn("scheduler lock release failed", zap.String("job", j.name), zap.Error(err))
			}
		}()
	}

	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, j.timeout)
	defer cancel()

	ctx, run := s.newJobRun(ctx, j.name)
	s.logJobStart(ctx, run)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(j.name)

	err := j.run(ctx, run)
	schedMetrics.ObserveJobDuration(j.name, s.clock.Now().Sub(start))
	schedMetrics.AddBatchProcessed(j.name, j.resource, run.processedCount)
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(j.name)
	}
	schedMetrics.IncJobError(j.name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", j.name),
			zap.Duration("timeout", j.timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", j.name, err)
}

// RunOnce runs every enabled job that is due. A job that fails stays due and
// is retried on the next run.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	now := s.clock.Now()

	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		last, ran := s.last(j.name)
		if !j.due(now, last, ran) {
			continue
		}
		jobErr := s.runJob(parent, j)
		switch {
		case errors.Is(jobErr, errLockHeld):
			s.markRun(j.name, now)
		case jobErr != nil:
			err = errors.Join(err, jobErr)
		default:
			s.markRun(j.name, now)
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			schedMetrics.ObserveRunLoopLag(lag)
		}
		nextRun = s.clock.Now().Add(s.cfg.RunInterval)
	}
}

func (s *Scheduler) isJobEnabled(name string) bool {
	// Empty selection runs every job.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}

func (s *Scheduler) last(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.lastRun[name]
	return at, ok
}

func (s *Scheduler) markRun(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[name] = at
}

// RefreshRatesJob pulls upstream quotes. A failing base falls back to stored
// quotes, so it is logged but does not fail the job.
func (s *Scheduler) RefreshRatesJob(ctx context.Context, run *jobRun) error {
	results, err := s.rates.Refresh(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Success {
			run.AddProcessed(1)
			continue
		}
		s.logJobError(ctx, run, "scheduler.rates.refresh.failed", errors.New(r.Error),
			zap.String("base", r.Base),
			zap.Bool("fallback_available", r.FallbackAvailable),
		)
	}
	return nil
}

func (s *Scheduler) DailySettlementJob(ctx context.Context, run *jobRun) error {
	results, err := s.settlements.RunDailyBatch(ctx)
	if err != nil {
		return err
	}
	var jobErr error
	for _, r := range results {
		if r.Success {
			run.AddProcessed(1)
			continue
		}
		merr := fmt.Errorf("merchant %s: %s", r.MerchantID, r.Error)
		s.logJobError(ctx, run, "scheduler.settlement.failed", merr, zap.String("merchant_id", r.MerchantID.String()))
		jobErr = errors.Join(jobErr, merr)
	}
	return jobErr
}

func (s *Scheduler) IdempotencySweepJob(ctx context.Context, run *jobRun) error {
	n, err := s.idempotency.Sweep(ctx)
	run.AddProcessed(n)
	return err
}

func (s *Scheduler) VelocitySweepJob(ctx context.Context, run *jobRun) error {
	n, err := s.fraud.SweepVelocity(ctx)
	run.AddProcessed(n)
	return err
}

func (s *Scheduler) VolumeReconcileJob(ctx context.Context, run *jobRun) error {
	n, err := s.merchants.ReconcileVolumes(ctx)
	run.AddProcessed(n)
	return err
}
