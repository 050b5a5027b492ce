package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/observability/metrics"
	"github.com/smallbiznis/fxpay/internal/task/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	jobName            = "task_dispatch"
	defaultPoll        = time.Second
	defaultBatchSize   = 50
	defaultStaleAfter  = 2 * time.Minute
	defaultMaxAttempts = 5
	backoffStep        = 2 * time.Second
	unknownKindDelay   = 30 * time.Second
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Dispatcher struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository

	mu       sync.RWMutex
	handlers map[string]domain.Handler
	kick     chan struct{}

	poll       time.Duration
	batchSize  int
	staleAfter time.Duration
}

func New(p Params) *Dispatcher {
	return &Dispatcher{
		db:         p.DB,
		log:        p.Log.Named("task.dispatcher"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		handlers:   make(map[string]domain.Handler),
		kick:       make(chan struct{}, 1),
		poll:       defaultPoll,
		batchSize:  defaultBatchSize,
		staleAfter: defaultStaleAfter,
	}
}

func NewDispatcher(d *Dispatcher) domain.Dispatcher {
	return d
}

func (d *Dispatcher) Register(kind string, h domain.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

// Handles reports whether a handler is registered for kind.
func (d *Dispatcher) Handles(kind string) bool {
	_, ok := d.handler(kind)
	return ok
}

func (d *Dispatcher) handler(kind string) (domain.Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[kind]
	return h, ok
}

func (d *Dispatcher) Enqueue(ctx context.Context, db *gorm.DB, kind string, payload any, runAt time.Time) (*domain.Task, error) {
	if payload == nil {
		return nil, domain.ErrEmptyPayload
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode task payload: %w", err)
	}
	now := d.clock.Now()
	if runAt.IsZero() {
		runAt = now
	}
	t := &domain.Task{
		ID:          d.genID.Generate(),
		Kind:        kind,
		Payload:     datatypes.JSON(raw),
		Status:      domain.StatusPending,
		MaxAttempts: defaultMaxAttempts,
		RunAt:       runAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := d.repo.Insert(ctx, db, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// DispatchDue claims and runs every due task once. It returns how many succeeded.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	now := d.clock.Now()
	tasks, err := d.repo.Claim(ctx, d.db, now, now.Add(-d.staleAfter), d.batchSize)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if d.dispatch(ctx, t) {
			done++
		}
	}
	return done, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, t domain.Task) bool {
	log := d.log.With(
		zap.String("task_id", t.ID.String()),
		zap.String("kind", t.Kind),
		zap.Int("attempt", t.Attempts),
	)
	schedMetrics := metrics.Scheduler()

	h, ok := d.handler(t.Kind)
	if !ok {
		// Another replica may handle this kind. Hand the task back without
		// spending an attempt.
		now := d.clock.Now()
		log.Warn("no handler registered for task, deferring", zap.Duration("delay", unknownKindDelay))
		if err := d.repo.Release(ctx, d.db, t.ID, now.Add(unknownKindDelay), domain.ErrUnknownKind.Error(), now); err != nil {
			log.Error("failed to release task", zap.Error(err))
		}
		return false
	}

	err := runHandler(ctx, h, t)
	now := d.clock.Now()
	if err == nil {
		if err := d.repo.MarkDone(ctx, d.db, t.ID, now); err != nil {
			log.Error("failed to mark task done", zap.Error(err))
			return false
		}
		schedMetrics.AddBatchProcessed(jobName, t.Kind, 1)
		return true
	}

	schedMetrics.IncJobError(jobName, err)
	if t.Attempts >= t.MaxAttempts {
		log.Error("task exhausted retries", zap.Error(err))
		if err := d.repo.MarkFailed(ctx, d.db, t.ID, err.Error(), now); err != nil {
			log.Error("failed to mark task failed", zap.Error(err))
		}
		return false
	}

	retryAt := now.Add(time.Duration(t.Attempts) * backoffStep)
	log.Warn("task failed, retrying", zap.Time("retry_at", retryAt), zap.Error(err))
	if err := d.repo.Reschedule(ctx, d.db, t.ID, retryAt, err.Error(), now); err != nil {
		log.Error("failed to reschedule task", zap.Error(err))
	}
	return false
}

func runHandler(ctx context.Context, h domain.Handler, t domain.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()
	return h(ctx, t)
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.kick:
		}
		if _, err := d.DispatchDue(ctx); err != nil && ctx.Err() == nil {
			d.log.Warn("task dispatch failed", zap.Error(err))
		}
	}
}
