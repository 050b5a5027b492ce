package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/task/domain"
	"github.com/smallbiznis/fxpay/internal/task/repository"
	"github.com/smallbiznis/fxpay/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type payload struct {
	PaymentID string `json:"payment_id"`
}

func newDispatcher(t *testing.T) (*Dispatcher, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := dbtest.Open(t, &domain.Task{})
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	d := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: dbtest.Node(t),
		Clock: fc,
		Repo:  repository.Provide(),
	})
	return d, db, fc
}

func load(t *testing.T, db *gorm.DB, task *domain.Task) domain.Task {
	t.Helper()
	var out domain.Task
	require.NoError(t, db.First(&out, "id = ?", task.ID).Error)
	return out
}

func TestDispatchRunsDueTasksOnly(t *testing.T) {
	ctx := context.Background()
	d, db, fc := newDispatcher(t)

	var seen []string
	d.Register("demo", func(_ context.Context, task domain.Task) error {
		var p payload
		require.NoError(t, json.Unmarshal(task.Payload, &p))
		seen = append(seen, p.PaymentID)
		return nil
	})

	now := fc.Now()
	due, err := d.Enqueue(ctx, db, "demo", payload{PaymentID: "p1"}, now)
	require.NoError(t, err)
	later, err := d.Enqueue(ctx, db, "demo", payload{PaymentID: "p2"}, now.Add(time.Second))
	require.NoError(t, err)

	n, err := d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"p1"}, seen)
	assert.Equal(t, domain.StatusDone, load(t, db, due).Status)
	assert.Equal(t, domain.StatusPending, load(t, db, later).Status)

	fc.Advance(time.Second)
	n, err = d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"p1", "p2"}, seen)

	n, err = d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatchRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	d, db, fc := newDispatcher(t)

	var calls atomic.Int32
	d.Register("flaky", func(context.Context, domain.Task) error {
		calls.Add(1)
		return errors.New("downstream unavailable")
	})
	task, err := d.Enqueue(ctx, db, "flaky", payload{PaymentID: "p"}, time.Time{})
	require.NoError(t, err)

	for i := 1; i <= defaultMaxAttempts; i++ {
		_, err := d.DispatchDue(ctx)
		require.NoError(t, err)
		fc.Advance(time.Minute)
	}
	assert.EqualValues(t, defaultMaxAttempts, calls.Load())

	got := load(t, db, task)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, defaultMaxAttempts, got.Attempts)
	assert.Equal(t, "downstream unavailable", got.LastError)
}

func TestStaleRunningTaskIsReclaimed(t *testing.T) {
	ctx := context.Background()
	d, db, fc := newDispatcher(t)

	task, err := d.Enqueue(ctx, db, "demo", payload{PaymentID: "p"}, time.Time{})
	require.NoError(t, err)

	// Simulate a worker that claimed the task and crashed.
	claimed, err := d.repo.Claim(ctx, db, fc.Now(), fc.Now().Add(-d.staleAfter), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	var runs atomic.Int32
	d.Register("demo", func(context.Context, domain.Task) error {
		runs.Add(1)
		return nil
	})

	n, err := d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	fc.Advance(d.staleAfter + time.Second)
	n, err = d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 1, runs.Load())
	assert.Equal(t, 2, load(t, db, task).Attempts)
}

func TestUnknownKindAndPanics(t *testing.T) {
	ctx := context.Background()
	d, db, fc := newDispatcher(t)

	orphan, err := d.Enqueue(ctx, db, "nobody", payload{}, time.Time{})
	require.NoError(t, err)
	d.Register("boom", func(context.Context, domain.Task) error { panic("bad handler") })
	boom, err := d.Enqueue(ctx, db, "boom", payload{}, time.Time{})
	require.NoError(t, err)

	_, err = d.DispatchDue(ctx)
	require.NoError(t, err)
	got := load(t, db, orphan)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Zero(t, got.Attempts)
	assert.Equal(t, domain.ErrUnknownKind.Error(), got.LastError)
	assert.True(t, got.RunAt.After(fc.Now()))

	got = load(t, db, boom)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Contains(t, got.LastError, "panicked")

	_, err = d.Enqueue(ctx, db, "demo", nil, time.Time{})
	assert.ErrorIs(t, err, domain.ErrEmptyPayload)
}

func TestRunStopsOnCancel(t *testing.T) {
	d, _, _ := newDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	d.Kick()
	d.Kick()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestUnknownKindRunsOnceHandlerRegisters(t *testing.T) {
	ctx := context.Background()
	d, db, fc := newDispatcher(t)

	task, err := d.Enqueue(ctx, db, domain.KindPaymentCompletion, payload{PaymentID: "p"}, time.Time{})
	require.NoError(t, err)

	// A replica without the handler leaves the task for one that has it.
	for i := 0; i < defaultMaxAttempts+1; i++ {
		_, err := d.DispatchDue(ctx)
		require.NoError(t, err)
		fc.Advance(unknownKindDelay)
	}
	got := load(t, db, task)
	require.Equal(t, domain.StatusPending, got.Status)
	assert.Zero(t, got.Attempts)

	assert.False(t, d.Handles(domain.KindPaymentCompletion))
	d.Register(domain.KindPaymentCompletion, func(context.Context, domain.Task) error { return nil })
	assert.True(t, d.Handles(domain.KindPaymentCompletion))

	n, err := d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got = load(t, db, task)
	assert.Equal(t, domain.StatusDone, got.Status)
	assert.Equal(t, 1, got.Attempts)
}
