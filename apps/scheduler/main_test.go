package main

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/migration"
	paymentdomain "github.com/smallbiznis/fxpay/internal/payment/domain"
	settlementdomain "github.com/smallbiznis/fxpay/internal/settlement/domain"
	taskdomain "github.com/smallbiznis/fxpay/internal/task/domain"
	taskservice "github.com/smallbiznis/fxpay/internal/task/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func TestSchedulerBinaryHandlesAllTaskKinds(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("DATABASE_NAME", "file:scheduler_binary?mode=memory&cache=shared")
	t.Setenv("DATABASE_METRICS", "false")
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "error")

	var (
		dispatcher *taskservice.Dispatcher
		conn       *gorm.DB
	)
	app := fx.New(modules(), fx.NopLogger, fx.Populate(&dispatcher, &conn))
	require.NoError(t, app.Err())

	assert.True(t, dispatcher.Handles(taskdomain.KindPaymentCompletion))
	assert.True(t, dispatcher.Handles(taskdomain.KindSettlementTransfer))

	require.NoError(t, migration.AutoMigrate(conn))
	ctx := context.Background()
	completion, err := dispatcher.Enqueue(ctx, conn, taskdomain.KindPaymentCompletion,
		paymentdomain.CompletionPayload{PaymentID: 42}, time.Time{})
	require.NoError(t, err)
	transferTask, err := dispatcher.Enqueue(ctx, conn, taskdomain.KindSettlementTransfer,
		settlementdomain.TransferPayload{SettlementID: 43}, time.Time{})
	require.NoError(t, err)

	n, err := dispatcher.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []snowflake.ID{completion.ID, transferTask.ID} {
		var got taskdomain.Task
		require.NoError(t, conn.First(&got, "id = ?", id).Error)
		assert.Equal(t, taskdomain.StatusDone, got.Status, "task %v", id)
	}
}
