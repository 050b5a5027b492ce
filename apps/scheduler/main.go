package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/audit"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/config"
	"github.com/smallbiznis/fxpay/internal/exchangerate"
	"github.com/smallbiznis/fxpay/internal/fraud"
	"github.com/smallbiznis/fxpay/internal/idempotency"
	"github.com/smallbiznis/fxpay/internal/lock"
	"github.com/smallbiznis/fxpay/internal/merchant"
	"github.com/smallbiznis/fxpay/internal/observability"
	"github.com/smallbiznis/fxpay/internal/payment"
	"github.com/smallbiznis/fxpay/internal/redisclient"
	"github.com/smallbiznis/fxpay/internal/scheduler"
	"github.com/smallbiznis/fxpay/internal/settlement"
	"github.com/smallbiznis/fxpay/internal/task"
	"github.com/smallbiznis/fxpay/internal/transfer"
	"github.com/smallbiznis/fxpay/pkg/db"
	"go.uber.org/fx"
)

// The scheduler binary runs background jobs and the task dispatcher without
// the operations surface. Schema migration is left to the main binary.
func main() {
	fx.New(modules()).Run()
}

func modules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		redisclient.Module,
		lock.Module,
		audit.Module,

		// Domain services required by scheduler jobs and task handlers
		merchant.Module,
		exchangerate.Module,
		fraud.Module,
		idempotency.Module,
		task.Module,
		transfer.Module,
		payment.Module,
		settlement.Module,
		scheduler.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
