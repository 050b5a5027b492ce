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
	"github.com/smallbiznis/fxpay/internal/migration"
	"github.com/smallbiznis/fxpay/internal/observability"
	"github.com/smallbiznis/fxpay/internal/operations"
	"github.com/smallbiznis/fxpay/internal/payment"
	"github.com/smallbiznis/fxpay/internal/ratelimit"
	"github.com/smallbiznis/fxpay/internal/redisclient"
	"github.com/smallbiznis/fxpay/internal/scheduler"
	"github.com/smallbiznis/fxpay/internal/settlement"
	"github.com/smallbiznis/fxpay/internal/task"
	"github.com/smallbiznis/fxpay/internal/transfer"
	"github.com/smallbiznis/fxpay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		redisclient.Module,
		lock.Module,
		audit.Module,

		// Domains
		merchant.Module,
		exchangerate.Module,
		fraud.Module,
		idempotency.Module,
		ratelimit.Module,
		task.Module,
		transfer.Module,
		payment.Module,
		settlement.Module,
		operations.Module,
		scheduler.Module,

		fx.Invoke(func(ops *operations.Service, log *zap.Logger) {
			log.Info("fxpay operations ready")
		}),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
