package logger

import (
	"context"

	"github.com/smallbiznis/fxpay/internal/config"
	"github.com/smallbiznis/fxpay/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewFromConfig creates a zap logger from Config and replaces globals.
func NewFromConfig(appCfg config.Config) (*zap.Logger, error) {
	log, err := New(Options{
		Level:       appCfg.LogLevel,
		Format:      appCfg.LogFormat,
		Version:     appCfg.AppVersion,
		Environment: appCfg.Environment,
	})
	if err != nil {
		return nil, err
	}
	ctxlogger.SetServiceName(appCfg.AppName)
	return log, nil
}

func registerHooks(lc fx.Lifecycle, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
}

// Module wires the global zap logger for the application.
var Module = fx.Module("logger",
	fx.Provide(NewFromConfig),
	fx.Invoke(registerHooks),
)
