package db

import (
	"context"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

// Module opens the shared *gorm.DB and closes it on shutdown.
var Module = fx.Module("db",
	fx.Provide(FromAppConfig, NewDB),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    Config
	Log       *zap.Logger
}

func NewDB(p Params) (*gorm.DB, error) {
	conn, err := Open(p.Config, NewGormLogger(DefaultGormLoggerConfig()))
	if err != nil {
		return nil, err
	}

	if err := UsePlugins(conn, p.Config); err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		},
		OnStop: func(context.Context) error {
			p.Log.Info("closing database connection")
			return sqlDB.Close()
		},
	})
	return conn, nil
}

// Open builds a gorm handle for cfg with pool limits applied.
func Open(cfg Config, logger *GormLogger) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{TranslateError: true}
	if logger != nil {
		gormCfg.Logger = logger
	}

	conn, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Second)
	}
	return conn, nil
}

// UsePlugins attaches query tracing and connection pool metrics.
func UsePlugins(conn *gorm.DB, cfg Config) error {
	if cfg.Tracing {
		if err := conn.Use(otelgorm.NewPlugin(
			otelgorm.WithDBName(cfg.Name),
			otelgorm.WithoutQueryVariables(),
		)); err != nil {
			return err
		}
	}
	if cfg.Metrics {
		if err := conn.Use(gormprometheus.New(gormprometheus.Config{
			DBName:          cfg.Name,
			RefreshInterval: 15,
		})); err != nil {
			return err
		}
	}
	return nil
}
