// Package redisclient provides the optional shared Redis connection.
package redisclient

import (
	"context"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fxpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

// New returns nil when Redis is disabled; consumers fall back to in-memory stores.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return err
			}
			log.Info("redis connected", zap.String("addr", addr))
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}
