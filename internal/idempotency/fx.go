package idempotency

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/idempotency/domain"
	"github.com/smallbiznis/fxpay/internal/idempotency/service"
	"github.com/smallbiznis/fxpay/internal/idempotency/store"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency.service",
	fx.Provide(newStore),
	fx.Provide(service.New),
)

type storeParams struct {
	fx.In

	Clock clock.Clock
	Redis *redis.Client `optional:"true"`
}

func newStore(p storeParams) domain.Store {
	return store.New(p.Redis, p.Clock.Now)
}
