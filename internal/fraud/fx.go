package fraud

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/fraud/repository"
	"github.com/smallbiznis/fxpay/internal/fraud/service"
	"github.com/smallbiznis/fxpay/internal/fraud/velocity"
	"go.uber.org/fx"
)

var Module = fx.Module("fraud.service",
	fx.Provide(repository.Provide),
	fx.Provide(newTracker),
	fx.Provide(service.New),
)

type trackerParams struct {
	fx.In

	Clock clock.Clock
	Redis *redis.Client `optional:"true"`
}

func newTracker(p trackerParams) velocity.Tracker {
	return velocity.NewTracker(p.Redis, p.Clock.Now)
}
