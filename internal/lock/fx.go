package lock

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("lock",
	fx.Provide(newRedisLocker),
)

type lockerParams struct {
	fx.In

	Redis *redis.Client `optional:"true"`
}

func newRedisLocker(p lockerParams) *RedisLocker {
	return NewRedisLocker(p.Redis)
}
