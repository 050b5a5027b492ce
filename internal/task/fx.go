package task

import (
	"context"

	"github.com/smallbiznis/fxpay/internal/task/domain"
	"github.com/smallbiznis/fxpay/internal/task/repository"
	"github.com/smallbiznis/fxpay/internal/task/service"
	"go.uber.org/fx"
)

var Module = fx.Module("task.dispatcher",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(service.NewDispatcher),
	fx.Invoke(startDispatcher),
)

func startDispatcher(lc fx.Lifecycle, d domain.Dispatcher) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go d.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
