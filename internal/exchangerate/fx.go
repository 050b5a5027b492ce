package exchangerate

import (
	"github.com/smallbiznis/fxpay/internal/exchangerate/provider"
	"github.com/smallbiznis/fxpay/internal/exchangerate/repository"
	"github.com/smallbiznis/fxpay/internal/exchangerate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("exchangerate.service",
	fx.Provide(repository.Provide),
	fx.Provide(provider.NewHTTPProvider),
	fx.Provide(service.New),
	fx.Provide(service.NewResolver),
)
