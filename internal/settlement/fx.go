package settlement

import (
	"github.com/smallbiznis/fxpay/internal/settlement/domain"
	"github.com/smallbiznis/fxpay/internal/settlement/repository"
	"github.com/smallbiznis/fxpay/internal/settlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	// The transfer task handler is registered when the service is built.
	fx.Invoke(func(domain.Service) {}),
)
