package payment

import (
	"github.com/smallbiznis/fxpay/internal/payment/domain"
	"github.com/smallbiznis/fxpay/internal/payment/repository"
	"github.com/smallbiznis/fxpay/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	// The completion task handler is registered when the service is built.
	fx.Invoke(func(domain.Service) {}),
)
