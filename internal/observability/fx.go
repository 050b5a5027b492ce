package observability

import (
	"github.com/smallbiznis/fxpay/internal/logger"
	"github.com/smallbiznis/fxpay/internal/observability/metrics"
	"github.com/smallbiznis/fxpay/pkg/telemetry"
	"go.uber.org/fx"
)

// Module bundles logging, Prometheus metrics and OTLP telemetry.
var Module = fx.Module("observability",
	logger.Module,
	metrics.Module,
	telemetry.Module,
)
