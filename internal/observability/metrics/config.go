package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/fxpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config labels every series with the running service.
type Config struct {
	ServiceName string
	Environment string
	ListenAddr  string
}

func LoadConfig(cfg config.Config) Config {
	return Config{
		ServiceName: strings.TrimSpace(cfg.AppName),
		Environment: strings.TrimSpace(cfg.Environment),
		ListenAddr:  strings.TrimSpace(os.Getenv("METRICS_ADDR")),
	}
}

var Module = fx.Module("metrics",
	fx.Provide(LoadConfig),
	fx.Invoke(func(cfg Config) {
		SchedulerWithConfig(cfg)
		PaymentsWithConfig(cfg)
	}),
	fx.Invoke(registerExporter),
)

// registerExporter serves /metrics when METRICS_ADDR is set.
func registerExporter(lc fx.Lifecycle, cfg Config, log *zap.Logger) {
	if cfg.ListenAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", cfg.ListenAddr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics exporter stopped", zap.Error(err))
				}
			}()
			log.Info("metrics exporter listening", zap.String("addr", cfg.ListenAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func constLabels(cfg Config) map[string]string {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "fxpay"
	}
	environment := cfg.Environment
	if environment == "" {
		environment = "unknown"
	}
	return map[string]string{"service": serviceName, "env": environment}
}
