package telemetry

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/fxpay/internal/config"
	"github.com/smallbiznis/fxpay/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const exporterTimeout = 5 * time.Second

// Module wires telemetry components via Fx.
var Module = fx.Module("telemetry",
	fx.Provide(LoadConfig, NewTracerProvider, NewMeterProvider),
	fx.Invoke(func(*trace.TracerProvider, *sdkmetric.MeterProvider) {}),
)

type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	Protocol       string
	SampleRatio    float64
	MetricInterval time.Duration
}

func LoadConfig(cfg config.Config) Config {
	return Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.AppName,
		ServiceVersion: cfg.AppVersion,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Protocol:       cfg.Telemetry.Protocol,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		MetricInterval: cfg.Telemetry.MetricInterval,
	}
}

func (c Config) exporting() bool {
	return c.Enabled && strings.TrimSpace(c.Endpoint) != ""
}

func (c Config) useHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(c.Protocol)) {
	case "http", "http/protobuf":
		return true
	default:
		return false
	}
}

func newResource(cfg Config) (*resource.Resource, error) {
	return resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
}

// NewTracerProvider installs the global tracer provider. Spans are exported
// over OTLP only when an endpoint is configured.
func NewTracerProvider(lc fx.Lifecycle, cfg Config, logger *zap.Logger) (*trace.TracerProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	ratio := cfg.SampleRatio
	if ratio < 0 || ratio > 1 {
		ratio = 1
	}
	opts := []trace.TracerProviderOption{
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(ratio))),
		trace.WithSpanProcessor(&correlationSpanProcessor{}),
	}

	if cfg.exporting() {
		exporter, err := newSpanExporter(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, trace.WithBatcher(exporter))
	}

	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down tracer provider")
			return tp.Shutdown(ctx)
		},
	})

	logger.Info("tracing initialized",
		zap.Bool("exporting", cfg.exporting()),
		zap.String("endpoint", cfg.Endpoint),
		zap.Float64("sample_ratio", ratio),
	)
	return tp, nil
}

func newSpanExporter(cfg Config) (trace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), exporterTimeout)
	defer cancel()
	if cfg.useHTTP() {
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	}
	return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
}

// NewMeterProvider installs the global meter provider used by instrumented
// libraries such as the gorm tracing plugin.
func NewMeterProvider(lc fx.Lifecycle, cfg Config, logger *zap.Logger) (*sdkmetric.MeterProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.exporting() {
		exporter, err := newMetricExporter(cfg)
		if err != nil {
			return nil, err
		}
		interval := cfg.MetricInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down meter provider")
			return mp.Shutdown(ctx)
		},
	})
	return mp, nil
}

func newMetricExporter(cfg Config) (sdkmetric.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), exporterTimeout)
	defer cancel()
	if cfg.useHTTP() {
		return otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure())
}

// correlationSpanProcessor stamps spans with the request correlation id.
type correlationSpanProcessor struct{}

func (p *correlationSpanProcessor) OnStart(ctx context.Context, s trace.ReadWriteSpan) {
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		s.SetAttributes(attribute.String("correlation_id", cid))
	}
}

func (p *correlationSpanProcessor) OnEnd(trace.ReadOnlySpan) {}

func (p *correlationSpanProcessor) Shutdown(context.Context) error { return nil }

func (p *correlationSpanProcessor) ForceFlush(context.Context) error { return nil }
