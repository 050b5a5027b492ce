package ctxlogger

import (
	"context"
	"sync/atomic"

	"github.com/smallbiznis/fxpay/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type merchantKey struct{}

var serviceName atomic.Pointer[string]

// SetServiceName configures the service name added to every log entry.
func SetServiceName(name string) {
	serviceName.Store(&name)
}

// ContextWithMerchant annotates the context with the merchant being served.
func ContextWithMerchant(ctx context.Context, merchantID string) context.Context {
	if merchantID == "" {
		return ctx
	}
	return context.WithValue(ctx, merchantKey{}, merchantID)
}

// FromContext returns a logger enriched with tracing and correlation metadata from context.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext enriches the provided logger using metadata in the context.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil {
		return base
	}

	fields := make([]zap.Field, 0, 5)
	fields = append(fields, ExtractCorrelation(ctx))
	fields = append(fields, ExtractTrace(ctx)...)

	name := "unknown"
	if namePtr := serviceName.Load(); namePtr != nil {
		name = *namePtr
	}
	fields = append(fields, zap.String("service", name))

	if merchantID, ok := ctx.Value(merchantKey{}).(string); ok && merchantID != "" {
		fields = append(fields, zap.String("merchant_id", merchantID))
	}

	return base.With(fields...)
}

// ExtractCorrelation pulls the correlation ID from the context.
func ExtractCorrelation(ctx context.Context) zap.Field {
	cid := correlation.ExtractCorrelationID(ctx)
	if cid == "" {
		_, cid = correlation.EnsureCorrelationID(ctx)
	}
	return zap.String("correlation_id", cid)
}

// ExtractTrace pulls tracing identifiers from the context span.
func ExtractTrace(ctx context.Context) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return []zap.Field{zap.String("trace_id", ""), zap.String("span_id", "")}
	}

	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}
