package telemetry

import (
	"context"
	"testing"

	"github.com/smallbiznis/fxpay/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestCorrelationSpanProcessorStampsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(
		trace.WithSpanProcessor(&correlationSpanProcessor{}),
		trace.WithSpanProcessor(recorder),
	)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx := correlation.ContextWithCorrelationID(context.Background(), "corr-123")
	_, span := tp.Tracer("test").Start(ctx, "with-id")
	span.End()
	_, bare := tp.Tracer("test").Start(context.Background(), "without-id")
	bare.End()

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Contains(t, ended[0].Attributes(), attribute.String("correlation_id", "corr-123"))
	for _, kv := range ended[1].Attributes() {
		assert.NotEqual(t, attribute.Key("correlation_id"), kv.Key)
	}
}

func TestProvidersWithoutEndpointStayLocal(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cfg := Config{Enabled: true, ServiceName: "fxpay", Environment: "test", SampleRatio: 5}
	assert.False(t, cfg.exporting())

	tp, err := NewTracerProvider(lc, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, tp)

	mp, err := NewMeterProvider(lc, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, mp)

	lc.RequireStart().RequireStop()
}

func TestProtocolSelection(t *testing.T) {
	assert.True(t, Config{Protocol: "http/protobuf"}.useHTTP())
	assert.True(t, Config{Protocol: " HTTP "}.useHTTP())
	assert.False(t, Config{Protocol: "grpc"}.useHTTP())
	assert.False(t, Config{}.useHTTP())
	assert.False(t, Config{Endpoint: "collector:4317"}.exporting())
	assert.True(t, Config{Enabled: true, Endpoint: "collector:4317"}.exporting())
}
