package ctxlogger

import (
	"context"
	"testing"

	"github.com/smallbiznis/fxpay/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationAndMerchant(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetServiceName("fxpay")

	ctx := correlation.ContextWithCorrelationID(context.Background(), "cid-42")
	ctx = ContextWithMerchant(ctx, "m-1")

	WithContext(ctx, zap.New(core)).Info("hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "cid-42", fields["correlation_id"])
		assert.Equal(t, "m-1", fields["merchant_id"])
		assert.Equal(t, "fxpay", fields["service"])
		assert.Equal(t, "", fields["trace_id"])
	}
}
