package transfer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSimulatedGateway(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, 6, 2, 2, 0, 0, 0, time.UTC))
	gw := NewSimulated(Params{Log: zap.NewNop(), Clock: fc})

	receipt, err := gw.Initiate(context.Background(), Request{SettlementRef: "STL-1", Amount: 10})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(receipt.Reference, "TRF-"))
	assert.Equal(t, fc.Now(), receipt.InitiatedAt)
	assert.NoError(t, gw.Confirm(context.Background(), receipt.Reference))
	assert.ErrorIs(t, gw.Confirm(context.Background(), ""), ErrMissingReference)

	_, err = gw.Initiate(context.Background(), Request{Amount: -1})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSimulatedGatewayFailure(t *testing.T) {
	cfg := config.Config{Settlement: config.SettlementConfig{TransferFailure: true}}
	gw := NewSimulated(Params{Log: zap.NewNop(), Clock: clock.New(), Config: cfg})
	assert.ErrorIs(t, gw.Confirm(context.Background(), "TRF-1"), ErrRejected)
}
