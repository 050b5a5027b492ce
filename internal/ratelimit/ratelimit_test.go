package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxpay/internal/apperror"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryBucketRefills(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))
	b := NewMemoryBucket(fc.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := b.Allow(ctx, "k", 2, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}

	res, err := b.Allow(ctx, "k", 2, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 500*time.Millisecond, res.RetryAfter)

	fc.Advance(500 * time.Millisecond)
	res, err = b.Allow(ctx, "k", 2, 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	other, err := b.Allow(ctx, "other", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, other.Remaining)
}

func TestMemoryBucketRejectsBadInput(t *testing.T) {
	b := NewMemoryBucket(nil)
	_, err := b.Allow(context.Background(), "", 1, 1)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = b.Allow(context.Background(), "k", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = b.Allow(context.Background(), "k", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

type failingBucket struct{}

func (failingBucket) Allow(context.Context, string, float64, int) (Result, error) {
	return Result{}, errors.New("redis down")
}

func TestLimiterPerMerchant(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))
	l := NewWithBucket(zap.NewNop(), NewMemoryBucket(fc.Now), 1, 1)
	ctx := context.Background()

	require.NoError(t, l.AllowMerchant(ctx, snowflake.ID(1)))
	err := l.AllowMerchant(ctx, snowflake.ID(1))
	require.ErrorIs(t, err, ErrMerchantRateLimited)
	assert.Equal(t, apperror.KindRateLimited, apperror.KindOf(err))
	require.NoError(t, l.AllowMerchant(ctx, snowflake.ID(2)))

	open := NewWithBucket(zap.NewNop(), failingBucket{}, 1, 1)
	assert.NoError(t, open.AllowMerchant(ctx, snowflake.ID(1)))

	var disabled *Limiter
	assert.NoError(t, disabled.AllowMerchant(ctx, snowflake.ID(1)))
}

func TestNewDisabledReturnsNil(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	l := New(Params{Log: zap.NewNop(), Clock: fc, Config: config.Config{}})
	assert.Nil(t, l)

	l = New(Params{Log: zap.NewNop(), Clock: fc, Config: config.Config{
		RateLimit: config.RateLimitConfig{Enabled: true, MerchantRate: 5, MerchantBurst: 10},
	}})
	require.NotNil(t, l)
	_, ok := l.bucket.(*MemoryBucket)
	assert.True(t, ok)
}
