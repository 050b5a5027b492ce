package ratelimit

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fxpay/internal/apperror"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyMerchantPayments = "fxpay:ratelimit:payments:%s"

var ErrMerchantRateLimited = apperror.RateLimited("merchant_rate_limited")

type Params struct {
	fx.In

	Log    *zap.Logger
	Clock  clock.Clock
	Config config.Config
	Redis  *redis.Client `optional:"true"`
}

// Limiter throttles payment creation per merchant. A nil Limiter admits
// everything.
type Limiter struct {
	log    *zap.Logger
	bucket Bucket
	rate   float64
	burst  int
}

func New(p Params) *Limiter {
	cfg := p.Config.RateLimit
	if !cfg.Enabled || cfg.MerchantRate <= 0 || cfg.MerchantBurst <= 0 {
		return nil
	}

	var bucket Bucket = NewMemoryBucket(p.Clock.Now)
	if rb := NewRedisBucket(p.Redis); rb != nil {
		bucket = rb
	}
	return NewWithBucket(p.Log, bucket, cfg.MerchantRate, cfg.MerchantBurst)
}

func NewWithBucket(log *zap.Logger, bucket Bucket, rate float64, burst int) *Limiter {
	return &Limiter{
		log:    log.Named("ratelimit"),
		bucket: bucket,
		rate:   rate,
		burst:  burst,
	}
}

// AllowMerchant fails open when the bucket store errors.
func (l *Limiter) AllowMerchant(ctx context.Context, merchantID snowflake.ID) error {
	if l == nil {
		return nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyMerchantPayments, merchantID), l.rate, l.burst)
	if err != nil {
		l.log.Warn("rate limit check failed", zap.String("merchant_id", merchantID.String()), zap.Error(err))
		return nil
	}
	if !res.Allowed {
		l.log.Info("merchant rate limited",
			zap.String("merchant_id", merchantID.String()),
			zap.Duration("retry_after", res.RetryAfter),
		)
		return ErrMerchantRateLimited
	}
	return nil
}
