package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Tokens are returned as strings because Redis truncates Lua numbers to integers.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens)}
`

var (
	ErrEmptyKey     = errors.New("rate_limit_key_empty")
	ErrInvalidLimit = errors.New("rate_limit_invalid")
)

// Result describes a single admission decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Bucket admits one request per call against a token bucket keyed by key.
type Bucket interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (Result, error)
}

// RedisBucket shares bucket state across replicas.
type RedisBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisBucket(client *redis.Client) *RedisBucket {
	if client == nil {
		return nil
	}
	return &RedisBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

func (b *RedisBucket) Allow(ctx context.Context, key string, rate float64, burst int) (Result, error) {
	if err := validate(key, rate, burst); err != nil {
		return Result{}, err
	}

	ttl := bucketTTL(rate, burst)
	res, err := b.script.Run(ctx, b.client, []string{key}, rate, burst, ttl.Milliseconds()).Slice()
	if err != nil {
		return Result{}, err
	}
	if len(res) < 2 {
		return Result{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}

	allowed, _ := res[0].(int64)
	remaining := parseTokens(res[1])
	return decide(allowed == 1, remaining, rate, burst), nil
}

func validate(key string, rate float64, burst int) error {
	if key == "" {
		return ErrEmptyKey
	}
	if rate <= 0 || burst <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return ErrInvalidLimit
	}
	return nil
}

func decide(allowed bool, remaining, rate float64, burst int) Result {
	res := Result{Allowed: allowed, Limit: burst, Remaining: int(math.Floor(remaining))}
	if !allowed {
		if needed := 1 - remaining; needed > 0 {
			res.RetryAfter = time.Duration(needed / rate * float64(time.Second))
		}
	}
	return res
}

func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil((float64(burst) / rate) * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

func parseTokens(v any) float64 {
	switch val := v.(type) {
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return f
	case int64:
		return float64(val)
	case float64:
		return val
	default:
		return 0
	}
}
