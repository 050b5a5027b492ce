package velocity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "fxpay:velocity:"

// Members are "<amount>|<uuid>" scored by event time in milliseconds.
const recordScript = `
local cutoff = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local member = ARGV[3]
local ttl = tonumber(ARGV[4])

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", cutoff)
local members = redis.call("ZRANGE", KEYS[1], 0, -1)
local total = 0
for _, m in ipairs(members) do
  local sep = string.find(m, "|", 1, true)
  if sep then
    total = total + tonumber(string.sub(m, 1, sep - 1))
  end
end

redis.call("ZADD", KEYS[1], now, member)
redis.call("PEXPIRE", KEYS[1], ttl)

return {#members, tostring(total)}
`

var ErrNotConfigured = errors.New("velocity_tracker_not_configured")

// RedisTracker shares velocity windows across replicas. Keys expire with their window.
type RedisTracker struct {
	client *redis.Client
	script *redis.Script
	now    func() time.Time
}

func NewRedisTracker(client *redis.Client, now func() time.Time) *RedisTracker {
	if client == nil {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &RedisTracker{
		client: client,
		script: redis.NewScript(recordScript),
		now:    now,
	}
}

func (t *RedisTracker) Record(ctx context.Context, key string, amount float64, window time.Duration) (Window, error) {
	if t == nil || t.client == nil {
		return Window{}, ErrNotConfigured
	}
	now := t.now()
	member := strconv.FormatFloat(amount, 'f', -1, 64) + "|" + uuid.NewString()

	res, err := t.script.Run(
		ctx,
		t.client,
		[]string{keyPrefix + key},
		now.Add(-window).UnixMilli(),
		now.UnixMilli(),
		member,
		window.Milliseconds(),
	).Slice()
	if err != nil {
		return Window{}, err
	}
	if len(res) < 2 {
		return Window{}, errors.New("invalid velocity script response")
	}

	count, ok := res[0].(int64)
	if !ok {
		return Window{}, fmt.Errorf("unexpected velocity count type %T", res[0])
	}
	totalRaw, ok := res[1].(string)
	if !ok {
		return Window{}, fmt.Errorf("unexpected velocity total type %T", res[1])
	}
	total, err := strconv.ParseFloat(totalRaw, 64)
	if err != nil {
		return Window{}, err
	}
	return Window{Count: int(count), Amount: total}, nil
}

func (t *RedisTracker) Sweep(context.Context) (int, error) {
	return 0, nil
}

// NewTracker prefers Redis when a client is configured.
func NewTracker(client *redis.Client, now func() time.Time) Tracker {
	if rt := NewRedisTracker(client, now); rt != nil {
		return rt
	}
	return NewMemoryTracker(now)
}
