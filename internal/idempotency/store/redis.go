package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fxpay/internal/idempotency/domain"
)

const keyPrefix = "fxpay:idempotency:"

// RedisStore keeps records in Redis so replicas share one view. Expiry is native.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{client: client}
}

func (s *RedisStore) Reserve(ctx context.Context, key string, now time.Time, ttl time.Duration) (domain.Record, bool, error) {
	rec := domain.Record{
		Key:       key,
		Status:    domain.StatusProcessing,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return domain.Record{}, false, err
	}

	// A record can expire between SETNX and GET; one retry covers that window.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, keyPrefix+key, payload, ttl).Result()
		if err != nil {
			return domain.Record{}, false, err
		}
		if ok {
			return rec, true, nil
		}
		existing, err := s.Get(ctx, key, now)
		if err != nil {
			return domain.Record{}, false, err
		}
		if existing != nil {
			return *existing, false, nil
		}
	}
	return domain.Record{}, false, errors.New("idempotency reserve contention")
}

func (s *RedisStore) Finish(ctx context.Context, rec domain.Record, _ time.Time) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = s.client.SetArgs(ctx, keyPrefix+rec.Key, payload, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return domain.ErrRecordNotFound
	}
	return err
}

func (s *RedisStore) Get(ctx context.Context, key string, _ time.Time) (*domain.Record, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec domain.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

// New prefers Redis when a client is configured.
func New(client *redis.Client, now func() time.Time) domain.Store {
	if rs := NewRedisStore(client); rs != nil {
		return rs
	}
	return NewMemoryStore(now)
}
