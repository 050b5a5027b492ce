package store

import (
	"context"
	"time"

	"github.com/smallbiznis/fxpay/internal/cache"
	"github.com/smallbiznis/fxpay/internal/idempotency/domain"
)

type MemoryStore struct {
	records cache.Cache[string, domain.Record]
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	return &MemoryStore{records: cache.NewTTLCacheWithClock[string, domain.Record](now)}
}

func (s *MemoryStore) Reserve(_ context.Context, key string, now time.Time, ttl time.Duration) (domain.Record, bool, error) {
	var (
		out      domain.Record
		reserved bool
	)
	s.records.Update(key, ttl, func(cur domain.Record, exists bool) (domain.Record, bool) {
		if exists && !cur.Expired(now) {
			out = cur
			return cur, true
		}
		reserved = true
		out = domain.Record{
			Key:       key,
			Status:    domain.StatusProcessing,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		return out, true
	})
	return out, reserved, nil
}

func (s *MemoryStore) Finish(_ context.Context, rec domain.Record, now time.Time) error {
	ttl := rec.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return domain.ErrRecordNotFound
	}
	var found bool
	s.records.Update(rec.Key, ttl, func(cur domain.Record, exists bool) (domain.Record, bool) {
		if !exists || cur.Expired(now) {
			return cur, false
		}
		found = true
		rec.CreatedAt = cur.CreatedAt
		rec.ExpiresAt = cur.ExpiresAt
		return rec, true
	})
	if !found {
		return domain.ErrRecordNotFound
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string, now time.Time) (*domain.Record, error) {
	rec, ok := s.records.Get(key)
	if !ok || rec.Expired(now) {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Sweep(context.Context, time.Time) (int, error) {
	return s.records.Sweep(), nil
}
