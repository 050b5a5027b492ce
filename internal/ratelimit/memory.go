package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

const pruneEvery = time.Minute

type bucketState struct {
	tokens float64
	last   time.Time
	ttl    time.Duration
}

// MemoryBucket keeps bucket state in-process.
type MemoryBucket struct {
	now func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucketState
	lastPrune time.Time
}

func NewMemoryBucket(now func() time.Time) *MemoryBucket {
	if now == nil {
		now = time.Now
	}
	return &MemoryBucket{now: now, buckets: make(map[string]*bucketState)}
}

func (b *MemoryBucket) Allow(_ context.Context, key string, rate float64, burst int) (Result, error) {
	if err := validate(key, rate, burst); err != nil {
		return Result{}, err
	}

	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(now)

	st, ok := b.buckets[key]
	if !ok {
		st = &bucketState{tokens: float64(burst), last: now}
		b.buckets[key] = st
	} else if elapsed := now.Sub(st.last); elapsed > 0 {
		st.tokens = math.Min(float64(burst), st.tokens+elapsed.Seconds()*rate)
		st.last = now
	}
	st.ttl = bucketTTL(rate, burst)

	allowed := st.tokens >= 1
	if allowed {
		st.tokens--
	}
	return decide(allowed, st.tokens, rate, burst), nil
}

// prune drops idle buckets. A dropped bucket would have refilled to full anyway.
func (b *MemoryBucket) prune(now time.Time) {
	if now.Sub(b.lastPrune) < pruneEvery {
		return
	}
	b.lastPrune = now
	for key, st := range b.buckets {
		if now.Sub(st.last) > st.ttl {
			delete(b.buckets, key)
		}
	}
}
