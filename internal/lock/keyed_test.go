package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := km.Lock("merchant-1")
			defer release()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, km.size(), "idle keys are released")
}

func TestNilRedisLocker(t *testing.T) {
	var l *RedisLocker
	_, ok, err := l.TryLock(context.Background(), "k", time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, l.Release(context.Background(), "k", "t"))
	assert.Nil(t, NewRedisLocker(nil))
}
