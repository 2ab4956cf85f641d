package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Locker = (*Local)(nil)
	_ Locker = (*Redis)(nil)
)

func TestLocalSerialisesSameKey(t *testing.T) {
	l := NewLocal()
	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "demo")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Zero(t, l.size(), "idle keys should be dropped")
}

func TestLocalDistinctKeysDoNotBlock(t *testing.T) {
	l := NewLocal()

	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalWaitHonoursContext(t *testing.T) {
	l := NewLocal()

	unlock, err := l.Lock(context.Background(), "demo")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "demo")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Zero(t, l.size())
}

func TestRedisKeyNamespace(t *testing.T) {
	r, err := NewRedis(RedisConfig{Addr: "localhost:6379", Namespace: "h5p"})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "h5p:lock:demo", r.redisKey("demo"))
	assert.Equal(t, 5*time.Minute, r.ttl)
}

func TestRedisLockFailsWhenUnreachable(t *testing.T) {
	r, err := NewRedis(RedisConfig{Addr: "127.0.0.1:1"})
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = r.Lock(ctx, "demo")
	assert.Error(t, err)
}

func TestNewRedisRequiresAddr(t *testing.T) {
	_, err := NewRedis(RedisConfig{})
	assert.Error(t, err)
}
