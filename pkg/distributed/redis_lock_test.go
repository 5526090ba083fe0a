package distributed

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // 테스트용 DB
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skip("Redis not available:", err)
	}

	client.FlushDB(ctx)
	t.Cleanup(func() { client.Close() })

	return client
}

func TestRedisLock_AcquireAndRelease(t *testing.T) {
	client := setupRedisClient(t)
	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "test:lock", "instance1", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock)

	// 같은 키는 다시 얻을 수 없음
	lock2, err := manager.AcquireLock(ctx, "test:lock", "instance2", 5*time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.Nil(t, lock2)

	require.NoError(t, lock.Release(ctx))

	lock3, err := manager.AcquireLock(ctx, "test:lock", "instance3", 5*time.Second)
	require.NoError(t, err)
	defer lock3.Release(ctx)
}

func TestRedisLock_SafeRelease(t *testing.T) {
	client := setupRedisClient(t)
	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock1, err := manager.AcquireLock(ctx, "test:safe", "instance1", 200*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)

	lock2, err := manager.AcquireLock(ctx, "test:safe", "instance2", 5*time.Second)
	require.NoError(t, err)
	defer lock2.Release(ctx)

	// 만료된 락의 주인은 새 주인의 락을 해제하지 못한다
	err = lock1.Release(ctx)
	assert.ErrorIs(t, err, ErrLockNotHeld)

	value, err := client.Get(ctx, "test:safe").Result()
	require.NoError(t, err)
	assert.Equal(t, "instance2", value)
}

func TestTickGuard_SingleHolder(t *testing.T) {
	client := setupRedisClient(t)
	ctx := context.Background()

	first := NewTickGuard(client, "test:matcher:lock", 5*time.Second, nil)
	second := NewTickGuard(client, "test:matcher:lock", 5*time.Second, nil)
	assert.NotEqual(t, first.InstanceID(), second.InstanceID())

	release, ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second instance must skip while the first holds the guard")

	release()

	release2, ok, err := second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestTickGuard_ConcurrentAcquire(t *testing.T) {
	client := setupRedisClient(t)
	ctx := context.Background()

	const instances = 10
	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		start   = make(chan struct{})
	)

	releases := make(chan func(), instances)
	for i := 0; i < instances; i++ {
		guard := NewTickGuard(client, "test:matcher:concurrent", 5*time.Second, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			release, ok, err := guard.Acquire(ctx)
			if err == nil && ok {
				holders.Add(1)
				releases <- release
			}
		}()
	}
	close(start)
	wg.Wait()
	close(releases)

	assert.Equal(t, int32(1), holders.Load())
	for release := range releases {
		release()
	}
}

func TestRedisLock_Extend(t *testing.T) {
	client := setupRedisClient(t)
	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "test:extend", "instance1", 200*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, lock.Extend(ctx, 5*time.Second))
	ttl, err := client.PTTL(ctx, "test:extend").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Second)

	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Extend(ctx, time.Second), ErrLockNotHeld)
}

func TestTickGuard_HeldPastTTL(t *testing.T) {
	client := setupRedisClient(t)
	ctx := context.Background()

	const ttl = 150 * time.Millisecond
	first := NewTickGuard(client, "test:matcher:slow", ttl, nil)
	second := NewTickGuard(client, "test:matcher:slow", ttl, nil)

	release, ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// tick이 ttl보다 오래 걸려도 락은 유지된다
	time.Sleep(4 * ttl)
	_, ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release()

	release2, ok, err := second.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	release2()
}
