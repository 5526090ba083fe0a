package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisRateLimiter 테스트마다 miniredis 인스턴스를 띄운다
func setupRedisRateLimiter(t *testing.T, capacity int64, refillRate float64) (*RedisRateLimiter, *fakeClock) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := newFakeClock()
	limiter := NewRedisRateLimiter(client, "test:ratelimit:", capacity, refillRate)
	limiter.SetClock(clock.Now)
	return limiter, clock
}

func TestRedisRateLimiter_Allow(t *testing.T) {
	limiter, _ := setupRedisRateLimiter(t, 3, 1)
	ctx := context.Background()
	key := "player:123"
	require.NoError(t, limiter.Reset(ctx, key))
	defer limiter.Reset(ctx, key)

	t.Run("제한 내 요청은 모두 허용", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			d, err := limiter.Allow(ctx, key)
			require.NoError(t, err)
			assert.True(t, d.Allowed, "request %d", i+1)
			assert.Equal(t, 2-i, d.Remaining)
		}
	})

	t.Run("제한 초과 요청은 거부", func(t *testing.T) {
		d, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, time.Second, d.RetryAfter)
	})
}

func TestRedisRateLimiter_Refill(t *testing.T) {
	limiter, clock := setupRedisRateLimiter(t, 2, 1)
	ctx := context.Background()
	key := "player:refill"
	require.NoError(t, limiter.Reset(ctx, key))
	defer limiter.Reset(ctx, key)

	limiter.Allow(ctx, key)
	limiter.Allow(ctx, key)
	d, err := limiter.Allow(ctx, key)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	clock.Advance(time.Second)

	d, err = limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisRateLimiter_Reset(t *testing.T) {
	limiter, _ := setupRedisRateLimiter(t, 1, 0.01)
	ctx := context.Background()
	key := "player:reset"
	require.NoError(t, limiter.Reset(ctx, key))

	d, _ := limiter.Allow(ctx, key)
	require.True(t, d.Allowed)
	d, _ = limiter.Allow(ctx, key)
	require.False(t, d.Allowed)

	require.NoError(t, limiter.Reset(ctx, key))

	d, err := limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	limiter.Reset(ctx, key)
}

func TestRedisRateLimiter_MultipleKeys(t *testing.T) {
	limiter, _ := setupRedisRateLimiter(t, 1, 0.01)
	ctx := context.Background()
	keys := []string{"player:a", "player:b"}
	for _, key := range keys {
		require.NoError(t, limiter.Reset(ctx, key))
		defer limiter.Reset(ctx, key)
	}

	for _, key := range keys {
		d, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, d.Allowed, key)
	}
}
