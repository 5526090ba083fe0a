package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Token bucket 상태를 hash 하나(tokens, ts)에 저장한다. 시간 단위는 ms.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local capacity = tonumber(ARGV[1])
	local rate = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local state = redis.call('HMGET', key, 'tokens', 'ts')
	local tokens = tonumber(state[1])
	local ts = tonumber(state[2])
	if tokens == nil or ts == nil then
		tokens = capacity
		ts = now
	end

	local elapsed = math.max(0, now - ts)
	tokens = math.min(capacity, tokens + elapsed * rate)

	local allowed = 0
	local retry = 0
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	elseif rate > 0 then
		retry = math.ceil((1 - tokens) / rate)
	else
		retry = ttl
	end

	redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', now)
	redis.call('PEXPIRE', key, ttl)

	return {allowed, math.floor(tokens), retry}
`)

// RedisRateLimiter 여러 인스턴스가 공유하는 token bucket
type RedisRateLimiter struct {
	client     *redis.Client
	keyPrefix  string
	capacity   int64
	refillRate float64 // tokens per second
	now        func() time.Time
}

var _ Limiter = (*RedisRateLimiter)(nil)

func NewRedisRateLimiter(client *redis.Client, keyPrefix string, capacity int64, refillRate float64) *RedisRateLimiter {
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	return &RedisRateLimiter{
		client:     client,
		keyPrefix:  keyPrefix,
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// SetClock 테스트용 시계 주입
func (r *RedisRateLimiter) SetClock(now func() time.Time) {
	r.now = now
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	ttl := r.bucketTTL()
	result, err := tokenBucketScript.Run(ctx, r.client,
		[]string{r.keyPrefix + key},
		r.capacity,
		r.refillRate/1000, // tokens per ms
		r.now().UnixMilli(),
		ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit script failed: %w", err)
	}
	if len(result) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit script result: %v", result)
	}

	return Decision{
		Allowed:    result[0] == 1,
		Limit:      int(r.capacity),
		Remaining:  int(result[1]),
		RetryAfter: time.Duration(result[2]) * time.Millisecond,
	}, nil
}

// bucketTTL 빈 bucket이 가득 찰 때까지 걸리는 시간의 두 배
func (r *RedisRateLimiter) bucketTTL() time.Duration {
	if r.refillRate <= 0 {
		return time.Hour
	}
	fill := time.Duration(float64(r.capacity) / r.refillRate * float64(time.Second))
	if fill < time.Second {
		fill = time.Second
	}
	return 2 * fill
}

// Reset 특정 키의 bucket 삭제
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}
