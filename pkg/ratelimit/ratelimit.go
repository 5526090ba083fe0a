package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Decision 한 번의 요청에 대한 판정
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter 키(플레이어 ID 등)별 요청 제한
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// TokenBucket implements the token bucket algorithm for rate limiting
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a full bucket
func NewTokenBucket(capacity int64, refillRate float64, now time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: now,
	}
}

// take refills by elapsed time, then consumes one token if available
func (tb *TokenBucket) take(now time.Time) Decision {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)

	d := Decision{Limit: int(tb.capacity)}
	if tb.tokens >= 1 {
		tb.tokens--
		d.Allowed = true
		d.Remaining = int(tb.tokens)
		return d
	}

	if tb.refillRate > 0 {
		missing := 1 - tb.tokens
		d.RetryAfter = time.Duration(math.Ceil(missing / tb.refillRate * float64(time.Second)))
	} else {
		d.RetryAfter = time.Hour
	}
	return d
}

func (tb *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}
	tb.tokens = math.Min(tb.capacity, tb.tokens+elapsed.Seconds()*tb.refillRate)
	tb.lastRefill = now
}

// RateLimiter 프로세스 로컬 키별 token bucket
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*TokenBucket
	capacity   int64
	refillRate float64
	now        func() time.Time
}

var _ Limiter = (*RateLimiter)(nil)

// NewRateLimiter capacity만큼 burst를 허용하고 초당 refillRate개씩 채운다.
func NewRateLimiter(capacity int64, refillRate float64) *RateLimiter {
	return &RateLimiter{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// SetClock 테스트용 시계 주입
func (rl *RateLimiter) SetClock(now func() time.Time) {
	rl.now = now
}

func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := rl.now()
	return rl.bucket(key, now).take(now), nil
}

func (rl *RateLimiter) bucket(key string, now time.Time) *TokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = NewTokenBucket(rl.capacity, rl.refillRate, now)
		rl.buckets[key] = bucket
	}
	return bucket
}

// Cleanup 가득 찬 채로 idle 이상 쓰이지 않은 bucket 제거
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, bucket := range rl.buckets {
		bucket.mu.Lock()
		full := bucket.tokens+now.Sub(bucket.lastRefill).Seconds()*bucket.refillRate >= bucket.capacity
		unused := now.Sub(bucket.lastRefill) >= idle
		bucket.mu.Unlock()

		if full && unused {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// Run ctx가 끝날 때까지 주기적으로 Cleanup
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(interval)
		case <-ctx.Done():
			return
		}
	}
}

// Len 활성 bucket 수
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Reset 특정 키의 bucket 삭제
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}
