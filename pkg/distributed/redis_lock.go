package distributed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

var (
	// 자신이 획득한 락만 해제
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)

	// 자신이 획득한 락만 연장
	extendScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

// RedisLock Redis 기반 분산 락
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
}

// RedisLockManager Redis 분산 락 관리자
type RedisLockManager struct {
	client *redis.Client
}

func NewRedisLockManager(client *redis.Client) *RedisLockManager {
	return &RedisLockManager{client: client}
}

// AcquireLock SET NX로 원자적 락 획득 시도
func (m *RedisLockManager) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (*RedisLock, error) {
	success, err := m.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, err
	}

	if !success {
		return nil, ErrLockNotAcquired
	}

	return &RedisLock{
		client: m.client,
		key:    key,
		value:  value,
	}, nil
}

// Release 락 해제
func (l *RedisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}

	if result == 0 {
		return ErrLockNotHeld
	}

	return nil
}

// Extend 락 TTL을 다시 ttl로 설정한다. 다른 인스턴스가 가져간 락이면 ErrLockNotHeld.
func (l *RedisLock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}

	if result == 0 {
		return ErrLockNotHeld
	}

	return nil
}

// TickGuard 매처 tick 하나를 한 인스턴스에서만 실행하도록 막는 락.
// 락을 얻지 못한 인스턴스는 해당 tick을 건너뛴다.
type TickGuard struct {
	manager    *RedisLockManager
	key        string
	instanceID string
	ttl        time.Duration
	logger     *zap.Logger
}

// NewTickGuard 락을 잡고 있는 동안 ttl/3마다 TTL을 연장하므로
// tick이 ttl보다 오래 걸려도 다른 인스턴스가 락을 가져가지 못한다.
// 프로세스가 죽으면 최대 ttl 뒤에 락이 풀린다.
func NewTickGuard(client *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *TickGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TickGuard{
		manager:    NewRedisLockManager(client),
		key:        key,
		instanceID: uuid.New().String(),
		ttl:        ttl,
		logger:     logger,
	}
}

// InstanceID 락 값으로 쓰는 인스턴스 식별자
func (g *TickGuard) InstanceID() string {
	return g.instanceID
}

// Acquire 락을 얻으면 해제 함수와 true를 반환한다.
func (g *TickGuard) Acquire(ctx context.Context) (func(), bool, error) {
	lock, err := g.manager.AcquireLock(ctx, g.key, g.instanceID, g.ttl)
	if errors.Is(err, ErrLockNotAcquired) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go g.keepAlive(lock, stop, stopped)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-stopped

			// tick context가 이미 취소되었을 수 있으므로 별도 context 사용
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = lock.Release(releaseCtx)
		})
	}
	return release, true, nil
}

// keepAlive release 전까지 락 TTL을 주기적으로 연장한다.
func (g *TickGuard) keepAlive(lock *RedisLock, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	interval := g.ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := lock.Extend(ctx, g.ttl)
			cancel()

			if errors.Is(err, ErrLockNotHeld) {
				g.logger.Error("Tick guard lost while tick still running",
					zap.String("key", g.key),
					zap.String("instanceId", g.instanceID))
				return
			}
			if err != nil {
				g.logger.Warn("Failed to extend tick guard",
					zap.String("key", g.key),
					zap.Error(err))
			}
		}
	}
}
