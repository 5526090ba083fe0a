package repository

import (
	"context"
	"errors"
	"time"

	"github.com/skybattle/matchmaking-service/internal/models"
)

var (
	ErrNotQueued      = errors.New("player not queued")
	ErrRecordNotFound = errors.New("player record not found")
	ErrNoResult       = errors.New("match result not found")
)

// WaitingSet rating 순으로 정렬된 대기열
type WaitingSet interface {
	// Add 이미 있는 playerID면 rating만 갱신하고 삽입 순서는 유지한다.
	Add(ctx context.Context, playerID string, rating int) error
	// Remove 없는 playerID는 no-op.
	Remove(ctx context.Context, playerID string) error
	// Rank 0부터 시작하는 위치. 대기열에 없으면 ErrNotQueued.
	Rank(ctx context.Context, playerID string) (int, error)
	Size(ctx context.Context) (int, error)
	// SnapshotLowestN rating 오름차순, 같은 rating은 먼저 들어온 순.
	SnapshotLowestN(ctx context.Context, n int) ([]models.RankedPlayer, error)
}

// PlayerRecordStore 플레이어별 임시 메타데이터 (절대 만료 시각)
type PlayerRecordStore interface {
	Put(ctx context.Context, record *models.PlayerRecord, ttl time.Duration) error
	// Get 없거나 만료되었으면 ErrRecordNotFound.
	Get(ctx context.Context, playerID string) (*models.PlayerRecord, error)
	Delete(ctx context.Context, playerID string) error
	// Refresh 만료 시각 연장. 레코드가 없으면 ErrRecordNotFound.
	Refresh(ctx context.Context, playerID string, ttl time.Duration) error
}

// QueueStore Waiting Set과 Player Record Store를 함께 다루는 복합 연산.
// 각 복합 연산은 같은 playerID에 대한 다른 연산과 원자적으로 실행된다.
type QueueStore interface {
	WaitingSet
	PlayerRecordStore

	// Enqueue 대기열에 없으면 레코드와 항목을 추가하고 (record, false)를 반환한다.
	// 이미 대기 중이면 아무것도 바꾸지 않고 (기존 레코드, true)를 반환한다.
	Enqueue(ctx context.Context, record *models.PlayerRecord, ttl time.Duration) (*models.PlayerRecord, bool, error)
	// Requeue 기존 joined_at을 유지한 채 rating/mode/region을 갱신한다.
	// 대기 중이 아니면 Enqueue와 같다.
	Requeue(ctx context.Context, record *models.PlayerRecord, ttl time.Duration) (*models.PlayerRecord, error)
	// Dequeue 두 저장소에서 모두 제거. 제거된 것이 있었는지 반환한다.
	Dequeue(ctx context.Context, playerID string) (bool, error)
	// PurgeStale 레코드가 없을 때만 대기열 항목을 제거한다 (compare-and-remove).
	PurgeStale(ctx context.Context, playerID string) (bool, error)
}

// MatchResultStore 한 번만 소비되는 매칭 결과 저장소
type MatchResultStore interface {
	PutResult(ctx context.Context, playerID string, group *models.MatchGroup, ttl time.Duration) error
	// TakeResult 결과를 읽고 삭제한다. 없으면 ErrNoResult.
	TakeResult(ctx context.Context, playerID string) (*models.MatchGroup, error)
	// HasResult 아직 소비되지 않은 결과가 있는지 확인한다. 결과는 그대로 남는다.
	HasResult(ctx context.Context, playerID string) (bool, error)
}
