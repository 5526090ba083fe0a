package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skybattle/matchmaking-service/internal/models"
)

type waitingItem struct {
	playerID string
	rating   int
	sequence uint64
}

func (a *waitingItem) less(b *waitingItem) bool {
	if a.rating == b.rating {
		return a.sequence < b.sequence
	}
	return a.rating < b.rating
}

type memoryRecord struct {
	record    models.PlayerRecord
	expiresAt time.Time
}

// MemoryQueueStore 단일 프로세스용 QueueStore. 모든 연산은 하나의 mutex로 직렬화된다.
type MemoryQueueStore struct {
	mu        sync.Mutex
	entries   []*waitingItem
	positions map[string]int
	sequence  uint64
	records   map[string]memoryRecord
	now       func() time.Time
}

// NewMemoryQueueStore 메모리 큐 생성. now가 nil이면 time.Now를 사용한다.
func NewMemoryQueueStore(now func() time.Time) *MemoryQueueStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryQueueStore{
		entries:   make([]*waitingItem, 0, 64),
		positions: make(map[string]int, 64),
		records:   make(map[string]memoryRecord, 64),
		now:       now,
	}
}

func (s *MemoryQueueStore) Add(ctx context.Context, playerID string, rating int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(playerID, rating)
	return nil
}

func (s *MemoryQueueStore) Remove(ctx context.Context, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(playerID)
	return nil
}

func (s *MemoryQueueStore) Rank(ctx context.Context, playerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.positions[playerID]
	if !ok {
		return 0, ErrNotQueued
	}
	return idx, nil
}

func (s *MemoryQueueStore) Size(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *MemoryQueueStore) SnapshotLowestN(ctx context.Context, n int) ([]models.RankedPlayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}

	snapshot := make([]models.RankedPlayer, 0, n)
	for _, item := range s.entries[:n] {
		snapshot = append(snapshot, models.RankedPlayer{PlayerID: item.playerID, Rating: item.rating})
	}
	return snapshot, nil
}

func (s *MemoryQueueStore) Put(ctx context.Context, record *models.PlayerRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(record, ttl)
	return nil
}

func (s *MemoryQueueStore) Get(ctx context.Context, playerID string) (*models.PlayerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.getLocked(playerID)
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

func (s *MemoryQueueStore) Delete(ctx context.Context, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, playerID)
	return nil
}

func (s *MemoryQueueStore) Refresh(ctx context.Context, playerID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.getLocked(playerID)
	if !ok {
		return ErrRecordNotFound
	}
	s.putLocked(&rec, ttl)
	return nil
}

func (s *MemoryQueueStore) Enqueue(ctx context.Context, record *models.PlayerRecord, ttl time.Duration) (*models.PlayerRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, queued := s.positions[record.PlayerID]; queued {
		if existing, ok := s.getLocked(record.PlayerID); ok {
			return &existing, true, nil
		}
	}

	s.putLocked(record, ttl)
	s.addLocked(record.PlayerID, record.Rating)
	stored := *record
	return &stored, false, nil
}

func (s *MemoryQueueStore) Requeue(ctx context.Context, record *models.PlayerRecord, ttl time.Duration) (*models.PlayerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := *record
	if _, queued := s.positions[record.PlayerID]; queued {
		if existing, ok := s.getLocked(record.PlayerID); ok {
			updated.JoinedAt = existing.JoinedAt
		}
	}

	s.putLocked(&updated, ttl)
	s.addLocked(updated.PlayerID, updated.Rating)
	return &updated, nil
}

func (s *MemoryQueueStore) Dequeue(ctx context.Context, playerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, hadRecord := s.records[playerID]
	delete(s.records, playerID)
	removed := s.removeLocked(playerID)
	return removed || hadRecord, nil
}

func (s *MemoryQueueStore) PurgeStale(ctx context.Context, playerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.getLocked(playerID); ok {
		return false, nil
	}
	return s.removeLocked(playerID), nil
}

// getLocked 만료된 레코드는 여기서 지연 삭제한다.
func (s *MemoryQueueStore) getLocked(playerID string) (models.PlayerRecord, bool) {
	stored, ok := s.records[playerID]
	if !ok {
		return models.PlayerRecord{}, false
	}
	if !s.now().Before(stored.expiresAt) {
		delete(s.records, playerID)
		return models.PlayerRecord{}, false
	}
	return stored.record, true
}

func (s *MemoryQueueStore) putLocked(record *models.PlayerRecord, ttl time.Duration) {
	s.records[record.PlayerID] = memoryRecord{
		record:    *record,
		expiresAt: s.now().Add(ttl),
	}
}

func (s *MemoryQueueStore) addLocked(playerID string, rating int) {
	var sequence uint64
	if idx, ok := s.positions[playerID]; ok {
		existing := s.entries[idx]
		if existing.rating == rating {
			return
		}
		sequence = existing.sequence
		s.removeLocked(playerID)
	} else {
		s.sequence++
		sequence = s.sequence
	}

	item := &waitingItem{playerID: playerID, rating: rating, sequence: sequence}
	idx := sort.Search(len(s.entries), func(i int) bool {
		return item.less(s.entries[i])
	})

	s.entries = append(s.entries, nil)
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = item
	s.reindex(idx)
}

func (s *MemoryQueueStore) removeLocked(playerID string) bool {
	idx, ok := s.positions[playerID]
	if !ok {
		return false
	}
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	delete(s.positions, playerID)
	s.reindex(idx)
	return true
}

func (s *MemoryQueueStore) reindex(start int) {
	for i := start; i < len(s.entries); i++ {
		s.positions[s.entries[i].playerID] = i
	}
}

type memoryResult struct {
	group     *models.MatchGroup
	expiresAt time.Time
}

// MemoryResultStore 단일 프로세스용 MatchResultStore
type MemoryResultStore struct {
	mu      sync.Mutex
	results map[string]memoryResult
	now     func() time.Time
}

func NewMemoryResultStore(now func() time.Time) *MemoryResultStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryResultStore{
		results: make(map[string]memoryResult),
		now:     now,
	}
}

func (s *MemoryResultStore) PutResult(ctx context.Context, playerID string, group *models.MatchGroup, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[playerID] = memoryResult{group: group, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryResultStore) TakeResult(ctx context.Context, playerID string) (*models.MatchGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.results[playerID]
	if !ok {
		return nil, ErrNoResult
	}
	delete(s.results, playerID)

	if !s.now().Before(stored.expiresAt) {
		return nil, ErrNoResult
	}
	return stored.group, nil
}

func (s *MemoryResultStore) HasResult(ctx context.Context, playerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.results[playerID]
	return ok && s.now().Before(stored.expiresAt), nil
}

// Sweep 만료된 결과 정리. 정리한 개수를 반환한다.
func (s *MemoryResultStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	swept := 0
	for playerID, stored := range s.results {
		if !now.Before(stored.expiresAt) {
			delete(s.results, playerID)
			swept++
		}
	}
	return swept
}
