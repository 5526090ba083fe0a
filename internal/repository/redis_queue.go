package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/skybattle/matchmaking-service/internal/models"
)

// Sorted Set member는 "<sequence 20자리>|<playerID>" 형태.
// 같은 rating(score)은 member 사전순으로 정렬되므로 먼저 들어온 플레이어가 앞에 온다.
const memberSeparator = "|"

// addMemberLua 는 다른 스크립트 앞에 붙여 쓰는 공통 함수
const addMemberLua = `
local function add_member(queue_key, members_key, seq_key, player_id, rating)
	local member = redis.call('HGET', members_key, player_id)
	if not member then
		local seq = redis.call('INCR', seq_key)
		member = string.format('%020d', seq) .. '|' .. player_id
		redis.call('HSET', members_key, player_id, member)
	end
	redis.call('ZADD', queue_key, rating, member)
end

local function remove_member(queue_key, members_key, player_id)
	local member = redis.call('HGET', members_key, player_id)
	if not member then
		return 0
	end
	redis.call('ZREM', queue_key, member)
	redis.call('HDEL', members_key, player_id)
	return 1
end
`

var (
	// KEYS: queue, members, seq / ARGV: player_id, rating
	addScript = redis.NewScript(addMemberLua + `
		add_member(KEYS[1], KEYS[2], KEYS[3], ARGV[1], tonumber(ARGV[2]))
		return 1
	`)

	// KEYS: queue, members / ARGV: player_id
	removeScript = redis.NewScript(addMemberLua + `
		return remove_member(KEYS[1], KEYS[2], ARGV[1])
	`)

	// KEYS: queue, members / ARGV: player_id
	rankScript = redis.NewScript(`
		local member = redis.call('HGET', KEYS[2], ARGV[1])
		if not member then
			return -1
		end
		local rank = redis.call('ZRANK', KEYS[1], member)
		if not rank then
			return -1
		end
		return rank
	`)

	// KEYS: queue, members, seq, record / ARGV: player_id, rating, record_json, ttl_ms
	enqueueScript = redis.NewScript(addMemberLua + `
		local queued = redis.call('HEXISTS', KEYS[2], ARGV[1])
		if queued == 1 then
			local existing = redis.call('GET', KEYS[4])
			if existing then
				return {1, existing}
			end
		end
		redis.call('SET', KEYS[4], ARGV[3], 'PX', ARGV[4])
		add_member(KEYS[1], KEYS[2], KEYS[3], ARGV[1], tonumber(ARGV[2]))
		return {0, ARGV[3]}
	`)

	// KEYS: queue, members, seq, record / ARGV: player_id, rating, record_json, ttl_ms
	requeueScript = redis.NewScript(addMemberLua + `
		local record = ARGV[3]
		local queued = redis.call('HEXISTS', KEYS[2], ARGV[1])
		if queued == 1 then
			local existing = redis.call('GET', KEYS[4])
			if existing then
				local updated = cjson.decode(record)
				updated.joined_at = cjson.decode(existing).joined_at
				record = cjson.encode(updated)
			end
		end
		redis.call('SET', KEYS[4], record, 'PX', ARGV[4])
		add_member(KEYS[1], KEYS[2], KEYS[3], ARGV[1], tonumber(ARGV[2]))
		return record
	`)

	// KEYS: queue, members, record / ARGV: player_id
	dequeueScript = redis.NewScript(addMemberLua + `
		local deleted = redis.call('DEL', KEYS[3])
		local removed = remove_member(KEYS[1], KEYS[2], ARGV[1])
		return deleted + removed
	`)

	// KEYS: queue, members, record / ARGV: player_id
	purgeStaleScript = redis.NewScript(addMemberLua + `
		if redis.call('EXISTS', KEYS[3]) == 1 then
			return 0
		end
		return remove_member(KEYS[1], KEYS[2], ARGV[1])
	`)
)

// RedisQueueStore Redis 기반 QueueStore. 여러 인스턴스가 같은 대기열을 공유할 수 있다.
type RedisQueueStore struct {
	client     *redis.Client
	queueKey   string // Sorted Set (score = rating)
	membersKey string // Hash (playerID -> member)
	seqKey     string // 삽입 순서 카운터
	prefix     string
}

// NewRedisQueueStore Redis Queue Store 생성
func NewRedisQueueStore(client *redis.Client, prefix string) *RedisQueueStore {
	if prefix == "" {
		prefix = "matchmaking"
	}
	return &RedisQueueStore{
		client:     client,
		queueKey:   prefix + ":queue",
		membersKey: prefix + ":queue:members",
		seqKey:     prefix + ":queue:seq",
		prefix:     prefix,
	}
}

func (s *RedisQueueStore) recordKey(playerID string) string {
	return fmt.Sprintf("%s:player:%s", s.prefix, playerID)
}

func (s *RedisQueueStore) Add(ctx context.Context, playerID string, rating int) error {
	keys := []string{s.queueKey, s.membersKey, s.seqKey}
	if err := addScript.Run(ctx, s.client, keys, playerID, rating).Err(); err != nil {
		return fmt.Errorf("failed to add to waiting set: %w", err)
	}
	return nil
}

func (s *RedisQueueStore) Remove(ctx context.Context, playerID string) error {
	keys := []string{s.queueKey, s.membersKey}
	if err := removeScript.Run(ctx, s.client, keys, playerID).Err(); err != nil {
		return fmt.Errorf("failed to remove from waiting set: %w", err)
	}
	return nil
}

func (s *RedisQueueStore) Rank(ctx context.Context, playerID string) (int, error) {
	keys := []string{s.queueKey, s.membersKey}
	rank, err := rankScript.Run(ctx, s.client, keys, playerID).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to get rank: %w", err)
	}
	if rank < 0 {
		return 0, ErrNotQueued
	}
	return rank, nil
}

func (s *RedisQueueStore) Size(ctx context.Context) (int, error) {
	size, err := s.client.ZCard(ctx, s.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue size: %w", err)
	}
	return int(size), nil
}

func (s *RedisQueueStore) SnapshotLowestN(ctx context.Context, n int) ([]models.RankedPlayer, error) {
	stop := int64(n - 1)
	if n <= 0 {
		stop = -1
	}

	items, err := s.client.ZRangeWithScores(ctx, s.queueKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot waiting set: %w", err)
	}

	snapshot := make([]models.RankedPlayer, 0, len(items))
	for _, item := range items {
		member, ok := item.Member.(string)
		if !ok {
			continue
		}
		_, playerID, found := strings.Cut(member, memberSeparator)
		if !found {
			continue
		}
		snapshot = append(snapshot, models.RankedPlayer{PlayerID: playerID, Rating: int(item.Score)})
	}
	return snapshot, nil
}

func (s *RedisQueueStore) Put(ctx context.Context, record *models.PlayerRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal player record: %w", err)
	}
	if err := s.client.Set(ctx, s.recordKey(record.PlayerID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to put player record: %w", err)
	}
	return nil
}

func (s *RedisQueueStore) Get(ctx context.Context, playerID string) (*models.PlayerRecord, error) {
	data, err := s.client.Get(ctx, s.recordKey(playerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player record: %w", err)
	}
	return decodeRecord(data)
}

func (s *RedisQueueStore) Delete(ctx context.Context, playerID string) error {
	if err := s.client.Del(ctx, s.recordKey(playerID)).Err(); err != nil {
		return fmt.Errorf("failed to delete player record: %w", err)
	}
	return nil
}

func (s *RedisQueueStore) Refresh(ctx context.Context, playerID string, ttl time.Duration) error {
	ok, err := s.client.PExpire(ctx, s.recordKey(playerID), ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to refresh player record: %w", err)
	}
	if !ok {
		return ErrRecordNotFound
	}
	return nil
}

func (s *RedisQueueStore) Enqueue(ctx context.Context, record *models.PlayerRecord, ttl time.Duration) (*models.PlayerRecord, bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal player record: %w", err)
	}

	keys := []string{s.queueKey, s.membersKey, s.seqKey, s.recordKey(record.PlayerID)}
	result, err := enqueueScript.Run(ctx, s.client, keys, record.PlayerID, record.Rating, data, ttl.Milliseconds()).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("failed to enqueue: %w", err)
	}
	if len(result) != 2 {
		return nil, false, fmt.Errorf("unexpected enqueue result: %v", result)
	}

	existed, _ := result[0].(int64)
	raw, _ := result[1].(string)
	stored, err := decodeRecord([]byte(raw))
	if err != nil {
		return nil, false, err
	}
	return stored, existed == 1, nil
}

func (s *RedisQueueStore) Requeue(ctx context.Context, record *models.PlayerRecord, ttl time.Duration) (*models.PlayerRecord, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal player record: %w", err)
	}

	keys := []string{s.queueKey, s.membersKey, s.seqKey, s.recordKey(record.PlayerID)}
	raw, err := requeueScript.Run(ctx, s.client, keys, record.PlayerID, record.Rating, data, ttl.Milliseconds()).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to requeue: %w", err)
	}
	return decodeRecord([]byte(raw))
}

func (s *RedisQueueStore) Dequeue(ctx context.Context, playerID string) (bool, error) {
	keys := []string{s.queueKey, s.membersKey, s.recordKey(playerID)}
	removed, err := dequeueScript.Run(ctx, s.client, keys, playerID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to dequeue: %w", err)
	}
	return removed > 0, nil
}

func (s *RedisQueueStore) PurgeStale(ctx context.Context, playerID string) (bool, error) {
	keys := []string{s.queueKey, s.membersKey, s.recordKey(playerID)}
	removed, err := purgeStaleScript.Run(ctx, s.client, keys, playerID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to purge stale entry: %w", err)
	}
	return removed > 0, nil
}

func decodeRecord(data []byte) (*models.PlayerRecord, error) {
	var record models.PlayerRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal player record: %w", err)
	}
	return &record, nil
}

// RedisResultStore Redis 기반 MatchResultStore (GETDEL로 한 번만 소비)
type RedisResultStore struct {
	client *redis.Client
	prefix string
}

func NewRedisResultStore(client *redis.Client, prefix string) *RedisResultStore {
	if prefix == "" {
		prefix = "matchmaking"
	}
	return &RedisResultStore{client: client, prefix: prefix}
}

func (s *RedisResultStore) resultKey(playerID string) string {
	return fmt.Sprintf("%s:matched:%s", s.prefix, playerID)
}

func (s *RedisResultStore) PutResult(ctx context.Context, playerID string, group *models.MatchGroup, ttl time.Duration) error {
	data, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("failed to marshal match group: %w", err)
	}
	if err := s.client.Set(ctx, s.resultKey(playerID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to put match result: %w", err)
	}
	return nil
}

func (s *RedisResultStore) TakeResult(ctx context.Context, playerID string) (*models.MatchGroup, error) {
	data, err := s.client.GetDel(ctx, s.resultKey(playerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take match result: %w", err)
	}

	var group models.MatchGroup
	if err := json.Unmarshal(data, &group); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match group: %w", err)
	}
	return &group, nil
}

func (s *RedisResultStore) HasResult(ctx context.Context, playerID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.resultKey(playerID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check match result: %w", err)
	}
	return n > 0, nil
}
