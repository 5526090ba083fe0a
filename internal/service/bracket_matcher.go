package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skybattle/matchmaking-service/internal/models"
	"github.com/skybattle/matchmaking-service/internal/repository"
	"github.com/skybattle/matchmaking-service/pkg/metrics"
	"go.uber.org/zap"
)

// MatcherConfig Bracket Matcher 설정
type MatcherConfig struct {
	TickInterval    time.Duration
	ScanLimit       int
	MinGroupSize    int
	TargetGroupSize int
	Spread          SpreadPolicy
	MapID           string
	ResultTTL       time.Duration
	// 포기한 그룹의 멤버를 대기열로 되돌릴 때 쓰는 Player Record TTL
	RecordTTL       time.Duration
}

// DefaultMatcherConfig 2초 tick, 최대 50명 스캔, 2~10명 그룹
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		TickInterval:    2 * time.Second,
		ScanLimit:       50,
		MinGroupSize:    2,
		TargetGroupSize: 10,
		Spread:          DefaultSpreadPolicy(),
		MapID:           "outpost",
		ResultTTL:       60 * time.Second,
		RecordTTL:       120 * time.Second,
	}
}

// TickGuard 여러 매처 인스턴스 중 하나만 tick을 실행하도록 한다.
type TickGuard interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// resultSweeper 만료 결과를 직접 정리해야 하는 저장소 (메모리 저장소)
type resultSweeper interface {
	Sweep() int
}

// TickResult tick 한 번의 결과
type TickResult struct {
	Skipped            bool
	SkipReason         string
	Candidates         int
	Groups             []*models.MatchGroup
	AllocationFailures int
	// 대기열 제거 실패로 포기한 그룹 수
	FinalizeFailures   int
	StalePurged        int
}

const (
	skipOverlap   = "overlap"
	skipNotLeader = "not_leader"
	skipBelowMin  = "below_min"
)

// BracketMatcher 대기열을 주기적으로 스캔해 rating이 비슷한 플레이어를 묶는다.
type BracketMatcher struct {
	queue      repository.QueueStore
	results    repository.MatchResultStore
	allocator  SessionAllocator
	dispatcher *Dispatcher
	metrics    metrics.MatchmakingMetrics
	logger     *zap.Logger
	cfg        MatcherConfig

	guard      TickGuard
	now        func() time.Time
	newMatchID func() string

	// 한 번에 하나의 tick만 실행
	tickMu sync.Mutex

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

type MatcherOption func(*BracketMatcher)

// WithClock 테스트용 시계 주입
func WithClock(now func() time.Time) MatcherOption {
	return func(m *BracketMatcher) { m.now = now }
}

// WithTickGuard 분산 환경에서 tick 실행 권한을 확인
func WithTickGuard(guard TickGuard) MatcherOption {
	return func(m *BracketMatcher) { m.guard = guard }
}

// WithMatchIDGenerator match id 생성기 교체
func WithMatchIDGenerator(gen func() string) MatcherOption {
	return func(m *BracketMatcher) { m.newMatchID = gen }
}

func NewBracketMatcher(
	queue repository.QueueStore,
	results repository.MatchResultStore,
	allocator SessionAllocator,
	dispatcher *Dispatcher,
	m metrics.MatchmakingMetrics,
	logger *zap.Logger,
	cfg MatcherConfig,
	opts ...MatcherOption,
) *BracketMatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	if dispatcher == nil {
		dispatcher = NewDispatcher(nil, m, logger)
	}

	matcher := &BracketMatcher{
		queue:      queue,
		results:    results,
		allocator:  allocator,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		newMatchID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(matcher)
	}
	return matcher
}

// Start 매칭 루프 시작
func (m *BracketMatcher) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	stop := make(chan struct{})
	m.stopChan = stop
	m.mu.Unlock()

	m.logger.Info("Starting BracketMatcher",
		zap.Duration("interval", m.cfg.TickInterval),
		zap.Int("scanLimit", m.cfg.ScanLimit),
		zap.Int("minGroupSize", m.cfg.MinGroupSize),
		zap.Int("targetGroupSize", m.cfg.TargetGroupSize))

	m.wg.Add(1)
	go m.matchmakingLoop(stop)
}

// Stop 매칭 루프 중지. 진행 중인 tick이 끝날 때까지 기다린다.
func (m *BracketMatcher) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop := m.stopChan
	m.mu.Unlock()

	m.logger.Info("Stopping BracketMatcher")
	close(stop)
	m.wg.Wait()
	m.logger.Info("BracketMatcher stopped")
}

// matchmakingLoop 주기적 매칭 실행. Ticker는 늦은 tick을 버리므로 tick이 겹치지 않는다.
func (m *BracketMatcher) matchmakingLoop(stop <-chan struct{}) {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.RunOnce(ctx); err != nil {
				m.logger.Error("Matchmaking tick failed", zap.Error(err))
			}
		case <-stop:
			return
		}
	}
}

// RunOnce tick 한 번 실행. 이전 tick이 아직 실행 중이면 건너뛴다.
// tick 중의 panic도 여기서 잡아 루프가 멈추지 않게 한다.
func (m *BracketMatcher) RunOnce(ctx context.Context) (result *TickResult, err error) {
	if !m.tickMu.TryLock() {
		m.logger.Warn("Previous matchmaking tick still running, skipping")
		m.metrics.ObserveTick(skipOverlap, 0)
		return &TickResult{Skipped: true, SkipReason: skipOverlap}, nil
	}
	defer m.tickMu.Unlock()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Matchmaking tick panicked", zap.Any("panic", r), zap.Stack("stack"))
			result, err = nil, fmt.Errorf("matchmaking tick panicked: %v", r)
		}

		elapsed := time.Since(started)
		label := "ok"
		switch {
		case err != nil:
			label = "error"
		case result != nil && result.Skipped:
			label = result.SkipReason
		}
		m.metrics.ObserveTick(label, elapsed)

		if elapsed > m.cfg.TickInterval {
			m.logger.Warn("Matchmaking tick exceeded interval",
				zap.Duration("elapsed", elapsed),
				zap.Duration("interval", m.cfg.TickInterval))
		}
	}()

	if m.guard != nil {
		release, ok, guardErr := m.guard.Acquire(ctx)
		if guardErr != nil {
			return nil, fmt.Errorf("failed to acquire tick guard: %w", guardErr)
		}
		if !ok {
			m.logger.Debug("Another matcher instance holds the tick guard")
			return &TickResult{Skipped: true, SkipReason: skipNotLeader}, nil
		}
		defer release()
	}

	return m.tick(ctx)
}

func (m *BracketMatcher) tick(ctx context.Context) (*TickResult, error) {
	result := &TickResult{}

	size, err := m.queue.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue size: %w", err)
	}
	m.metrics.SetQueueSize(size)

	if size < m.cfg.MinGroupSize {
		result.Skipped = true
		result.SkipReason = skipBelowMin
		m.sweepResults()
		return result, nil
	}

	snapshot, err := m.queue.SnapshotLowestN(ctx, m.cfg.ScanLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot waiting set: %w", err)
	}

	now := m.now()
	candidates, stale := m.loadCandidates(ctx, snapshot)
	result.Candidates = len(candidates)

	m.logger.Debug("Starting matchmaking tick",
		zap.Int("waiting", size),
		zap.Int("candidates", len(candidates)),
		zap.Int("stale", len(stale)))

	placed := make(map[string]string, len(candidates))

	for i := range candidates {
		anchor := candidates[i]
		if _, ok := placed[anchor.PlayerID]; ok {
			continue
		}

		spread := m.cfg.Spread.Spread(anchor.Wait(now))
		members := m.collectGroup(candidates, i, spread, placed)
		if len(members) < m.cfg.MinGroupSize {
			continue
		}

		group, err := m.allocateGroup(ctx, anchor, members, spread, now)
		if err != nil {
			// 그룹 멤버는 대기열에 그대로 남아 있다 (joined_at 유지). 이번 tick에서만 제외한다.
			result.AllocationFailures++
			m.metrics.AddAllocationFailure(anchor.GameMode)
			m.logger.Warn("Session allocation failed, members stay queued",
				zap.String("anchor", anchor.PlayerID),
				zap.Int("members", len(members)),
				zap.Error(err))
			for _, member := range members {
				placed[member.PlayerID] = ""
			}
			continue
		}

		for _, member := range group.Players {
			if previous, ok := placed[member.PlayerID]; ok && previous != "" {
				m.logger.Error("Invariant violation: player placed in two groups",
					zap.String("playerId", member.PlayerID),
					zap.String("firstMatchId", previous),
					zap.String("secondMatchId", group.MatchID),
					zap.Stack("stack"))
				return nil, fmt.Errorf("player %s placed in two groups", member.PlayerID)
			}
			placed[member.PlayerID] = group.MatchID
		}

		if !m.finalizeGroup(ctx, group, members) {
			result.FinalizeFailures++
			continue
		}
		result.Groups = append(result.Groups, group)
	}

	result.StalePurged = m.purgeStale(ctx, stale)
	m.sweepResults()

	if len(result.Groups) > 0 {
		m.logger.Info("Matchmaking tick completed",
			zap.Int("groups", len(result.Groups)),
			zap.Int("candidates", len(candidates)),
			zap.Int("allocationFailures", result.AllocationFailures))
	}

	return result, nil
}

// loadCandidates 스냅샷 항목을 Player Record와 합친다. 레코드가 만료된 항목은 stale로 분리한다.
func (m *BracketMatcher) loadCandidates(ctx context.Context, snapshot []models.RankedPlayer) ([]models.QueueEntry, []string) {
	candidates := make([]models.QueueEntry, 0, len(snapshot))
	var stale []string

	for _, ranked := range snapshot {
		record, err := m.queue.Get(ctx, ranked.PlayerID)
		if errors.Is(err, repository.ErrRecordNotFound) {
			stale = append(stale, ranked.PlayerID)
			continue
		}
		if err != nil {
			m.logger.Warn("Failed to load player record, skipping for this tick",
				zap.String("playerId", ranked.PlayerID),
				zap.Error(err))
			continue
		}

		candidates = append(candidates, models.QueueEntry{
			PlayerID: ranked.PlayerID,
			Rating:   ranked.Rating,
			GameMode: record.GameMode,
			Region:   record.Region,
			JoinedAt: record.JoinedAt,
		})
	}

	return candidates, stale
}

// collectGroup anchor를 포함해 같은 모드, anchor 기준 spread 이내의 미배치 후보를 모은다.
// 그룹 전체의 rating 범위(max-min)도 spread 이내로 유지해 모든 쌍이 spread를 넘지 않는다.
func (m *BracketMatcher) collectGroup(candidates []models.QueueEntry, anchorIdx int, spread int, placed map[string]string) []models.QueueEntry {
	anchor := candidates[anchorIdx]
	members := []models.QueueEntry{anchor}
	low, high := anchor.Rating, anchor.Rating

	for j, candidate := range candidates {
		if len(members) >= m.cfg.TargetGroupSize {
			break
		}
		if j == anchorIdx {
			continue
		}
		if _, ok := placed[candidate.PlayerID]; ok {
			continue
		}
		if candidate.GameMode != anchor.GameMode {
			continue
		}
		if abs(candidate.Rating-anchor.Rating) > spread {
			continue
		}
		if max(high, candidate.Rating)-min(low, candidate.Rating) > spread {
			continue
		}

		members = append(members, candidate)
		low = min(low, candidate.Rating)
		high = max(high, candidate.Rating)
	}

	sort.SliceStable(members, func(a, b int) bool {
		return members[a].Rating < members[b].Rating
	})
	return members
}

// allocateGroup match id를 만들고 Session Allocator에서 세션을 받는다.
func (m *BracketMatcher) allocateGroup(ctx context.Context, anchor models.QueueEntry, members []models.QueueEntry, spread int, now time.Time) (*models.MatchGroup, error) {
	players := make([]models.MatchPlayer, 0, len(members))
	for _, member := range members {
		players = append(players, models.MatchPlayer{PlayerID: member.PlayerID, Rating: member.Rating})
	}

	matchID := m.newMatchID()
	endpoint, err := m.allocator.Allocate(ctx, AllocationRequest{
		MatchID:  matchID,
		GameMode: anchor.GameMode,
		MapID:    m.cfg.MapID,
		Region:   anchor.Region,
		Players:  players,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocationFailed, err)
	}

	return &models.MatchGroup{
		MatchID:         matchID,
		GameMode:        anchor.GameMode,
		MapID:           m.cfg.MapID,
		SessionEndpoint: endpoint,
		Players:         players,
		Spread:          spread,
		CreatedAt:       now,
	}, nil
}

// finalizeGroup 모든 멤버를 대기열에서 먼저 제거한 뒤에 결과 저장과 push를 한다.
// 동시에 Leave한 멤버는 이미 제거되어 있어 Dequeue가 no-op이 되고, 그룹은 그대로 유지된다.
// 제거에 실패한 멤버는 대기열에 남아 있으므로 그룹에서 빼고 알리지 않는다.
// 남은 멤버가 최소 인원보다 적으면 그룹을 포기하고 제거했던 멤버를 원래 joined_at으로 되돌린다.
func (m *BracketMatcher) finalizeGroup(ctx context.Context, group *models.MatchGroup, members []models.QueueEntry) bool {
	kept := make([]models.MatchPlayer, 0, len(group.Players))
	removed := make([]models.QueueEntry, 0, len(members))

	for i, player := range group.Players {
		wasQueued, err := m.queue.Dequeue(ctx, player.PlayerID)
		if err != nil {
			m.logger.Error("Failed to remove matched player from queue, dropping from group",
				zap.String("playerId", player.PlayerID),
				zap.String("matchId", group.MatchID),
				zap.Error(err))
			continue
		}
		kept = append(kept, player)
		if wasQueued {
			removed = append(removed, members[i])
		}
	}

	if len(kept) < m.cfg.MinGroupSize {
		m.restoreMembers(ctx, group.MatchID, removed)
		m.logger.Error("Abandoned match group after queue removal failures",
			zap.String("matchId", group.MatchID),
			zap.Int("members", len(group.Players)),
			zap.Int("remaining", len(kept)))
		return false
	}
	group.Players = kept

	for _, player := range group.Players {
		if err := m.results.PutResult(ctx, player.PlayerID, group, m.cfg.ResultTTL); err != nil {
			m.logger.Error("Failed to store match result",
				zap.String("playerId", player.PlayerID),
				zap.String("matchId", group.MatchID),
				zap.Error(err))
		}

		m.dispatcher.Deliver(ctx, player.PlayerID, group)
	}

	m.metrics.AddGroupFormed(group.GameMode, len(group.Players))

	m.logger.Info("Match created",
		zap.String("matchId", group.MatchID),
		zap.String("gameMode", group.GameMode),
		zap.Int("players", len(group.Players)),
		zap.Int("spread", group.Spread))
	return true
}

// restoreMembers 포기한 그룹의 멤버를 joined_at을 유지한 채 대기열로 되돌린다.
func (m *BracketMatcher) restoreMembers(ctx context.Context, matchID string, members []models.QueueEntry) {
	for _, member := range members {
		_, err := m.queue.Requeue(ctx, &models.PlayerRecord{
			PlayerID: member.PlayerID,
			Rating:   member.Rating,
			GameMode: member.GameMode,
			Region:   member.Region,
			JoinedAt: member.JoinedAt,
		}, m.cfg.RecordTTL)
		if err != nil {
			m.logger.Error("Failed to restore player to queue",
				zap.String("playerId", member.PlayerID),
				zap.String("matchId", matchID),
				zap.Error(err))
		}
	}
}

// purgeStale 레코드가 만료된 대기열 항목 제거. 그 사이 다시 Join한 플레이어는 건드리지 않는다.
func (m *BracketMatcher) purgeStale(ctx context.Context, stale []string) int {
	purged := 0
	for _, playerID := range stale {
		removed, err := m.queue.PurgeStale(ctx, playerID)
		if err != nil {
			m.logger.Warn("Failed to purge stale queue entry",
				zap.String("playerId", playerID),
				zap.Error(err))
			continue
		}
		if removed {
			purged++
		}
	}

	if purged > 0 {
		m.metrics.AddStalePurged(purged)
		m.logger.Info("Purged stale queue entries", zap.Int("count", purged))
	}
	return purged
}

func (m *BracketMatcher) sweepResults() {
	if sweeper, ok := m.results.(resultSweeper); ok {
		sweeper.Sweep()
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
