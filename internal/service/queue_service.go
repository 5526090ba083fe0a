package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/skybattle/matchmaking-service/internal/models"
	"github.com/skybattle/matchmaking-service/internal/repository"
	"github.com/skybattle/matchmaking-service/pkg/metrics"
	"go.uber.org/zap"
)

const (
	maxPlayerIDLength = 128
	maxRegionLength   = 64
)

// RatingProvider 플레이어의 현재 rating을 제공하는 외부 저장소
type RatingProvider interface {
	GetRating(ctx context.Context, playerID string) (int, error)
}

// QueueConfig Join/Leave/Status 동작 설정
type QueueConfig struct {
	GameModes       []string
	DefaultGameMode string
	DefaultRegion   string
	PlayerRecordTTL time.Duration
	EstimatedWait   time.Duration
	// ReplaceOnRejoin true면 재참가 시 메타데이터만 갱신하고 joined_at을 유지한다.
	// false면 ErrAlreadyQueued로 거절한다.
	ReplaceOnRejoin bool
}

type QueueService struct {
	queue   repository.QueueStore
	results repository.MatchResultStore
	ratings RatingProvider
	metrics metrics.MatchmakingMetrics
	logger  *zap.Logger
	cfg     QueueConfig
	modes   map[string]struct{}
	now     func() time.Time
}

func NewQueueService(
	queue repository.QueueStore,
	results repository.MatchResultStore,
	ratings RatingProvider,
	m metrics.MatchmakingMetrics,
	logger *zap.Logger,
	cfg QueueConfig,
) *QueueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}

	modes := make(map[string]struct{}, len(cfg.GameModes))
	for _, mode := range cfg.GameModes {
		modes[mode] = struct{}{}
	}

	return &QueueService{
		queue:   queue,
		results: results,
		ratings: ratings,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		modes:   modes,
		now:     time.Now,
	}
}

// SetClock 테스트용 시계 주입
func (s *QueueService) SetClock(now func() time.Time) {
	s.now = now
}

// Join 매칭 대기열 참가
func (s *QueueService) Join(ctx context.Context, playerID, gameMode, region string) (*models.JoinResponse, error) {
	if err := validatePlayerID(playerID); err != nil {
		s.metrics.AddJoin("invalid")
		return nil, err
	}

	if gameMode == "" {
		gameMode = s.cfg.DefaultGameMode
	}
	if _, ok := s.modes[gameMode]; !ok {
		s.metrics.AddJoin("invalid")
		return nil, fmt.Errorf("%w: %q", ErrUnknownGameMode, gameMode)
	}

	if region == "" {
		region = s.cfg.DefaultRegion
	}
	if len(region) > maxRegionLength {
		s.metrics.AddJoin("invalid")
		return nil, ErrInvalidRegion
	}

	pending, err := s.results.HasResult(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to check match result: %w", err)
	}
	if pending {
		// 결과를 Status로 받기 전까지는 다시 대기열에 넣지 않는다
		s.metrics.AddJoin("match_pending")
		return nil, ErrMatchPending
	}

	rating, err := s.ratings.GetRating(ctx, playerID)
	if err != nil {
		s.metrics.AddJoin("rating_error")
		if errors.Is(err, repository.ErrPlayerNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRatingUnavailable, err)
	}

	record := &models.PlayerRecord{
		PlayerID: playerID,
		Rating:   rating,
		GameMode: gameMode,
		Region:   region,
		JoinedAt: s.now(),
	}

	var stored *models.PlayerRecord
	if s.cfg.ReplaceOnRejoin {
		stored, err = s.queue.Requeue(ctx, record, s.cfg.PlayerRecordTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to join queue: %w", err)
		}
	} else {
		var existed bool
		stored, existed, err = s.queue.Enqueue(ctx, record, s.cfg.PlayerRecordTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to join queue: %w", err)
		}
		if existed {
			s.metrics.AddJoin("already_queued")
			return nil, ErrAlreadyQueued
		}
	}

	position := 0
	if rank, err := s.queue.Rank(ctx, playerID); err == nil {
		position = rank + 1
	}

	s.metrics.AddJoin("queued")
	s.logger.Info("Player joined matchmaking queue",
		zap.String("playerId", playerID),
		zap.Int("rating", stored.Rating),
		zap.String("gameMode", stored.GameMode),
		zap.String("region", stored.Region),
		zap.Time("joinedAt", stored.JoinedAt))

	return &models.JoinResponse{
		Status:               models.QueueStatusQueued,
		Rating:               stored.Rating,
		QueuePosition:        position,
		EstimatedWaitSeconds: int(s.cfg.EstimatedWait.Seconds()),
	}, nil
}

// Leave 대기열에서 나가기. 대기 중이 아니어도 에러가 아니다.
func (s *QueueService) Leave(ctx context.Context, playerID string) error {
	if err := validatePlayerID(playerID); err != nil {
		return err
	}

	removed, err := s.queue.Dequeue(ctx, playerID)
	if err != nil {
		return fmt.Errorf("failed to leave queue: %w", err)
	}

	if removed {
		s.logger.Info("Player left matchmaking queue", zap.String("playerId", playerID))
	}
	return nil
}

// Status 매칭 결과가 있으면 소비해서 반환하고, 아니면 대기 순번을 반환한다.
// 대기 중 조회는 Player Record TTL을 연장한다.
func (s *QueueService) Status(ctx context.Context, playerID string) (*models.StatusResponse, error) {
	if err := validatePlayerID(playerID); err != nil {
		return nil, err
	}

	group, err := s.results.TakeResult(ctx, playerID)
	if err == nil {
		s.logger.Debug("Match result consumed by status poll",
			zap.String("playerId", playerID),
			zap.String("matchId", group.MatchID))
		return &models.StatusResponse{Status: models.QueueStatusMatchFound, Match: group}, nil
	}
	if !errors.Is(err, repository.ErrNoResult) {
		return nil, fmt.Errorf("failed to read match result: %w", err)
	}

	rank, err := s.queue.Rank(ctx, playerID)
	if errors.Is(err, repository.ErrNotQueued) {
		return &models.StatusResponse{Status: models.QueueStatusNotQueued}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue rank: %w", err)
	}

	if err := s.queue.Refresh(ctx, playerID, s.cfg.PlayerRecordTTL); err != nil {
		if !errors.Is(err, repository.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to refresh player record: %w", err)
		}
		// 레코드가 만료된 항목은 대기 중이 아니다.
		if _, purgeErr := s.queue.PurgeStale(ctx, playerID); purgeErr != nil {
			s.logger.Warn("Failed to purge stale queue entry",
				zap.String("playerId", playerID),
				zap.Error(purgeErr))
		}
		return &models.StatusResponse{Status: models.QueueStatusNotQueued}, nil
	}

	total, err := s.queue.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue size: %w", err)
	}

	return &models.StatusResponse{
		Status:        models.QueueStatusSearching,
		QueuePosition: rank + 1,
		QueueTotal:    total,
	}, nil
}

func validatePlayerID(playerID string) error {
	if playerID == "" || len(playerID) > maxPlayerIDLength {
		return ErrInvalidPlayerID
	}
	if strings.IndexFunc(playerID, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0 {
		return ErrInvalidPlayerID
	}
	return nil
}
