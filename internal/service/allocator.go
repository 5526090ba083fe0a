package service

import (
	"context"
	"errors"

	"github.com/skybattle/matchmaking-service/internal/models"
)

// AllocationRequest 매칭된 그룹을 위한 게임 세션 요청
type AllocationRequest struct {
	MatchID  string
	GameMode string
	MapID    string
	Region   string
	Players  []models.MatchPlayer
}

// SessionAllocator 매칭된 그룹에 접속 가능한 게임 세션을 배정한다.
// 느리거나 원격일 수 있으므로 호출하는 동안 어떤 저장소 락도 잡지 않는다.
type SessionAllocator interface {
	Allocate(ctx context.Context, req AllocationRequest) (models.SessionEndpoint, error)
}

// AllocatorFunc 함수를 SessionAllocator로 사용
type AllocatorFunc func(ctx context.Context, req AllocationRequest) (models.SessionEndpoint, error)

func (f AllocatorFunc) Allocate(ctx context.Context, req AllocationRequest) (models.SessionEndpoint, error) {
	return f(ctx, req)
}

// StaticAllocator 고정된 게임 서버 하나를 배정한다. session id는 match id를 그대로 쓴다.
type StaticAllocator struct {
	serverIP   string
	serverPort int
}

func NewStaticAllocator(serverIP string, serverPort int) *StaticAllocator {
	return &StaticAllocator{serverIP: serverIP, serverPort: serverPort}
}

func (a *StaticAllocator) Allocate(ctx context.Context, req AllocationRequest) (models.SessionEndpoint, error) {
	if err := ctx.Err(); err != nil {
		return models.SessionEndpoint{}, err
	}
	if a.serverIP == "" || a.serverPort <= 0 {
		return models.SessionEndpoint{}, errors.New("game server address not configured")
	}

	return models.SessionEndpoint{
		ServerIP:   a.serverIP,
		ServerPort: a.serverPort,
		SessionID:  req.MatchID,
		Region:     req.Region,
	}, nil
}
