package service

import (
	"context"

	"github.com/skybattle/matchmaking-service/internal/models"
	"github.com/skybattle/matchmaking-service/pkg/metrics"
	"go.uber.org/zap"
)

const MessageTypeMatchFound = "MATCH_FOUND"

// PushChannel 플레이어 한 명에게 열린 실시간 연결
type PushChannel interface {
	Push(msgType string, data interface{}) error
}

// ChannelRegistry playerID로 살아있는 연결을 찾는다.
type ChannelRegistry interface {
	TryGetChannel(playerID string) (PushChannel, bool)
}

// Relay 로컬에 연결이 없는 플레이어의 메시지를 다른 서버 인스턴스로 넘긴다.
type Relay interface {
	Publish(ctx context.Context, playerID, msgType string, data interface{}) error
}

// Dispatcher 매칭 결과를 즉시 push한다. push는 지연 시간 최적화일 뿐이고
// 결과의 기준은 항상 MatchResultStore다.
type Dispatcher struct {
	registry ChannelRegistry
	relay    Relay
	metrics  metrics.MatchmakingMetrics
	logger   *zap.Logger
}

// NewDispatcher registry가 nil이면 push 없이 polling에만 의존한다.
func NewDispatcher(registry ChannelRegistry, m metrics.MatchmakingMetrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	return &Dispatcher{registry: registry, metrics: m, logger: logger}
}

// SetRelay 여러 인스턴스로 운영할 때 원격 전달 경로 지정
func (d *Dispatcher) SetRelay(relay Relay) {
	d.relay = relay
}

// Deliver 로컬 push 성공 여부를 반환한다. relay로 넘긴 경우는 false.
func (d *Dispatcher) Deliver(ctx context.Context, playerID string, group *models.MatchGroup) bool {
	if d.registry == nil && d.relay == nil {
		d.metrics.AddPush("no_transport")
		return false
	}

	var (
		channel PushChannel
		ok      bool
	)
	if d.registry != nil {
		channel, ok = d.registry.TryGetChannel(playerID)
	}
	if !ok {
		d.relayOrDrop(ctx, playerID, group)
		return false
	}

	if err := channel.Push(MessageTypeMatchFound, group); err != nil {
		d.logger.Warn("Failed to push match result, relying on status poll",
			zap.String("playerId", playerID),
			zap.String("matchId", group.MatchID),
			zap.Error(err))
		d.metrics.AddPush("failed")
		return false
	}

	d.metrics.AddPush("delivered")
	return true
}

func (d *Dispatcher) relayOrDrop(ctx context.Context, playerID string, group *models.MatchGroup) {
	if d.relay == nil {
		d.metrics.AddPush("offline")
		return
	}

	if err := d.relay.Publish(ctx, playerID, MessageTypeMatchFound, group); err != nil {
		d.logger.Warn("Failed to relay match result",
			zap.String("playerId", playerID),
			zap.String("matchId", group.MatchID),
			zap.Error(err))
		d.metrics.AddPush("failed")
		return
	}
	d.metrics.AddPush("relayed")
}
