package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultPushChannel = "matchmaking:push"

// PushEvent 다른 인스턴스에 연결된 플레이어에게 보낼 메시지
type PushEvent struct {
	PlayerID  string          `json:"player_id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Origin    string          `json:"origin"`
	Timestamp time.Time       `json:"timestamp"`
}

// PushRelay Redis Pub/Sub으로 push 메시지를 모든 인스턴스에 전달한다.
// 각 인스턴스는 자신에게 연결된 플레이어의 메시지만 실제로 보낸다.
type PushRelay struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *zap.Logger
}

func NewPushRelay(client *redis.Client, channel string, logger *zap.Logger) *PushRelay {
	if channel == "" {
		channel = DefaultPushChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushRelay{
		client:     client,
		channel:    channel,
		instanceID: uuid.New().String(),
		logger:     logger,
	}
}

// InstanceID 발행한 인스턴스 식별자
func (r *PushRelay) InstanceID() string {
	return r.instanceID
}

// Publish 메시지 발행. 수신 인스턴스가 없어도 에러가 아니다.
func (r *PushRelay) Publish(ctx context.Context, playerID, msgType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal push data: %w", err)
	}

	event, err := json.Marshal(PushEvent{
		PlayerID:  playerID,
		Type:      msgType,
		Data:      payload,
		Origin:    r.instanceID,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push event: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, event).Err(); err != nil {
		return fmt.Errorf("failed to publish push event: %w", err)
	}
	return nil
}

// Run ctx가 끝날 때까지 구독하며 다른 인스턴스가 발행한 이벤트를 handler에 넘긴다.
func (r *PushRelay) Run(ctx context.Context, handler func(PushEvent)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// 구독 확인
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	r.logger.Info("Push relay subscribed",
		zap.String("instanceId", r.instanceID),
		zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return errors.New("push relay subscription closed")
			}

			var event PushEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Warn("Failed to unmarshal push event", zap.Error(err))
				continue
			}

			// 발행한 인스턴스는 이미 로컬 전달을 시도했다
			if event.Origin == r.instanceID {
				continue
			}

			handler(event)

		case <-ctx.Done():
			r.logger.Info("Push relay stopped")
			return nil
		}
	}
}
