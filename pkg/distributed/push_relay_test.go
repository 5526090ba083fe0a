package distributed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForSubscribers(t *testing.T, client *redis.Client, channel string, n int64) {
	t.Helper()
	assert.Eventually(t, func() bool {
		counts, err := client.PubSubNumSub(context.Background(), channel).Result()
		return err == nil && counts[channel] >= n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPushRelay_DeliversToOtherInstances(t *testing.T) {
	client := setupRedisClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const channel = "test:push"
	sender := NewPushRelay(client, channel, nil)
	receiver := NewPushRelay(client, channel, nil)
	require.NotEqual(t, sender.InstanceID(), receiver.InstanceID())

	senderEvents := make(chan PushEvent, 4)
	receiverEvents := make(chan PushEvent, 4)
	go sender.Run(ctx, func(e PushEvent) { senderEvents <- e })
	go receiver.Run(ctx, func(e PushEvent) { receiverEvents <- e })
	waitForSubscribers(t, client, channel, 2)

	require.NoError(t, sender.Publish(ctx, "p1", "MATCH_FOUND", map[string]string{"match_id": "m1"}))

	select {
	case event := <-receiverEvents:
		assert.Equal(t, "p1", event.PlayerID)
		assert.Equal(t, "MATCH_FOUND", event.Type)
		assert.Equal(t, sender.InstanceID(), event.Origin)

		var data map[string]string
		require.NoError(t, json.Unmarshal(event.Data, &data))
		assert.Equal(t, "m1", data["match_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("relayed event not received")
	}

	// 발행한 인스턴스는 자기 메시지를 다시 처리하지 않는다
	select {
	case event := <-senderEvents:
		t.Fatalf("sender handled its own event: %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPushRelay_RunStopsWithContext(t *testing.T) {
	client := setupRedisClient(t)
	ctx, cancel := context.WithCancel(context.Background())

	relay := NewPushRelay(client, "test:push:stop", nil)
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, func(PushEvent) {}) }()
	waitForSubscribers(t, client, "test:push:stop", 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestPushRelay_PublishWithoutSubscribers(t *testing.T) {
	client := setupRedisClient(t)
	relay := NewPushRelay(client, "", nil)

	assert.NoError(t, relay.Publish(context.Background(), "p1", "MATCH_FOUND", nil))
}
