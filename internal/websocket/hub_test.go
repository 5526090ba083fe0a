package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(nil)
	go hub.Run(ctx)
	return hub
}

// register 등록 후 AUTH_ACK까지 받아 등록 완료를 보장한다.
func register(t *testing.T, hub *Hub, playerID string) *Client {
	t.Helper()
	client := newClient(hub, nil, playerID)
	hub.register <- client

	select {
	case msg := <-client.send:
		require.Equal(t, MessageTypeAuthAck, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("AUTH_ACK not received")
	}
	return client
}

func TestHub_RegisterAndPush(t *testing.T) {
	hub := startHub(t)

	_, ok := hub.TryGetChannel("p1")
	assert.False(t, ok)

	client := register(t, hub, "p1")
	assert.Equal(t, 1, hub.ClientCount())

	channel, ok := hub.TryGetChannel("p1")
	require.True(t, ok)
	require.NoError(t, channel.Push("MATCH_FOUND", map[string]string{"match_id": "m1"}))

	msg := <-client.send
	assert.Equal(t, "MATCH_FOUND", msg.Type)
	assert.Equal(t, map[string]string{"match_id": "m1"}, msg.Data)
}

func TestHub_ReplaceConnection(t *testing.T) {
	hub := startHub(t)

	first := register(t, hub, "p1")
	second := register(t, hub, "p1")
	assert.Equal(t, 1, hub.ClientCount())

	_, open := <-first.send
	assert.False(t, open, "replaced connection must be closed")
	assert.ErrorIs(t, first.Push("MATCH_FOUND", nil), ErrClientGone)

	channel, ok := hub.TryGetChannel("p1")
	require.True(t, ok)
	assert.Same(t, second, channel)

	t.Run("교체된 연결의 해제는 새 연결에 영향 없음", func(t *testing.T) {
		hub.unregister <- first

		assert.Never(t, func() bool {
			return hub.ClientCount() == 0
		}, 50*time.Millisecond, 10*time.Millisecond)
	})
}

func TestHub_Unregister(t *testing.T) {
	hub := startHub(t)

	client := register(t, hub, "p1")
	hub.unregister <- client

	assert.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, time.Second, 5*time.Millisecond)

	_, ok := hub.TryGetChannel("p1")
	assert.False(t, ok)
	assert.ErrorIs(t, client.Push("MATCH_FOUND", nil), ErrClientGone)
}

func TestHub_SendQueueFull(t *testing.T) {
	hub := startHub(t)
	client := register(t, hub, "p1")

	for i := 0; i < sendBufferSize; i++ {
		require.NoError(t, client.Push("MATCH_FOUND", i))
	}
	assert.ErrorIs(t, client.Push("MATCH_FOUND", "overflow"), ErrSendQueueFull)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := register(t, hub, "p1")
	cancel()
	<-done

	_, open := <-client.send
	assert.False(t, open)
	assert.Zero(t, hub.ClientCount())
}

func TestHub_RegisterAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := register(t, hub, "p1")
	cancel()
	<-done

	returned := make(chan error, 1)
	go func() {
		hub.Unregister(client)
		returned <- hub.Register(newClient(hub, nil, "p2"))
	}()

	select {
	case err := <-returned:
		assert.ErrorIs(t, err, ErrHubClosed)
	case <-time.After(time.Second):
		t.Fatal("register/unregister blocked after hub shutdown")
	}
	assert.Zero(t, hub.ClientCount())
}
