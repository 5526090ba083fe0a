package websocket

import (
	"context"
	"errors"
	"sync"

	"github.com/skybattle/matchmaking-service/internal/service"
	"go.uber.org/zap"
)

const MessageTypeAuthAck = "AUTH_ACK"

var (
	ErrClientGone    = errors.New("client connection closed")
	ErrSendQueueFull = errors.New("client send queue full")
	ErrHubClosed     = errors.New("websocket hub stopped")
)

// Message WebSocket 메시지 ({ type, data })
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Hub 플레이어별 WebSocket 연결 관리
type Hub struct {
	// playerID -> *Client
	clients map[string]*Client
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	// Run이 끝나면 닫힌다
	done chan struct{}

	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run 등록/해제 처리 루프. ctx가 끝나면 모든 연결을 닫는다.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Register 연결을 등록한다. Hub가 이미 멈췄으면 ErrHubClosed.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Unregister 연결 해제. Hub가 멈춘 뒤에는 no-op.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// registerClient 같은 플레이어의 기존 연결은 닫고 교체한다.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if oldClient, exists := h.clients[client.playerID]; exists {
		close(oldClient.send)
		h.logger.Info("Replaced existing WebSocket connection",
			zap.String("playerId", client.playerID))
	}

	h.clients[client.playerID] = client
	client.send <- &Message{Type: MessageTypeAuthAck}

	h.logger.Info("WebSocket client registered",
		zap.String("playerId", client.playerID),
		zap.Int("totalClients", len(h.clients)))
}

// unregisterClient 이미 교체된 연결이면 아무것도 하지 않는다.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, exists := h.clients[client.playerID]; exists && current == client {
		delete(h.clients, client.playerID)
		close(client.send)
		h.logger.Info("WebSocket client unregistered",
			zap.String("playerId", client.playerID),
			zap.Int("totalClients", len(h.clients)))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for playerID, client := range h.clients {
		close(client.send)
		delete(h.clients, playerID)
	}
}

// TryGetChannel 살아있는 연결이 있으면 push 채널을 반환한다.
func (h *Hub) TryGetChannel(playerID string) (service.PushChannel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[playerID]
	if !ok {
		return nil, false
	}
	return client, true
}

// ClientCount 연결된 클라이언트 수
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliver send 채널은 h.mu(Lock) 아래에서만 닫히므로 RLock 동안은 안전하게 보낼 수 있다.
func (h *Hub) deliver(client *Client, message *Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if current, ok := h.clients[client.playerID]; !ok || current != client {
		return ErrClientGone
	}

	select {
	case client.send <- message:
		return nil
	default:
		h.logger.Warn("Client send channel full",
			zap.String("playerId", client.playerID))
		return ErrSendQueueFull
	}
}
