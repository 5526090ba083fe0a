package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/skybattle/matchmaking-service/internal/api/middleware"
	"github.com/skybattle/matchmaking-service/internal/websocket"
)

// WebSocketHandler MATCH_FOUND push 채널 연결
type WebSocketHandler struct {
	hub      *websocket.Hub
	upgrader *gorillaws.Upgrader
}

func NewWebSocketHandler(hub *websocket.Hub, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		upgrader: websocket.NewUpgrader(allowedOrigins),
	}
}

// HandleWebSocket 인증된 플레이어의 연결을 Hub에 등록
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
		return
	}

	// 업그레이드 실패 시 응답은 upgrader가 이미 작성함
	_ = websocket.ServeWs(h.hub, h.upgrader, c.Writer, c.Request, playerID)
}
