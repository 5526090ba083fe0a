package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skybattle/matchmaking-service/internal/api/middleware"
	"github.com/skybattle/matchmaking-service/internal/models"
	"github.com/skybattle/matchmaking-service/internal/repository"
	"github.com/skybattle/matchmaking-service/internal/service"
	"github.com/skybattle/matchmaking-service/pkg/logger"
)

type MatchmakingHandler struct {
	queueService *service.QueueService
}

func NewMatchmakingHandler(queueService *service.QueueService) *MatchmakingHandler {
	return &MatchmakingHandler{
		queueService: queueService,
	}
}

// Join 매칭 대기열 참가 (202)
func (h *MatchmakingHandler) Join(c *gin.Context) {
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
		return
	}

	// 빈 body는 기본 모드/리전으로 처리
	var req models.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": err.Error(),
		})
		return
	}

	resp, err := h.queueService.Join(c.Request.Context(), playerID, req.GameMode, req.Region)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// Leave 대기열에서 나가기 (204, 대기 중이 아니어도 성공)
func (h *MatchmakingHandler) Leave(c *gin.Context) {
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
		return
	}

	if err := h.queueService.Leave(c.Request.Context(), playerID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Status 대기 상태 또는 매칭 결과 조회
func (h *MatchmakingHandler) Status(c *gin.Context) {
	playerID, ok := middleware.PlayerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
		return
	}

	resp, err := h.queueService.Status(c.Request.Context(), playerID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// respondError 서비스 에러를 HTTP 상태와 에러 코드로 변환
func respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"

	switch {
	case errors.Is(err, service.ErrInvalidPlayerID):
		status, code = http.StatusBadRequest, "INVALID_PLAYER_ID"
	case errors.Is(err, service.ErrUnknownGameMode):
		status, code = http.StatusBadRequest, "INVALID_GAME_MODE"
	case errors.Is(err, service.ErrInvalidRegion):
		status, code = http.StatusBadRequest, "INVALID_REGION"
	case errors.Is(err, service.ErrInvalidInput):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, repository.ErrPlayerNotFound):
		status, code = http.StatusNotFound, "PLAYER_NOT_FOUND"
	case errors.Is(err, service.ErrAlreadyQueued):
		status, code = http.StatusConflict, "ALREADY_QUEUED"
	case errors.Is(err, service.ErrMatchPending):
		status, code = http.StatusConflict, "MATCH_PENDING"
	case errors.Is(err, service.ErrRatingUnavailable):
		status, code = http.StatusBadGateway, "RATING_UNAVAILABLE"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Matchmaking request failed",
			"path", c.FullPath(),
			"error", err)
		_ = c.Error(err)
	}

	c.JSON(status, gin.H{"error": code})
}
