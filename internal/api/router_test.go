package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/skybattle/matchmaking-service/internal/config"
	"github.com/skybattle/matchmaking-service/internal/models"
	"github.com/skybattle/matchmaking-service/internal/repository"
	"github.com/skybattle/matchmaking-service/internal/service"
	"github.com/skybattle/matchmaking-service/internal/websocket"
	jwtutil "github.com/skybattle/matchmaking-service/pkg/jwt"
	"github.com/skybattle/matchmaking-service/pkg/metrics"
	"github.com/skybattle/matchmaking-service/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router  *gin.Engine
	jwt     *jwtutil.JWTManager
	queue   *repository.MemoryQueueStore
	results *repository.MemoryResultStore
	hub     *websocket.Hub
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Env:                "test",
		CORSAllowedOrigins: []string{"http://localhost:5173"},
		Matchmaking:        config.DefaultMatchmaking(),
	}
	mm := cfg.Matchmaking

	queue := repository.NewMemoryQueueStore(time.Now)
	results := repository.NewMemoryResultStore(time.Now)
	ratings := repository.NewStaticRatingProvider(1000, map[string]int{"pro": 1800})
	registry := prometheus.NewRegistry()

	queueService := service.NewQueueService(queue, results, ratings, metrics.NewMetrics(registry), nil, service.QueueConfig{
		GameModes:       mm.GameModes,
		DefaultGameMode: mm.DefaultGameMode,
		DefaultRegion:   mm.DefaultRegion,
		PlayerRecordTTL: mm.PlayerRecordTTL,
		EstimatedWait:   mm.EstimatedWait,
		ReplaceOnRejoin: false,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := websocket.NewHub(nil)
	go hub.Run(ctx)

	manager := jwtutil.NewJWTManager("test-secret", time.Hour)
	router := SetupRouter(Dependencies{
		Config:        cfg,
		QueueService:  queueService,
		Hub:           hub,
		TokenVerifier: manager,
		JoinLimiter:   limiter,
		Gatherer:      registry,
	})

	return &testServer{router: router, jwt: manager, queue: queue, results: results, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, playerID, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if playerID != "" {
		token, err := s.jwt.Generate(playerID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]string](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "matchmaking-service", body["service"])
}

func TestRouter_NotFound(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{"/nope", "/v1/matchmaking/unknown"} {
		w := s.do(t, http.MethodGet, path, "p1", "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, "NOT_FOUND", decode[map[string]string](t, w)["error"])
	}
}

func TestRouter_Metrics(t *testing.T) {
	s := newTestServer(t, nil)

	s.do(t, http.MethodPost, "/v1/matchmaking/join", "p1", "")

	w := s.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "skybattle_matchmaking_joins_total")
}

func TestRouter_Auth(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		header string
	}{
		{name: "헤더 없음"},
		{name: "Bearer 형식 아님", header: "Token abc"},
		{name: "잘못된 토큰", header: "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/matchmaking/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "UNAUTHORIZED", decode[map[string]string](t, w)["error"])
		})
	}

	t.Run("token 쿼리 허용", func(t *testing.T) {
		token, err := s.jwt.Generate("p1")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/v1/matchmaking/status?token="+token, nil)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRouter_JoinStatusLeave(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/v1/matchmaking/join", "p1", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	joined := decode[models.JoinResponse](t, w)
	assert.Equal(t, models.QueueStatusQueued, joined.Status)
	assert.Equal(t, 1000, joined.Rating)
	assert.Equal(t, 1, joined.QueuePosition)

	w = s.do(t, http.MethodPost, "/v1/matchmaking/join", "pro", `{"game_mode":"TDM","region":"eu-west-1"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1800, decode[models.JoinResponse](t, w).Rating)

	w = s.do(t, http.MethodGet, "/v1/matchmaking/status", "pro", "")
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[models.StatusResponse](t, w)
	assert.Equal(t, models.QueueStatusSearching, status.Status)
	assert.Equal(t, 2, status.QueuePosition)
	assert.Equal(t, 2, status.QueueTotal)

	w = s.do(t, http.MethodDelete, "/v1/matchmaking/leave", "pro", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodDelete, "/v1/matchmaking/leave", "pro", "")
	assert.Equal(t, http.StatusNoContent, w.Code, "leave is idempotent")

	w = s.do(t, http.MethodGet, "/v1/matchmaking/status", "pro", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.QueueStatusNotQueued, decode[models.StatusResponse](t, w).Status)
}

func TestRouter_JoinErrors(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/v1/matchmaking/join", "p1", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	tests := []struct {
		name       string
		playerID   string
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "이미 대기 중", playerID: "p1", wantStatus: http.StatusConflict, wantCode: "ALREADY_QUEUED"},
		{name: "알 수 없는 게임 모드", playerID: "p2", body: `{"game_mode":"CTF"}`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_GAME_MODE"},
		{name: "잘못된 JSON", playerID: "p2", body: `{"game_mode":`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_REQUEST"},
		{name: "긴 region", playerID: "p2", body: `{"region":"` + strings.Repeat("r", 65) + `"}`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_REGION"},
		{name: "공백이 있는 player id", playerID: "bad id", wantStatus: http.StatusBadRequest, wantCode: "INVALID_PLAYER_ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/v1/matchmaking/join", tt.playerID, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decode[map[string]interface{}](t, w)["error"])
		})
	}
}

func TestRouter_MatchFoundOnStatus(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	group := &models.MatchGroup{
		MatchID:         "m1",
		GameMode:        "FFA",
		MapID:           "outpost",
		SessionEndpoint: models.SessionEndpoint{ServerIP: "127.0.0.1", ServerPort: 7001, SessionID: "m1"},
		Players:         []models.MatchPlayer{{PlayerID: "p1", Rating: 1000}, {PlayerID: "p2", Rating: 1040}},
	}
	require.NoError(t, s.results.PutResult(ctx, "p1", group, time.Minute))

	w := s.do(t, http.MethodPost, "/v1/matchmaking/join", "p1", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "MATCH_PENDING", decode[map[string]interface{}](t, w)["error"])

	w = s.do(t, http.MethodGet, "/v1/matchmaking/status", "p1", "")
	require.Equal(t, http.StatusOK, w.Code)

	status := decode[models.StatusResponse](t, w)
	assert.Equal(t, models.QueueStatusMatchFound, status.Status)
	require.NotNil(t, status.Match)
	assert.Equal(t, "m1", status.Match.MatchID)
	assert.Equal(t, 7001, status.Match.SessionEndpoint.ServerPort)

	w = s.do(t, http.MethodGet, "/v1/matchmaking/status", "p1", "")
	assert.Equal(t, models.QueueStatusNotQueued, decode[models.StatusResponse](t, w).Status)
}

func TestRouter_JoinRateLimit(t *testing.T) {
	// refill 없이 2회만 허용
	s := newTestServer(t, ratelimit.NewRateLimiter(2, 0))

	for i := 0; i < 2; i++ {
		s.do(t, http.MethodDelete, "/v1/matchmaking/leave", "p1", "")
		w := s.do(t, http.MethodPost, "/v1/matchmaking/join", "p1", "")
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := s.do(t, http.MethodPost, "/v1/matchmaking/join", "p1", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decode[map[string]interface{}](t, w)["error"])

	t.Run("다른 플레이어는 별도 bucket", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/v1/matchmaking/join", "p2", "")
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("status와 leave는 제한하지 않음", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/v1/matchmaking/status", "p1", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/matchmaking/join", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/matchmaking/join", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_WebSocketPush(t *testing.T) {
	s := newTestServer(t, nil)
	server := httptest.NewServer(s.router)
	defer server.Close()

	token, err := s.jwt.Generate("p1")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/ws/matchmaking?token=" + token
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ack websocket.Message
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, websocket.MessageTypeAuthAck, ack.Type)

	channel, ok := s.hub.TryGetChannel("p1")
	require.True(t, ok)
	require.NoError(t, channel.Push(service.MessageTypeMatchFound, &models.MatchGroup{MatchID: "m1"}))

	var pushed struct {
		Type string            `json:"type"`
		Data models.MatchGroup `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Equal(t, service.MessageTypeMatchFound, pushed.Type)
	assert.Equal(t, "m1", pushed.Data.MatchID)

	t.Run("토큰 없이 연결 불가", func(t *testing.T) {
		_, resp, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/v1/ws/matchmaking", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
