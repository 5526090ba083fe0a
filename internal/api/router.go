package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skybattle/matchmaking-service/internal/api/handlers"
	"github.com/skybattle/matchmaking-service/internal/api/middleware"
	"github.com/skybattle/matchmaking-service/internal/config"
	"github.com/skybattle/matchmaking-service/internal/service"
	"github.com/skybattle/matchmaking-service/internal/websocket"
	"github.com/skybattle/matchmaking-service/pkg/ratelimit"
)

// Dependencies 라우터가 사용하는 이미 생성된 컴포넌트
type Dependencies struct {
	Config        *config.Config
	QueueService  *service.QueueService
	Hub           *websocket.Hub
	TokenVerifier middleware.TokenVerifier
	JoinLimiter   ratelimit.Limiter
	// nil이면 /metrics를 노출하지 않는다.
	Gatherer prometheus.Gatherer
}

// SetupRouter API 라우터 설정
func SetupRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 전역 미들웨어
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	matchmakingHandler := handlers.NewMatchmakingHandler(deps.QueueService)
	wsHandler := handlers.NewWebSocketHandler(deps.Hub, cfg.CORSAllowedOrigins)
	auth := middleware.Auth(deps.TokenVerifier)

	// Health check
	router.GET("/health", handlers.HealthCheck)

	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	{
		matchmaking := v1.Group("/matchmaking")
		matchmaking.Use(auth)
		{
			join := []gin.HandlerFunc{matchmakingHandler.Join}
			if deps.JoinLimiter != nil {
				join = append([]gin.HandlerFunc{middleware.RateLimit(deps.JoinLimiter, "join", middleware.PlayerKeyFunc)}, join...)
			}
			matchmaking.POST("/join", join...)
			matchmaking.DELETE("/leave", matchmakingHandler.Leave)
			matchmaking.GET("/status", matchmakingHandler.Status)
		}

		// WebSocket push endpoint
		v1.GET("/ws/matchmaking", auth, wsHandler.HandleWebSocket)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND"})
	})

	return router
}
