package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/skybattle/matchmaking-service/internal/api"
	"github.com/skybattle/matchmaking-service/internal/config"
	"github.com/skybattle/matchmaking-service/internal/repository"
	"github.com/skybattle/matchmaking-service/internal/service"
	"github.com/skybattle/matchmaking-service/internal/websocket"
	"github.com/skybattle/matchmaking-service/pkg/database"
	"github.com/skybattle/matchmaking-service/pkg/distributed"
	jwtutil "github.com/skybattle/matchmaking-service/pkg/jwt"
	"github.com/skybattle/matchmaking-service/pkg/logger"
	"github.com/skybattle/matchmaking-service/pkg/metrics"
	"github.com/skybattle/matchmaking-service/pkg/ratelimit"
)

const (
	redisKeyPrefix   = "matchmaking"
	tickGuardKey     = "matchmaking:matcher:lock"
	shutdownTimeout  = 10 * time.Second
	limiterSweepTick = 5 * time.Minute
)

// stores 저장소 백엔드별 구성 요소
type stores struct {
	queue   repository.QueueStore
	results repository.MatchResultStore
	limiter ratelimit.Limiter
	guard   service.TickGuard
	relay   *distributed.PushRelay
	close   func()
}

func main() {
	// 설정 로드
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 로거 초기화
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting matchmaking service",
		"port", cfg.Port,
		"env", cfg.Env,
		"store", cfg.Matchmaking.Store,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mm := metrics.NewMetrics(registry)

	st, err := setupStores(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to set up matchmaking store", "error", err)
	}
	defer st.close()

	ratings, closeRatings, err := setupRatings(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to set up rating provider", "error", err)
	}
	defer closeRatings()

	// WebSocket Hub
	hub := websocket.NewHub(logger.Named("hub"))
	go hub.Run(ctx)

	mmCfg := cfg.Matchmaking
	queueService := service.NewQueueService(st.queue, st.results, ratings, mm, logger.Named("queue"), service.QueueConfig{
		GameModes:       mmCfg.GameModes,
		DefaultGameMode: mmCfg.DefaultGameMode,
		DefaultRegion:   mmCfg.DefaultRegion,
		PlayerRecordTTL: mmCfg.PlayerRecordTTL,
		EstimatedWait:   mmCfg.EstimatedWait,
		ReplaceOnRejoin: mmCfg.DuplicateJoinPolicy == config.DuplicateJoinReplace,
	})

	dispatcher := service.NewDispatcher(hub, mm, logger.Named("dispatcher"))
	if st.relay != nil {
		dispatcher.SetRelay(st.relay)
		go runPushRelay(ctx, st.relay, hub)
	}
	allocator := service.NewStaticAllocator(cfg.GameServerIP, cfg.GameServerPort)

	var opts []service.MatcherOption
	if st.guard != nil {
		opts = append(opts, service.WithTickGuard(st.guard))
	}
	matcher := service.NewBracketMatcher(st.queue, st.results, allocator, dispatcher, mm, logger.Named("matcher"), service.MatcherConfig{
		TickInterval:    mmCfg.TickInterval,
		ScanLimit:       mmCfg.ScanLimit,
		MinGroupSize:    mmCfg.MinGroupSize,
		TargetGroupSize: mmCfg.TargetGroupSize,
		Spread: service.SpreadPolicy{
			Base:           mmCfg.BaseSpread,
			ExpandStep:     mmCfg.ExpandStep,
			ExpandInterval: mmCfg.ExpandInterval,
			Max:            mmCfg.MaxSpread,
		},
		MapID:     mmCfg.DefaultMapID,
		ResultTTL: mmCfg.MatchResultTTL,
		RecordTTL: mmCfg.PlayerRecordTTL,
	}, opts...)
	matcher.Start()

	router := api.SetupRouter(api.Dependencies{
		Config:        cfg,
		QueueService:  queueService,
		Hub:           hub,
		TokenVerifier: jwtutil.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration),
		JoinLimiter:   st.limiter,
		Gatherer:      registry,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Graceful shutdown 대기
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("HTTP server failed", "error", err)
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// 진행 중인 tick 완료 대기
	matcher.Stop()
	stop()

	logger.Info("Server exited")
}

// setupStores MATCHMAKING_STORE에 따라 메모리 또는 Redis 저장소 구성
func setupStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	capacity := cfg.Matchmaking.JoinRateLimit
	refill := float64(capacity) / 60 // capacity per minute

	if cfg.Matchmaking.Store == config.StoreMemory {
		limiter := ratelimit.NewRateLimiter(capacity, refill)
		go limiter.Run(ctx, limiterSweepTick)

		logger.Info("Using in-memory matchmaking store")
		return &stores{
			queue:   repository.NewMemoryQueueStore(time.Now),
			results: repository.NewMemoryResultStore(time.Now),
			limiter: limiter,
			close:   func() {},
		}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Using Redis matchmaking store", "addr", opts.Addr)
	return &stores{
		queue:   repository.NewRedisQueueStore(client, redisKeyPrefix),
		results: repository.NewRedisResultStore(client, redisKeyPrefix),
		limiter: ratelimit.NewRedisRateLimiter(client, redisKeyPrefix+":ratelimit:", capacity, refill),
		guard:   distributed.NewTickGuard(client, tickGuardKey, 2*cfg.Matchmaking.TickInterval, logger.Named("tickguard")),
		relay:   distributed.NewPushRelay(client, distributed.DefaultPushChannel, logger.Named("relay")),
		close:   func() { client.Close() },
	}, nil
}

// setupRatings DATABASE_URL이 있으면 Postgres, 없으면 모든 플레이어에게 기본 rating
func setupRatings(ctx context.Context, cfg *config.Config) (service.RatingProvider, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using default rating for every player",
			"rating", cfg.DefaultRating)
		return repository.NewStaticRatingProvider(cfg.DefaultRating, nil), func() {}, nil
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultOptions())
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Database connection established")
	return repository.NewRatingRepository(db), func() { db.Close() }, nil
}

// runPushRelay 다른 인스턴스의 매처가 보낸 메시지를 이 인스턴스에 연결된 플레이어에게 전달
func runPushRelay(ctx context.Context, relay *distributed.PushRelay, hub *websocket.Hub) {
	err := relay.Run(ctx, func(event distributed.PushEvent) {
		channel, ok := hub.TryGetChannel(event.PlayerID)
		if !ok {
			return
		}
		if err := channel.Push(event.Type, event.Data); err != nil {
			logger.Warn("Failed to push relayed message",
				"playerId", event.PlayerID,
				"type", event.Type,
				"error", err)
		}
	})
	if err != nil {
		logger.Error("Push relay stopped", "error", err)
	}
}
