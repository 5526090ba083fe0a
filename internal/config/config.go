package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	DuplicateJoinReplace = "replace"
	DuplicateJoinReject  = "reject"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database (player rating store)
	DatabaseURL   string
	DefaultRating int

	// Redis
	RedisURL string

	// JWT
	JWTSecret     string
	JWTExpiration time.Duration

	// CORS
	CORSAllowedOrigins []string

	// Matchmaking
	Matchmaking MatchmakingConfig

	// Game server (session allocator)
	GameServerIP   string
	GameServerPort int
}

type MatchmakingConfig struct {
	Store               string
	TickInterval        time.Duration
	ScanLimit           int
	MinGroupSize        int
	TargetGroupSize     int
	BaseSpread          int
	ExpandStep          int
	ExpandInterval      time.Duration
	MaxSpread           int
	PlayerRecordTTL     time.Duration
	MatchResultTTL      time.Duration
	GameModes           []string
	DefaultGameMode     string
	DefaultRegion       string
	DefaultMapID        string
	DuplicateJoinPolicy string
	EstimatedWait       time.Duration
	JoinRateLimit       int64
}

// DefaultMatchmaking 원래 서비스의 기본값
func DefaultMatchmaking() MatchmakingConfig {
	return MatchmakingConfig{
		Store:               StoreMemory,
		TickInterval:        2 * time.Second,
		ScanLimit:           50,
		MinGroupSize:        2,
		TargetGroupSize:     10,
		BaseSpread:          100,
		ExpandStep:          50,
		ExpandInterval:      10 * time.Second,
		MaxSpread:           200,
		PlayerRecordTTL:     120 * time.Second,
		MatchResultTTL:      60 * time.Second,
		GameModes:           []string{"FFA", "TDM"},
		DefaultGameMode:     "FFA",
		DefaultRegion:       "ap-south-1",
		DefaultMapID:        "outpost",
		DuplicateJoinPolicy: DuplicateJoinReplace,
		EstimatedWait:       15 * time.Second,
		JoinRateLimit:       5,
	}
}

// HasGameMode mode가 허용된 게임 모드인지 확인
func (m MatchmakingConfig) HasGameMode(mode string) bool {
	for _, allowed := range m.GameModes {
		if allowed == mode {
			return true
		}
	}
	return false
}

func Load() (*Config, error) {
	// .env 파일 로드 (있는 경우)
	_ = godotenv.Load()

	def := DefaultMatchmaking()

	cfg := &Config{
		Port:               getEnv("PORT", "3002"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		DefaultRating:      getEnvInt("DEFAULT_RATING", 1000),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key"),
		JWTExpiration:      getEnvDuration("JWT_EXPIRATION", 24*time.Hour),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		GameServerIP:       getEnv("GAME_SERVER_IP", "127.0.0.1"),
		GameServerPort:     getEnvInt("GAME_SERVER_PORT", 7001),
		Matchmaking: MatchmakingConfig{
			Store:               getEnv("MATCHMAKING_STORE", def.Store),
			TickInterval:        getEnvDuration("MATCHMAKING_TICK_INTERVAL", def.TickInterval),
			ScanLimit:           getEnvInt("MATCHMAKING_SCAN_LIMIT", def.ScanLimit),
			MinGroupSize:        getEnvInt("MIN_GROUP_SIZE", def.MinGroupSize),
			TargetGroupSize:     getEnvInt("TARGET_GROUP_SIZE", def.TargetGroupSize),
			BaseSpread:          getEnvInt("BASE_RANK_SPREAD", def.BaseSpread),
			ExpandStep:          getEnvInt("RANK_SPREAD_EXPAND_RATE", def.ExpandStep),
			ExpandInterval:      time.Duration(getEnvInt("RANK_SPREAD_EXPAND_INTERVAL_MS", int(def.ExpandInterval.Milliseconds()))) * time.Millisecond,
			MaxSpread:           getEnvInt("MAX_RANK_SPREAD", def.MaxSpread),
			PlayerRecordTTL:     getEnvDuration("PLAYER_RECORD_TTL", def.PlayerRecordTTL),
			MatchResultTTL:      getEnvDuration("MATCH_RESULT_TTL", def.MatchResultTTL),
			GameModes:           getEnvList("GAME_MODES", def.GameModes),
			DefaultGameMode:     getEnv("DEFAULT_GAME_MODE", def.DefaultGameMode),
			DefaultRegion:       getEnv("DEFAULT_REGION", def.DefaultRegion),
			DefaultMapID:        getEnv("DEFAULT_MAP_ID", def.DefaultMapID),
			DuplicateJoinPolicy: getEnv("DUPLICATE_JOIN_POLICY", def.DuplicateJoinPolicy),
			EstimatedWait:       time.Duration(getEnvInt("ESTIMATED_WAIT_SECONDS", int(def.EstimatedWait.Seconds()))) * time.Second,
			JoinRateLimit:       int64(getEnvInt("JOIN_RATE_LIMIT", int(def.JoinRateLimit))),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 서로 맞지 않는 설정 조합 검사
func (c *Config) Validate() error {
	var errs []error
	m := c.Matchmaking

	if m.Store != StoreMemory && m.Store != StoreRedis {
		errs = append(errs, fmt.Errorf("MATCHMAKING_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, m.Store))
	}
	if m.TickInterval <= 0 {
		errs = append(errs, errors.New("MATCHMAKING_TICK_INTERVAL must be positive"))
	}
	if m.ScanLimit <= 0 {
		errs = append(errs, errors.New("MATCHMAKING_SCAN_LIMIT must be positive"))
	}
	if m.MinGroupSize < 2 {
		errs = append(errs, errors.New("MIN_GROUP_SIZE must be at least 2"))
	}
	if m.TargetGroupSize < m.MinGroupSize {
		errs = append(errs, errors.New("TARGET_GROUP_SIZE must not be smaller than MIN_GROUP_SIZE"))
	}
	if m.BaseSpread < 0 || m.MaxSpread < m.BaseSpread {
		errs = append(errs, errors.New("MAX_RANK_SPREAD must not be smaller than BASE_RANK_SPREAD"))
	}
	if m.ExpandStep < 0 || m.ExpandInterval <= 0 {
		errs = append(errs, errors.New("rank spread expansion step and interval must be positive"))
	}
	if m.PlayerRecordTTL <= 0 || m.MatchResultTTL <= 0 {
		errs = append(errs, errors.New("PLAYER_RECORD_TTL and MATCH_RESULT_TTL must be positive"))
	}
	if len(m.GameModes) == 0 {
		errs = append(errs, errors.New("GAME_MODES must not be empty"))
	} else if !c.Matchmaking.HasGameMode(m.DefaultGameMode) {
		errs = append(errs, fmt.Errorf("DEFAULT_GAME_MODE %q is not listed in GAME_MODES", m.DefaultGameMode))
	}
	if m.DuplicateJoinPolicy != DuplicateJoinReplace && m.DuplicateJoinPolicy != DuplicateJoinReject {
		errs = append(errs, fmt.Errorf("DUPLICATE_JOIN_POLICY must be %q or %q", DuplicateJoinReplace, DuplicateJoinReject))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
