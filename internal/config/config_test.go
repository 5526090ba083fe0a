package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	m := cfg.Matchmaking
	assert.Equal(t, StoreMemory, m.Store)
	assert.Equal(t, 2*time.Second, m.TickInterval)
	assert.Equal(t, 50, m.ScanLimit)
	assert.Equal(t, 2, m.MinGroupSize)
	assert.Equal(t, 10, m.TargetGroupSize)
	assert.Equal(t, 100, m.BaseSpread)
	assert.Equal(t, 50, m.ExpandStep)
	assert.Equal(t, 10*time.Second, m.ExpandInterval)
	assert.Equal(t, 200, m.MaxSpread)
	assert.Equal(t, 120*time.Second, m.PlayerRecordTTL)
	assert.Equal(t, 60*time.Second, m.MatchResultTTL)
	assert.Equal(t, []string{"FFA", "TDM"}, m.GameModes)
	assert.Equal(t, DuplicateJoinReplace, m.DuplicateJoinPolicy)
	assert.Equal(t, int64(5), m.JoinRateLimit)
	assert.Equal(t, 1000, cfg.DefaultRating)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("MATCHMAKING_STORE", "redis")
	t.Setenv("MATCHMAKING_TICK_INTERVAL", "500ms")
	t.Setenv("BASE_RANK_SPREAD", "80")
	t.Setenv("RANK_SPREAD_EXPAND_INTERVAL_MS", "5000")
	t.Setenv("MAX_RANK_SPREAD", "300")
	t.Setenv("GAME_MODES", "FFA, CTF ,")
	t.Setenv("DUPLICATE_JOIN_POLICY", "reject")
	t.Setenv("ESTIMATED_WAIT_SECONDS", "30")
	t.Setenv("MIN_GROUP_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	m := cfg.Matchmaking
	assert.Equal(t, StoreRedis, m.Store)
	assert.Equal(t, 500*time.Millisecond, m.TickInterval)
	assert.Equal(t, 80, m.BaseSpread)
	assert.Equal(t, 5*time.Second, m.ExpandInterval)
	assert.Equal(t, 300, m.MaxSpread)
	assert.Equal(t, []string{"FFA", "CTF"}, m.GameModes)
	assert.Equal(t, DuplicateJoinReject, m.DuplicateJoinPolicy)
	assert.Equal(t, 30*time.Second, m.EstimatedWait)
	// 잘못된 숫자는 기본값
	assert.Equal(t, 2, m.MinGroupSize)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{Matchmaking: DefaultMatchmaking()}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "기본값은 유효", mutate: func(c *Config) {}},
		{name: "알 수 없는 저장소", mutate: func(c *Config) { c.Matchmaking.Store = "etcd" }, wantErr: "MATCHMAKING_STORE"},
		{name: "tick 간격 0", mutate: func(c *Config) { c.Matchmaking.TickInterval = 0 }, wantErr: "MATCHMAKING_TICK_INTERVAL"},
		{name: "최소 그룹 1명", mutate: func(c *Config) { c.Matchmaking.MinGroupSize = 1 }, wantErr: "MIN_GROUP_SIZE"},
		{name: "목표가 최소보다 작음", mutate: func(c *Config) { c.Matchmaking.TargetGroupSize = 1 }, wantErr: "TARGET_GROUP_SIZE"},
		{name: "max spread가 base보다 작음", mutate: func(c *Config) { c.Matchmaking.MaxSpread = 50 }, wantErr: "MAX_RANK_SPREAD"},
		{name: "기본 모드가 목록에 없음", mutate: func(c *Config) { c.Matchmaking.DefaultGameMode = "CTF" }, wantErr: "DEFAULT_GAME_MODE"},
		{name: "게임 모드 없음", mutate: func(c *Config) { c.Matchmaking.GameModes = nil }, wantErr: "GAME_MODES"},
		{name: "알 수 없는 중복 참가 정책", mutate: func(c *Config) { c.Matchmaking.DuplicateJoinPolicy = "merge" }, wantErr: "DUPLICATE_JOIN_POLICY"},
		{name: "TTL 0", mutate: func(c *Config) { c.Matchmaking.MatchResultTTL = 0 }, wantErr: "MATCH_RESULT_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
