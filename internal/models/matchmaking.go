package models

import "time"

type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "QUEUED"
	QueueStatusNotQueued  QueueStatus = "NOT_QUEUED"
	QueueStatusSearching  QueueStatus = "SEARCHING"
	QueueStatusMatchFound QueueStatus = "MATCH_FOUND"
)

// PlayerRecord 대기 중인 플레이어의 메타데이터 (TTL 적용)
type PlayerRecord struct {
	PlayerID string    `json:"player_id"`
	Rating   int       `json:"rating"`
	GameMode string    `json:"game_mode"`
	Region   string    `json:"region"`
	JoinedAt time.Time `json:"joined_at"`
}

// RankedPlayer Waiting Set 스냅샷 항목 (rating 오름차순)
type RankedPlayer struct {
	PlayerID string `json:"player_id"`
	Rating   int    `json:"rating"`
}

// QueueEntry 스냅샷 항목과 Player Record를 합친 매칭 후보
type QueueEntry struct {
	PlayerID string
	Rating   int
	GameMode string
	Region   string
	JoinedAt time.Time
}

// Wait 기준 시각까지의 대기 시간
func (e QueueEntry) Wait(now time.Time) time.Duration {
	if now.Before(e.JoinedAt) {
		return 0
	}
	return now.Sub(e.JoinedAt)
}

type MatchPlayer struct {
	PlayerID string `json:"player_id"`
	Rating   int    `json:"rating"`
}

// SessionEndpoint Session Allocator가 돌려주는 게임 서버 접속 정보
type SessionEndpoint struct {
	ServerIP   string `json:"server_ip"`
	ServerPort int    `json:"server_port"`
	SessionID  string `json:"session_id"`
	Region     string `json:"region,omitempty"`
}

// MatchGroup 한 tick에서 만들어진 매칭 결과. 생성 후 변경하지 않는다.
type MatchGroup struct {
	MatchID         string          `json:"match_id"`
	GameMode        string          `json:"game_mode"`
	MapID           string          `json:"map_id"`
	SessionEndpoint SessionEndpoint `json:"session_endpoint"`
	Players         []MatchPlayer   `json:"players"`
	Spread          int             `json:"spread"`
	CreatedAt       time.Time       `json:"created_at"`
}

// HasPlayer 그룹에 playerID가 포함되어 있는지 확인
func (g *MatchGroup) HasPlayer(playerID string) bool {
	for _, p := range g.Players {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}

type JoinRequest struct {
	GameMode string `json:"game_mode"`
	Region   string `json:"region"`
}

type JoinResponse struct {
	Status               QueueStatus `json:"status"`
	Rating               int         `json:"rating"`
	QueuePosition        int         `json:"queue_position"`
	EstimatedWaitSeconds int         `json:"estimated_wait_seconds"`
}

type StatusResponse struct {
	Status        QueueStatus `json:"status"`
	QueuePosition int         `json:"queue_position,omitempty"`
	QueueTotal    int         `json:"queue_total,omitempty"`
	Match         *MatchGroup `json:"match,omitempty"`
}
