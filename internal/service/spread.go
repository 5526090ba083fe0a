package service

import (
	"math"
	"time"
)

// SpreadPolicy 대기 시간에 따라 허용 rating 차이를 넓히는 규칙.
// spread(wait) = min(Base + floor(wait/ExpandInterval)*ExpandStep, Max)
type SpreadPolicy struct {
	Base           int
	ExpandStep     int
	ExpandInterval time.Duration
	Max            int
}

// DefaultSpreadPolicy ±100에서 시작해 10초마다 50씩, 최대 200
func DefaultSpreadPolicy() SpreadPolicy {
	return SpreadPolicy{
		Base:           100,
		ExpandStep:     50,
		ExpandInterval: 10 * time.Second,
		Max:            200,
	}
}

// Spread wait 동안 기다린 플레이어의 허용 rating 차이
func (p SpreadPolicy) Spread(wait time.Duration) int {
	spread := p.Base
	if p.ExpandInterval > 0 && wait > 0 {
		spread += int(wait/p.ExpandInterval) * p.ExpandStep
	}

	if spread > p.Max {
		return p.Max
	}
	return spread
}

// FullSpreadAfter Spread가 Max에 도달하는 대기 시간
func (p SpreadPolicy) FullSpreadAfter() time.Duration {
	if p.Max <= p.Base {
		return 0
	}
	if p.ExpandStep <= 0 {
		return time.Duration(math.MaxInt64)
	}
	steps := (p.Max - p.Base + p.ExpandStep - 1) / p.ExpandStep
	return time.Duration(steps) * p.ExpandInterval
}
