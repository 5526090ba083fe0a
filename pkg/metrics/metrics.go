package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MatchmakingMetrics 매칭 엔진이 기록하는 지표
type MatchmakingMetrics interface {
	ObserveTick(result string, elapsed time.Duration)
	SetQueueSize(size int)
	AddGroupFormed(gameMode string, size int)
	AddAllocationFailure(gameMode string)
	AddStalePurged(count int)
	AddPush(outcome string)
	AddJoin(outcome string)
}

// NewMetrics registry에 지표를 등록한다. registry가 nil이면 아무것도 기록하지 않는다.
func NewMetrics(registry prometheus.Registerer) MatchmakingMetrics {
	if registry == nil {
		return nopMetrics{}
	}
	return setupPrometheusMetrics(registry)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTick(string, time.Duration) {}
func (nopMetrics) SetQueueSize(int)                  {}
func (nopMetrics) AddGroupFormed(string, int)        {}
func (nopMetrics) AddAllocationFailure(string)       {}
func (nopMetrics) AddStalePurged(int)                {}
func (nopMetrics) AddPush(string)                    {}
func (nopMetrics) AddJoin(string)                    {}
