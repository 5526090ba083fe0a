package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "skybattle_matchmaking"

type prometheusMetrics struct {
	tickDuration       *prometheus.HistogramVec
	queueSize          prometheus.Gauge
	groupsFormed       *prometheus.CounterVec
	playersMatched     *prometheus.CounterVec
	allocationFailures *prometheus.CounterVec
	stalePurged        prometheus.Counter
	pushes             *prometheus.CounterVec
	joins              *prometheus.CounterVec
}

func setupPrometheusMetrics(registry prometheus.Registerer) prometheusMetrics {
	factory := promauto.With(registry)

	return prometheusMetrics{
		tickDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_duration_ms",
				Help:      "Bracket matcher tick duration in milliseconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			}, []string{"result"}),
		queueSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_size",
				Help:      "Number of players in the waiting set at the start of the last tick",
			}),
		groupsFormed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "groups_formed_total",
				Help:      "Match groups finalized by the bracket matcher",
			}, []string{"game_mode"}),
		playersMatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "players_matched_total",
				Help:      "Players placed into finalized match groups",
			}, []string{"game_mode"}),
		allocationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "allocation_failures_total",
				Help:      "Session allocation failures for otherwise complete groups",
			}, []string{"game_mode"}),
		stalePurged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_entries_purged_total",
				Help:      "Waiting set entries removed because their player record expired",
			}),
		pushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "push_notifications_total",
				Help:      "Match result push attempts by outcome",
			}, []string{"outcome"}),
		joins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "joins_total",
				Help:      "Queue join requests by outcome",
			}, []string{"outcome"}),
	}
}

func (m prometheusMetrics) ObserveTick(result string, elapsed time.Duration) {
	m.tickDuration.With(prometheus.Labels{"result": result}).Observe(float64(elapsed.Milliseconds()))
}

func (m prometheusMetrics) SetQueueSize(size int) {
	m.queueSize.Set(float64(size))
}

func (m prometheusMetrics) AddGroupFormed(gameMode string, size int) {
	m.groupsFormed.With(prometheus.Labels{"game_mode": gameMode}).Inc()
	m.playersMatched.With(prometheus.Labels{"game_mode": gameMode}).Add(float64(size))
}

func (m prometheusMetrics) AddAllocationFailure(gameMode string) {
	m.allocationFailures.With(prometheus.Labels{"game_mode": gameMode}).Inc()
}

func (m prometheusMetrics) AddStalePurged(count int) {
	m.stalePurged.Add(float64(count))
}

func (m prometheusMetrics) AddPush(outcome string) {
	m.pushes.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func (m prometheusMetrics) AddJoin(outcome string) {
	m.joins.With(prometheus.Labels{"outcome": outcome}).Inc()
}
