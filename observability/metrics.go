package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StakeMetrics tracks staking pool operations and pool-level balances.
type StakeMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	shortfall   prometheus.Counter
	totalStaked prometheus.Gauge
	remaining   prometheus.Gauge
	distributed prometheus.Gauge
	stakers     prometheus.Gauge
	rpc         *prometheus.CounterVec
	streams     prometheus.Gauge
	halted      prometheus.Gauge
}

var (
	stakeMetricsOnce sync.Once
	stakeRegistry    *StakeMetrics
)

// Stake returns the lazily-initialised staking metrics registry.
func Stake() *StakeMetrics {
	stakeMetricsOnce.Do(func() {
		stakeRegistry = &StakeMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Staking operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakepool",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency of staking operations including ledger transfer and persistence.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			shortfall: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "reward_shortfall_total",
				Help:      "Reward owed to stakers that the remaining budget could not cover.",
			}),
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "total_staked",
				Help:      "Principal currently held in custody.",
			}),
			remaining: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "remaining_reward",
				Help:      "Reward budget not yet distributed.",
			}),
			distributed: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "distributed_reward",
				Help:      "Reward paid out since initialization.",
			}),
			stakers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "active_stakers",
				Help:      "Stakers with an open stake cycle.",
			}),
			rpc: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests segmented by method and error code (0 on success).",
			}, []string{"method", "code"}),
			streams: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakepool",
				Subsystem: "rpc",
				Name:      "event_streams",
				Help:      "Open websocket event subscriptions.",
			}),
			halted: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakepool",
				Subsystem: "engine",
				Name:      "halted",
				Help:      "1 when mutations are halted after a persistence failure.",
			}),
		}
		prometheus.MustRegister(
			stakeRegistry.operations,
			stakeRegistry.latency,
			stakeRegistry.shortfall,
			stakeRegistry.totalStaked,
			stakeRegistry.remaining,
			stakeRegistry.distributed,
			stakeRegistry.stakers,
			stakeRegistry.rpc,
			stakeRegistry.streams,
			stakeRegistry.halted,
		)
	})
	return stakeRegistry
}

// Observe records the outcome of an operation. Outcome is "ok" or the failure
// kind label.
func (m *StakeMetrics) Observe(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	op = normalizeLabel(op)
	outcome = normalizeLabel(outcome)
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	if duration > 0 {
		m.latency.WithLabelValues(op).Observe(duration.Seconds())
	}
}

// RecordShortfall adds an unpaid reward amount.
func (m *StakeMetrics) RecordShortfall(amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	m.shortfall.Add(float64(amount))
}

// SetPool updates the pool gauges.
func (m *StakeMetrics) SetPool(totalStaked, remaining, distributed, activeStakers uint64) {
	if m == nil {
		return
	}
	m.totalStaked.Set(float64(totalStaked))
	m.remaining.Set(float64(remaining))
	m.distributed.Set(float64(distributed))
	m.stakers.Set(float64(activeStakers))
}

// RecordRPC counts a JSON-RPC request.
func (m *StakeMetrics) RecordRPC(method string, code int) {
	if m == nil {
		return
	}
	method = normalizeLabel(method)
	if method == "" {
		method = "unknown"
	}
	m.rpc.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// StreamOpened increments the open stream gauge; the returned func undoes it.
func (m *StakeMetrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.streams.Inc()
	var once sync.Once
	return func() { once.Do(m.streams.Dec) }
}

// SetHalted flags the service as halted.
func (m *StakeMetrics) SetHalted(halted bool) {
	if m == nil {
		return
	}
	if halted {
		m.halted.Set(1)
		return
	}
	m.halted.Set(0)
}

func normalizeLabel(v string) string {
	return strings.TrimSpace(v)
}
