// Package metrics 止损管理器的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stopguard"

// ============ 轮询周期 ============

var CycleDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one evaluation cycle over all active rules",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
)

var CyclesSkipped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "cycles_skipped_total",
		Help:      "Ticks dropped because the previous cycle was still running",
	},
)

// RuleEvaluations 每条规则每个周期的结果：managed / deferred / removed / failed。
var RuleEvaluations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "rule_evaluations_total",
		Help:      "Per-rule evaluation results by outcome",
	},
	[]string{"outcome"},
)

// ============ 规则与动作 ============

var ActiveRules = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "active",
		Help:      "Number of registered exit rules",
	},
)

var Actions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "actions",
		Name:      "total",
		Help:      "Broker-facing actions by type and status",
	},
	[]string{"action", "status"},
)

var BrokerCallLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "actions",
		Name:      "broker_call_seconds",
		Help:      "Latency of modify / partial close calls",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	},
	[]string{"action"},
)

var GateFallbacks = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "actions",
		Name:      "gate_fallback_total",
		Help:      "Trailing updates that used the fallback multiplier after repeated gate failures",
	},
)

// ============ 市场数据 ============

var ProviderErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "market",
		Name:      "provider_errors_total",
		Help:      "Market data failures by source",
	},
	[]string{"source"},
)

// BreakerState 外部依赖熔断器状态：0 关闭，1 打开，2 半开。
var BreakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "market",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per dependency (0 closed, 1 open, 2 half-open)",
	},
	[]string{"name"},
)

var JournalDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "journal",
		Name:      "dropped_total",
		Help:      "Journal entries dropped because the buffer was full",
	},
)

// IncOutcome 记录单条规则的评估结果。
func IncOutcome(outcome string) {
	RuleEvaluations.WithLabelValues(outcome).Inc()
}

func IncAction(action, status string) {
	Actions.WithLabelValues(action, status).Inc()
}
