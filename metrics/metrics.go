// Package metrics 服務的prometheus指標
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Transitions        *prometheus.CounterVec
	Operations         *prometheus.CounterVec
	SettlementFailures *prometheus.CounterVec
	TxRetries          prometheus.Counter
	TickDuration       prometheus.Histogram
	TicksSkipped       *prometheus.CounterVec
}

// New 在reg上註冊所有指標，reg為nil時使用prometheus.DefaultRegisterer
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions applied, by aggregate kind and target state.",
		}, []string{"kind", "to"}),
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "operations_total",
			Help:      "Participant operations, by aggregate kind, operation and result.",
		}, []string{"kind", "op", "result"}),
		SettlementFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "settlement_failures_total",
			Help:      "Settlement gateway commits that failed during scheduled transitions.",
		}, []string{"kind"}),
		TxRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "tx_retries_total",
			Help:      "Transactions retried after a serialization conflict.",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arena",
			Name:      "scheduler_tick_seconds",
			Help:      "Duration of scheduler ticks.",
			Buckets:   prometheus.DefBuckets,
		}),
		TicksSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "scheduler_skipped_total",
			Help:      "Scheduler ticks skipped, by reason.",
		}, []string{"reason"}),
	}
}

// 以下方法允許在nil上呼叫，未設置指標時不做任何事

func (m *Metrics) Transition(kind, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(kind, to).Inc()
}

func (m *Metrics) Operation(kind, op, result string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(kind, op, result).Inc()
}

func (m *Metrics) SettlementFailure(kind string) {
	if m == nil {
		return
	}
	m.SettlementFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) TxRetry() {
	if m == nil {
		return
	}
	m.TxRetries.Inc()
}

func (m *Metrics) Tick(seconds float64) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(seconds)
}

func (m *Metrics) Skipped(reason string) {
	if m == nil {
		return
	}
	m.TicksSkipped.WithLabelValues(reason).Inc()
}
