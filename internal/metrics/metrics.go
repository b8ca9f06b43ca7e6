// Package metrics exposes prometheus counters/gauges for the circuit
// breaker set and relay engine, registered in the default prometheus
// registry (spec.md §4.1, §4.7 ambient observability). The UI's
// NetworkHealthSummary is computed from internal/breaker, not from these.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	breakerCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storynode",
		Subsystem: "breaker",
		Name:      "calls_total",
		Help:      "Circuit breaker calls by operation and outcome.",
	}, []string{"op", "outcome"})

	breakerRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storynode",
		Subsystem: "breaker",
		Name:      "rejected_total",
		Help:      "Calls rejected because the breaker was open.",
	}, []string{"op"})

	breakerStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "storynode",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Current breaker state (0=closed, 1=open, 2=half_open).",
	}, []string{"op"})

	relayCounters = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storynode",
		Subsystem: "relay",
		Name:      "events_total",
		Help:      "Relay engine events by kind (relayed, dropped, rate_limited, crypto_error).",
	}, []string{"kind"})

	syncCounters = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storynode",
		Subsystem: "storysync",
		Name:      "events_total",
		Help:      "Story sync engine events by kind (stories_received, channels_inserted).",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(breakerCalls, breakerRejections, breakerStateGauge, relayCounters, syncCounters)
}

func BreakerCall(op string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	breakerCalls.WithLabelValues(op, outcome).Inc()
}

func BreakerRejected(op string) {
	breakerRejections.WithLabelValues(op).Inc()
}

var stateValue = map[string]float64{"closed": 0, "open": 1, "half_open": 2}

func BreakerState(op, state string) {
	breakerStateGauge.WithLabelValues(op).Set(stateValue[state])
}

func RelayEvent(kind string) {
	relayCounters.WithLabelValues(kind).Inc()
}

func SyncEvent(kind string) {
	syncCounters.WithLabelValues(kind).Inc()
}
