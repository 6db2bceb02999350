package facade

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the facade's Prometheus collectors against a registry
// private to this Facade instance, rather than the global default
// registry — so a test that builds several Facades in one process
// never hits a duplicate-registration panic.
type metrics struct {
	registry     *prometheus.Registry
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kahlo_host",
			Name:      "tool_calls_total",
			Help:      "Total tool facade calls, partitioned by tool, transport, and outcome.",
		}, []string{"tool", "transport", "outcome"}),
		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kahlo_host",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool facade call latency, partitioned by tool and transport.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool", "transport"}),
	}
}

func (m *metrics) observe(tool, transport, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(tool, transport, outcome).Inc()
	m.callDuration.WithLabelValues(tool, transport).Observe(seconds)
}

// Registry exposes the facade's private Prometheus registry for mounting
// behind /metrics.
func (f *Facade) Registry() *prometheus.Registry {
	return f.metrics.registry
}
