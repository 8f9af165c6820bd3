package gridsession

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the sanitizer's Prometheus counters. A nil *Metrics is valid
// and disables collection.
type Metrics struct {
	passes   prometheus.Counter
	removals prometheus.Counter
	skips    prometheus.Counter
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridsession_sanitizer_passes_total",
			Help: "Number of sanitization passes executed.",
		}),
		removals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridsession_sanitizer_removals_total",
			Help: "Number of session attributes removed as unsafe to replicate.",
		}),
		skips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridsession_sanitizer_skips_total",
			Help: "Number of sanitization attempts skipped because a pass was already in progress.",
		}),
	}
	reg.MustRegister(m.passes, m.removals, m.skips)
	return m
}

func (m *Metrics) incPasses() {
	if m != nil {
		m.passes.Inc()
	}
}

func (m *Metrics) incRemovals() {
	if m != nil {
		m.removals.Inc()
	}
}

func (m *Metrics) incSkips() {
	if m != nil {
		m.skips.Inc()
	}
}
