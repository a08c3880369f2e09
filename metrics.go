// SPDX-License-Identifier: GPL-3.0-or-later

package linepump

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors updated by pumps and servers.
//
// All methods are safe to call on a nil *Metrics, in which case they do
// nothing. This is how [NewConfig] disables metrics by default.
type Metrics struct {
	acceptErrors  prometheus.Counter
	accepts       prometheus.Counter
	bytes         *prometheus.CounterVec
	lines         *prometheus.CounterVec
	pumpsFinished *prometheus.CounterVec
	pumpsStarted  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
//
// It panics if registration fails, like [prometheus.MustRegister].
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "linepump",
			Name:      "accept_errors_total",
			Help:      "Accept attempts that failed and were retried.",
		}),
		accepts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "linepump",
			Name:      "accepts_total",
			Help:      "Connections accepted into the single server slot.",
		}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linepump",
			Name:      "bytes_total",
			Help:      "Bytes moved over observed connections.",
		}, []string{"direction"}),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linepump",
			Name:      "lines_total",
			Help:      "Lines written to or framed from the wire.",
		}, []string{"direction"}),
		pumpsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linepump",
			Name:      "pumps_finished_total",
			Help:      "Pumps that reached a terminal state, by state.",
		}, []string{"state"}),
		pumpsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "linepump",
			Name:      "pumps_started_total",
			Help:      "Pumps whose worker was started.",
		}),
	}
	reg.MustRegister(m.acceptErrors, m.accepts, m.bytes, m.lines, m.pumpsFinished, m.pumpsStarted)
	return m
}

const (
	directionIn  = "in"
	directionOut = "out"
)

func (m *Metrics) addBytes(direction string, count int) {
	if m != nil && count > 0 {
		m.bytes.WithLabelValues(direction).Add(float64(count))
	}
}

func (m *Metrics) addLines(direction string, count int) {
	if m != nil && count > 0 {
		m.lines.WithLabelValues(direction).Add(float64(count))
	}
}

func (m *Metrics) pumpStarted() {
	if m != nil {
		m.pumpsStarted.Inc()
	}
}

func (m *Metrics) pumpFinished(state PumpState) {
	if m != nil {
		m.pumpsFinished.WithLabelValues(state.String()).Inc()
	}
}

func (m *Metrics) accepted() {
	if m != nil {
		m.accepts.Inc()
	}
}

func (m *Metrics) acceptFailed() {
	if m != nil {
		m.acceptErrors.Inc()
	}
}
