// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for the connection lifecycle. A nil *Metrics is a
// valid no-op recorder.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Teardown modes for the freed counter.
const (
	FreeImmediate = "immediate"
	FreeGraceful  = "graceful"
)

// Metrics groups the lifecycle collectors.
type Metrics struct {
	ActiveClients   prometheus.Gauge
	CreatedTotal    prometheus.Counter
	FreedTotal      *prometheus.CounterVec
	TLSInitFailures prometheus.Counter
	RejectedTotal   prometheus.Counter
}

// NewMetrics builds the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "uwsd_active_clients", Help: "Currently registered client contexts",
		}),
		CreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uwsd_clients_created_total", Help: "Client contexts created",
		}),
		FreedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uwsd_clients_freed_total", Help: "Client teardowns by mode",
		}, []string{"mode"}),
		TLSInitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uwsd_tls_init_failures_total", Help: "TLS session setups that failed",
		}),
		RejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uwsd_accept_rejected_total", Help: "Accepted sockets refused for lack of capacity",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ActiveClients, m.CreatedTotal, m.FreedTotal, m.TLSInitFailures, m.RejectedTotal)
	}
	return m
}

// ClientCreated records a new registered context.
func (m *Metrics) ClientCreated() {
	if m == nil {
		return
	}
	m.CreatedTotal.Inc()
	m.ActiveClients.Inc()
}

// ClientFreed records a completed teardown. mode is FreeImmediate or
// FreeGraceful.
func (m *Metrics) ClientFreed(mode string) {
	if m == nil {
		return
	}
	m.FreedTotal.WithLabelValues(mode).Inc()
	m.ActiveClients.Dec()
}

// TLSInitFailed records a failed TLS session setup.
func (m *Metrics) TLSInitFailed() {
	if m == nil {
		return
	}
	m.TLSInitFailures.Inc()
}

// Rejected records an accept refused for capacity.
func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.RejectedTotal.Inc()
}
