// Package metrics exposes prometheus collectors for terminal sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Close reasons recorded by SessionClosed.
const (
	ReasonExited    = "exited"
	ReasonDestroyed = "destroyed"
	ReasonShutdown  = "shutdown"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsFailed  prometheus.Counter
	SessionsClosed  *prometheus.CounterVec
	Polls           prometheus.Counter
	OutputBytes     prometheus.Counter
	InputBytes      prometheus.Counter
	Resizes         prometheus.Counter
	RequestDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "httpterm_sessions_active",
			Help: "Number of registered terminal sessions",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "httpterm_sessions_created_total",
			Help: "Terminal sessions created",
		}),
		SessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "httpterm_sessions_failed_total",
			Help: "Terminal session creations that failed",
		}),
		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httpterm_sessions_closed_total",
			Help: "Terminal sessions torn down, by reason",
		}, []string{"reason"}),
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "httpterm_output_polls_total",
			Help: "Output polls served",
		}),
		OutputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "httpterm_output_bytes_total",
			Help: "Bytes drained from terminals",
		}),
		InputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "httpterm_input_bytes_total",
			Help: "Bytes written to terminals",
		}),
		Resizes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "httpterm_resizes_total",
			Help: "Terminal resizes applied",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "httpterm_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SessionsActive,
		m.SessionsCreated,
		m.SessionsFailed,
		m.SessionsClosed,
		m.Polls,
		m.OutputBytes,
		m.InputBytes,
		m.Resizes,
		m.RequestDuration,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SessionCreated counts a created session and adds it to the active gauge.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
	m.SessionsActive.Inc()
}

// SessionFailed counts a session whose creation failed.
func (m *Metrics) SessionFailed() {
	if m == nil {
		return
	}
	m.SessionsFailed.Inc()
}

// SessionClosed counts a torn-down session by reason and removes it from the active gauge.
func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.SessionsClosed.WithLabelValues(reason).Inc()
	m.SessionsActive.Dec()
}

// Polled counts one output poll that returned n bytes.
func (m *Metrics) Polled(n int) {
	if m == nil {
		return
	}
	m.Polls.Inc()
	m.OutputBytes.Add(float64(n))
}

// Wrote counts n bytes written to a terminal.
func (m *Metrics) Wrote(n int) {
	if m == nil {
		return
	}
	m.InputBytes.Add(float64(n))
}

// Resized counts one applied resize.
func (m *Metrics) Resized() {
	if m == nil {
		return
	}
	m.Resizes.Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, route, status).Observe(seconds)
}
