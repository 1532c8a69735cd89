// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kakaowebtalk"

// Auth failure reasons.
const (
	ReasonIdentityRejected = "identity_rejected"
	ReasonConnectFailed    = "connect_failed"
	ReasonCheckinFailed    = "checkin_failed"
	ReasonLoginRejected    = "login_rejected"
	ReasonHandshakeTimeout = "handshake_timeout"
)

// Metrics holds all Prometheus metrics for the gateway, registered on a
// private registry so tests can create isolated instances.
type Metrics struct {
	Registry *prometheus.Registry

	sessionsActive  prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	authFailures    *prometheus.CounterVec
	packetsTotal    *prometheus.CounterVec
	messagesRelayed prometheus.Counter
	storeErrors     prometheus.Counter
}

// New creates a Metrics instance with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Browser sessions with a live backend connection.",
		}),

		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total sessions bound, by origin (login or restore).",
		}, []string{"origin"}),

		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total authentication failures, by reason.",
		}, []string{"reason"}),

		packetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Total backend packets relayed, by direction.",
		}, []string{"direction"}),

		messagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Total chat messages delivered to browsers.",
		}),

		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total session store failures (best-effort paths).",
		}),
	}

	reg.MustRegister(
		m.sessionsActive,
		m.sessionsTotal,
		m.authFailures,
		m.packetsTotal,
		m.messagesRelayed,
		m.storeErrors,
	)

	return m
}

// SessionBound records a successful bind and bumps the active gauge.
func (m *Metrics) SessionBound(origin string) {
	m.sessionsTotal.WithLabelValues(origin).Inc()
	m.sessionsActive.Inc()
}

// SessionUnbound records a teardown.
func (m *Metrics) SessionUnbound() {
	m.sessionsActive.Dec()
}

// AuthFailure records a failed login or restore.
func (m *Metrics) AuthFailure(reason string) {
	m.authFailures.WithLabelValues(reason).Inc()
}

// PacketIn records one inbound backend packet.
func (m *Metrics) PacketIn() {
	m.packetsTotal.WithLabelValues("in").Inc()
}

// PacketOut records one outbound backend packet.
func (m *Metrics) PacketOut() {
	m.packetsTotal.WithLabelValues("out").Inc()
}

// MessageRelayed records one chat message forwarded to a browser.
func (m *Metrics) MessageRelayed() {
	m.messagesRelayed.Inc()
}

// StoreError records a best-effort persistence failure.
func (m *Metrics) StoreError() {
	m.storeErrors.Inc()
}

// Handler returns the HTTP handler exposing this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
