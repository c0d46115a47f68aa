package game

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zond/usurper/session"
)

// Metrics holds the Prometheus collectors for one game.
type Metrics struct {
	registry *prometheus.Registry

	sessions          *prometheus.GaugeVec
	connections       *prometheus.CounterVec
	commands          prometheus.Counter
	wizardActions     *prometheus.CounterVec
	handshakeFailures *prometheus.CounterVec
	preemptions       prometheus.Counter
	idleDisconnects   prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "usurper_sessions",
			Help: "Number of sessions currently in the game by connection kind.",
		}, []string{"kind"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usurper_connections_total",
			Help: "Accepted connections by handshake mode.",
		}, []string{"mode"}),
		commands: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usurper_commands_total",
			Help: "Command lines processed.",
		}),
		wizardActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usurper_wizard_actions_total",
			Help: "Executed privileged commands by action.",
		}, []string{"action"}),
		handshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usurper_handshake_failures_total",
			Help: "Rejected logins and registrations by reason.",
		}, []string{"reason"}),
		preemptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usurper_preemptions_total",
			Help: "Sessions disconnected by a newer login under the same name.",
		}),
		idleDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usurper_idle_disconnects_total",
			Help: "Sessions disconnected by the idle watchdog.",
		}),
	}
	m.registry.MustRegister(
		m.sessions,
		m.connections,
		m.commands,
		m.wizardActions,
		m.handshakeFailures,
		m.preemptions,
		m.idleDisconnects,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) sessionStarted(kind session.Kind) {
	m.sessions.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) sessionEnded(kind session.Kind) {
	m.sessions.WithLabelValues(string(kind)).Dec()
}

// Handler serves the collected metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
