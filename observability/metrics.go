package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat_session"

// Metrics counts what the session does. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	transitions    *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	reconnects     prometheus.Counter
	ledgerAppends  *prometheus.CounterVec
	deliveryErrors *prometheus.CounterVec
	sendFailures   prometheus.Counter
}

// NewMetrics registers the session collectors on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_transitions_total",
			Help:      "Connection state transitions by target state.",
		}, []string{"state"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_refreshes_total",
			Help:      "Backend credential refreshes by outcome.",
		}, []string{"outcome"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled after a transport error.",
		}),
		ledgerAppends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_appends_total",
			Help:      "Ledger appends by channel kind and result.",
		}, []string{"channel", "result"}),
		deliveryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_errors_total",
			Help:      "Error events received from the server by code.",
		}, []string{"code"}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Commands dropped because the connection was not usable.",
		}),
	}
}

func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) RefreshSucceeded() {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues("success").Inc()
}

func (m *Metrics) RefreshFailed() {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues("failure").Inc()
}

func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// LedgerAppend records an append; deduplicated appends are counted apart.
func (m *Metrics) LedgerAppend(channel string, appended bool) {
	if m == nil {
		return
	}
	result := "appended"
	if !appended {
		result = "deduplicated"
	}
	m.ledgerAppends.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) ServerError(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.deliveryErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}
