package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "slacksdk"

// Metrics covers the Socket Mode connection and dispatch. Every method is safe on a nil
// *Metrics so components can treat metrics as optional.
type Metrics struct {
	// Connection metrics
	ConnectionState   *prometheus.GaugeVec
	ConnectAttempts   *prometheus.CounterVec
	Reconnects        prometheus.Counter
	TerminalShutdowns prometheus.Counter

	// Message metrics
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	DecodeErrors     prometheus.Counter
	AcksSent         *prometheus.CounterVec

	// Dispatch metrics
	HandlerErrors   *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
}

func New() *Metrics {
	return &Metrics{
		ConnectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "state",
				Help:      "Connection manager state (0=disconnected, 1=connecting, 2=open, 3=closing, 4=shut down)",
			},
			[]string{"connection"},
		),

		ConnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "connect_attempts_total",
				Help:      "Total number of attempts to open a socket mode connection",
			},
			[]string{"connection", "result"},
		),

		Reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "reconnects_total",
				Help:      "Total number of reconnects scheduled after a transport died",
			},
		),

		TerminalShutdowns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "terminal_shutdowns_total",
				Help:      "Total number of times the relay disabled socket mode for the app",
			},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of socket messages received",
			},
			[]string{"type"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Total number of socket messages dropped for a subscriber that fell behind",
			},
			[]string{"subscriber"},
		),

		DecodeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "decode_errors_total",
				Help:      "Total number of inbound frames that could not be decoded",
			},
		),

		AcksSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "acks_sent_total",
				Help:      "Total number of acknowledgements written to the relay",
			},
			[]string{"result"},
		),

		HandlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "handler_errors_total",
				Help:      "Total number of handler invocations that failed or panicked",
			},
			[]string{"type"},
		),

		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "handler_duration_seconds",
				Help:      "Handler run time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
	}
}

// Register adds every collector to registry
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionState,
		m.ConnectAttempts,
		m.Reconnects,
		m.TerminalShutdowns,
		m.MessagesReceived,
		m.MessagesDropped,
		m.DecodeErrors,
		m.AcksSent,
		m.HandlerErrors,
		m.HandlerDuration,
	}
}

func (m *Metrics) SetConnectionState(connection string, state int) {
	if m == nil {
		return
	}
	m.ConnectionState.WithLabelValues(connection).Set(float64(state))
}

func (m *Metrics) RecordConnectAttempt(connection string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ConnectAttempts.WithLabelValues(connection, result).Inc()
}

func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) RecordTerminalShutdown() {
	if m == nil {
		return
	}
	m.TerminalShutdowns.Inc()
}

func (m *Metrics) RecordMessage(messageType string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(messageType).Inc()
}

func (m *Metrics) RecordDrop(subscriber string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(subscriber).Inc()
}

func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) RecordAck(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.AcksSent.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordHandler(messageType string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.HandlerDuration.WithLabelValues(messageType).Observe(duration.Seconds())
	if err != nil {
		m.HandlerErrors.WithLabelValues(messageType).Inc()
	}
}
