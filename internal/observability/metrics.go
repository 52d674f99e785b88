package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the bot.
//
// Usage:
//
//	metrics := observability.NewMetrics(nil)
//	metrics.MessageReceived("discord")
//	metrics.RecordCommand("ping", "replied", time.Since(start))
type Metrics struct {
	// MessageCounter tracks chat messages by channel and direction.
	// Labels: channel (discord|test), direction (inbound|outbound)
	MessageCounter *prometheus.CounterVec

	// CommandCounter counts dispatch outcomes.
	// Labels: command (registry name, "none" on a miss), outcome
	CommandCounter *prometheus.CounterVec

	// CommandDuration measures handler latency in seconds.
	// Labels: command
	CommandDuration *prometheus.HistogramVec

	// SendCounter counts outbound sends.
	// Labels: channel, status (success|error|dropped)
	SendCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component (dispatcher|discord|audit), error_type
	ErrorCounter *prometheus.CounterVec

	// Connected is 1 while the gateway session is up.
	// Labels: channel
	Connected *prometheus.GaugeVec

	// QueueDepth reports buffered messages.
	// Labels: queue (inbound|outbound)
	QueueDepth *prometheus.GaugeVec
}

// NewMetrics creates and registers all collectors with reg. A nil reg
// uses the Prometheus default registerer. Registering twice against the
// same registry panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmdrelay_messages_total",
				Help: "Total number of chat messages by channel and direction",
			},
			[]string{"channel", "direction"},
		),

		CommandCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmdrelay_commands_total",
				Help: "Total number of prefixed messages by resolved command and dispatch outcome",
			},
			[]string{"command", "outcome"},
		),

		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cmdrelay_command_duration_seconds",
				Help:    "Duration of command handlers in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"command"},
		),

		SendCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmdrelay_sends_total",
				Help: "Total number of outbound sends by channel and status",
			},
			[]string{"channel", "status"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmdrelay_errors_total",
				Help: "Total number of errors by component and type",
			},
			[]string{"component", "error_type"},
		),

		Connected: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cmdrelay_connected",
				Help: "Whether the channel session is connected (1) or not (0)",
			},
			[]string{"channel"},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cmdrelay_queue_depth",
				Help: "Number of messages waiting in a queue",
			},
			[]string{"queue"},
		),
	}
}

// MessageReceived increments the inbound message counter.
func (m *Metrics) MessageReceived(channel string) {
	m.MessageCounter.WithLabelValues(channel, "inbound").Inc()
}

// MessageSent records an outbound send attempt.
func (m *Metrics) MessageSent(channel, status string) {
	if status == "success" {
		m.MessageCounter.WithLabelValues(channel, "outbound").Inc()
	}
	m.SendCounter.WithLabelValues(channel, status).Inc()
}

// RecordCommand records one dispatch outcome. duration is observed only
// for resolved commands.
func (m *Metrics) RecordCommand(command, outcome string, duration time.Duration) {
	if command == "" {
		command = "none"
	} else {
		m.CommandDuration.WithLabelValues(command).Observe(duration.Seconds())
	}
	m.CommandCounter.WithLabelValues(command, outcome).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SetConnected flips the connection gauge for channel.
func (m *Metrics) SetConnected(channel string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	m.Connected.WithLabelValues(channel).Set(v)
}

// SetQueueDepth reports the current length of a queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}
