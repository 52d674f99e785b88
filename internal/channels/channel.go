// Package channels holds the transport-neutral pieces shared by chat
// adapters: the adapter contract, health reporting, typed errors, rate
// limiting, reconnection and the outbound send queue.
package channels

import (
	"context"
	"time"

	"github.com/haasonsaas/cmdrelay/pkg/models"
)

// SendCallback receives the delivered message or the error that stopped it.
type SendCallback = func(sent *models.Message, err error)

// Adapter connects the bot to one chat platform.
type Adapter interface {
	// Start connects to the platform and begins delivering inbound
	// messages on Messages.
	Start(ctx context.Context) error

	// Stop disconnects, drains the outbound queue up to ctx and closes
	// the Messages channel.
	Stop(ctx context.Context) error

	// Messages returns the inbound message stream.
	Messages() <-chan *models.Message

	// Send delivers content to channelID and waits for the result.
	Send(ctx context.Context, channelID, content string) (*models.Message, error)

	// QueueMessage enqueues content for asynchronous delivery. done, when
	// non-nil, runs on the sender goroutine after the attempt.
	QueueMessage(ctx context.Context, channelID, content string, done SendCallback) error

	Type() models.ChannelType
	Status() Status
	HealthCheck(ctx context.Context) HealthStatus
	Metrics() MetricsSnapshot
}

// Status represents the connection status of a channel.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	LastPing  int64  `json:"last_ping,omitempty"` // Unix timestamp
}

// HealthStatus represents the health check result for an adapter.
type HealthStatus struct {
	Healthy bool `json:"healthy"`

	// Latency is the time taken to perform the health check
	Latency time.Duration `json:"latency"`

	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`

	// Degraded is set while the adapter is reconnecting.
	Degraded bool `json:"degraded,omitempty"`
}
