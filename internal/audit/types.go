// Package audit records every resolved command invocation: who ran what,
// where, how it ended and how long it took. Entries are buffered and
// written asynchronously to a SQL store.
package audit

import (
	"context"
	"time"
)

// Entry is one audit row.
type Entry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	RequestID string        `json:"request_id,omitempty"`
	TraceID   string        `json:"trace_id,omitempty"`
	Command   string        `json:"command"`
	Alias     string        `json:"alias,omitempty"`
	AuthorID  string        `json:"author_id"`
	ChannelID string        `json:"channel_id"`
	GuildID   string        `json:"guild_id,omitempty"`
	Outcome   string        `json:"outcome"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Store persists audit entries.
type Store interface {
	Record(ctx context.Context, entry *Entry) error
	Recent(ctx context.Context, limit int) ([]*Entry, error)
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config configures the audit log.
type Config struct {
	Enabled bool

	// Driver is "sqlite" (default) or "postgres".
	Driver string

	// DSN is a file path for sqlite or a connection URL for postgres.
	// Defaults to "cmdrelay-audit.db" for sqlite.
	DSN string

	// BufferSize is the async write buffer. Defaults to 1000.
	BufferSize int

	// FlushInterval bounds how long an entry may sit in the buffer.
	// Defaults to 5s.
	FlushInterval time.Duration

	// WriteTimeout bounds each store write. Defaults to 5s.
	WriteTimeout time.Duration
}
