package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/cmdrelay/internal/observability"
)

// Logger buffers audit entries and writes them to a Store on a background
// goroutine, so dispatch never waits on the database.
//
// Usage:
//
//	store, _ := audit.Open(ctx, audit.DriverSQLite, "audit.db")
//	logger := audit.NewLogger(store, audit.Config{Enabled: true}, slog.Default())
//	defer logger.Close()
//
//	logger.Log(ctx, &audit.Entry{Command: "ping", Outcome: "replied"})
type Logger struct {
	config  Config
	store   Store
	logger  *slog.Logger
	buffer  chan *Entry
	wg      sync.WaitGroup
	done    chan struct{}
	once    sync.Once
	onError func(error)
}

// NewLogger creates an audit logger writing to store. A disabled config
// or a nil store yields a logger that discards entries.
func NewLogger(store Store, config Config, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		config: config,
		store:  store,
		logger: logger.With("component", "audit"),
	}
	if !l.enabled() {
		return l
	}

	if l.config.BufferSize == 0 {
		l.config.BufferSize = 1000
	}
	if l.config.FlushInterval == 0 {
		l.config.FlushInterval = 5 * time.Second
	}
	if l.config.WriteTimeout == 0 {
		l.config.WriteTimeout = 5 * time.Second
	}

	l.buffer = make(chan *Entry, l.config.BufferSize)
	l.done = make(chan struct{})
	l.wg.Add(1)
	go l.writeLoop()
	return l
}

// OnError registers a callback for failed writes, e.g. an error counter.
// It must be set before the first Log call.
func (l *Logger) OnError(fn func(error)) {
	l.onError = fn
}

func (l *Logger) enabled() bool {
	return l.config.Enabled && l.store != nil
}

// Log queues entry for writing, filling in ID, timestamp and trace ID.
// When the buffer is full the entry is written synchronously.
func (l *Logger) Log(ctx context.Context, entry *Entry) {
	if entry == nil || !l.enabled() {
		return
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.TraceID == "" {
		entry.TraceID = observability.GetTraceID(ctx)
	}

	select {
	case <-l.done:
		return
	default:
	}

	select {
	case l.buffer <- entry:
	default:
		l.write(entry)
	}
}

// Recent returns the newest entries from the store.
func (l *Logger) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if l.store == nil {
		return nil, nil
	}
	return l.store.Recent(ctx, limit)
}

// Close flushes buffered entries and closes the store.
func (l *Logger) Close() error {
	if !l.enabled() {
		return nil
	}
	var err error
	l.once.Do(func() {
		close(l.done)
		l.wg.Wait()
		err = l.store.Close()
	})
	return err
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-l.buffer:
			l.write(entry)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

func (l *Logger) flushBuffer() {
	for {
		select {
		case entry := <-l.buffer:
			l.write(entry)
		default:
			return
		}
	}
}

func (l *Logger) write(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), l.config.WriteTimeout)
	defer cancel()

	if err := l.store.Record(ctx, entry); err != nil {
		l.logger.Error("failed to write audit entry",
			"audit_id", entry.ID,
			"command", entry.Command,
			"error", err)
		if l.onError != nil {
			l.onError(err)
		}
		return
	}
	l.logger.Debug("audit entry written",
		"audit_id", entry.ID,
		"command", entry.Command,
		"outcome", entry.Outcome,
		"duration_ms", entry.Duration.Milliseconds())
}
