// Package bot ties the command registry and dispatcher to a chat adapter
// and runs them.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/cmdrelay/internal/channels"
	"github.com/haasonsaas/cmdrelay/internal/commands"
	"github.com/haasonsaas/cmdrelay/internal/observability"
	"github.com/haasonsaas/cmdrelay/pkg/models"
)

// eventSource is implemented by adapters that expose raw gateway events,
// such as *discord.Adapter.
type eventSource interface {
	AddHandler(handler any) (func(), error)
	AddHandlerOnce(handler any) (func(), error)
	Session() *discordgo.Session
}

// Bot is a built command bot. Create one with Builder.Build.
type Bot struct {
	prefix      string
	ownerID     int64
	version     string
	registry    *commands.Registry
	dispatcher  *commands.Dispatcher
	adapter     channels.Adapter
	logger      *slog.Logger
	workers     int
	stopTimeout time.Duration

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	stopOnce sync.Once
}

// Prefix returns the command prefix.
func (b *Bot) Prefix() string { return b.prefix }

// OwnerID returns the owner's Discord user ID.
func (b *Bot) OwnerID() int64 { return b.ownerID }

// Registry returns the command registry.
func (b *Bot) Registry() *commands.Registry { return b.registry }

// Adapter returns the chat adapter.
func (b *Bot) Adapter() channels.Adapter { return b.adapter }

// Logger returns a logger tagged with component.
func (b *Bot) Logger(component string) *slog.Logger {
	return b.logger.With("component", component)
}

// Session returns the discordgo session, or nil when the adapter is not
// backed by one.
func (b *Bot) Session() *discordgo.Session {
	if src, ok := b.adapter.(eventSource); ok {
		return src.Session()
	}
	return nil
}

// OnReady calls fn with the first Ready event only.
func (b *Bot) OnReady(fn func(*discordgo.Ready)) error {
	src, ok := b.adapter.(eventSource)
	if !ok {
		return ErrHooksUnsupported
	}
	_, err := src.AddHandlerOnce(func(_ *discordgo.Session, r *discordgo.Ready) {
		fn(r)
	})
	return err
}

// On attaches a typed discordgo handler for every matching event, e.g.
// func(*discordgo.Session, *discordgo.GuildCreate). The returned function
// detaches it.
func (b *Bot) On(handler any) (func(), error) {
	src, ok := b.adapter.(eventSource)
	if !ok {
		return nil, ErrHooksUnsupported
	}
	return src.AddHandler(handler)
}

// Once attaches a typed discordgo handler for the next matching event.
func (b *Bot) Once(handler any) (func(), error) {
	src, ok := b.adapter.(eventSource)
	if !ok {
		return nil, ErrHooksUnsupported
	}
	return src.AddHandlerOnce(handler)
}

// Handle dispatches one message synchronously.
func (b *Bot) Handle(ctx context.Context, msg *models.Message) commands.Outcome {
	return b.dispatcher.Handle(ctx, msg)
}

// Shutdown asks Run to return. It is safe to call from a command handler
// and more than once.
func (b *Bot) Shutdown() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// Run connects the adapter and dispatches inbound messages on a pool of
// workers until ctx is done or Shutdown is called. On the way out it lets
// in-flight commands finish, then stops the adapter, which drains queued
// replies.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("bot: already running")
	}
	b.running = true
	b.mu.Unlock()

	if err := b.adapter.Start(ctx); err != nil {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		return fmt.Errorf("start %s adapter: %w", b.adapter.Type(), err)
	}

	b.logger.Info("cmdrelay started",
		"version", b.version,
		"prefix", b.prefix,
		"commands", b.registry.Len(),
		"workers", b.workers)

	// Handlers keep running through shutdown so their replies still queue.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	messages := b.adapter.Messages()
	var wg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.work(workCtx, messages)
		}()
	}

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down", "reason", context.Cause(ctx))
	case <-b.stop:
		b.logger.Info("shutting down", "reason", "shutdown requested")
	}
	b.Shutdown()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.stopTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		b.logger.Warn("commands still running at shutdown, cancelling")
		cancelWork()
	}

	if err := b.adapter.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop %s adapter: %w", b.adapter.Type(), err)
	}
	b.logger.Info("cmdrelay stopped")
	return nil
}

func (b *Bot) work(ctx context.Context, messages <-chan *models.Message) {
	for {
		select {
		case <-b.stop:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.dispatcher.Handle(ctx, msg)
		}
	}
}

// Health reports the adapter's health for the /healthz endpoint.
func (b *Bot) Health(ctx context.Context) observability.HealthReport {
	h := b.adapter.HealthCheck(ctx)
	return observability.HealthReport{
		Healthy: h.Healthy,
		Message: h.Message,
		Details: map[string]any{
			"adapter":    string(b.adapter.Type()),
			"degraded":   h.Degraded,
			"latency_ms": h.Latency.Milliseconds(),
			"commands":   b.registry.Len(),
			"traffic":    b.adapter.Metrics(),
		},
	}
}
