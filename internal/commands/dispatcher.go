package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/cmdrelay/internal/observability"
	"github.com/haasonsaas/cmdrelay/pkg/models"
)

// Outcome describes what the dispatcher did with one message.
type Outcome string

const (
	OutcomeIgnored     Outcome = "ignored"      // nil message
	OutcomeAutomated   Outcome = "automated"    // bot or webhook author
	OutcomeNotPrefixed Outcome = "not_prefixed" // text does not start with the prefix
	OutcomeNotFound    Outcome = "not_found"    // empty token or unknown command
	OutcomeDenied      Outcome = "denied"       // owner command, non-owner sender
	OutcomeInvoked     Outcome = "invoked"      // handler ran, nothing to send
	OutcomeReplied     Outcome = "replied"      // handler ran, reply queued
	OutcomeFailed      Outcome = "failed"       // handler error, panic, or reply rejected
)

// Record summarizes a dispatch of a prefixed message for observers.
type Record struct {
	RequestID string
	Command   string // canonical registry name, empty on a miss
	Invoked   string // token as typed
	Outcome   Outcome
	AuthorID  string
	ChannelID string
	GuildID   string
	Args      []string
	Flags     []string
	Started   time.Time
	Duration  time.Duration
	Err       error
}

// Observer is notified after every prefixed message is dispatched.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveDispatch(ctx context.Context, rec Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, rec Record)

func (f ObserverFunc) ObserveDispatch(ctx context.Context, rec Record) {
	f(ctx, rec)
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("command panicked: %v", e.Value)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Prefix must begin a message for it to be treated as a command.
	Prefix string

	// OwnerID is the only author allowed to run owner-category commands.
	OwnerID string

	Registry *Registry
	Replier  Replier

	// IsAutomated reports messages to drop before prefix matching.
	// Defaults to (*models.Message).IsAutomated.
	IsAutomated func(*models.Message) bool

	// PropagatePanics re-raises a recovered handler panic after logging it.
	PropagatePanics bool

	Observers []Observer
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// Dispatcher turns inbound messages into command invocations.
// It keeps no per-message state and is safe for concurrent use.
type Dispatcher struct {
	prefix          string
	ownerID         string
	registry        *Registry
	replier         Replier
	isAutomated     func(*models.Message) bool
	propagatePanics bool
	observers       []Observer
	tracer          trace.Tracer
	logger          *slog.Logger
}

// NewDispatcher validates cfg and creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Prefix == "" {
		return nil, errors.New("dispatcher: prefix is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("dispatcher: registry is required")
	}
	if cfg.Replier == nil {
		return nil, errors.New("dispatcher: replier is required")
	}
	if cfg.IsAutomated == nil {
		cfg.IsAutomated = (*models.Message).IsAutomated
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/haasonsaas/cmdrelay/internal/commands")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Dispatcher{
		prefix:          cfg.Prefix,
		ownerID:         cfg.OwnerID,
		registry:        cfg.Registry,
		replier:         cfg.Replier,
		isAutomated:     cfg.IsAutomated,
		propagatePanics: cfg.PropagatePanics,
		observers:       cfg.Observers,
		tracer:          cfg.Tracer,
		logger:          cfg.Logger.With("component", "dispatcher"),
	}, nil
}

// Prefix returns the configured command prefix.
func (d *Dispatcher) Prefix() string {
	return d.prefix
}

// Handle runs the dispatch pipeline for one inbound message.
//
// Misses, owner-gate denials and handler faults are silent towards the
// user; the returned Outcome says which one happened.
func (d *Dispatcher) Handle(ctx context.Context, msg *models.Message) Outcome {
	if msg == nil {
		return OutcomeIgnored
	}
	if d.isAutomated(msg) {
		return OutcomeAutomated
	}
	if !strings.HasPrefix(msg.Content, d.prefix) {
		return OutcomeNotPrefixed
	}

	name, remainder := SplitCommand(msg.Content[len(d.prefix):])
	rec := Record{
		Invoked:   name,
		AuthorID:  msg.AuthorID,
		ChannelID: msg.ChannelID,
		GuildID:   msg.GuildID,
		Started:   time.Now(),
	}

	cmd, ok := d.registry.Lookup(name)
	if !ok {
		rec.Outcome = OutcomeNotFound
		d.logger.DebugContext(ctx, "no command matched", "token", name)
		d.notify(ctx, rec)
		return rec.Outcome
	}

	desc := cmd.Descriptor()
	rec.Command = desc.Name
	rec.RequestID = uuid.NewString()

	ctx = observability.AddRequestID(ctx, rec.RequestID)
	ctx = observability.AddUserID(ctx, msg.AuthorID)
	ctx = observability.AddChannelID(ctx, msg.ChannelID)
	ctx = observability.AddGuildID(ctx, msg.GuildID)
	ctx = observability.AddCommand(ctx, desc.Name)

	ctx, span := d.tracer.Start(ctx, "command.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("command.name", desc.Name),
			attribute.String("command.invoked", name),
			attribute.String("message.channel_id", msg.ChannelID),
			attribute.String("message.guild_id", msg.GuildID),
		))
	defer span.End()

	if desc.OwnerOnly() && msg.AuthorID != d.ownerID {
		rec.Outcome = OutcomeDenied
		rec.Duration = time.Since(rec.Started)
		span.SetAttributes(attribute.String("command.outcome", string(rec.Outcome)))
		d.logger.DebugContext(ctx, "owner command denied", "author_id", msg.AuthorID)
		d.notify(ctx, rec)
		return rec.Outcome
	}

	inv := NewInvocation(name, remainder, msg, cmd, d.replier)
	inv.RequestID = rec.RequestID
	rec.Args = inv.Args
	rec.Flags = inv.Flags

	reply, err := d.invoke(ctx, cmd, inv)
	switch {
	case err != nil:
		rec.Outcome = OutcomeFailed
		rec.Err = err
		d.logger.ErrorContext(ctx, "command failed", "error", err)
	case reply == "":
		rec.Outcome = OutcomeInvoked
	default:
		if qerr := d.replier.QueueMessage(ctx, msg.ChannelID, reply, nil); qerr != nil {
			rec.Outcome = OutcomeFailed
			rec.Err = fmt.Errorf("queue reply: %w", qerr)
			d.logger.ErrorContext(ctx, "failed to queue reply", "error", qerr)
		} else {
			rec.Outcome = OutcomeReplied
		}
	}

	rec.Duration = time.Since(rec.Started)
	span.SetAttributes(attribute.String("command.outcome", string(rec.Outcome)))
	if rec.Err != nil {
		span.RecordError(rec.Err)
		span.SetStatus(codes.Error, rec.Err.Error())
	}

	d.logger.DebugContext(ctx, "command dispatched",
		"outcome", rec.Outcome,
		"args", len(rec.Args),
		"flags", len(rec.Flags),
		"duration_ms", rec.Duration.Milliseconds())
	d.notify(ctx, rec)
	return rec.Outcome
}

// invoke runs the command, converting a panic into a *PanicError.
func (d *Dispatcher) invoke(ctx context.Context, cmd Command, inv *Invocation) (reply string, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		perr := &PanicError{Value: r, Stack: debug.Stack()}
		if d.propagatePanics {
			d.logger.ErrorContext(ctx, "command panicked", "error", perr, "stack", string(perr.Stack))
			panic(r)
		}
		reply, err = "", perr
	}()
	return cmd.Execute(ctx, inv)
}

func (d *Dispatcher) notify(ctx context.Context, rec Record) {
	for _, obs := range d.observers {
		obs.ObserveDispatch(ctx, rec)
	}
}

// SplitCommand separates the command token from the rest of the text.
// The token is everything up to the first whitespace; the remainder keeps
// its leading whitespace. Text starting with whitespace yields an empty
// token.
func SplitCommand(text string) (name, remainder string) {
	idx := strings.IndexFunc(text, unicode.IsSpace)
	if idx < 0 {
		return text, ""
	}
	return text[:idx], text[idx:]
}
