package bot

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/cmdrelay/internal/audit"
	"github.com/haasonsaas/cmdrelay/internal/channels"
	"github.com/haasonsaas/cmdrelay/internal/channels/discord"
	"github.com/haasonsaas/cmdrelay/internal/commands"
	"github.com/haasonsaas/cmdrelay/internal/config"
	"github.com/haasonsaas/cmdrelay/internal/observability"
)

// Builder collects the settings for a Bot. The zero value is not usable;
// start from NewBuilder.
//
//	b, err := bot.NewBuilder().
//		SetToken(token).
//		SetPrefix("!").
//		SetOwnerID(ownerID).
//		SetRegisterer(myCommands).
//		Build()
type Builder struct {
	token           string
	prefix          string
	ownerID         int64
	registerer      Registerer
	builtins        bool
	workers         int
	propagatePanics bool
	stopTimeout     time.Duration
	version         string

	discord   discord.Config
	adapter   channels.Adapter
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	auditLog  *audit.Logger
	observers []commands.Observer
}

// NewBuilder returns a builder with the owner ID unset, builtins enabled
// and four dispatch workers.
func NewBuilder() *Builder {
	return &Builder{
		ownerID:     config.UnsetOwnerID,
		builtins:    true,
		workers:     4,
		stopTimeout: 10 * time.Second,
	}
}

// FromConfig seeds the builder from a loaded configuration.
func (b *Builder) FromConfig(cfg *config.Config) *Builder {
	b.token = cfg.Bot.Token
	b.prefix = cfg.Bot.Prefix
	b.ownerID = cfg.Bot.OwnerID
	b.workers = cfg.Dispatch.Workers
	b.propagatePanics = cfg.Dispatch.PropagatePanics
	b.discord = discord.Config{
		Intents:              cfg.Discord.Intents,
		MaxReconnectAttempts: cfg.Discord.MaxReconnectAttempts,
		ReconnectBackoff:     cfg.Discord.ReconnectBackoff,
		RateLimit:            cfg.Discord.RateLimit,
		RateBurst:            cfg.Discord.RateBurst,
		QueueSize:            cfg.Discord.QueueSize,
	}
	return b
}

func (b *Builder) SetToken(token string) *Builder {
	b.token = token
	return b
}

func (b *Builder) SetPrefix(prefix string) *Builder {
	b.prefix = prefix
	return b
}

// SetOwnerID sets the Discord user allowed to run owner-category commands.
func (b *Builder) SetOwnerID(id int64) *Builder {
	b.ownerID = id
	return b
}

func (b *Builder) SetRegisterer(r Registerer) *Builder {
	b.registerer = r
	return b
}

// SetBuiltins controls whether help and ping are registered. They are added
// after the application's commands and never take a name or alias the
// application already uses.
func (b *Builder) SetBuiltins(enabled bool) *Builder {
	b.builtins = enabled
	return b
}

func (b *Builder) SetWorkers(n int) *Builder {
	b.workers = n
	return b
}

func (b *Builder) SetPropagatePanics(propagate bool) *Builder {
	b.propagatePanics = propagate
	return b
}

// SetStopTimeout bounds how long Run waits for in-flight commands and
// queued replies on shutdown.
func (b *Builder) SetStopTimeout(d time.Duration) *Builder {
	b.stopTimeout = d
	return b
}

func (b *Builder) SetVersion(version string) *Builder {
	b.version = version
	return b
}

// SetDiscordConfig tunes the Discord adapter. Token, logger, metrics and
// tracer are filled in from the builder.
func (b *Builder) SetDiscordConfig(cfg discord.Config) *Builder {
	b.discord = cfg
	return b
}

// SetAdapter replaces the Discord adapter, e.g. with a test double.
func (b *Builder) SetAdapter(adapter channels.Adapter) *Builder {
	b.adapter = adapter
	return b
}

func (b *Builder) SetLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) SetMetrics(metrics *observability.Metrics) *Builder {
	b.metrics = metrics
	return b
}

func (b *Builder) SetTracer(tracer trace.Tracer) *Builder {
	b.tracer = tracer
	return b
}

// SetAuditLog records every resolved invocation. The caller owns the
// logger and closes it after Run returns.
func (b *Builder) SetAuditLog(log *audit.Logger) *Builder {
	b.auditLog = log
	return b
}

// AddObserver registers an extra dispatch observer.
func (b *Builder) AddObserver(o commands.Observer) *Builder {
	b.observers = append(b.observers, o)
	return b
}

func (b *Builder) validate() error {
	var problems []string
	if strings.TrimSpace(b.token) == "" {
		problems = append(problems, "token is required")
	}
	if b.prefix == "" {
		problems = append(problems, "prefix is required")
	}
	if b.ownerID == config.UnsetOwnerID {
		problems = append(problems, "owner ID is required")
	}
	if b.registerer == nil {
		problems = append(problems, "registerer is required")
	}
	if b.workers < 1 {
		problems = append(problems, "workers must be at least 1")
	}
	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// Build validates the settings, runs the registerer and wires the
// dispatcher to the adapter. No connection is opened until Bot.Run.
func (b *Builder) Build() (*Bot, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	ownerID := strconv.FormatInt(b.ownerID, 10)

	registry := commands.NewRegistry(logger)
	b.registerer.HandleRegistration(registry)
	if b.builtins {
		err := commands.RegisterBuiltins(registry, commands.BuiltinConfig{Prefix: b.prefix, OwnerID: ownerID})
		if err != nil {
			return nil, fmt.Errorf("register builtins: %w", err)
		}
	}

	adapter := b.adapter
	if adapter == nil {
		cfg := b.discord
		cfg.Token = b.token
		cfg.Logger = logger
		cfg.Metrics = b.metrics
		cfg.Tracer = b.tracer
		dg, err := discord.NewAdapter(cfg)
		if err != nil {
			return nil, &ConfigError{Problems: []string{err.Error()}}
		}
		adapter = dg
	}

	var observers []commands.Observer
	if b.metrics != nil {
		observers = append(observers, metricsObserver(b.metrics))
	}
	if b.auditLog != nil {
		observers = append(observers, auditObserver(b.auditLog))
		if b.metrics != nil {
			metrics := b.metrics
			b.auditLog.OnError(func(error) { metrics.RecordError("audit", "write") })
		}
	}
	observers = append(observers, b.observers...)

	dispatcher, err := commands.NewDispatcher(commands.DispatcherConfig{
		Prefix:          b.prefix,
		OwnerID:         ownerID,
		Registry:        registry,
		Replier:         adapter,
		PropagatePanics: b.propagatePanics,
		Observers:       observers,
		Tracer:          b.tracer,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	return &Bot{
		prefix:      b.prefix,
		ownerID:     b.ownerID,
		version:     b.version,
		registry:    registry,
		dispatcher:  dispatcher,
		adapter:     adapter,
		logger:      logger,
		workers:     b.workers,
		stopTimeout: b.stopTimeout,
		stop:        make(chan struct{}),
	}, nil
}
