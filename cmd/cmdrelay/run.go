package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/cmdrelay/internal/audit"
	"github.com/haasonsaas/cmdrelay/internal/bot"
	"github.com/haasonsaas/cmdrelay/internal/config"
	"github.com/haasonsaas/cmdrelay/internal/observability"
)

// runBot loads configuration, wires observability and the audit log around
// the bot, and runs it until a signal or the shutdown command.
func runBot(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    os.Stderr,
		AddSource: cfg.Logging.AddSource,
	})
	slog.SetDefault(logger)
	logger.Info("starting cmdrelay",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "cmdrelay",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	var auditLog *audit.Logger
	if cfg.Audit.Enabled {
		store, err := audit.Open(ctx, cfg.Audit.Driver, cfg.Audit.DSN)
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		auditLog = audit.NewLogger(store, audit.Config{Enabled: true}, logger)
		defer func() {
			if err := auditLog.Close(); err != nil {
				logger.Warn("failed to close audit log", "error", err)
			}
		}()
	}

	// The shutdown command needs the bot, which needs the registerer.
	var b *bot.Bot
	registerer := newExampleCommands(func() { b.Shutdown() })

	builder := bot.NewBuilder().
		FromConfig(cfg).
		SetRegisterer(registerer).
		SetVersion(version).
		SetLogger(logger).
		SetMetrics(metrics).
		SetTracer(tracer.Tracer())
	if auditLog != nil {
		builder.SetAuditLog(auditLog)
	}
	b, err = builder.Build()
	if err != nil {
		return fmt.Errorf("failed to build bot: %w", err)
	}

	if cfg.Metrics.Enabled {
		server := observability.NewServer(observability.ServerConfig{
			Addr:        cfg.Metrics.Addr,
			MetricsPath: cfg.Metrics.Path,
			Gatherer:    registry,
			Health:      b.Health,
		}, logger)
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := server.Shutdown(stopCtx); err != nil {
				logger.Warn("failed to stop metrics server", "error", err)
			}
		}()
	}

	return b.Run(ctx)
}
