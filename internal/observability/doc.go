// Package observability wires structured logging, Prometheus metrics and
// OpenTelemetry tracing for cmdrelay.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler redacts secrets (Discord
// bot tokens, bearer tokens, passwords) from messages and attributes and
// adds correlation fields stored on the context:
//
//	ctx = observability.AddRequestID(ctx, id)
//	ctx = observability.AddCommand(ctx, "ping")
//	logger.InfoContext(ctx, "command dispatched") // request_id=... command=ping
//
// # Metrics
//
// NewMetrics registers the cmdrelay_* collectors against a registerer.
// Pass nil to use the Prometheus default registry, which is what the
// /metrics endpoint served by NewServer exposes.
//
// # Tracing
//
// NewTracer configures an OTLP/gRPC exporter. With an empty endpoint it
// returns a tracer backed by the global provider, which is a no-op unless
// something else installed one.
package observability
