package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer together with the provider that
// owns its exporter.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TraceConfig
}

// TraceConfig configures the distributed tracing behavior.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string

	// Environment specifies the deployment environment (production, staging, dev)
	Environment string

	// Endpoint is the OTLP collector endpoint (e.g., "localhost:4317").
	// If empty, spans are not exported.
	Endpoint string

	// SamplingRate controls what fraction of traces are recorded (0.0 to 1.0).
	// Defaults to 1.0 if not specified.
	SamplingRate float64

	// Attributes are additional resource attributes to include in all spans
	Attributes map[string]string

	// EnableInsecure disables TLS for the OTLP connection
	EnableInsecure bool
}

// NewTracer creates a tracer and the shutdown function that flushes it.
//
// If config.Endpoint is empty, or the exporter cannot be created, the
// tracer comes from the global provider and shutdown is a no-op.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "cmdrelay"
	}
	noop := func(context.Context) error { return nil }

	if config.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(config.ServiceName), config: config}, noop
	}

	if config.SamplingRate == 0 {
		config.SamplingRate = 1.0
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(config.Endpoint),
	}
	if config.EnableInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(config.ServiceName), config: config}, noop
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	for k, v := range config.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(config.SamplingRate)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
		config:   config,
	}, provider.Shutdown
}

func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Tracer exposes the underlying OpenTelemetry tracer for packages that
// create their own spans.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// Exporting reports whether spans leave the process.
func (t *Tracer) Exporting() bool {
	return t.provider != nil
}

// Start creates a new span and returns a context containing it.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if len(attrs) == 0 {
		return t.tracer.Start(ctx, name)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// GetTraceID returns the trace ID from the context as a string.
// Returns empty string if no trace is active.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
