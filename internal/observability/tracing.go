package observability

import (
	"context"
	"fmt"

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
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing for agent turns, LLM requests and
// tool executions. Without a configured endpoint every span is a no-op,
// so callers never need to guard their instrumentation.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// TraceConfig configures span export.
type TraceConfig struct {
	// ServiceName identifies this process in traces.
	ServiceName string

	// ServiceVersion tags spans with the build version.
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector address (e.g. "localhost:4317").
	// Empty disables export entirely.
	Endpoint string

	// SamplingRate is the recorded fraction of traces, 0 < rate <= 1.
	// Zero means record everything.
	SamplingRate float64

	// Insecure disables TLS towards the collector.
	Insecure bool
}

// NewTracer builds a tracer and its shutdown function. With an empty
// endpoint, or when the exporter cannot be created, spans stay no-ops and
// shutdown does nothing; tracing problems never keep the server down.
func NewTracer(cfg TraceConfig) (*Tracer, func(context.Context) error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "guenther"
	}
	noop := &Tracer{tracer: otel.Tracer(cfg.ServiceName)}
	noShutdown := func(context.Context) error { return nil }

	if cfg.Endpoint == "" {
		return noop, noShutdown
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return noop, noShutdown
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		res = resource.Default()
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SamplingRate > 0 && cfg.SamplingRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
	}, provider.Shutdown
}

// Start opens a span. Nil-safe, so optional tracers can be called
// unconditionally.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, name)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartTurn opens the span covering one full agent turn.
func (t *Tracer) StartTurn(ctx context.Context, source, chatID string) (context.Context, trace.Span) {
	return t.Start(ctx, "agent.turn",
		attribute.String("turn.source", source),
		attribute.String("chat.id", chatID),
	)
}

// StartLLM opens the span for one chat-completions request.
func (t *Tracer) StartLLM(ctx context.Context, providerID, model string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("llm.%s", providerID),
		attribute.String("llm.provider", providerID),
		attribute.String("llm.model", model),
	)
}

// StartTool opens the span for one tool execution.
func (t *Tracer) StartTool(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("tool.%s", toolName),
		attribute.String("tool.name", toolName),
	)
}

// EndSpan closes a span, recording err when set.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceID returns the active trace id of the context, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
