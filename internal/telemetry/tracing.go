// Package telemetry configures OpenTelemetry tracing for the gateway.
//
// LLM spans follow the OTel GenAI semantic conventions where applicable:
//   - gen_ai.system — the LLM provider
//   - gen_ai.request.model — the model name
//   - gen_ai.usage.input_tokens — tokens consumed
//   - gen_ai.usage.output_tokens — tokens generated
//
// Custom span attributes use the `agentgate.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "agentgate.io/gateway"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		// No-op: tracing disabled
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("agentgate"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartSearchSpan creates the parent span for a search request.
func StartSearchSpan(ctx context.Context, mode string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "search.query",
		trace.WithAttributes(
			attribute.String("agentgate.search_mode", mode),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartSyncSpan creates the parent span for one sync worker run.
func StartSyncSpan(ctx context.Context, worker string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "sync.run",
		trace.WithAttributes(
			attribute.String("agentgate.worker", worker),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSyncSpan enriches the sync span with run counters.
func EndSyncSpan(span trace.Span, embedded, patched, skipped, errors int) {
	span.SetAttributes(
		attribute.Int("agentgate.embedded", embedded),
		attribute.Int("agentgate.patched", patched),
		attribute.Int("agentgate.skipped", skipped),
		attribute.Int("agentgate.errors", errors),
	)
	span.End()
}

// StartLLMCallSpan creates a child span for an LLM call, following GenAI conventions.
// purpose distinguishes query expansion from taxonomy classification.
func StartLLMCallSpan(ctx context.Context, model, provider, purpose string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gen_ai.chat",
		trace.WithAttributes(
			attribute.String("gen_ai.system", provider),
			attribute.String("gen_ai.request.model", model),
			attribute.String("agentgate.purpose", purpose),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndLLMCallSpan enriches the LLM span with usage data.
func EndLLMCallSpan(span trace.Span, inputTokens, outputTokens int64) {
	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", inputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", outputTokens),
	)
	span.End()
}

// StartEmbedSpan creates a child span for an embedding call.
func StartEmbedSpan(ctx context.Context, model string, inputs int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gen_ai.embeddings",
		trace.WithAttributes(
			attribute.String("gen_ai.request.model", model),
			attribute.Int("agentgate.inputs", inputs),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartCapabilitySpan creates a child span for a capability endpoint fetch.
func StartCapabilitySpan(ctx context.Context, protocol, endpoint string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "capability.fetch",
		trace.WithAttributes(
			attribute.String("agentgate.protocol", protocol),
			attribute.String("agentgate.endpoint", endpoint),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndCapabilitySpan enriches the capability span with the fetch outcome.
// blockReason is set when the endpoint was rejected before any request
// was made.
func EndCapabilitySpan(span trace.Span, status string, blocked bool, blockReason string) {
	span.SetAttributes(
		attribute.String("agentgate.fetch_status", status),
		attribute.Bool("agentgate.blocked", blocked),
	)
	if blocked {
		span.SetAttributes(attribute.String("agentgate.block_reason", blockReason))
	}
	span.End()
}
