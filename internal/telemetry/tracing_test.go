package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer installs an in-memory span exporter for test assertions.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTraceProviderNoopWhenEmpty(t *testing.T) {
	shutdown, err := InitTraceProvider(context.Background(), "", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Should be a no-op shutdown
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestStartSearchSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartSearchSpan(ctx, "semantic")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "search.query" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "search.query")
	}

	foundMode := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "agentgate.search_mode" && a.Value.AsString() == "semantic" {
			foundMode = true
		}
	}
	if !foundMode {
		t.Error("missing agentgate.search_mode attribute")
	}
}

func TestStartLLMCallSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, llmSpan := StartLLMCallSpan(ctx, "claude-sonnet-4-5", "anthropic", "hyde")
	EndLLMCallSpan(llmSpan, 1000, 500)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "gen_ai.chat" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "gen_ai.chat")
	}

	attrs := spans[0].Attributes
	foundModel := false
	foundSystem := false
	foundInputTokens := false
	foundPurpose := false
	for _, a := range attrs {
		if string(a.Key) == "gen_ai.request.model" && a.Value.AsString() == "claude-sonnet-4-5" {
			foundModel = true
		}
		if string(a.Key) == "gen_ai.system" && a.Value.AsString() == "anthropic" {
			foundSystem = true
		}
		if string(a.Key) == "gen_ai.usage.input_tokens" && a.Value.AsInt64() == 1000 {
			foundInputTokens = true
		}
		if string(a.Key) == "agentgate.purpose" && a.Value.AsString() == "hyde" {
			foundPurpose = true
		}
	}
	if !foundModel {
		t.Error("missing gen_ai.request.model")
	}
	if !foundSystem {
		t.Error("missing gen_ai.system")
	}
	if !foundInputTokens {
		t.Error("missing gen_ai.usage.input_tokens")
	}
	if !foundPurpose {
		t.Error("missing agentgate.purpose")
	}
}

func TestEndSyncSpanCounters(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartSyncSpan(ctx, "graph")
	EndSyncSpan(span, 12, 3, 85, 1)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "sync.run" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "sync.run")
	}

	want := map[string]int64{
		"agentgate.embedded": 12,
		"agentgate.patched":  3,
		"agentgate.skipped":  85,
		"agentgate.errors":   1,
	}
	for _, a := range spans[0].Attributes {
		if v, ok := want[string(a.Key)]; ok && a.Value.AsInt64() == v {
			delete(want, string(a.Key))
		}
	}
	if len(want) > 0 {
		t.Errorf("missing sync counters: %v", want)
	}
}

func TestCapabilitySpanBlocked(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartCapabilitySpan(ctx, "a2a", "http://10.0.0.1/agent.json")
	EndCapabilitySpan(span, "blocked", true, "private address")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	attrs := spans[0].Attributes
	foundBlocked := false
	foundReason := false
	for _, a := range attrs {
		if string(a.Key) == "agentgate.blocked" && a.Value.AsBool() {
			foundBlocked = true
		}
		if string(a.Key) == "agentgate.block_reason" && a.Value.AsString() == "private address" {
			foundReason = true
		}
	}
	if !foundBlocked {
		t.Error("missing agentgate.blocked attribute")
	}
	if !foundReason {
		t.Error("missing agentgate.block_reason attribute")
	}
}

func TestNestedSpans(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	ctx, searchSpan := StartSearchSpan(ctx, "semantic")
	_, embedSpan := StartEmbedSpan(ctx, "voyage-3", 1)
	embedSpan.End()
	searchSpan.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	// Embed span ends first, so it is the first stub.
	embedStub := spans[0]
	searchStub := spans[1]

	if embedStub.Parent.TraceID() != searchStub.SpanContext.TraceID() {
		t.Error("embed span should share trace ID with search span")
	}
	if !embedStub.Parent.SpanID().IsValid() {
		t.Error("embed span should have a valid parent span ID")
	}
}
