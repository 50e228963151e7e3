package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
)

// setupTestTracing installs a tracer provider with an in-memory exporter.
func setupTestTracing(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exporter
}

func spanAttr(span tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracedLLMCreatesSpan(t *testing.T) {
	exporter := setupTestTracing(t)

	model := TraceLLM(llm.NewMockLLM("hello"), "client", nil)
	_, err := model.Complete(context.Background(), []*agent.Message{agent.NewMessage("user", "hi")}, llm.WithJSONMode())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "llm.complete" {
		t.Errorf("unexpected span name %s", span.Name)
	}
	if span.Status.Code != codes.Ok {
		t.Errorf("expected Ok status, got %v", span.Status.Code)
	}

	tests := []struct {
		key  string
		want attribute.Value
	}{
		{"llm.model", attribute.StringValue("mock")},
		{"llm.role", attribute.StringValue("client")},
		{"llm.messages", attribute.IntValue(1)},
		{"llm.json_mode", attribute.BoolValue(true)},
		{"llm.response_length", attribute.IntValue(5)},
	}
	for _, tt := range tests {
		got, ok := spanAttr(span, tt.key)
		if !ok {
			t.Errorf("missing attribute %s", tt.key)
			continue
		}
		if got != tt.want {
			t.Errorf("%s = %v, want %v", tt.key, got.Emit(), tt.want.Emit())
		}
	}
}

func TestTracedLLMRecordsErrors(t *testing.T) {
	exporter := setupTestTracing(t)

	boom := errors.New("provider down")
	mock := llm.NewMockLLM()
	mock.Func = func(ctx context.Context, messages []*agent.Message) (string, error) {
		return "", boom
	}

	_, err := TraceLLM(mock, "therapist", nil).Complete(context.Background(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("expected Error status, got %v", spans[0].Status.Code)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected the error to be recorded as a span event")
	}
}

func TestStartSpanNesting(t *testing.T) {
	exporter := setupTestTracing(t)

	ctx, parent := StartSpan(context.Background(), "session")
	_, child := StartSpan(ctx, "turn", attribute.Int("turn", 1))
	EndSpan(child, nil)
	EndSpan(parent, nil)

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(spans))
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("child span should have the session span as parent")
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{})
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func TestInitTracingWithConsoleExport(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	shutdown, err := InitTracing(context.Background(), TracingConfig{ServiceName: "test", Console: true})
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}
