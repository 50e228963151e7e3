package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
)

func setupTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("Expected Sum[int64] for %s, got %T", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsRecordSessionAndTurns(t *testing.T) {
	m, reader := setupTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "therapist")
	m.RecordTurn(ctx, "client")
	m.RecordTurn(ctx, "client")
	m.RecordSession(ctx, "max_turns", 1)

	got := collect(t, reader)
	if n := sumOf(t, got["patienthub.turns"]); n != 3 {
		t.Errorf("expected 3 turns, got %d", n)
	}
	if n := sumOf(t, got["patienthub.sessions"]); n != 1 {
		t.Errorf("expected 1 session, got %d", n)
	}
}

func TestMetricsRecordCritique(t *testing.T) {
	m, reader := setupTestMetrics(t)
	ctx := context.Background()

	m.RecordCritique(ctx, true, "")
	m.RecordCritique(ctx, false, "assess")
	m.RecordCritique(ctx, false, "")

	got := collect(t, reader)
	if n := sumOf(t, got["patienthub.critique.revisions"]); n != 1 {
		t.Errorf("expected 1 revision, got %d", n)
	}
	if n := sumOf(t, got["patienthub.critique.fallbacks"]); n != 1 {
		t.Errorf("expected 1 fallback, got %d", n)
	}
}

func TestTracedLLMRecordsMetrics(t *testing.T) {
	m, reader := setupTestMetrics(t)
	ctx := context.Background()

	model := TraceLLM(llm.NewMockLLM("a"), "client", m)
	if _, err := model.Complete(ctx, []*agent.Message{agent.NewMessage("user", "hi")}); err != nil {
		t.Fatal(err)
	}
	m.RecordLLMCall(ctx, "mock", "client", time.Millisecond, errors.New("x"))

	got := collect(t, reader)
	if n := sumOf(t, got["patienthub.llm.requests"]); n != 2 {
		t.Errorf("expected 2 requests, got %d", n)
	}
	if n := sumOf(t, got["patienthub.llm.tokens"]); n != 2 {
		t.Errorf("expected 2 tokens from the mock usage, got %d", n)
	}
	hist, ok := got["patienthub.llm.latency"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected latency histogram, got %T", got["patienthub.llm.latency"].Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("expected 2 latency samples, got %d", count)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordTurn(ctx, "client")
	m.RecordSession(ctx, "max_turns", 3)
	m.RecordCritique(ctx, true, "assess")
	m.RecordTokens(ctx, "mock", "client", 5)
	m.RecordLLMCall(ctx, "mock", "client", time.Second, nil)
}

func TestInitMetrics(t *testing.T) {
	provider, err := InitMetrics(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer provider.Shutdown(context.Background())

	if _, err := NewMetrics(nil); err != nil {
		t.Fatalf("NewMetrics on global meter failed: %v", err)
	}
}
