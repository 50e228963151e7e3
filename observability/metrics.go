package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// InitMetrics installs a global meter provider backed by the Prometheus
// exporter. The exporter registers with the default Prometheus registry,
// which the server exposes on /metrics.
func InitMetrics(ctx context.Context, serviceName string) (*sdkmetric.MeterProvider, error) {
	if serviceName == "" {
		serviceName = "patienthub"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)
	return provider, nil
}

// Metrics holds the instruments recorded by sessions, clients and models.
// A nil *Metrics records nothing.
type Metrics struct {
	sessions   metric.Int64Counter
	turns      metric.Int64Counter
	revisions  metric.Int64Counter
	fallbacks  metric.Int64Counter
	tokens     metric.Int64Counter
	llmCalls   metric.Int64Counter
	llmLatency metric.Float64Histogram
}

// NewMetrics creates the instruments on meter. A nil meter uses the global
// provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.sessions, "patienthub.sessions", "Completed therapy sessions"},
		{&m.turns, "patienthub.turns", "Conversation turns"},
		{&m.revisions, "patienthub.critique.revisions", "Client drafts replaced by a revision"},
		{&m.fallbacks, "patienthub.critique.fallbacks", "Critique stages that fell back to a default"},
		{&m.tokens, "patienthub.llm.tokens", "Tokens consumed by model calls"},
		{&m.llmCalls, "patienthub.llm.requests", "Model completion requests"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", c.name, err)
		}
	}

	m.llmLatency, err = meter.Float64Histogram(
		"patienthub.llm.latency",
		metric.WithDescription("Model completion latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}
	return m, nil
}

// RecordSession counts a finished session by end reason.
func (m *Metrics) RecordSession(ctx context.Context, endReason string, turns int) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("end_reason", endReason),
		attribute.Int("turns", turns),
	))
}

// RecordTurn counts one message from role.
func (m *Metrics) RecordTurn(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordCritique counts a revised draft or a fallback stage.
func (m *Metrics) RecordCritique(ctx context.Context, revised bool, fallbackStage string) {
	if m == nil {
		return
	}
	if revised {
		m.revisions.Add(ctx, 1)
	}
	if fallbackStage != "" {
		m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", fallbackStage)))
	}
}

// RecordTokens adds token usage.
func (m *Metrics) RecordTokens(ctx context.Context, model, role string, tokens int) {
	if m == nil || tokens <= 0 {
		return
	}
	m.tokens.Add(ctx, int64(tokens), metric.WithAttributes(
		attribute.String("llm.model", model),
		attribute.String("llm.role", role),
	))
}

// RecordLLMCall counts a completion and records its latency.
func (m *Metrics) RecordLLMCall(ctx context.Context, model, role string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("llm.model", model),
		attribute.String("llm.role", role),
		attribute.String("status", status),
	)
	m.llmCalls.Add(ctx, 1, attrs)
	m.llmLatency.Record(ctx, float64(d.Microseconds())/1000.0, attrs)
}
