// Package observability provides OpenTelemetry tracing, metrics and
// trace-aware structured logging for simulated sessions.
package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
)

// InstrumentationName is the tracer and meter name used by this module.
const InstrumentationName = "github.com/patienthub/patienthub-go"

// TracingConfig selects trace exporters. With neither set, tracing is a no-op.
type TracingConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Console      bool   `yaml:"console"`
}

// InitTracing installs a global tracer provider and returns its shutdown
// function.
func InitTracing(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" && !cfg.Console {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "patienthub"
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	if cfg.Console {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create console exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// Tracer returns the module tracer from the current global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartSpan opens an internal span on the module tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TracedLLM opens a span around every completion and records latency and
// token usage.
type TracedLLM struct {
	llm     llm.LLM
	role    string
	metrics *Metrics
}

var _ llm.LLM = (*TracedLLM)(nil)

// TraceLLM wraps model. role names the caller ("client", "therapist",
// "question", ...) and becomes a span and metric attribute. metrics may be
// nil.
func TraceLLM(model llm.LLM, role string, metrics *Metrics) *TracedLLM {
	return &TracedLLM{llm: model, role: role, metrics: metrics}
}

// Model returns the wrapped model identifier.
func (t *TracedLLM) Model() string {
	return t.llm.Model()
}

// Complete runs the wrapped completion inside an "llm.complete" span.
func (t *TracedLLM) Complete(ctx context.Context, messages []*agent.Message, opts ...llm.CallOption) (*agent.Message, error) {
	ctx, span := StartSpan(ctx, "llm.complete",
		attribute.String("llm.model", t.llm.Model()),
		attribute.String("llm.role", t.role),
		attribute.Int("llm.messages", len(messages)),
		attribute.Bool("llm.json_mode", llm.BuildCallOptions(opts...).JSONMode),
	)

	start := time.Now()
	resp, err := t.llm.Complete(ctx, messages, opts...)
	t.metrics.RecordLLMCall(ctx, t.llm.Model(), t.role, time.Since(start), err)

	if err == nil {
		if usage, ok := llm.UsageFrom(resp); ok {
			span.SetAttributes(
				attribute.Int("llm.prompt_tokens", usage.PromptTokens),
				attribute.Int("llm.completion_tokens", usage.CompletionTokens),
			)
			t.metrics.RecordTokens(ctx, t.llm.Model(), t.role, usage.TotalTokens)
		}
		span.SetAttributes(attribute.Int("llm.response_length", len(resp.Content)))
	}
	if errors.Is(err, context.Canceled) {
		span.SetAttributes(attribute.Bool("llm.canceled", true))
	}
	EndSpan(span, err)
	return resp, err
}
