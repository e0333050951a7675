package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledTracerIsNoop(t *testing.T) {
	p, err := InitTracer(context.Background(), Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	_, span := p.StartSpan(context.Background(), "search.run")
	if span.SpanContext().IsValid() {
		t.Error("disabled tracer should produce invalid span contexts")
	}
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNilProvider(t *testing.T) {
	var p *Provider
	_, span := p.StartSpan(context.Background(), "search.iteration")
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("nil Shutdown: %v", err)
	}
}

func TestSpansRecorded(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	p := NewWithProvider(tp, "test")

	ctx, span := p.StartSpan(context.Background(), "executor.train", attribute.Int("iteration", 2))
	AddEvent(ctx, "metrics", attribute.Float64("accuracy", 0.9))
	SetError(ctx, errors.New("boom"))
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	s := ended[0]
	if s.Name() != "executor.train" {
		t.Errorf("span name = %q", s.Name())
	}
	if s.Status().Code != codes.Error {
		t.Errorf("span status = %v, want Error", s.Status().Code)
	}
	if len(s.Events()) < 2 {
		t.Errorf("expected metrics and exception events, got %d", len(s.Events()))
	}
}
