package observe

import (
	"context"
	"log/slog"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestStartSpan_ReturnsRecordingSpanWithProvider(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer(tracerName).Start(context.Background(), "test")
	defer span.End()

	if !trace.SpanContextFromContext(ctx).IsValid() {
		t.Fatal("span context should be valid")
	}
}

func TestLogger_WithoutSpanIsDefault(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Fatal("Logger should never return nil")
	}
}

func TestLogger_EnrichesWithTraceIDs(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer(tracerName).Start(context.Background(), "test")
	defer span.End()

	l := Logger(ctx)
	if l == nil {
		t.Fatal("Logger returned nil")
	}
	if !l.Enabled(ctx, slog.LevelError) {
		t.Error("enriched logger should still be enabled at error level")
	}
}
