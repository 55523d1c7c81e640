// Package tracing wraps the OpenTelemetry API with span helpers for model
// calls, tool execution and Google Calendar requests.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for spans created here.
const TracerName = "github.com/jw6ventures/calassist"

// Span attribute keys.
const (
	AttrTool      = "calassist.tool"
	AttrPhase     = "llm.phase"
	AttrModel     = "llm.model"
	AttrStatus    = "llm.status"
	AttrOperation = "google.operation"
	AttrOwner     = "calassist.owner_id"
)

// Setup installs a tracer provider for the named exporter and returns its
// shutdown function. An empty exporter leaves the global no-op provider in place.
func Setup(exporter string) (func(context.Context) error, error) {
	switch exporter {
	case "", "none":
		return func(context.Context) error { return nil }, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}
}

func tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(TracerName)
}

// StartSpan starts a span with the given attributes. Callers end it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartLLMSpan starts a client span for one chat-completion round trip.
func StartLLMSpan(ctx context.Context, phase, model string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "llm."+phase,
		trace.WithAttributes(attribute.String(AttrPhase, phase), attribute.String(AttrModel, model)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartToolSpan starts a span for a tool executed on behalf of owner.
func StartToolSpan(ctx context.Context, tool string, owner int64) (context.Context, trace.Span) {
	return tracer().Start(ctx, "tool."+tool,
		trace.WithAttributes(attribute.String(AttrTool, tool), attribute.Int64(AttrOwner, owner)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartGoogleSpan starts a client span for a Google Calendar API call.
func StartGoogleSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "google.calendar."+operation,
		trace.WithAttributes(attribute.String(AttrOperation, operation)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TraceID returns the trace id of the span in ctx, or "" without a valid span.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
