// Package observability provides OpenTelemetry tracing for the proxy.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// InitTracer initializes the OpenTelemetry tracer provider, exporting
// spans via OTLP/gRPC to endpoint.
func InitTracer(serviceName, endpoint string) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("0.1.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(0.1),
		)),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns the global tracer.
func Tracer() trace.Tracer {
	return otel.Tracer("anthrobridge")
}

// RequestAttributes describes one /v1/messages call for span annotation.
func RequestAttributes(requestID, model string, streaming bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("request.id", requestID),
		attribute.String("request.model", model),
		attribute.Bool("request.streaming", streaming),
	}
}

// StartRequestSpan starts the top-level span for one inbound request.
func StartRequestSpan(ctx context.Context, requestID, model string, streaming bool) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "messages.translate",
		trace.WithAttributes(RequestAttributes(requestID, model, streaming)...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// RecordTokenUsage records token usage on a span. The non-streaming
// handler calls it once the response is translated; the streaming path
// does not record token usage on its span.
func RecordTokenUsage(span trace.Span, promptTokens, completionTokens int) {
	if span.IsRecording() {
		span.SetAttributes(
			attribute.Int("prompt.tokens", promptTokens),
			attribute.Int("completion.tokens", completionTokens),
			attribute.Int("total.tokens", promptTokens+completionTokens),
		)
	}
}
