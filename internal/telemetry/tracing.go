// Package telemetry configures OpenTelemetry tracing for the
// ScorchCrawl MCP server.
//
// Spans follow the OTel GenAI semantic conventions where applicable:
//   - gen_ai.system — the model provider
//   - gen_ai.request.model — the model name
//   - gen_ai.usage.input_tokens — tokens consumed
//   - gen_ai.usage.output_tokens — tokens generated
//
// Custom span attributes use the `scorchcrawl.` prefix.
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
	tracerName = "scorchcrawl.dev/mcp"
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
			semconv.ServiceNameKey.String("scorchcrawl-mcp"),
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

// StartJobSpan creates the parent span for an agent job.
func StartJobSpan(ctx context.Context, jobID, model string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "agent.job",
		trace.WithAttributes(
			attribute.String("scorchcrawl.job_id", jobID),
			attribute.String("gen_ai.request.model", model),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartTurnSpan creates a child span for one session turn, following
// GenAI conventions.
func StartTurnSpan(ctx context.Context, model string, turn int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gen_ai.chat",
		trace.WithAttributes(
			attribute.String("gen_ai.system", "copilot"),
			attribute.String("gen_ai.request.model", model),
			attribute.Int("scorchcrawl.turn", turn),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndTurnSpan enriches the turn span with usage data.
func EndTurnSpan(span trace.Span, inputTokens, outputTokens int64, hasToolCalls bool) {
	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", inputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", outputTokens),
		attribute.Bool("scorchcrawl.has_tool_calls", hasToolCalls),
	)
	span.End()
}

// StartToolCallSpan creates a child span for a scraping tool execution
// inside an agent session.
func StartToolCallSpan(ctx context.Context, tool, targetURL string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "agent.tool_call",
		trace.WithAttributes(
			attribute.String("scorchcrawl.tool", tool),
			attribute.String("scorchcrawl.target_url", targetURL),
		),
	)
}

// EndToolCallSpan enriches the tool span with result data.
func EndToolCallSpan(span trace.Span, status string, resultBytes int) {
	span.SetAttributes(
		attribute.String("scorchcrawl.tool_status", status),
		attribute.Int("scorchcrawl.result_bytes", resultBytes),
	)
	span.End()
}

// StartMCPCallSpan creates the parent span for an MCP tool dispatch.
func StartMCPCallSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "mcp.tool_call",
		trace.WithAttributes(
			attribute.String("scorchcrawl.tool", tool),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}
