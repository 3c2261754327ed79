package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "taskrunner"

// StartExecutionSpan starts a span for one task execution.
func StartExecutionSpan(ctx context.Context, executionID, taskID, projectID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "execution",
		trace.WithAttributes(
			attribute.String("execution.id", executionID),
			attribute.String("task.id", taskID),
			attribute.String("project.id", projectID),
		),
	)
}

// StartIterationSpan starts a span for one loop iteration.
func StartIterationSpan(ctx context.Context, iteration int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "iteration",
		trace.WithAttributes(attribute.Int("iteration", iteration)),
	)
}

// StartModelCallSpan starts a span for a model call with its attempt number.
func StartModelCallSpan(ctx context.Context, provider, model string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "model.call",
		trace.WithAttributes(
			attribute.String("model.provider", provider),
			attribute.String("model.name", model),
			attribute.Int("model.attempt", attempt),
		),
	)
}

// StartToolCallSpan starts a span for a tool invocation.
func StartToolCallSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(attribute.String("toolcall.tool", tool)),
	)
}

// StartCommandSpan starts a span for a command run inside the sandbox.
func StartCommandSpan(ctx context.Context, sandboxID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sandbox.exec",
		trace.WithAttributes(attribute.String("sandbox.id", sandboxID)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
