package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "taskrunner"

// Metrics holds all execution metric instruments.
type Metrics struct {
	ExecutionsStarted   metric.Int64Counter
	ExecutionsCompleted metric.Int64Counter
	ExecutionsFailed    metric.Int64Counter
	Iterations          metric.Int64Counter
	ModelRetries        metric.Int64Counter
	ToolCalls           metric.Int64Counter
	ExecutionDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWith(otel.Meter(meterName))
}

// NewMetricsWith creates all metric instruments on the given meter.
func NewMetricsWith(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ExecutionsStarted, err = meter.Int64Counter("taskrunner.executions.started",
		metric.WithDescription("Number of task executions started"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsCompleted, err = meter.Int64Counter("taskrunner.executions.completed",
		metric.WithDescription("Number of task executions that completed"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsFailed, err = meter.Int64Counter("taskrunner.executions.failed",
		metric.WithDescription("Number of task executions that failed"))
	if err != nil {
		return nil, err
	}

	m.Iterations, err = meter.Int64Counter("taskrunner.iterations",
		metric.WithDescription("Number of execution loop iterations"))
	if err != nil {
		return nil, err
	}

	m.ModelRetries, err = meter.Int64Counter("taskrunner.model.retries",
		metric.WithDescription("Number of model calls retried after a bad response"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("taskrunner.toolcalls",
		metric.WithDescription("Number of tool invocations"))
	if err != nil {
		return nil, err
	}

	m.ExecutionDuration, err = meter.Float64Histogram("taskrunner.execution.duration_seconds",
		metric.WithDescription("Task execution duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ExecutionFinished records the terminal outcome and duration of one execution.
// A nil receiver is a no-op.
func (m *Metrics) ExecutionFinished(ctx context.Context, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	if status == "COMPLETED" {
		m.ExecutionsCompleted.Add(ctx, 1)
	} else {
		m.ExecutionsFailed.Add(ctx, 1)
	}
	m.ExecutionDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// ToolCall counts one tool invocation.
func (m *Metrics) ToolCall(ctx context.Context, tool string, success bool) {
	if m == nil {
		return
	}
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("success", success),
	))
}

// Started counts one started execution.
func (m *Metrics) Started(ctx context.Context) {
	if m != nil {
		m.ExecutionsStarted.Add(ctx, 1)
	}
}

// Iteration counts one loop iteration.
func (m *Metrics) Iteration(ctx context.Context) {
	if m != nil {
		m.Iterations.Add(ctx, 1)
	}
}

// Retry counts one model retry for the given provider.
func (m *Metrics) Retry(ctx context.Context, provider string) {
	if m != nil {
		m.ModelRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
	}
}
