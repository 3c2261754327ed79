package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Strob0t/taskrunner/internal/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.Telemetry{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetricsWith(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsWith: %v", err)
	}

	ctx := context.Background()
	m.Started(ctx)
	m.Iteration(ctx)
	m.Iteration(ctx)
	m.Retry(ctx, "mock")
	m.ToolCall(ctx, "read_file", true)
	m.ExecutionFinished(ctx, "COMPLETED", 2*time.Second)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if s, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}
	want := map[string]int64{
		"taskrunner.executions.started":   1,
		"taskrunner.executions.completed": 1,
		"taskrunner.iterations":           2,
		"taskrunner.model.retries":        1,
		"taskrunner.toolcalls":            1,
	}
	for name, v := range want {
		if sums[name] != v {
			t.Errorf("%s = %d, want %d", name, sums[name], v)
		}
	}
	if _, ok := sums["taskrunner.executions.failed"]; ok {
		t.Error("failed counter should not have data points")
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.Started(ctx)
	m.Iteration(ctx)
	m.Retry(ctx, "x")
	m.ToolCall(ctx, "x", false)
	m.ExecutionFinished(ctx, "FAILED", time.Second)
}

func TestSpansRecorded(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, exec := StartExecutionSpan(context.Background(), "e1", "t1", "p1")
	_, iter := StartIterationSpan(ctx, 1)
	EndSpan(iter, errors.New("boom"))
	EndSpan(exec, nil)

	ended := sr.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	if ended[0].Name() != "iteration" || ended[0].Status().Code != codes.Error {
		t.Fatalf("unexpected iteration span %s %v", ended[0].Name(), ended[0].Status())
	}
	if ended[0].Parent().SpanID() != ended[1].SpanContext().SpanID() {
		t.Fatal("iteration span should be a child of the execution span")
	}
}
