package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/mosmo/internal/logging"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("MOSMO_TRACING_ENABLED", "TRUE")
	t.Setenv("MOSMO_TRACING_EXPORTER", "OTLP")
	t.Setenv("MOSMO_TRACING_SERVICE_NAME", "")
	t.Setenv("MOSMO_TRACING_SAMPLE_RATIO", "2")
	t.Setenv("MOSMO_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" {
		t.Fatalf("TracingConfigFromEnv() = %+v", cfg)
	}
	if cfg.ServiceName != "mosmo" {
		t.Fatalf("ServiceName = %q, want default mosmo", cfg.ServiceName)
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("SampleRatio = %v, want out-of-range value ignored", cfg.SampleRatio)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil {
		t.Fatalf("InitTracing with unknown exporter succeeded")
	}
}

func TestStartSpanTagsRunID(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(trace.NewTracerProvider(trace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := logging.ContextWithRunID(context.Background(), "run-1")
	_, span := StartSpan(ctx, "scenario/reload")
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Name() != "scenario/reload" {
		t.Fatalf("recorded spans = %v", spans)
	}
	found := false
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "run_id" && kv.Value.AsString() == "run-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("span attributes %v missing run_id", spans[0].Attributes())
	}
}
