package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.40.0"
)

func TestInitTracer_NoExporterIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracerConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestNewResource_MergesWithSDKDefaults(t *testing.T) {
	res, err := newResource("blockdater", "v1.2.3", "staging")
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	if got, want := res.SchemaURL(), resource.Default().SchemaURL(); got != want {
		t.Errorf("expected schema %q, got %q", want, got)
	}

	attrs := res.Set()
	tests := []struct {
		key  attribute.Key
		want string
	}{
		{key: semconv.ServiceNameKey, want: "blockdater"},
		{key: semconv.ServiceVersionKey, want: "v1.2.3"},
		{key: semconv.DeploymentEnvironmentNameKey, want: "staging"},
	}
	for _, tt := range tests {
		v, ok := attrs.Value(tt.key)
		if !ok {
			t.Errorf("missing resource attribute %s", tt.key)
			continue
		}
		if v.AsString() != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.key, tt.want, v.AsString())
		}
	}
}

func TestInitTracer_WritesSpans(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var buf bytes.Buffer
	shutdown, err := InitTracer(context.Background(), TracerConfig{
		ServiceVersion: "test",
		Writer:         &buf,
	})
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "blockdater.BlockByDate")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "blockdater.BlockByDate") {
		t.Errorf("expected span name in output, got %q", out)
	}
	if !strings.Contains(out, DefaultServiceName) {
		t.Errorf("expected service name in resource, got %q", out)
	}
}

func TestInitMetrics_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := InitMetrics(context.Background(), MetricConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
