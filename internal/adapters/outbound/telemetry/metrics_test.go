package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/archon-research/blockdater/internal/ports/outbound"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewMetrics(provider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewMetrics_GlobalProvider(t *testing.T) {
	if _, err := NewMetrics(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMetrics_RecordBlockFetch(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBlockFetch(ctx, outbound.FetchSourceRPC)
	m.RecordBlockFetch(ctx, outbound.FetchSourceRPC)
	m.RecordBlockFetch(ctx, outbound.FetchSourceRPC)
	m.RecordBlockFetch(ctx, outbound.FetchSourceCache)

	got := collect(t, reader)

	fetches, ok := got["blockdater_block_fetches_total"].Data.(metricdata.Sum[int64])
	if !ok || len(fetches.DataPoints) != 1 {
		t.Fatalf("expected one fetch data point, got %+v", got["blockdater_block_fetches_total"])
	}
	dp := fetches.DataPoints[0]
	if dp.Value != 3 {
		t.Errorf("expected 3 fetches, got %d", dp.Value)
	}
	if v, _ := dp.Attributes.Value(attribute.Key("source")); v.AsString() != outbound.FetchSourceRPC {
		t.Errorf("expected source=%s, got %q", outbound.FetchSourceRPC, v.AsString())
	}

	hits, ok := got["blockdater_cache_hits_total"].Data.(metricdata.Sum[int64])
	if !ok || len(hits.DataPoints) != 1 || hits.DataPoints[0].Value != 1 {
		t.Errorf("expected one cache hit, got %+v", got["blockdater_cache_hits_total"])
	}
}

func TestMetrics_RecordResolution(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordResolution(ctx, 250*time.Millisecond, "success")
	m.RecordResolution(ctx, time.Second, "success")
	m.RecordResolution(ctx, 10*time.Millisecond, "out_of_range")

	got := collect(t, reader)
	hist, ok := got["blockdater_resolution_duration_seconds"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected float64 histogram, got %T", got["blockdater_resolution_duration_seconds"].Data)
	}

	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		counts[status.AsString()] = dp.Count
	}
	if counts["success"] != 2 || counts["out_of_range"] != 1 {
		t.Errorf("unexpected counts by status: %v", counts)
	}
}

func TestMetrics_RecordRefineIterations(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordRefineIterations(context.Background(), 4)
	m.RecordRefineIterations(context.Background(), 6)

	got := collect(t, reader)
	hist, ok := got["blockdater_refine_iterations"].Data.(metricdata.Histogram[int64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("expected one int64 histogram point, got %+v", got["blockdater_refine_iterations"])
	}
	if dp := hist.DataPoints[0]; dp.Count != 2 || dp.Sum != 10 {
		t.Errorf("expected count=2 sum=10, got count=%d sum=%d", dp.Count, dp.Sum)
	}
}
