package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/blockdater/internal/ports/outbound"
)

// Compile-time check that Metrics implements outbound.DaterMetrics
var _ outbound.DaterMetrics = (*Metrics)(nil)

const meterName = "github.com/archon-research/blockdater"

// Metrics implements outbound.DaterMetrics using OpenTelemetry.
type Metrics struct {
	resolutionLatency metric.Float64Histogram
	blockFetches      metric.Int64Counter
	cacheHits         metric.Int64Counter
	refineIterations  metric.Int64Histogram
}

// NewMetrics creates the blockdater instruments on provider, or on the
// global meter provider when provider is nil.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	latency, err := meter.Float64Histogram(
		"blockdater_resolution_duration_seconds",
		metric.WithDescription("Time taken to resolve a date to a block"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blockdater_resolution_duration_seconds histogram: %w", err)
	}

	fetches, err := meter.Int64Counter(
		"blockdater_block_fetches_total",
		metric.WithDescription("Total number of blocks fetched from the node"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blockdater_block_fetches_total counter: %w", err)
	}

	hits, err := meter.Int64Counter(
		"blockdater_cache_hits_total",
		metric.WithDescription("Total number of block lookups served from the session cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blockdater_cache_hits_total counter: %w", err)
	}

	iterations, err := meter.Int64Histogram(
		"blockdater_refine_iterations",
		metric.WithDescription("Coarse refinement rounds per resolution"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blockdater_refine_iterations histogram: %w", err)
	}

	return &Metrics{
		resolutionLatency: latency,
		blockFetches:      fetches,
		cacheHits:         hits,
		refineIterations:  iterations,
	}, nil
}

// RecordResolution records the duration and outcome of one BlockByDate call.
func (m *Metrics) RecordResolution(ctx context.Context, duration time.Duration, status string) {
	m.resolutionLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordBlockFetch counts a block lookup by where it was served from.
func (m *Metrics) RecordBlockFetch(ctx context.Context, source string) {
	if source == outbound.FetchSourceCache {
		m.cacheHits.Add(ctx, 1)
		return
	}
	m.blockFetches.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordRefineIterations records how many coarse refinement rounds a resolution took.
func (m *Metrics) RecordRefineIterations(ctx context.Context, iterations int) {
	m.refineIterations.Record(ctx, int64(iterations))
}
