// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"time"
)

// Block fetch sources reported to DaterMetrics.
const (
	FetchSourceRPC   = "rpc"
	FetchSourceCache = "cache"
)

// DaterMetrics provides an interface for recording block dater metrics.
// This allows the service layer to record metrics without depending on
// specific telemetry implementations.
type DaterMetrics interface {
	// RecordResolution records the duration of one date-to-block resolution.
	// status is "success" or the error class.
	RecordResolution(ctx context.Context, duration time.Duration, status string)

	// RecordBlockFetch counts a block lookup served from source (FetchSourceRPC or FetchSourceCache).
	RecordBlockFetch(ctx context.Context, source string)

	// RecordRefineIterations records how many coarse refinement rounds a resolution needed.
	RecordRefineIterations(ctx context.Context, iterations int)
}
