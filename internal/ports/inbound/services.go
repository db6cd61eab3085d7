// Package inbound contains the primary/inbound ports.
// These interfaces define the use cases that the application exposes.
package inbound

import (
	"context"
	"time"

	"github.com/archon-research/blockdater/internal/domain/entity"
)

// BlockDater resolves calendar dates to chain blocks.
// Inbound adapters (HTTP handlers, CLI) call these methods.
//
// A BlockDater keeps a per-session block cache and is not safe for
// concurrent use; adapters serving concurrent callers create one per request.
type BlockDater interface {
	// BlockByDate returns the earliest block with timestamp >= target when
	// after is true, or the latest block with timestamp <= target otherwise.
	BlockByDate(ctx context.Context, target time.Time, after bool) (*entity.Block, error)

	// ClearCache drops every block cached by this session.
	ClearCache()
}

// Pinger reports whether the chain node behind the service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
