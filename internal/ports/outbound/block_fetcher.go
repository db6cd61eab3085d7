package outbound

import (
	"context"
	"errors"

	"github.com/archon-research/blockdater/internal/domain/entity"
)

// ErrBlockNotFound is returned by a BlockFetcher when the node has no block at
// the requested number (beyond the current head, or before genesis).
var ErrBlockNotFound = errors.New("block not found")

// BlockFetcher is the narrow read interface the block dater consumes.
// Implementations own transport concerns such as timeouts, rate limits and
// retries; callers treat every call as a single atomic snapshot read.
type BlockFetcher interface {
	// FetchBlock fetches the header fields of the canonical block at number.
	// Returns ErrBlockNotFound (possibly wrapped) when no such block exists.
	FetchBlock(ctx context.Context, number uint64) (*entity.Block, error)

	// FetchHeadNumber returns the highest block number known to the node.
	FetchHeadNumber(ctx context.Context) (uint64, error)
}
