package block_dater

import (
	"context"
	"errors"
	"fmt"

	"github.com/archon-research/blockdater/internal/domain/entity"
	"github.com/archon-research/blockdater/internal/ports/outbound"
)

// blockCache memoizes fetched blocks by number for one session.
// It is owned by a single Service and is not safe for concurrent use.
type blockCache struct {
	fetcher outbound.BlockFetcher
	metrics outbound.DaterMetrics
	blocks  map[uint64]*entity.Block

	fetches int
	hits    int
}

func newBlockCache(fetcher outbound.BlockFetcher, metrics outbound.DaterMetrics) *blockCache {
	return &blockCache{
		fetcher: fetcher,
		metrics: metrics,
		blocks:  make(map[uint64]*entity.Block),
	}
}

// getOrFetch returns the cached block at number, fetching and storing it on a miss.
func (c *blockCache) getOrFetch(ctx context.Context, number uint64) (*entity.Block, error) {
	if b, ok := c.blocks[number]; ok {
		c.hits++
		c.metrics.RecordBlockFetch(ctx, outbound.FetchSourceCache)
		return b, nil
	}

	c.fetches++
	c.metrics.RecordBlockFetch(ctx, outbound.FetchSourceRPC)

	b, err := c.fetcher.FetchBlock(ctx, number)
	if err != nil {
		if errors.Is(err, outbound.ErrBlockNotFound) {
			return nil, fmt.Errorf("%w: block %d: %w", ErrNotFound, number, err)
		}
		return nil, &FetchError{Op: opFetchBlock, Number: number, Err: err}
	}
	if b == nil {
		return nil, fmt.Errorf("%w: block %d", ErrNotFound, number)
	}
	if b.Number != number {
		return nil, &FetchError{
			Op:     opFetchBlock,
			Number: number,
			Err:    fmt.Errorf("node returned block %d", b.Number),
		}
	}

	c.blocks[number] = b
	return b, nil
}

func (c *blockCache) has(number uint64) bool {
	_, ok := c.blocks[number]
	return ok
}

func (c *blockCache) size() int {
	return len(c.blocks)
}

// reset empties the cache. Fetch counters are session statistics and survive.
func (c *blockCache) reset() {
	clear(c.blocks)
}
