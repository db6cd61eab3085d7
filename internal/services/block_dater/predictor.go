package block_dater

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	// minBlockTime is the smallest block time, in seconds, accepted as a divisor.
	minBlockTime = 1e-9

	// maxBlockOffset bounds a predicted jump so float to int conversion cannot overflow.
	maxBlockOffset = 1 << 62
)

// predictBlockNumber linearly extrapolates the block number at target from an
// anchor block, assuming the block time measured over the window ending at the
// anchor holds all the way to target. A nil anchor means the chain head.
//
// The result is signed and unclamped: it may fall before genesis or past head.
func (s *Service) predictBlockNumber(ctx context.Context, target time.Time, anchor *uint64) (int64, error) {
	var anchorNum uint64
	if anchor != nil {
		anchorNum = *anchor
	} else {
		head, err := s.headNumber(ctx)
		if err != nil {
			return 0, err
		}
		anchorNum = head
	}

	blockTime, err := s.blockTimeAround(ctx, s.config.WindowSize, anchorNum)
	if err != nil {
		return 0, err
	}
	if blockTime < minBlockTime {
		return 0, fmt.Errorf("%w: %g s/block at block %d", ErrZeroBlockTime, blockTime, anchorNum)
	}

	anchorBlock, err := s.cache.getOrFetch(ctx, anchorNum)
	if err != nil {
		return 0, err
	}

	diff := int64(anchorBlock.Timestamp) - target.Unix()
	offset, err := roundBlocks(diff, blockTime)
	if err != nil {
		return 0, err
	}
	return int64(anchorNum) - offset, nil
}

// roundBlocks converts a signed time difference into a whole number of blocks.
// Halves round away from zero (math.Round), on both sides of the anchor.
func roundBlocks(diff int64, blockTime float64) (int64, error) {
	blocks := math.Round(float64(diff) / blockTime)
	if math.Abs(blocks) > maxBlockOffset {
		return 0, fmt.Errorf("%w: %ds at %g s/block is %g blocks away", ErrOutOfRange, diff, blockTime, blocks)
	}
	return int64(blocks), nil
}

// clampBlock maps a signed prediction into [0, head].
func clampBlock(n int64, head uint64) uint64 {
	if n < 0 {
		return 0
	}
	if uint64(n) > head {
		return head
	}
	return uint64(n)
}
