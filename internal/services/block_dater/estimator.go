package block_dater

import (
	"context"
	"fmt"
)

// averageBlockTime returns the mean seconds per block over the window blocks
// ending at reference. A nil reference means the current chain head.
func (s *Service) averageBlockTime(ctx context.Context, window uint64, reference *uint64) (float64, error) {
	var ref uint64
	if reference != nil {
		ref = *reference
	} else {
		head, err := s.headNumber(ctx)
		if err != nil {
			return 0, err
		}
		ref = head
	}

	if window == 0 {
		return 0, fmt.Errorf("%w: window size must be positive", ErrInvalidRange)
	}
	if ref < window {
		return 0, fmt.Errorf("%w: window of %d blocks ending at block %d reaches below genesis", ErrInvalidRange, window, ref)
	}

	first, err := s.cache.getOrFetch(ctx, ref-window)
	if err != nil {
		return 0, err
	}
	last, err := s.cache.getOrFetch(ctx, ref)
	if err != nil {
		return 0, err
	}

	elapsed := int64(last.Timestamp) - int64(first.Timestamp)
	return float64(elapsed) / float64(window), nil
}

// blockTimeAround estimates the block time over a window ending at anchor.
//
// Shrunk windows start at block 1 rather than genesis, whose timestamp need not
// follow block production (it is 0 on mainnet). Anchors 0 and 1 measure forward
// from block 1. A window with no elapsed time is widened to [1, head] and only a
// flat chain yields a block time below minBlockTime.
func (s *Service) blockTimeAround(ctx context.Context, window, anchor uint64) (float64, error) {
	blockTime, err := s.windowBlockTime(ctx, window, anchor)
	if err != nil || blockTime >= minBlockTime {
		return blockTime, err
	}

	head, err := s.headNumber(ctx)
	if err != nil {
		return 0, err
	}
	if head < 2 {
		return blockTime, nil
	}
	return s.averageBlockTime(ctx, head-1, &head)
}

func (s *Service) windowBlockTime(ctx context.Context, window, anchor uint64) (float64, error) {
	if anchor > window {
		return s.averageBlockTime(ctx, window, &anchor)
	}
	if anchor >= 2 {
		return s.averageBlockTime(ctx, anchor-1, &anchor)
	}

	head, err := s.headNumber(ctx)
	if err != nil {
		return 0, err
	}
	if head < 2 {
		return s.averageBlockTime(ctx, head, &head)
	}
	ref := min(window+1, head)
	return s.averageBlockTime(ctx, ref-1, &ref)
}
