package block_dater

import (
	"context"
	"fmt"

	"github.com/archon-research/blockdater/internal/ports/inbound"
	"github.com/archon-research/blockdater/internal/ports/outbound"
)

var _ inbound.Pinger = (*HeadPinger)(nil)

// HeadPinger checks node health by asking the fetcher for the chain head.
// It holds no state, so it is safe for concurrent use whenever the fetcher is.
type HeadPinger struct {
	fetcher outbound.BlockFetcher
}

// NewHeadPinger creates a pinger over fetcher.
func NewHeadPinger(fetcher outbound.BlockFetcher) (*HeadPinger, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	return &HeadPinger{fetcher: fetcher}, nil
}

// Ping fails with a *FetchError when the head cannot be read.
func (p *HeadPinger) Ping(ctx context.Context) error {
	if _, err := p.fetcher.FetchHeadNumber(ctx); err != nil {
		return &FetchError{Op: opFetchHead, Err: err}
	}
	return nil
}
