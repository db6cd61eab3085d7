package testutil

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/archon-research/blockdater/internal/domain/entity"
	"github.com/archon-research/blockdater/internal/ports/outbound"
)

// Compile-time check that SyntheticChain implements outbound.BlockFetcher
var _ outbound.BlockFetcher = (*SyntheticChain)(nil)

// SyntheticChain implements outbound.BlockFetcher over a chain whose
// timestamps are computed from block numbers. Blocks are generated lazily so
// large chains cost nothing until read. Every call is counted.
type SyntheticChain struct {
	mu          sync.Mutex
	head        uint64
	timestampFn func(number uint64) uint64

	blockCalls map[uint64]int
	headCalls  int

	// FailBlock, if set, is consulted before serving a block; a non-nil
	// return value is returned as the fetch error.
	FailBlock func(number uint64) error

	// HeadErr is returned by FetchHeadNumber when set.
	HeadErr error
}

// NewSyntheticChain creates a chain of blocks 0..head with the given timestamp function.
func NewSyntheticChain(head uint64, timestampFn func(number uint64) uint64) *SyntheticChain {
	return &SyntheticChain{
		head:        head,
		timestampFn: timestampFn,
		blockCalls:  make(map[uint64]int),
	}
}

// NewLinearChain creates a chain of length blocks with constant spacing.
func NewLinearChain(length, genesisTimestamp, spacing uint64) *SyntheticChain {
	return NewSyntheticChain(length-1, func(n uint64) uint64 {
		return genesisTimestamp + n*spacing
	})
}

// BlockHash returns the deterministic hash of synthetic block number.
func BlockHash(number uint64) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], number)
	return crypto.Keccak256Hash(buf[:])
}

// FetchBlock implements outbound.BlockFetcher.
func (c *SyntheticChain) FetchBlock(ctx context.Context, number uint64) (*entity.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.blockCalls[number]++
	failBlock := c.FailBlock
	head := c.head
	c.mu.Unlock()

	if failBlock != nil {
		if err := failBlock(number); err != nil {
			return nil, err
		}
	}
	if number > head {
		return nil, fmt.Errorf("block %d beyond head %d: %w", number, head, outbound.ErrBlockNotFound)
	}
	return entity.NewBlock(number, c.timestampFn(number), BlockHash(number))
}

// FetchHeadNumber implements outbound.BlockFetcher.
func (c *SyntheticChain) FetchHeadNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.headCalls++
	if c.HeadErr != nil {
		return 0, c.HeadErr
	}
	return c.head, nil
}

// Head returns the head block number.
func (c *SyntheticChain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Timestamp returns the timestamp of block number without counting a fetch.
func (c *SyntheticChain) Timestamp(number uint64) uint64 {
	return c.timestampFn(number)
}

// BlockCalls returns the total number of FetchBlock calls.
func (c *SyntheticChain) BlockCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.blockCalls {
		total += n
	}
	return total
}

// CallsFor returns how many times block number was fetched.
func (c *SyntheticChain) CallsFor(number uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockCalls[number]
}

// FetchedNumbers returns every block number fetched at least once, ascending.
func (c *SyntheticChain) FetchedNumbers() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	nums := make([]uint64, 0, len(c.blockCalls))
	for n := range c.blockCalls {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

// HeadCalls returns the number of FetchHeadNumber calls.
func (c *SyntheticChain) HeadCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headCalls
}

// Ceiling returns the earliest block with timestamp >= target by binary
// search, or false if no such block exists.
func (c *SyntheticChain) Ceiling(target uint64) (uint64, bool) {
	n := sort.Search(int(c.head)+1, func(i int) bool {
		return c.timestampFn(uint64(i)) >= target
	})
	if n > int(c.head) {
		return 0, false
	}
	return uint64(n), true
}

// Floor returns the latest block with timestamp <= target by binary search,
// or false if no such block exists.
func (c *SyntheticChain) Floor(target uint64) (uint64, bool) {
	n := sort.Search(int(c.head)+1, func(i int) bool {
		return c.timestampFn(uint64(i)) > target
	})
	if n == 0 {
		return 0, false
	}
	return uint64(n - 1), true
}
