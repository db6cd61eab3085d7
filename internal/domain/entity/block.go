// Package entity contains the core domain entities for block dating.
// These entities represent the fundamental business objects and have no behaviour beyond validation.
package entity

import (
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Block is the subset of a chain block needed to date it: its height, its
// header timestamp and its identifying hash.
//
// Blocks are immutable once fetched; chain history below the finality depth
// does not change.
type Block struct {
	Number    uint64
	Timestamp uint64 // unix seconds
	Hash      common.Hash
}

// NewBlock creates a new Block entity with validation.
func NewBlock(number, timestamp uint64, hash common.Hash) (*Block, error) {
	b := &Block{
		Number:    number,
		Timestamp: timestamp,
		Hash:      hash,
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// validate checks that all fields have valid values.
func (b *Block) validate() error {
	// Timestamps take part in signed difference arithmetic.
	if b.Timestamp > math.MaxInt64 {
		return fmt.Errorf("timestamp out of range: %d", b.Timestamp)
	}
	if b.Hash == (common.Hash{}) {
		return fmt.Errorf("hash must not be empty for block %d", b.Number)
	}
	return nil
}

// Time returns the block timestamp as a UTC time.
func (b *Block) Time() time.Time {
	return time.Unix(int64(b.Timestamp), 0).UTC()
}

// HashHex returns the block hash as a hex string with 0x prefix.
func (b *Block) HashHex() string {
	return b.Hash.Hex()
}

// String implements fmt.Stringer for log output.
func (b *Block) String() string {
	return fmt.Sprintf("block %d (%s) at %s", b.Number, b.Hash.TerminalString(), b.Time().Format(time.RFC3339))
}
