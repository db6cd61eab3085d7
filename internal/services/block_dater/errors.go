package block_dater

import (
	"errors"
	"fmt"
)

// Resolution failures. Every error aborts the whole resolution; callers test
// for them with errors.Is.
var (
	// ErrNotFound means the node has no block at a requested number.
	ErrNotFound = errors.New("block not found")

	// ErrInvalidRange means an averaging window would reach below genesis.
	ErrInvalidRange = errors.New("invalid block range")

	// ErrOutOfRange means the target lies outside [genesis, head] or the
	// boundary scan would step past either end of the chain.
	ErrOutOfRange = errors.New("target outside chain range")

	// ErrConvergenceFailure means a search loop exceeded its iteration bound.
	ErrConvergenceFailure = errors.New("block search did not converge")

	// ErrZeroBlockTime means the estimated block time is too small to extrapolate from.
	ErrZeroBlockTime = errors.New("block time too small to extrapolate")
)

const (
	opFetchBlock = "fetch_block"
	opFetchHead  = "fetch_head"
)

// FetchError wraps a transport or RPC failure reported by the BlockFetcher.
// The collaborator error is preserved verbatim and reachable through Unwrap.
type FetchError struct {
	Op     string
	Number uint64
	Err    error
}

func (e *FetchError) Error() string {
	if e.Op == opFetchHead {
		return fmt.Sprintf("fetching chain head: %v", e.Err)
	}
	return fmt.Sprintf("fetching block %d: %v", e.Number, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// errorStatus classifies err for metrics and span status.
func errorStatus(err error) string {
	var fetchErr *FetchError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrConvergenceFailure):
		return "convergence_failure"
	case errors.Is(err, ErrZeroBlockTime):
		return "zero_block_time"
	case errors.As(err, &fetchErr):
		return "fetch_failure"
	default:
		return "error"
	}
}
