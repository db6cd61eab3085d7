// Package ethrpc implements outbound.BlockFetcher on top of go-ethereum's
// rpc client. Only block headers are requested; the block dater never needs
// transactions.
package ethrpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/archon-research/blockdater/internal/domain/entity"
	"github.com/archon-research/blockdater/internal/pkg/retry"
	"github.com/archon-research/blockdater/internal/ports/outbound"
)

// Compile-time check that Fetcher implements outbound.BlockFetcher
var _ outbound.BlockFetcher = (*Fetcher)(nil)

// NodeClient is the subset of *rpc.Client the fetcher needs.
type NodeClient interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// rpcHeader holds the header fields read from eth_getBlockByNumber. The hash
// is taken from the node rather than recomputed, since chains that extend the
// header layout hash it differently than types.Header does.
type rpcHeader struct {
	Number    *hexutil.Big   `json:"number"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
	Hash      *common.Hash   `json:"hash"`
}

// Config holds configuration for the rpc fetcher.
type Config struct {
	// RateLimit caps requests per second to the node. Zero means the default.
	RateLimit rate.Limit

	// RateBurst is the token bucket size.
	RateBurst int

	// Retry governs retries of transient transport errors.
	Retry retry.Config

	// Logger is the structured logger.
	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		RateLimit: 25,
		RateBurst: 5,
		Retry:     retry.DefaultConfig(),
		Logger:    slog.Default(),
	}
}

// Fetcher reads block headers from an Ethereum node.
type Fetcher struct {
	client  NodeClient
	limiter *rate.Limiter
	retry   retry.Config
	logger  *slog.Logger
	closeFn func()
}

// NewFetcher wraps an existing rpc client.
func NewFetcher(client NodeClient, config Config) (*Fetcher, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}

	defaults := ConfigDefaults()
	if config.RateLimit == 0 {
		config.RateLimit = defaults.RateLimit
	}
	if config.RateBurst == 0 {
		config.RateBurst = defaults.RateBurst
	}
	if config.Retry == (retry.Config{}) {
		config.Retry = defaults.Retry
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Fetcher{
		client:  client,
		limiter: rate.NewLimiter(config.RateLimit, config.RateBurst),
		retry:   config.Retry,
		logger:  config.Logger.With("component", "ethrpc-fetcher"),
	}, nil
}

// Dial connects to the node at rpcURL (http, https, ws or ipc) and returns a
// fetcher that owns the connection.
func Dial(ctx context.Context, rpcURL string, config Config) (*Fetcher, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing ethereum node: %w", err)
	}
	f, err := NewFetcher(client, config)
	if err != nil {
		client.Close()
		return nil, err
	}
	f.closeFn = client.Close
	return f, nil
}

// Close releases the node connection when the fetcher was created by Dial.
func (f *Fetcher) Close() {
	if f.closeFn != nil {
		f.closeFn()
	}
}

// FetchBlock implements outbound.BlockFetcher.
func (f *Fetcher) FetchBlock(ctx context.Context, number uint64) (*entity.Block, error) {
	header, err := retry.Do(ctx, f.retry, f.onRetry("eth_getBlockByNumber", number),
		func(ctx context.Context) (*rpcHeader, error) {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, retry.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
			var header *rpcHeader
			err := f.client.CallContext(ctx, &header, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false)
			if err != nil {
				return nil, err
			}
			if header == nil {
				return nil, retry.Permanent(fmt.Errorf("block %d: %w", number, outbound.ErrBlockNotFound))
			}
			return header, nil
		})
	if err != nil {
		return nil, err
	}

	if header.Number == nil || !header.Number.ToInt().IsUint64() || header.Number.ToInt().Uint64() != number {
		return nil, fmt.Errorf("node returned header %v for block %d", header.Number, number)
	}
	if header.Hash == nil {
		return nil, fmt.Errorf("node returned block %d without a hash", number)
	}
	return entity.NewBlock(number, uint64(header.Timestamp), *header.Hash)
}

// FetchHeadNumber implements outbound.BlockFetcher.
func (f *Fetcher) FetchHeadNumber(ctx context.Context) (uint64, error) {
	return retry.Do(ctx, f.retry, f.onRetry("eth_blockNumber", 0),
		func(ctx context.Context) (uint64, error) {
			if err := f.limiter.Wait(ctx); err != nil {
				return 0, retry.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
			var head hexutil.Uint64
			if err := f.client.CallContext(ctx, &head, "eth_blockNumber"); err != nil {
				return 0, err
			}
			return uint64(head), nil
		})
}

func (f *Fetcher) onRetry(method string, number uint64) retry.OnRetryFunc {
	return func(attempt int, err error, backoff time.Duration) {
		f.logger.Warn("retrying rpc call",
			"method", method,
			"block", number,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)
	}
}
