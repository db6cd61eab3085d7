// Package jsonrpc implements outbound.BlockFetcher with plain HTTP JSON-RPC
// calls, decoding only the number, timestamp and hash of each block.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/blockdater/internal/domain/entity"
	"github.com/archon-research/blockdater/internal/pkg/hexutil"
	"github.com/archon-research/blockdater/internal/pkg/retry"
	"github.com/archon-research/blockdater/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.BlockFetcher
var _ outbound.BlockFetcher = (*Client)(nil)

// ClientConfig holds configuration for the HTTP RPC client.
type ClientConfig struct {
	// HTTPURL is the JSON-RPC endpoint URL.
	HTTPURL string

	// Timeout is the maximum time to wait for a single HTTP request.
	Timeout time.Duration

	// Retry governs retries of transient failures.
	Retry retry.Config

	// Logger is the structured logger.
	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		Timeout: 30 * time.Second,
		Retry:   retry.DefaultConfig(),
		Logger:  slog.Default(),
	}
}

// Client fetches blocks over HTTP JSON-RPC.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	nextID     atomic.Uint64
}

// NewClient creates a new HTTP JSON-RPC client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HTTPURL == "" {
		return nil, errors.New("HTTPURL is required")
	}

	// Apply defaults for zero values
	defaults := ClientConfigDefaults()
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Retry == (retry.Config{}) {
		config.Retry = defaults.Retry
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger.With("component", "jsonrpc-client"),
	}, nil
}

// FetchBlock implements outbound.BlockFetcher.
func (c *Client) FetchBlock(ctx context.Context, number uint64) (*entity.Block, error) {
	result, err := c.call(ctx, "eth_getBlockByNumber", hexutil.FormatUint64(number), false)
	if err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber %d: %w", number, err)
	}

	if len(result) == 0 || string(result) == "null" {
		return nil, fmt.Errorf("block %d: %w", number, outbound.ErrBlockNotFound)
	}

	var raw rpcBlock
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse block %d: %w", number, err)
	}
	return parseBlock(number, raw)
}

// FetchHeadNumber implements outbound.BlockFetcher.
func (c *Client) FetchHeadNumber(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}

	var quantity string
	if err := json.Unmarshal(result, &quantity); err != nil {
		return 0, fmt.Errorf("failed to parse block number: %w", err)
	}
	return hexutil.ParseUint64(quantity)
}

func parseBlock(number uint64, raw rpcBlock) (*entity.Block, error) {
	got, err := hexutil.ParseUint64(raw.Number)
	if err != nil {
		return nil, fmt.Errorf("block %d number: %w", number, err)
	}
	if got != number {
		return nil, fmt.Errorf("node returned block %d for block %d", got, number)
	}
	timestamp, err := hexutil.ParseUint64(raw.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("block %d timestamp: %w", number, err)
	}
	var hash common.Hash
	if err := hash.UnmarshalText([]byte(raw.Hash)); err != nil {
		return nil, fmt.Errorf("block %d hash: %w", number, err)
	}
	return entity.NewBlock(number, timestamp, hash)
}

// call makes an HTTP JSON-RPC call with retry and returns the raw result.
func (c *Client) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	onRetry := func(attempt int, err error, backoff time.Duration) {
		c.logger.Warn("retrying rpc call",
			"method", method,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)
	}

	return retry.Do(ctx, c.config.Retry, onRetry, func(ctx context.Context) (json.RawMessage, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.HTTPURL, bytes.NewReader(reqBytes))
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}
		defer httpResp.Body.Close()

		// Check for retryable HTTP status codes
		if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("HTTP %d: server error", httpResp.StatusCode)
		}
		if httpResp.StatusCode != http.StatusOK {
			return nil, retry.Permanent(fmt.Errorf("HTTP %d", httpResp.StatusCode))
		}

		respBytes, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		var rpcResp jsonRPCResponse
		if err := json.Unmarshal(respBytes, &rpcResp); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if rpcResp.Error != nil {
			if rpcResp.Error.retryable() {
				return nil, rpcResp.Error
			}
			return nil, retry.Permanent(rpcResp.Error)
		}
		return rpcResp.Result, nil
	})
}
