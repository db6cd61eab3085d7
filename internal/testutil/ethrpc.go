package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/blockdater/internal/pkg/hexutil"
	"github.com/archon-research/blockdater/internal/ports/outbound"
)

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// MockChainRPC is an Ethereum JSON-RPC node backed by a SyntheticChain. It
// answers eth_getBlockByNumber and eth_blockNumber; blocks beyond the head
// are served as a null result the way real nodes do.
type MockChainRPC struct {
	Server *httptest.Server
	Chain  *SyntheticChain

	mu         sync.Mutex
	requests   map[string]int
	failStatus int
	failCount  int
}

// StartMockChainRPC starts a mock node serving chain. The server is closed
// when the test ends.
func StartMockChainRPC(t *testing.T, chain *SyntheticChain) *MockChainRPC {
	t.Helper()

	m := &MockChainRPC{
		Chain:    chain,
		requests: make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.Server.Close)
	return m
}

// URL returns the HTTP endpoint of the mock node.
func (m *MockChainRPC) URL() string {
	return m.Server.URL
}

// FailNext makes the next count requests fail with the given HTTP status.
func (m *MockChainRPC) FailNext(count, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCount = count
	m.failStatus = status
}

// Requests returns how many requests for method reached the node, including
// failed ones.
func (m *MockChainRPC) Requests(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[method]
}

// MockHeader builds the header the mock node serves for a block.
func MockHeader(number, timestamp uint64) *types.Header {
	return &types.Header{
		ParentHash:  BlockHash(number - 1),
		UncleHash:   types.EmptyUncleHash,
		Root:        BlockHash(number),
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyReceiptsHash,
		Difficulty:  big.NewInt(0),
		Number:      new(big.Int).SetUint64(number),
		GasLimit:    30_000_000,
		Time:        timestamp,
		Extra:       []byte{},
		BaseFee:     big.NewInt(1_000_000_000),
	}
}

func (m *MockChainRPC) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		WriteRPCError(w, json.RawMessage(`1`), -32700, "parse error")
		return
	}

	m.mu.Lock()
	m.requests[req.Method]++
	failing := m.failCount > 0
	status := m.failStatus
	if failing {
		m.failCount--
	}
	m.mu.Unlock()

	if failing {
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	switch req.Method {
	case "eth_blockNumber":
		head, err := m.Chain.FetchHeadNumber(r.Context())
		if err != nil {
			WriteRPCError(w, req.ID, -32000, err.Error())
			return
		}
		WriteRPCResult(w, req.ID, mustMarshal(hexutil.FormatUint64(head)))

	case "eth_getBlockByNumber":
		number, err := m.parseBlockParam(r.Context(), req.Params)
		if err != nil {
			WriteRPCError(w, req.ID, -32602, err.Error())
			return
		}
		block, err := m.Chain.FetchBlock(r.Context(), number)
		if errors.Is(err, outbound.ErrBlockNotFound) {
			WriteRPCResult(w, req.ID, json.RawMessage(`null`))
			return
		}
		if err != nil {
			WriteRPCError(w, req.ID, -32000, err.Error())
			return
		}
		headerJSON, err := json.Marshal(MockHeader(block.Number, block.Timestamp))
		if err != nil {
			WriteRPCError(w, req.ID, -32603, err.Error())
			return
		}
		WriteRPCResult(w, req.ID, headerJSON)

	default:
		WriteRPCError(w, req.ID, -32601, "method not found: "+req.Method)
	}
}

func (m *MockChainRPC) parseBlockParam(ctx context.Context, params json.RawMessage) (uint64, error) {
	var p []json.RawMessage
	if err := json.Unmarshal(params, &p); err != nil || len(p) < 1 {
		return 0, errors.New("missing block parameter")
	}
	var tag string
	if err := json.Unmarshal(p[0], &tag); err != nil {
		return 0, err
	}
	if tag == "latest" {
		return m.Chain.FetchHeadNumber(ctx)
	}
	return hexutil.ParseUint64(tag)
}

// WriteRPCResult writes a JSON-RPC success response.
func WriteRPCResult(w http.ResponseWriter, id, result json.RawMessage) {
	_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      id,
		"result":  result,
	})
}

// WriteRPCError writes a JSON-RPC error response.
func WriteRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	errJSON, _ := json.Marshal(map[string]any{"code": code, "message": message})
	_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      id,
		"error":   json.RawMessage(errJSON),
	})
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
