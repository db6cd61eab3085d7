package ethrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"

	"github.com/archon-research/blockdater/internal/pkg/retry"
	"github.com/archon-research/blockdater/internal/ports/outbound"
	"github.com/archon-research/blockdater/internal/services/block_dater"
	"github.com/archon-research/blockdater/internal/testutil"
)

func testConfig() Config {
	return Config{
		RateLimit: rate.Inf,
		Retry: retry.Config{
			MaxRetries:     3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			BackoffFactor:  2,
		},
	}
}

func dialMock(t *testing.T, head uint64) (*Fetcher, *testutil.MockChainRPC) {
	t.Helper()
	mock := testutil.StartMockChainRPC(t, testutil.NewLinearChain(head+1, 1_000_000, 12))
	f, err := Dial(context.Background(), mock.URL(), testConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(f.Close)
	return f, mock
}

func TestDial_RequiresURL(t *testing.T) {
	if _, err := Dial(context.Background(), "", testConfig()); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestNewFetcher_NilClient(t *testing.T) {
	if _, err := NewFetcher(nil, Config{}); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestFetchBlock(t *testing.T) {
	f, mock := dialMock(t, 9999)

	tests := []struct {
		name   string
		number uint64
	}{
		{name: "genesis", number: 0},
		{name: "middle", number: 5000},
		{name: "head", number: 9999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, err := f.FetchBlock(context.Background(), tt.number)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			wantTs := mock.Chain.Timestamp(tt.number)
			if block.Number != tt.number {
				t.Errorf("expected number %d, got %d", tt.number, block.Number)
			}
			if block.Timestamp != wantTs {
				t.Errorf("expected timestamp %d, got %d", wantTs, block.Timestamp)
			}
			if want := testutil.MockHeader(tt.number, wantTs).Hash(); block.Hash != want {
				t.Errorf("expected hash %s, got %s", want.Hex(), block.HashHex())
			}
		})
	}
}

func TestFetchBlock_BeyondHeadIsNotFound(t *testing.T) {
	f, mock := dialMock(t, 100)

	_, err := f.FetchBlock(context.Background(), 101)
	if !errors.Is(err, outbound.ErrBlockNotFound) {
		t.Fatalf("expected ErrBlockNotFound, got %v", err)
	}
	if got := mock.Requests("eth_getBlockByNumber"); got != 1 {
		t.Errorf("expected not found to skip retries, got %d requests", got)
	}
}

func TestFetchBlock_RetriesServerErrors(t *testing.T) {
	f, mock := dialMock(t, 100)
	mock.FailNext(2, http.StatusServiceUnavailable)

	block, err := f.FetchBlock(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block.Number != 42 {
		t.Errorf("expected block 42, got %d", block.Number)
	}
	if got := mock.Requests("eth_getBlockByNumber"); got != 3 {
		t.Errorf("expected 3 requests, got %d", got)
	}
}

func TestFetchBlock_GivesUpAfterRetries(t *testing.T) {
	f, mock := dialMock(t, 100)
	mock.FailNext(10, http.StatusBadGateway)

	if _, err := f.FetchBlock(context.Background(), 42); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := mock.Requests("eth_getBlockByNumber"); got != 4 {
		t.Errorf("expected 4 requests (1 + 3 retries), got %d", got)
	}
}

func TestFetchHeadNumber(t *testing.T) {
	f, _ := dialMock(t, 1234)

	head, err := f.FetchHeadNumber(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head != 1234 {
		t.Errorf("expected head 1234, got %d", head)
	}
}

func TestFetcher_ResolvesDateAgainstNode(t *testing.T) {
	f, mock := dialMock(t, 9999)

	svc, err := block_dater.NewService(block_dater.Config{}, f)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	target := time.Unix(int64(mock.Chain.Timestamp(5000)+5), 0)
	block, err := svc.BlockByDate(context.Background(), target, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block.Number != 5001 {
		t.Errorf("expected block 5001, got %d", block.Number)
	}
}

// stubNode is a NodeClient answering every call with a canned JSON result.
type stubNode struct {
	result string
	err    error
	calls  int
}

func (s *stubNode) CallContext(_ context.Context, result any, _ string, _ ...any) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	return json.Unmarshal([]byte(s.result), result)
}

func headerJSON(t *testing.T, header *types.Header) string {
	t.Helper()
	b, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	return string(b)
}

func TestFetchBlock_StubResponses(t *testing.T) {
	tests := []struct {
		name      string
		stub      *stubNode
		wantErr   error
		wantCalls int
	}{
		{
			name:      "null result",
			stub:      &stubNode{result: "null"},
			wantErr:   outbound.ErrBlockNotFound,
			wantCalls: 1,
		},
		{
			name:      "mismatched number",
			stub:      &stubNode{result: headerJSON(t, testutil.MockHeader(8, 1_000_096))},
			wantCalls: 1,
		},
		{
			name:      "missing hash",
			stub:      &stubNode{result: `{"number":"0x7","timestamp":"0xf4254"}`},
			wantCalls: 1,
		},
		{
			name:      "transport error is retried",
			stub:      &stubNode{err: errors.New("connection reset")},
			wantCalls: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFetcher(tt.stub, testConfig())
			if err != nil {
				t.Fatalf("NewFetcher: %v", err)
			}
			_, err = f.FetchBlock(context.Background(), 7)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.stub.calls != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, tt.stub.calls)
			}
		})
	}
}

func TestFetchBlock_UsesNodeReportedHash(t *testing.T) {
	// Chains with extra header fields hash differently than types.Header.
	nodeHash := common.HexToHash("0xabababababababababababababababababababababababababababababababab")
	stub := &stubNode{result: `{"number":"0x7","timestamp":"0xf4254","hash":"` + nodeHash.Hex() + `","extraField":"0x01"}`}
	f, err := NewFetcher(stub, testConfig())
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	block, err := f.FetchBlock(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block.Hash != nodeHash {
		t.Errorf("expected node hash %s, got %s", nodeHash.Hex(), block.HashHex())
	}
	if block.Timestamp != 1_000_020 {
		t.Errorf("expected timestamp 1000020, got %d", block.Timestamp)
	}
}

func TestFetchHeadNumber_Stub(t *testing.T) {
	f, err := NewFetcher(&stubNode{result: `"0x4d2"`}, testConfig())
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	head, err := f.FetchHeadNumber(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head != 1234 {
		t.Errorf("expected head 1234, got %d", head)
	}
}

func TestFetchBlock_CancelledContext(t *testing.T) {
	stub := &stubNode{result: headerJSON(t, testutil.MockHeader(7, 1_000_084))}
	f, err := NewFetcher(stub, testConfig())
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.FetchBlock(ctx, 7); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
