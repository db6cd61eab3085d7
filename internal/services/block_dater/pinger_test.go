package block_dater

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestNewHeadPinger_NilFetcher(t *testing.T) {
	if _, err := NewHeadPinger(nil); err == nil {
		t.Fatal("expected error for nil fetcher")
	}
}

func TestHeadPinger_ConcurrentPings(t *testing.T) {
	chain := newScenarioChain()
	pinger, err := NewHeadPinger(chain)
	if err != nil {
		t.Fatalf("NewHeadPinger: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- pinger.Ping(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if got := chain.HeadCalls(); got != callers {
		t.Errorf("expected %d head lookups, got %d", callers, got)
	}
}

func TestHeadPinger_WrapsHeadFailure(t *testing.T) {
	chain := newScenarioChain()
	chain.HeadErr = errors.New("down")
	pinger, err := NewHeadPinger(chain)
	if err != nil {
		t.Fatalf("NewHeadPinger: %v", err)
	}

	err = pinger.Ping(context.Background())
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
	if !errors.Is(err, chain.HeadErr) {
		t.Errorf("expected wrapped head error, got %v", err)
	}
}
