package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient error")

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastConfig(3), nil, func(context.Context) (uint64, error) {
		calls++
		return 42, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected result 42, got %d", result)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	calls := 0
	var attempts []int

	result, err := Do(context.Background(), fastConfig(3),
		func(attempt int, err error, _ time.Duration) {
			attempts = append(attempts, attempt)
			if !errors.Is(err, errTransient) {
				t.Errorf("expected transient error in callback, got %v", err)
			}
		},
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errTransient
			}
			return "ok", nil
		})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("expected ok, got %q", result)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("expected retry attempts [1 2], got %v", attempts)
	}
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	errNotFound := errors.New("not found")
	calls := 0

	_, err := Do(context.Background(), fastConfig(5), nil, func(context.Context) (int, error) {
		calls++
		return 0, Permanent(errNotFound)
	})

	if !errors.Is(err, errNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if IsPermanent(err) {
		t.Error("expected Permanent wrapper to be stripped")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0

	_, err := Do(context.Background(), fastConfig(2), nil, func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})

	if !errors.Is(err, errTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", calls)
	}
}

func TestDo_ZeroRetriesCallsOnce(t *testing.T) {
	calls := 0

	_, err := Do(context.Background(), fastConfig(0), nil, func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	calls := 0
	_, err := Do(ctx, cfg, func(int, error, time.Duration) { cancel() }, func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("expected Permanent(nil) to be nil")
	}
}
