package crank

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"PerpCrank/internal/chain"
)

func fastBackoff(attempts int) Backoff {
	return Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond, Attempts: attempts}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 500 * time.Millisecond, Max: 8 * time.Second, Attempts: 10}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{5, 8 * time.Second},  // capped
		{40, 8 * time.Second}, // shift overflow capped
	}
	for _, tc := range cases {
		if got := b.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), zerolog.Nop(), fastBackoff(5), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return chain.ErrTimeout
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestRetryStopsOnFatalError(t *testing.T) {
	fatal := &chain.ProgramError{Op: "op", Code: chain.CodeAlreadySettled}
	calls := 0
	err := Retry(context.Background(), zerolog.Nop(), fastBackoff(5), "op", func(context.Context) error {
		calls++
		return fatal
	})
	var progErr *chain.ProgramError
	if !errors.As(err, &progErr) {
		t.Fatalf("got %v, want wrapped program error", err)
	}
	if calls != 1 {
		t.Errorf("fatal error retried: fn called %d times", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), zerolog.Nop(), fastBackoff(3), "op", func(context.Context) error {
		calls++
		return chain.ErrConnReset
	})
	if err == nil {
		t.Fatal("exhausted retry returned nil")
	}
	if !errors.Is(err, chain.ErrConnReset) {
		t.Errorf("got %v, want wrapped ErrConnReset", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestRetryHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, zerolog.Nop(), Backoff{Base: time.Hour, Max: time.Hour, Attempts: 5}, "op", func(context.Context) error {
		calls++
		cancel()
		return chain.ErrTimeout
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}
