package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"cogni/internal/errs"
)

// fastPolicy keeps test runs quick.
func fastPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Classify:     errs.IsTransient,
	}
}

func TestDoSucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errs.Transient("generate", errors.New("503 from provider"))
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if calls != 2 {
		t.Errorf("fn called %d times, want 2", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		return errs.Permanent("generate", errors.New("invalid api key"))
	})

	if err == nil {
		t.Fatal("Do() error = nil, want permanent error")
	}
	if calls != 1 {
		t.Errorf("permanent error retried: fn called %d times, want 1", calls)
	}
	if !errs.IsPermanent(err) {
		t.Errorf("error lost its permanent classification: %v", err)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		return errs.Transient("embed", errors.New("timeout"))
	})

	if err == nil {
		t.Fatal("Do() error = nil, want exhaustion error")
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
	if !errs.IsTransient(err) {
		t.Errorf("wrapped error lost its transient classification: %v", err)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, fastPolicy(), func(ctx context.Context) error {
		calls++
		cancel()
		return errs.Transient("embed", errors.New("timeout"))
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times after cancellation, want 1", calls)
	}
}
