// Package retry provides the single retry/backoff abstraction shared by
// every component that talks to an AI provider.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"cogni/internal/errs"
)

// Policy controls retry behavior. Only errors the Classify function reports
// as retryable are attempted again; everything else is surfaced immediately.
type Policy struct {
	MaxAttempts  int           // Total attempts including the first
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Cap on the backoff delay
	Multiplier   float64       // Backoff growth factor
	Classify     func(error) bool
}

// DefaultPolicy returns the policy used for provider calls: three attempts
// with exponential backoff, retrying transient provider errors only.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Classify:     errs.IsTransient,
	}
}

// Do invokes fn until it succeeds, a non-retryable error occurs, attempts
// are exhausted, or ctx is done. The last error is returned wrapped with
// the attempt count when attempts run out.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Classify == nil {
		p.Classify = errs.IsTransient
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall clock
	if p.InitialDelay > 0 {
		b.InitialInterval = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}

	attempts := 0
	operation := func() error {
		attempts++
		err := fn(ctx)
		if err != nil && !p.Classify(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx))
	if err == nil {
		return nil
	}

	// Permanent errors come back unwrapped and context errors come back
	// as-is; only a transient error that survived every attempt gets the
	// exhaustion wrapper.
	if p.Classify(err) && attempts >= p.MaxAttempts {
		return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
	}
	return err
}
