// Package errs defines the pipeline error taxonomy. Callers classify
// failures with the Is* helpers instead of string matching.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput signals there were no uploads or messages to process.
	ErrEmptyInput = errors.New("no input to process")

	// ErrPrivacyViolation signals the leak-detection guard tripped twice;
	// the generated summary was discarded, nothing was persisted.
	ErrPrivacyViolation = errors.New("privacy violation detected in generated summary")

	// ErrGenerationInProgress signals a generation is already running for
	// the classroom. Only surfaced when a caller opts out of waiting.
	ErrGenerationInProgress = errors.New("generation already in progress for classroom")

	// ErrNotFound signals a requested insight row does not exist.
	ErrNotFound = errors.New("not found")
)

// ProviderError wraps a failure from the embedding or generation provider.
// Transient failures (timeouts, 5xx, rate limits) are retried with backoff;
// permanent failures (bad credentials, exhausted quota) are surfaced
// immediately.
type ProviderError struct {
	Op        string // failing operation, e.g. "embed" or "generate"
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s provider error during %s: %v", kind, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable provider failure.
func Transient(op string, err error) *ProviderError {
	return &ProviderError{Op: op, Transient: true, Err: err}
}

// Permanent wraps err as a non-retryable provider failure.
func Permanent(op string, err error) *ProviderError {
	return &ProviderError{Op: op, Transient: false, Err: err}
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// IsPermanent reports whether err is a non-retryable provider failure.
func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && !pe.Transient
}
