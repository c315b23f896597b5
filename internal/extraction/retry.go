package extraction

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// Sentinel errors surfaced to callers.
var (
	// ErrBackendUnavailable reports a failed local liveness probe. Hard
	// stop: the local backend never falls back to the remote one.
	ErrBackendUnavailable = errors.New("local backend unavailable")

	// ErrBackendAuth reports a 401/403 from the backend.
	ErrBackendAuth = errors.New("backend authentication failed")

	// ErrRateLimited reports a 429 from the backend.
	ErrRateLimited = errors.New("backend rate limited")

	// ErrMalformedResponse reports a payload that is not parseable as a
	// JSON object with an items array and a batchInfo object.
	ErrMalformedResponse = errors.New("malformed backend response")

	// ErrBatchTooLarge reports a batch above the hard ceiling.
	ErrBatchTooLarge = fmt.Errorf("batch exceeds %d emails", MaxBatchEmails)
)

// retryableError marks a failure that may consume a retry slot.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func retryable(err error) error { return &retryableError{err: err} }

// isRetryable classifies a failure. Retryable: connection reset/refused,
// DNS failure, timeout/abort, 5xx, 429. Everything else fails
// immediately without consuming a retry slot.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *retryableError
	if errors.As(err, &re) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return false
}

// withRetries runs fn up to maxRetries+1 times with exponential backoff
// (1s doubling, capped at 5s) between attempts. Non-retryable failures
// return immediately.
func withRetries(ctx context.Context, maxRetries int, fn func() (*LLMOutput, error)) (*LLMOutput, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff << (attempt - 1)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
