// SPDX-License-Identifier: MPL-2.0

// Package retry provides the retry and poll primitives shared by every
// provisioning phase, so backoff and timeout policy is defined in one place.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrExhausted is the sentinel error wrapped by ExhaustedError.
	ErrExhausted = errors.New("retry attempts exhausted")

	// ErrTimeout is the sentinel error wrapped by TimeoutError.
	ErrTimeout = errors.New("poll timed out")
)

type (
	// ExhaustedError is returned by Do after all attempts have failed.
	// It carries the attempt count that was made and the last error seen.
	ExhaustedError struct {
		Attempts int
		Last     error
	}

	// TimeoutError is returned by Poll when the predicate never became true
	// within the configured timeout. The caller decides whether it is fatal.
	TimeoutError struct {
		Elapsed time.Duration
		Timeout time.Duration
	}

	// permanentError marks an error as non-retryable.
	permanentError struct {
		err error
	}
)

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Last)
}

// Unwrap returns the last underlying error joined with ErrExhausted so callers
// can use errors.Is for both.
func (e *ExhaustedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrExhausted}
	}
	return []error{ErrExhausted, e.Last}
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("condition not met after %s (timeout %s)", e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// Unwrap returns ErrTimeout for errors.Is compatibility.
func (e *TimeoutError) Unwrap() error { return ErrTimeout }

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Do stops retrying immediately and returns it.
// Use for failures where repeating the operation cannot help (missing binary,
// invalid configuration).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do executes op up to maxAttempts times. Between failed attempts it waits a
// linearly increasing delay (attempt index × baseDelay) and checks ctx so a
// cancelled caller never pays for another attempt. On success it returns nil
// after exactly the attempts made so far; on exhaustion it returns an
// ExhaustedError carrying the attempt count and the last error.
//
// op receives the zero-based attempt index. An error wrapped with Permanent
// aborts the loop immediately.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, op func(attempt int) error) error {
	if maxAttempts < 1 {
		return fmt.Errorf("retry: maxAttempts must be >= 1, got %d", maxAttempts)
	}

	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-time.After(time.Duration(attempt) * baseDelay):
			}
		}

		err := op(attempt)
		if err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		lastErr = err
	}
	return &ExhaustedError{Attempts: maxAttempts, Last: lastErr}
}

// Poll samples predicate every interval until it reports true, the predicate
// returns a terminal error, the timeout elapses, or ctx is cancelled. The
// predicate is sampled once immediately before the first interval.
//
// A (false, nil) result means "not yet"; a non-nil error aborts the poll and
// is returned as-is (used for died-before-ready detection). On timeout a
// TimeoutError carrying the elapsed time is returned.
func Poll(ctx context.Context, interval, timeout time.Duration, predicate func(ctx context.Context) (bool, error)) error {
	start := time.Now()
	deadline := start.Add(timeout)

	for {
		ok, err := predicate(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		now := time.Now()
		if !now.Before(deadline) {
			return &TimeoutError{Elapsed: time.Since(start), Timeout: timeout}
		}

		wait := interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("poll aborted: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}
