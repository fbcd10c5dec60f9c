// Package backend classifies failures of external model backends so that
// callers can switch to a degraded implementation instead of failing.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable marks a backend that is missing, unreachable, failing or too slow.
var ErrUnavailable = errors.New("backend unavailable")

// UnavailableError names the backend that could not serve a request.
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Backend, ErrUnavailable)
	}
	return fmt.Sprintf("%s: %v: %v", e.Backend, ErrUnavailable, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrUnavailable) hold for every UnavailableError.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Unavailable wraps err as an UnavailableError for the named backend.
func Unavailable(name string, err error) error {
	return &UnavailableError{Backend: name, Err: err}
}

// IsUnavailable reports whether err means the backend should be treated as absent.
// Deadline and network timeouts count; caller cancellation does not.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// Call runs fn under its own timeout. A timeout is reported as unavailability of
// the named backend, while cancellation of ctx itself is returned unchanged.
func Call[T any](ctx context.Context, name string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := fn(callCtx)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		var zero T
		return zero, ctx.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, Unavailable(name, fmt.Errorf("timed out after %s: %w", timeout, err))
	}
	return result, err
}
