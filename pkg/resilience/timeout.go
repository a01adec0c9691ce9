// Package resilience provides the timeout containment used to bound the
// refresh task below the lock TTL.
package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when an operation exceeds its timeout.
var ErrTimeout = errors.New("operation timed out")

// WithTimeout executes fn with a hard deadline. When the deadline passes the
// call returns ErrTimeout immediately and the function is abandoned: its
// goroutine keeps running until it honors ctx cancellation, but the caller is
// no longer waiting on it. This is how a stuck remote call is prevented from
// starving the refresh cycle.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- fn(timeoutCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return timeoutCtx.Err()
	}
}
