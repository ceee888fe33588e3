// Package pollwait implements the client side of the extraction polling
// protocol: retry a fetch at a fixed interval while the server answers with
// the "not yet available" marker, up to a bounded attempt count.
package pollwait

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when the attempt budget runs out before the
// result becomes available.
var ErrExhausted = errors.New("polling attempts exhausted")

// ErrPending is what a Fetch must return while the server still answers
// with the pending marker; any other error aborts the wait immediately.
var ErrPending = errors.New("extraction not yet available")

// Fetch performs one poll attempt. It returns (result, nil) when done,
// (nil, ErrPending) to keep polling, or any other error to abort.
type Fetch[T any] func(ctx context.Context) (T, error)

// Wait polls fetch every interval until it succeeds, fails with a
// non-pending error, the context ends, or maxAttempts is reached.
func Wait[T any](ctx context.Context, fetch Fetch[T], interval time.Duration, maxAttempts int) (T, error) {
	var zero T

	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := fetch(ctx)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrPending) {
			return zero, err
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(interval):
		}
	}

	return zero, ErrExhausted
}
