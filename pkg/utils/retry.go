package utils

import (
	"context"
	"errors"
)

// RetryOnStale runs fn until it succeeds, returns a non-StaleWrite error, or
// attempts are exhausted. fn must re-read whatever it writes.
func RetryOnStale(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrStaleWrite) {
			return err
		}
	}
	return err
}
