package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mmynk/tontine/internal/fault"
)

// storeTimeout bounds every storage call so nothing blocks indefinitely.
const storeTimeout = 5 * time.Second

// withRetry runs op with bounded exponential backoff, retrying only
// transient faults (conflict, storage_unavailable). Validation and state
// errors are terminal and surface on the first attempt.
func withRetry[T any](ctx context.Context, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := func() (T, error) {
		opCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		v, err := op(opCtx)
		if err != nil && !fault.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), 3), ctx)
	return backoff.RetryWithData(attempt, policy)
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}
