// Package retry centralizes the exponential-backoff policy the conversation
// core uses for any operation that talks to a remote provider: the main
// turn's chat-stream call (C7) and the compression pipeline's summarization
// call (C5). It is lifted out of the since-removed internal/session/loop.go's
// newRetryBackoff, which had the same constants duplicated at every retry
// call site.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// MaxRetries is the maximum number of retries for a provider call.
	MaxRetries = 3
	// InitialInterval is the first retry delay.
	InitialInterval = time.Second
	// MaxInterval caps the exponential growth of the retry delay.
	MaxInterval = 30 * time.Second
	// MaxElapsedTime bounds the total time spent retrying.
	MaxElapsedTime = 2 * time.Minute
	// RandomizationFactor jitters each interval to avoid thundering herds.
	RandomizationFactor = 0.5
)

// NewBackOff returns a context-bound exponential backoff using the policy
// above, ready to pass to backoff.Retry or to drive by hand with NextBackOff.
func NewBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = InitialInterval
	b.MaxInterval = MaxInterval
	b.MaxElapsedTime = MaxElapsedTime
	b.RandomizationFactor = RandomizationFactor
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// Do runs fn, retrying on error per the policy above, and returns the last
// error if retries are exhausted. isRetryable lets a caller classify some
// errors (e.g. tool_bad_args-equivalent) as permanent via
// backoff.Permanent; pass nil to retry every error.
func Do(ctx context.Context, fn func() error, isRetryable func(error) bool) error {
	b := NewBackOff(ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
