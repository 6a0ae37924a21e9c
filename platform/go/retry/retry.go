// Package retry wraps cenkalti/backoff with the policy used for contended
// tournament operations: short jittered exponential waits, bounded attempts,
// and a caller-supplied predicate deciding which errors are worth retrying.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop.
type Policy struct {
	// InitialInterval is the first wait. Defaults to 50ms.
	InitialInterval time.Duration
	// MaxInterval caps individual waits. Defaults to 500ms.
	MaxInterval time.Duration
	// MaxAttempts bounds total tries including the first. Defaults to 4.
	MaxAttempts uint64
}

// DefaultPolicy suits advisory-lock contention: a handful of quick retries,
// then give up and let the caller surface a retryable error.
func DefaultPolicy() Policy {
	return Policy{}
}

func (p Policy) withDefaults() Policy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = 50 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 500 * time.Millisecond
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 4
	}
	return p
}

// Do runs op, retrying per the policy while retryable(err) holds. The first
// non-retryable error aborts immediately; context cancellation stops the loop
// between attempts.
func Do(ctx context.Context, policy Policy, retryable func(error) bool, op func() error) error {
	policy = policy.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval
	bo.RandomizationFactor = 0.5

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if retryable != nil && retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, policy.MaxAttempts-1), ctx))
}
