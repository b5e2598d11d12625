// Package retry provides retry-with-backoff as a plain higher-order
// function driven by an explicit policy.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Defaults applied by Policy.withDefaults.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultJitterBound = 1 * time.Second
)

// Policy describes how an operation is retried. The delay before attempt
// n (0-based) is min(BaseDelay*2^n + jitter, MaxDelay) with jitter drawn
// uniformly from [0, JitterBound).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterBound time.Duration

	// Retryable reports whether an error is transient. A nil predicate
	// retries everything.
	Retryable func(error) bool
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.JitterBound < 0 {
		p.JitterBound = DefaultJitterBound
	}
	return p
}

// schedule implements backoff.BackOff with the policy's delay formula.
type schedule struct {
	policy  Policy
	attempt int
}

func (s *schedule) NextBackOff() time.Duration {
	d := s.policy.BaseDelay << uint(s.attempt)
	s.attempt++
	if s.policy.JitterBound > 0 {
		d += time.Duration(rand.Int63n(int64(s.policy.JitterBound)))
	}
	if d > s.policy.MaxDelay {
		d = s.policy.MaxDelay
	}
	if d < 0 {
		d = s.policy.MaxDelay
	}
	return d
}

func (s *schedule) Reset() { s.attempt = 0 }

// Do invokes op until it succeeds, a non-retryable error occurs, the
// attempt budget is exhausted, or ctx is cancelled. It returns the last
// error together with the number of attempts actually made.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, int, error) {
	p = p.withDefaults()

	var (
		result   T
		attempts int
	)
	b := backoff.WithContext(
		backoff.WithMaxRetries(&schedule{policy: p}, uint64(p.MaxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		attempts++
		v, err := op(ctx)
		if err != nil {
			if p.Retryable != nil && !p.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}, b)
	return result, attempts, err
}
