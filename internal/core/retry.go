// Package core holds small cross-cutting helpers shared by the deploy
// strategy, the installer daemon, and the ingest daemon.
package core

import (
	"context"
	"time"
)

// RetryPolicy governs retry behavior for an operation with a fixed attempt
// budget: an integer budget consumed on transport-level failure only.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy performs a single attempt with no backoff.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:       1,
	InitialBackoff: 0,
	MaxBackoff:     0,
	Multiplier:     1,
}

// NewRetryPolicy builds a policy from an attempt budget, backing off a
// fixed interval between attempts.
func NewRetryPolicy(attempts int, backoff time.Duration) RetryPolicy {
	if attempts <= 0 {
		attempts = 1
	}
	return RetryPolicy{
		Attempts:       attempts,
		InitialBackoff: backoff,
		MaxBackoff:     backoff,
		Multiplier:     1,
	}
}

// Retry executes fn with the provided policy, returning the last error (if
// any). A nil return from fn short-circuits remaining attempts.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 1
	}
	backoff := policy.InitialBackoff
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err := fn(); err != nil {
			if attempt == policy.Attempts {
				return err
			}
			if backoff > 0 {
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return ctx.Err()
				}
				next := time.Duration(float64(backoff) * policy.Multiplier)
				if policy.MaxBackoff > 0 && next > policy.MaxBackoff {
					next = policy.MaxBackoff
				}
				backoff = next
			}
			continue
		}
		return nil
	}
	return nil
}
