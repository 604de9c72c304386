// Package retry provides the retry policy shared by the API client and the
// download scheduler.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"itchdl/shared/config"
)

// RetryAfterer is implemented by errors that carry a server supplied delay,
// such as a 429 response with a Retry-After header.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Policy is an immutable retry schedule plus the predicate that decides
// which errors are worth another attempt.
type Policy struct {
	maxAttempts int
	initial     time.Duration
	max         time.Duration
	multiplier  float64
	retryable   func(error) bool
}

// NewPolicy builds a policy from configuration. A nil predicate retries
// every error except context cancellation.
func NewPolicy(cfg config.RetryConfig, retryable func(error) bool) *Policy {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	return &Policy{
		maxAttempts: attempts,
		initial:     cfg.InitialBackoff,
		max:         cfg.MaxBackoff,
		multiplier:  multiplier,
		retryable:   retryable,
	}
}

// MaxAttempts is the total number of attempts, including the first
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. attempt starts at 0.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !p.IsRetryable(err) {
			return err
		}

		// Don't sleep after last attempt
		if attempt == p.maxAttempts-1 {
			break
		}

		backoff := p.Backoff(attempt)
		var ra RetryAfterer
		if errors.As(err, &ra) && ra.RetryAfter() > backoff {
			backoff = ra.RetryAfter()
			if p.max > 0 && backoff > p.max {
				backoff = p.max
			}
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	if p.maxAttempts == 1 {
		return lastErr
	}
	return fmt.Errorf("max attempts (%d) exceeded: %w", p.maxAttempts, lastErr)
}

// IsRetryable reports whether err qualifies for another attempt.
// Context cancellation never does.
func (p *Policy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return p.retryable(err)
}

// Backoff returns the delay after the given zero-based attempt:
// initial * multiplier^attempt, capped at the configured maximum.
func (p *Policy) Backoff(attempt int) time.Duration {
	backoff := float64(p.initial) * math.Pow(p.multiplier, float64(attempt))

	if p.max > 0 && backoff > float64(p.max) {
		backoff = float64(p.max)
	}

	return time.Duration(backoff)
}
