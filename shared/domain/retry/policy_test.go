package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itchdl/shared/config"
)

var errTransient = errors.New("transient")

func fastConfig(attempts int) config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

type slowDown struct{ after time.Duration }

func (s slowDown) Error() string             { return "slow down" }
func (s slowDown) RetryAfter() time.Duration { return s.after }

func TestPolicy_Backoff(t *testing.T) {
	p := NewPolicy(config.RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2,
	}, nil)

	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(3))
	assert.Equal(t, time.Second, p.Backoff(4), "capped at max backoff")
}

func TestPolicy_Do(t *testing.T) {
	tests := []struct {
		name        string
		attempts    int
		failures    int
		err         error
		wantCalls   int
		wantErr     bool
		wantWrapped bool
	}{
		{name: "succeeds first time", attempts: 3, failures: 0, err: errTransient, wantCalls: 1},
		{name: "succeeds after retries", attempts: 3, failures: 2, err: errTransient, wantCalls: 3},
		{name: "exhausts attempts", attempts: 3, failures: 5, err: errTransient, wantCalls: 3, wantErr: true, wantWrapped: true},
		{name: "permanent error stops immediately", attempts: 3, failures: 5, err: errors.New("permanent"), wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPolicy(fastConfig(tt.attempts), func(err error) bool {
				return errors.Is(err, errTransient)
			})

			calls := 0
			err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
				assert.Equal(t, calls, attempt)
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			if tt.wantWrapped {
				assert.Contains(t, err.Error(), "max attempts (3) exceeded")
			}
		})
	}
}

func TestPolicy_HonoursRetryAfter(t *testing.T) {
	p := NewPolicy(config.RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 1,
	}, nil)

	start := time.Now()
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if calls == 1 {
			return slowDown{after: 30 * time.Millisecond}
		}
		return nil
	})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPolicy_StopsOnCancellation(t *testing.T) {
	p := NewPolicy(config.RetryConfig{
		MaxAttempts:       10,
		InitialBackoff:    time.Hour,
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 1,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errTransient
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPolicy_NeverRetriesContextErrors(t *testing.T) {
	p := NewPolicy(fastConfig(3), nil)

	assert.False(t, p.IsRetryable(context.Canceled))
	assert.False(t, p.IsRetryable(context.DeadlineExceeded))
	assert.True(t, p.IsRetryable(errTransient))
	assert.False(t, p.IsRetryable(nil))
}
