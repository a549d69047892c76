// Package retry runs an operation a bounded number of times with exponential
// backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultMaxAttempts = 2
	DefaultMinBackoff  = 2 * time.Second
	DefaultMaxBackoff  = 10 * time.Second
)

// Policy configures Do. Zero values take the package defaults.
type Policy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error except context cancellation.
	Retryable func(error) bool
	// Sleep is swapped in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. The returned error wraps the last failure.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) error) error {
	p := normalizePolicy(policy)

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.Sleep(ctx, Backoff(p, attempt-1)); err != nil {
				return fmt.Errorf("retry wait interrupted after %d attempt(s): %w", attempt-1, errors.Join(err, lastErr))
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return permanent.err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("attempt %d: %w", attempt, err)
		}
		if !p.Retryable(err) {
			return err
		}
	}

	return fmt.Errorf("failed after %d attempt(s): %w", p.MaxAttempts, lastErr)
}

// Backoff returns the wait before retry number n (1-based): MinBackoff
// doubled n-1 times, capped at MaxBackoff.
func Backoff(policy Policy, n int) time.Duration {
	p := normalizePolicy(policy)
	wait := p.MinBackoff
	for i := 1; i < n; i++ {
		wait *= 2
		if wait >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return min(wait, p.MaxBackoff)
}

func normalizePolicy(policy Policy) Policy {
	p := policy
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.MinBackoff <= 0 {
		p.MinBackoff = DefaultMinBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultMaxBackoff
	}
	if p.MaxBackoff < p.MinBackoff {
		p.MaxBackoff = p.MinBackoff
	}
	if p.Retryable == nil {
		p.Retryable = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
