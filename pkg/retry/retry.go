// Package retry wraps the slurm backend's scheduler invocations (the sbatch
// driver script run and squeue) with bounded retry, so a transient
// "slurmctld not responding" error does not surface
// as a hard submit-time failure. It never retries job failures — only
// failures to invoke the tool itself.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy decides whether and how long to wait before retrying a failed
// subprocess invocation.
type Policy interface {
	// ShouldRetry reports whether attempt (0-indexed) should be retried
	// given the error that occurred.
	ShouldRetry(ctx context.Context, err error, attempt int) bool

	// WaitTime returns how long to wait after the given (0-indexed) attempt
	// fails, before the next one.
	WaitTime(attempt int) time.Duration

	// MaxRetries returns the maximum number of retries.
	MaxRetries() int
}

// Do runs fn, retrying according to policy until it succeeds, the policy
// gives up, or ctx is canceled.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !policy.ShouldRetry(ctx, lastErr, attempt) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(policy.WaitTime(attempt)):
		}
	}
}

// ExponentialBackoff retries up to MaxRetries times with exponential
// backoff and optional jitter.
type ExponentialBackoff struct {
	maxRetries    int
	minWaitTime   time.Duration
	maxWaitTime   time.Duration
	backoffFactor float64
	jitter        bool
}

// NewExponentialBackoff returns a policy with sensible defaults for CLI
// subprocess retries: 3 retries after the first attempt, 200ms floor, 2s
// ceiling before jitter.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		maxRetries:    3,
		minWaitTime:   200 * time.Millisecond,
		maxWaitTime:   2 * time.Second,
		backoffFactor: 2.0,
		jitter:        true,
	}
}

func (e *ExponentialBackoff) WithMaxRetries(n int) *ExponentialBackoff {
	e.maxRetries = n
	return e
}

func (e *ExponentialBackoff) WithMinWaitTime(d time.Duration) *ExponentialBackoff {
	e.minWaitTime = d
	return e
}

func (e *ExponentialBackoff) WithMaxWaitTime(d time.Duration) *ExponentialBackoff {
	e.maxWaitTime = d
	return e
}

func (e *ExponentialBackoff) WithJitter(enabled bool) *ExponentialBackoff {
	e.jitter = enabled
	return e
}

func (e *ExponentialBackoff) ShouldRetry(ctx context.Context, err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= e.maxRetries {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	default:
	}
	return true
}

func (e *ExponentialBackoff) WaitTime(attempt int) time.Duration {
	if attempt <= 0 {
		return e.minWaitTime
	}
	wait := time.Duration(float64(e.minWaitTime) * math.Pow(e.backoffFactor, float64(attempt)))
	if wait > e.maxWaitTime {
		wait = e.maxWaitTime
	}
	if e.jitter {
		wait += time.Duration(rand.Float64() * float64(wait) * 0.1)
	}
	return wait
}

func (e *ExponentialBackoff) MaxRetries() int { return e.maxRetries }

// FixedDelay retries up to MaxRetries times with a constant delay.
type FixedDelay struct {
	maxRetries int
	delay      time.Duration
}

func NewFixedDelay(maxRetries int, delay time.Duration) *FixedDelay {
	return &FixedDelay{maxRetries: maxRetries, delay: delay}
}

func (f *FixedDelay) ShouldRetry(ctx context.Context, err error, attempt int) bool {
	if err == nil || attempt >= f.maxRetries {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	default:
	}
	return true
}

func (f *FixedDelay) WaitTime(attempt int) time.Duration { return f.delay }
func (f *FixedDelay) MaxRetries() int                     { return f.maxRetries }

// NoRetry never retries — used when a caller wants a single deterministic
// attempt (e.g. tests).
type NoRetry struct{}

func NewNoRetry() *NoRetry                                             { return &NoRetry{} }
func (NoRetry) ShouldRetry(ctx context.Context, err error, attempt int) bool { return false }
func (NoRetry) WaitTime(attempt int) time.Duration                     { return 0 }
func (NoRetry) MaxRetries() int                                        { return 0 }
