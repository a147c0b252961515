// Package resilience provides retry helpers for the pipeline's outbound API
// calls. Failures that exhaust their attempts are not queued anywhere; the
// stage trackers leave failed entries unmarked so the next run retries them.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls how an operation is retried.
type Policy struct {
	// Attempts is the total call count including the first try. Default 3.
	Attempts int

	// Delay is the wait before the first retry. Default 500ms.
	Delay time.Duration

	// Multiplier scales the delay between attempts. 1 gives a fixed cadence.
	// Default 2.
	Multiplier float64

	// MaxDelay caps the computed wait. Default 30s.
	MaxDelay time.Duration

	// Jitter randomizes each wait by up to this fraction in either direction.
	Jitter float64

	// Retryable overrides the transient-error check when set.
	Retryable func(err error) bool

	// OnRetry runs before each wait with the attempt number and the error.
	OnRetry func(attempt int, err error)
}

// Backoff is the default policy for API calls: 3 attempts with exponential
// backoff and 25% jitter.
func Backoff() Policy {
	return Policy{
		Attempts:   3,
		Delay:      500 * time.Millisecond,
		Multiplier: 2,
		MaxDelay:   30 * time.Second,
		Jitter:     0.25,
	}
}

// Fixed is the cadence the discovery searches use: a flat wait between
// attempts, no backoff, no jitter.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{
		Attempts:   attempts,
		Delay:      delay,
		Multiplier: 1,
		MaxDelay:   delay,
	}
}

// Do runs fn under the policy, retrying transient failures. Context
// cancellation stops immediately with the last error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal runs fn under the policy and returns the successful call's value.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(lastErr) {
			return zero, lastErr
		}
		if attempt == p.Attempts-1 {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, lastErr)
		}

		timer := time.NewTimer(p.wait(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Delay <= 0 {
		p.Delay = 500 * time.Millisecond
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

func (p Policy) wait(attempt int) time.Duration {
	d := float64(p.Delay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Logger returns an OnRetry callback that logs each retry.
func Logger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
