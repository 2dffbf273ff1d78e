package scrape

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// RetryPolicy bounds internal retries of transient store/dispatch failures.
// Anything exceeding the budget surfaces as project error status, never a
// crash.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy builds a policy with the default budget of three attempts.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		maxAttempts: 3,
		baseDelay:   250 * time.Millisecond,
		maxDelay:    5 * time.Second,
	}
}

// ShouldRetry decides whether the error is worth another attempt.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Guard violations and missing records are not transient.
	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}

// Do runs fn until it succeeds, the error is not retryable, or the attempt
// budget is spent. The last error is returned.
func (p *RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if !p.ShouldRetry(err, attempt+1) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(p.Backoff(attempt)):
		}
	}
}

// Backoff returns the jittered wait before the next attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
