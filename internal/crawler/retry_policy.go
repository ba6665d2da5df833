package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"math"
	"math/big"
	"net"
	"time"
)

// Defaults for ExponentialRetryPolicy.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
	// DefaultFixedDelay is the pause between attempts of FixedRetryPolicy.
	DefaultFixedDelay = 2 * time.Second
)

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy. Non-positive values fall back to defaults.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// ShouldRetry decides whether the error is retryable. attempt counts the
// attempts already made, starting at 1.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.maxAttempts {
		return false
	}
	return IsTransient(err)
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

// FixedRetryPolicy waits a constant delay between attempts. A zero
// maxAttempts retries forever.
type FixedRetryPolicy struct {
	maxAttempts int
	delay       time.Duration
}

// NewFixedRetryPolicy builds a FixedRetryPolicy.
func NewFixedRetryPolicy(maxAttempts int, delay time.Duration) *FixedRetryPolicy {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	if delay <= 0 {
		delay = DefaultFixedDelay
	}
	return &FixedRetryPolicy{maxAttempts: maxAttempts, delay: delay}
}

// ShouldRetry decides whether the error is retryable.
func (p *FixedRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if p.maxAttempts > 0 && attempt >= p.maxAttempts {
		return false
	}
	return IsTransient(err)
}

// Backoff returns the fixed delay.
func (p *FixedRetryPolicy) Backoff(int) time.Duration {
	return p.delay
}

// IsTransient reports whether err looks like a transport failure worth
// retrying: connection errors, timeouts, DNS failures and truncated bodies.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// context.DeadlineExceeded is itself a net.Error. A caller deadline
	// surfaces as that bare value; a per-request timeout surfaces as a
	// *url.Error around it, which is the outermost net.Error.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr != context.DeadlineExceeded {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
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
