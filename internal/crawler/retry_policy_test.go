package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"wrapped deadline", fmt.Errorf("colly fetch canceled: %w", context.DeadlineExceeded), false},
		{"request timeout", &url.Error{Op: "Get", URL: "http://x", Err: context.DeadlineExceeded}, true},
		{"net timeout", &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}, true},
		{"dial", fmt.Errorf("visit: %w", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}), true},
		{"eof", io.ErrUnexpectedEOF, true},
		{"plain", errors.New("bad selector"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestExponentialRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 100*time.Millisecond, 300*time.Millisecond)
	assert.True(t, p.ShouldRetry(io.EOF, 1))
	assert.True(t, p.ShouldRetry(io.EOF, 2))
	assert.False(t, p.ShouldRetry(io.EOF, 3))
	assert.False(t, p.ShouldRetry(errors.New("permanent"), 1))
	assert.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))

	for attempt := 1; attempt <= 5; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
	assert.GreaterOrEqual(t, p.Backoff(4), 150*time.Millisecond)
}

func TestExponentialRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(0, 0, 0)
	assert.True(t, p.ShouldRetry(io.EOF, DefaultMaxAttempts-1))
	assert.False(t, p.ShouldRetry(io.EOF, DefaultMaxAttempts))
	assert.LessOrEqual(t, p.Backoff(100), DefaultMaxDelay)
}

func TestFixedRetryPolicy(t *testing.T) {
	t.Parallel()

	forever := NewFixedRetryPolicy(0, 0)
	assert.True(t, forever.ShouldRetry(io.EOF, 10_000))
	assert.Equal(t, DefaultFixedDelay, forever.Backoff(1))

	bounded := NewFixedRetryPolicy(2, time.Second)
	assert.True(t, bounded.ShouldRetry(io.EOF, 1))
	assert.False(t, bounded.ShouldRetry(io.EOF, 2))
	assert.False(t, bounded.ShouldRetry(context.Canceled, 1))
	assert.Equal(t, time.Second, bounded.Backoff(7))
}
