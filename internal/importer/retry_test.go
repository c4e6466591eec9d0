package importer

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldRetryStopsAtMaxAttempts(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Second, 10*time.Second)
	err := errors.New("boom")

	require.True(t, p.ShouldRetry(err, 1))
	require.True(t, p.ShouldRetry(err, 2))
	require.False(t, p.ShouldRetry(err, 3))
	require.False(t, p.ShouldRetry(nil, 1))
}

func TestShouldRetrySkipsCancellation(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Second, 10*time.Second)
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))
}

func TestShouldRetryNetworkErrors(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Second, 10*time.Second)

	require.True(t, p.ShouldRetry(&net.DNSError{Err: "no such host", Name: "books.example.com"}, 1))
	require.True(t, p.ShouldRetry(&net.OpError{Op: "dial", Err: errors.New("connection refused")}, 1))
	require.True(t, p.ShouldRetry(&net.DNSError{Err: "i/o timeout", IsTimeout: true}, 1))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, time.Second, 10*time.Second)

	for attempt := 1; attempt <= 4; attempt++ {
		d := p.Backoff(attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 10*time.Second)
	}

	// deep attempts stay at the ceiling
	require.LessOrEqual(t, p.Backoff(20), 10*time.Second)
	require.GreaterOrEqual(t, p.Backoff(20), 5*time.Second)
}

func TestDefaultsApplied(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(0, 0, 0)
	require.Equal(t, 3, p.maxAttempts)
	require.Equal(t, time.Second, p.baseDelay)
	require.Equal(t, 10*time.Second, p.maxDelay)
}
