package providers

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lobbi-Docs/secretops/internal/logging"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

func testLogger() *logging.Logger {
	return logging.NewWithWriter(discardWriter{}, false)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	cfg := retryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	calls := 0
	err := withRetry(context.Background(), testLogger(), cfg, "test", "get", func() error {
		calls++
		if calls < 3 {
			return status.Error(codes.Unavailable, "backend down")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryDoesNotRetryNonTransient(t *testing.T) {
	t.Parallel()

	cfg := retryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}
	fatal := errors.New("bad credentials")

	calls := 0
	err := withRetry(context.Background(), testLogger(), cfg, "test", "get", func() error {
		calls++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls, "non-transient failures must not be retried")
	assert.False(t, provider.IsTransient(err), "non-transient failures must not be wrapped")
}

func TestWithRetryExhaustionWrapsTransient(t *testing.T) {
	t.Parallel()

	cfg := retryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
	down := status.Error(codes.Unavailable, "still down")

	calls := 0
	err := withRetry(context.Background(), testLogger(), cfg, "vault", "get", func() error {
		calls++
		return down
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, provider.IsTransient(err), "exhausted retries must surface as TransientError")

	var te provider.TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "vault", te.Provider)
	assert.Equal(t, "get", te.Op)
}

func TestWithRetryBacksOffBetweenAttempts(t *testing.T) {
	t.Parallel()

	cfg := retryConfig{MaxAttempts: 3, BaseDelay: 30 * time.Millisecond, MaxDelay: time.Second}

	start := time.Now()
	_ = withRetry(context.Background(), testLogger(), cfg, "test", "get", func() error {
		return status.Error(codes.Unavailable, "down")
	})
	elapsed := time.Since(start)

	// Two waits: base then doubled.
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond, "expected at least base+2*base of backoff")
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	cfg := retryConfig{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := withRetry(ctx, testLogger(), cfg, "test", "get", func() error {
		return status.Error(codes.Unavailable, "down")
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"azure 503", &azcore.ResponseError{StatusCode: 503}, true},
		{"azure 429", &azcore.ResponseError{StatusCode: 429}, true},
		{"azure 404", &azcore.ResponseError{StatusCode: 404}, false},
		{"azure 403", &azcore.ResponseError{StatusCode: 403}, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "x"), true},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "x"), true},
		{"grpc not found", status.Error(codes.NotFound, "x"), false},
		{"grpc permission denied", status.Error(codes.PermissionDenied, "x"), false},
		{"net timeout", net.Error(timeoutErr{}), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"throttling", errors.New("ThrottlingException: rate exceeded"), true},
		{"plain failure", errors.New("secret malformed"), false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}
