package providers

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lobbi-Docs/secretops/internal/logging"
	"github.com/Lobbi-Docs/secretops/internal/metrics"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 100 * time.Millisecond
	defaultMaxDelay    = 5 * time.Second
)

// retryConfig bounds the exponential backoff applied to transient cloud
// failures. Delay doubles per attempt starting at BaseDelay, capped at
// MaxDelay.
type retryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

// withRetry runs fn, retrying only failures classified transient, up to
// cfg.MaxAttempts total attempts. Non-transient errors propagate immediately
// and untouched. Exhausted transient failures surface wrapped in
// provider.TransientError so the resolver never falls through on them.
func withRetry(ctx context.Context, logger *logging.Logger, cfg retryConfig, providerName, op string, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		metrics.Retries.WithLabelValues(providerName).Inc()
		logger.Debug("%s: transient failure during %s (attempt %d/%d), retrying in %s: %v",
			providerName, op, attempt, cfg.MaxAttempts, delay, lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return provider.TransientError{Provider: providerName, Op: op, Err: lastErr}
}

// isTransient classifies a backend failure as worth retrying. Recognized
// signatures: HTTP 408/429/5xx from Azure, gRPC Unavailable/DeadlineExceeded/
// ResourceExhausted/Aborted/Internal from GCP, net timeouts, and the usual
// connection-level message patterns. Not-found and permission failures are
// never transient.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 408, 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"no such host",
		"timeout",
		"timed out",
		"service unavailable",
		"rate limit",
		"throttl",
		"too many requests",
		"limitexceeded",
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}

	return false
}
