package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// Retryable overrides IsRetryable when set.
	Retryable func(error) bool
	// OnRetry is called before each backoff with the attempt that just failed.
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or MaxAttempts is reached.
// Non-retryable errors are returned unwrapped.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	attempts := max(cfg.MaxAttempts, 1)

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == attempts {
			return fmt.Errorf("failed after %d attempts: %w", attempts, err)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		timer := time.NewTimer(backoff(cfg.BaseBackoff, cfg.MaxBackoff, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// DoValue is Do for functions that produce a value.
func DoValue[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, cfg, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// retryableStatus are HTTP statuses worth another attempt, as reported by RPC clients.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var transientMessage = MatchAny(
	"connection reset",
	"connection refused",
	"connection closed",
	"broken pipe",
	"eof",
	"client is closing",
	"timeout",
	"temporary failure",
	"service unavailable",
	"rate limit",
	"too many requests",
)

// IsRetryable reports whether err looks transient: network failures, postgres errors that are
// safe to retry, and throttling or 5xx responses from RPC endpoints.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		return retryableStatus[sc.StatusCode()]
	}

	return transientMessage(err)
}

// backoff is base*2^(attempt-1), capped at limit, scaled by a random factor in [0.5, 1).
func backoff(base, limit time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d <= 0 || d > limit {
		d = limit
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64()/2))
}

// MatchAny returns a classifier that treats errors whose message contains any of the
// given substrings as retryable. Matching is case-insensitive.
func MatchAny(substrings ...string) func(error) bool {
	return func(err error) bool {
		if err == nil {
			return false
		}
		msg := strings.ToLower(err.Error())
		for _, s := range substrings {
			if strings.Contains(msg, strings.ToLower(s)) {
				return true
			}
		}
		return false
	}
}
