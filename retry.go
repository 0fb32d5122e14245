package sitedeploy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig configures retry behavior for connection establishment.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries).
	MaxRetries int

	// InitialDelay is the initial delay between retries.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (e.g., 2.0 = double delay each retry).
	Multiplier float64

	// JitterFactor adds randomness to delay (0.0 = no jitter, 0.5 = ±50% jitter).
	JitterFactor float64

	// Logger receives a warning before each retry. Nil uses the standard logger.
	Logger logrus.FieldLogger
}

// DefaultRetryConfig returns the backoff used when connection retries are enabled.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.25,
	}
}

// NoRetryConfig returns a config with retries disabled.
func NoRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 0,
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func() error

// Retry executes fn, retrying transient network failures with exponential
// backoff. Non-retryable errors are returned on the first occurrence.
func Retry(ctx context.Context, config RetryConfig, operation string, fn RetryableFunc) error {
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s cancelled: %w", operation, err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryableError(err) || attempt == config.MaxRetries {
			break
		}

		delay := calculateDelay(config, attempt)
		logger.WithFields(logrus.Fields{
			"attempt": fmt.Sprintf("%d/%d", attempt+1, config.MaxRetries+1),
			"delay":   delay,
		}).Warnf("%s failed: %v", operation, err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled during retry wait: %w", operation, ctx.Err())
		case <-time.After(delay):
		}
	}

	if config.MaxRetries == 0 || !IsRetryableError(lastErr) {
		return lastErr
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, config.MaxRetries+1, lastErr)
}

func calculateDelay(config RetryConfig, attempt int) time.Duration {
	delay := float64(config.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= config.Multiplier
	}

	if config.JitterFactor > 0 {
		jitter := delay * config.JitterFactor
		delay = delay - jitter + (rand.Float64() * 2 * jitter)
	}

	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	return time.Duration(delay)
}

// IsRetryableError reports whether err looks like a transient network
// failure. Authentication and host key failures are never retried.
func IsRetryableError(err error) bool {
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

	errMsg := strings.ToLower(err.Error())
	for _, msg := range []string{"unable to authenticate", "knownhosts:", "host key"} {
		if strings.Contains(errMsg, msg) {
			return false
		}
	}

	retryableMessages := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no route to host",
		"network is unreachable",
		"i/o timeout",
		"handshake failed",
		"ssh: disconnect",
		"temporary failure",
		"eof",
	}
	for _, msg := range retryableMessages {
		if strings.Contains(errMsg, msg) {
			return true
		}
	}

	return false
}
