package llm

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/tombee/murmur/pkg/errors"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxRetries caps retries for ordinary retryable errors (0 = no retries).
	// Rate-limit errors (HTTP 429) are exempt from the cap and retry
	// until the call succeeds or is cancelled.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (typically 2.0 for exponential).
	Multiplier float64

	// Jitter is the uniform jitter fraction applied to each delay (0.0-1.0).
	Jitter float64
}

// DefaultRetryConfig returns sensible default retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.25,
	}
}

// RetryNotice describes one scheduled retry so a UI can render status.
type RetryNotice struct {
	// Attempt is the retry number about to be waited for (1-based).
	Attempt int

	// Delay is the backoff delay before the retry.
	Delay time.Duration

	// Reason is the message of the error that triggered the retry.
	Reason string

	// Capped is false for rate-limit errors, which retry without a ceiling.
	Capped bool
}

// RetryNotifier receives retry-status updates. A nil notice clears any
// previously rendered status once the call succeeds.
type RetryNotifier func(notice *RetryNotice)

// retrySleep is swapped out by tests to avoid real delays.
var retrySleep = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithRetry runs fn with exponential backoff. Cancellation is checked
// against both the session registry's emergency flag and the per-session
// stop flag before every attempt and again before every sleep, so a stop
// request during backoff aborts without waiting out the delay. Rate-limit
// failures retry indefinitely; other retryable failures stop after
// cfg.MaxRetries and the last error is returned.
//
// sessions and notify may be nil.
func WithRetry[T any](ctx context.Context, sessions *SessionRegistry, sessionID string, cfg RetryConfig, notify RetryNotifier, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := checkStop(ctx, sessions, sessionID); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			if notify != nil {
				notify(nil)
			}
			return result, nil
		}
		lastErr = err

		if errors.IsCancelled(err) {
			return zero, err
		}
		if !isRetryableCallError(err) {
			return zero, err
		}

		rateLimited := errors.IsRateLimit(err)
		if !rateLimited && attempt >= cfg.MaxRetries {
			return zero, fmt.Errorf("giving up after %d attempts: %w", attempt+1, lastErr)
		}

		delay := backoffDelay(cfg, attempt)
		if notify != nil {
			notify(&RetryNotice{
				Attempt: attempt + 1,
				Delay:   delay,
				Reason:  err.Error(),
				Capped:  !rateLimited,
			})
		}

		if err := checkStop(ctx, sessions, sessionID); err != nil {
			return zero, err
		}
		if err := retrySleep(ctx, delay); err != nil {
			return zero, &errors.CancelledError{Operation: "LLM call", Reason: "stopped during backoff", Cause: err}
		}
	}
}

// checkStop maps the registry's stop signals and context state to a
// CancelledError, or returns nil when the call may proceed.
func checkStop(ctx context.Context, sessions *SessionRegistry, sessionID string) error {
	if ctx.Err() != nil {
		return &errors.CancelledError{Operation: "LLM call", Cause: ctx.Err()}
	}
	if sessions == nil {
		return nil
	}
	if sessions.IsEmergencyStopped() {
		return &errors.CancelledError{Operation: "LLM call", Reason: "emergency stop"}
	}
	if sessionID != "" && sessions.IsSessionStopped(sessionID) {
		return &errors.CancelledError{Operation: "LLM call", Reason: "session stopped"}
	}
	return nil
}

// backoffDelay computes min(maxDelay, initial*multiplier^attempt) with
// uniform jitter, floored at zero.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	backoff := float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt))
	if max := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && backoff > max {
		backoff = max
	}
	if cfg.Jitter > 0 {
		jitterAmount := backoff * cfg.Jitter
		backoff += (rand.Float64() * 2 * jitterAmount) - jitterAmount
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

// isRetryableCallError classifies an error for the retry loop. Typed
// errors answer through their Retryable flag; untyped errors fall back
// to message matching for transient-looking failures.
func isRetryableCallError(err error) bool {
	if err == nil {
		return false
	}
	var classifier errors.ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.IsRetryable()
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "timeout", "network", "connection", "empty response"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
