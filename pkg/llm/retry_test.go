package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	pkgerrors "github.com/tombee/murmur/pkg/errors"
)

// fastSleep replaces the retry sleep for the duration of a test so
// backoff delays don't slow the suite down.
func fastSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	orig := retrySleep
	retrySleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	t.Cleanup(func() { retrySleep = orig })
	return &slept
}

func rateLimitErr() error {
	return &pkgerrors.ProviderError{
		Provider:   "openai",
		StatusCode: 429,
		Message:    "rate limit exceeded",
		Retryable:  true,
	}
}

func serverErr() error {
	return &pkgerrors.ProviderError{
		Provider:   "openai",
		StatusCode: 500,
		Message:    "internal error",
		Retryable:  true,
	}
}

func TestWithRetry_RateLimitRetriesPastCap(t *testing.T) {
	fastSleep(t)

	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 1

	attempts := 0
	result, err := WithRetry(context.Background(), nil, "", cfg, nil, func(ctx context.Context) (string, error) {
		attempts++
		// Two consecutive rate limits would exceed MaxRetries=1 if the
		// cap applied to them.
		if attempts <= 2 {
			return "", rateLimitErr()
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want ok", result)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetry_CapAppliesToServerErrors(t *testing.T) {
	fastSleep(t)

	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 2

	attempts := 0
	_, err := WithRetry(context.Background(), nil, "", cfg, nil, func(ctx context.Context) (string, error) {
		attempts++
		return "", serverErr()
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", attempts)
	}
	var pe *pkgerrors.ProviderError
	if !errors.As(err, &pe) {
		t.Errorf("final error should wrap the last provider error, got %v", err)
	}
}

func TestWithRetry_NonRetryableFailsImmediately(t *testing.T) {
	fastSleep(t)

	attempts := 0
	_, err := WithRetry(context.Background(), nil, "", DefaultRetryConfig(), nil, func(ctx context.Context) (string, error) {
		attempts++
		return "", &pkgerrors.ProviderError{
			Provider:   "openai",
			StatusCode: 400,
			Message:    "bad request",
			Retryable:  false,
		}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestWithRetry_MessageFallbackClassification(t *testing.T) {
	fastSleep(t)

	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 3

	tests := []struct {
		name         string
		err          error
		wantAttempts int
	}{
		{"connection error retries", errors.New("connection reset by peer"), 2},
		{"timeout retries", errors.New("request timeout"), 2},
		{"empty response retries", errors.New("empty response from model"), 2},
		{"unknown error terminal", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			_, err := WithRetry(context.Background(), nil, "", cfg, nil, func(ctx context.Context) (string, error) {
				attempts++
				if attempts == 1 {
					return "", tt.err
				}
				return "ok", nil
			})
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
			if tt.wantAttempts == 2 && err != nil {
				t.Errorf("expected eventual success, got %v", err)
			}
		})
	}
}

func TestWithRetry_SessionStoppedBeforeAttempt(t *testing.T) {
	fastSleep(t)

	sessions := NewSessionRegistry()
	sessions.StopSession("s1")

	attempts := 0
	_, err := WithRetry(context.Background(), sessions, "s1", DefaultRetryConfig(), nil, func(ctx context.Context) (string, error) {
		attempts++
		return "ok", nil
	})
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0", attempts)
	}
	var ce *pkgerrors.CancelledError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CancelledError, got %v", err)
	}
}

func TestWithRetry_EmergencyStopDuringBackoff(t *testing.T) {
	sessions := NewSessionRegistry()

	orig := retrySleep
	retrySleep = func(ctx context.Context, d time.Duration) error {
		// A stop request arriving mid-backoff must abort the loop
		// before the next attempt.
		sessions.EmergencyStop()
		return nil
	}
	t.Cleanup(func() { retrySleep = orig })

	attempts := 0
	_, err := WithRetry(context.Background(), sessions, "s1", DefaultRetryConfig(), nil, func(ctx context.Context) (string, error) {
		attempts++
		return "", rateLimitErr()
	})
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	var ce *pkgerrors.CancelledError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CancelledError, got %v", err)
	}
}

func TestWithRetry_CancellationNeverRetries(t *testing.T) {
	fastSleep(t)

	attempts := 0
	_, err := WithRetry(context.Background(), nil, "", DefaultRetryConfig(), nil, func(ctx context.Context) (string, error) {
		attempts++
		return "", &pkgerrors.CancelledError{Operation: "LLM call", Reason: "user stop"}
	})
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestWithRetry_NotifyReportsAndClears(t *testing.T) {
	fastSleep(t)

	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 5

	var notices []*RetryNotice
	attempts := 0
	_, err := WithRetry(context.Background(), nil, "", cfg, func(n *RetryNotice) {
		notices = append(notices, n)
	}, func(ctx context.Context) (string, error) {
		attempts++
		switch attempts {
		case 1:
			return "", rateLimitErr()
		case 2:
			return "", serverErr()
		default:
			return "ok", nil
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(notices) != 3 {
		t.Fatalf("notices = %d, want 3 (two retries + clear)", len(notices))
	}
	if notices[0] == nil || notices[0].Capped {
		t.Error("rate-limit retry should report Capped=false")
	}
	if notices[1] == nil || !notices[1].Capped {
		t.Error("server-error retry should report Capped=true")
	}
	if notices[2] != nil {
		t.Error("success should send a nil notice to clear status")
	}
	if notices[0].Attempt != 1 || notices[1].Attempt != 2 {
		t.Errorf("attempt numbers = %d, %d, want 1, 2", notices[0].Attempt, notices[1].Attempt)
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := RetryConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0, // deterministic
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(cfg, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffDelay_JitterBounds(t *testing.T) {
	cfg := RetryConfig{
		InitialDelay: 4 * time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		Jitter:       0.25,
	}
	for i := 0; i < 100; i++ {
		d := backoffDelay(cfg, 0)
		if d < 3*time.Second || d > 5*time.Second {
			t.Fatalf("delay %v outside ±25%% of 4s", d)
		}
	}
}
