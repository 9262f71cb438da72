// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "with field",
			err:  &ValidationError{Field: "server_name", Message: "must start with a letter"},
			want: "validation failed on server_name: must start with a letter",
		},
		{
			name: "without field",
			err:  &ValidationError{Message: "empty tool call"},
			want: "validation failed: empty tool call",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if tt.err.IsRetryable() {
				t.Error("validation errors must not be retryable")
			}
			if tt.err.ErrorType() != "validation" {
				t.Errorf("ErrorType() = %q, want %q", tt.err.ErrorType(), "validation")
			}
		})
	}
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Resource: "server", ID: "github"}
	if got := err.Error(); got != "server not found: github" {
		t.Errorf("Error() = %q", got)
	}
	if err.IsRetryable() {
		t.Error("not-found errors must not be retryable")
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("connection reset")
	err := &ProviderError{
		Provider:   "openai",
		StatusCode: 503,
		Message:    "service unavailable",
		RequestID:  "req-123",
		Retryable:  true,
		Cause:      cause,
	}

	msg := err.Error()
	for _, want := range []string{"openai", "HTTP 503", "service unavailable", "req-123"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}

	if !errors.Is(err, cause) {
		t.Error("Unwrap should expose cause")
	}
	if !err.IsRetryable() {
		t.Error("503 provider error should be retryable")
	}
	if err.IsRateLimit() {
		t.Error("503 is not a rate limit")
	}
}

func TestProviderErrorRateLimit(t *testing.T) {
	err := &ProviderError{Provider: "gemini", StatusCode: 429, Message: "quota exceeded", Retryable: true}
	if !err.IsRateLimit() {
		t.Error("429 should report IsRateLimit")
	}
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Operation: "server connect", Duration: 10 * time.Second}
	want := "server connect operation timed out after 10s"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !err.IsRetryable() {
		t.Error("timeouts should be retryable")
	}
}

func TestCancelledError(t *testing.T) {
	tests := []struct {
		name string
		err  *CancelledError
		want string
	}{
		{
			name: "with reason",
			err:  &CancelledError{Operation: "LLM call", Reason: "emergency stop"},
			want: "LLM call cancelled: emergency stop",
		},
		{
			name: "without reason",
			err:  &CancelledError{Operation: "tool execution"},
			want: "tool execution cancelled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if tt.err.IsRetryable() {
				t.Error("cancellation must never be retryable")
			}
		})
	}
}

func TestConfigErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("yaml: line 3: mapping values are not allowed")
	err := &ConfigError{Key: "servers.github", Reason: "parse failure", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should expose cause")
	}
}
