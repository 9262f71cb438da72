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
	"context"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	base := New("base failure")
	wrapped := Wrap(base, "loading settings")
	if wrapped.Error() != "loading settings: base failure" {
		t.Errorf("Wrap() = %q", wrapped.Error())
	}
	if !Is(wrapped, base) {
		t.Error("wrapped error should match base via Is")
	}
}

func TestWrapf(t *testing.T) {
	base := New("no such file")
	wrapped := Wrapf(base, "reading %s", "settings.yaml")
	if wrapped.Error() != "reading settings.yaml: no such file" {
		t.Errorf("Wrapf() = %q", wrapped.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", New("boom"), false},
		{"retryable provider error", &ProviderError{StatusCode: 500, Retryable: true}, true},
		{"terminal provider error", &ProviderError{StatusCode: 400, Retryable: false}, false},
		{"wrapped retryable", Wrap(&ProviderError{StatusCode: 429, Retryable: true}, "calling model"), true},
		{"timeout", &TimeoutError{Operation: "connect"}, true},
		{"cancelled", &CancelledError{Operation: "call"}, false},
		{"context cancelled", context.Canceled, false},
		{"retryable wrapped in cancellation", &CancelledError{Operation: "call", Cause: &TimeoutError{Operation: "connect"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRateLimit(t *testing.T) {
	if IsRateLimit(New("rate limit")) {
		t.Error("plain error should not report rate limit")
	}
	if !IsRateLimit(Wrap(&ProviderError{StatusCode: 429}, "calling model")) {
		t.Error("wrapped 429 should report rate limit")
	}
}

func TestStatusCode(t *testing.T) {
	if got := StatusCode(New("boom")); got != 0 {
		t.Errorf("StatusCode(plain) = %d, want 0", got)
	}
	if got := StatusCode(&ProviderError{StatusCode: 503}); got != 503 {
		t.Errorf("StatusCode() = %d, want 503", got)
	}
}

func TestIsCancelled(t *testing.T) {
	if IsCancelled(nil) {
		t.Error("nil should not be cancelled")
	}
	if !IsCancelled(context.Canceled) {
		t.Error("context.Canceled should report cancelled")
	}
	if !IsCancelled(Wrap(&CancelledError{Operation: "call"}, "outer")) {
		t.Error("wrapped CancelledError should report cancelled")
	}
	if IsCancelled(context.DeadlineExceeded) {
		t.Error("deadline exceeded is a timeout, not a cancellation")
	}
}
