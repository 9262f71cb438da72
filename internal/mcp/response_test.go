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

package mcp

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestFilterToolResponseHardCap(t *testing.T) {
	input := strings.Repeat("x", 60000)
	out := FilterToolResponse(input)

	if !strings.HasSuffix(out, "\n\n[truncated]") {
		t.Error("missing truncation notice")
	}
	body := strings.TrimSuffix(out, "\n\n[truncated]")
	if len(body) != MaxToolResponseChars {
		t.Errorf("body length = %d, want %d", len(body), MaxToolResponseChars)
	}
}

func TestFilterToolResponsePassThrough(t *testing.T) {
	input := strings.Repeat("x", MaxToolResponseChars)
	if out := FilterToolResponse(input); out != input {
		t.Error("content at the cap should pass unchanged")
	}
}

// fakeSummarizer returns a fixed summary, or an error when broken.
type fakeSummarizer struct {
	broken  bool
	prompts []string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.broken {
		return "", fmt.Errorf("model unavailable")
	}
	return "summary", nil
}

func TestProcessLargeToolResponsePassThroughBelowThreshold(t *testing.T) {
	p := NewResponseProcessor(ResponseProcessorConfig{Enabled: true}, &fakeSummarizer{}, nil)

	input := strings.Repeat("x", 100)
	if out := p.ProcessLargeToolResponse(context.Background(), "t", input, nil); out != input {
		t.Error("small response should pass through")
	}
}

func TestProcessLargeToolResponseGentle(t *testing.T) {
	sum := &fakeSummarizer{}
	p := NewResponseProcessor(ResponseProcessorConfig{Enabled: true}, sum, nil)

	out := p.ProcessLargeToolResponse(context.Background(), "t", strings.Repeat("x", 25000), nil)
	if out != "summary" {
		t.Errorf("out = %q, want summary", out)
	}
	if len(sum.prompts) != 1 {
		t.Fatalf("prompts = %d, want 1", len(sum.prompts))
	}
	if strings.Contains(sum.prompts[0], "Part") {
		t.Error("single-pass summary should not carry a part marker")
	}
}

func TestProcessLargeToolResponseChunked(t *testing.T) {
	sum := &fakeSummarizer{}
	p := NewResponseProcessor(ResponseProcessorConfig{Enabled: true}, sum, nil)

	// 45,000 chars: gentle strategy, above the 30,000 chunk trigger,
	// 20,000-char chunks -> 3 parts.
	var progress []string
	out := p.ProcessLargeToolResponse(context.Background(), "t", strings.Repeat("x", 45000), func(msg string) {
		progress = append(progress, msg)
	})

	if out == "" {
		t.Fatal("empty output")
	}
	if len(sum.prompts) != 3 {
		t.Fatalf("prompts = %d, want 3", len(sum.prompts))
	}
	if !strings.Contains(sum.prompts[0], "(Part 1/3)") {
		t.Errorf("first prompt missing part marker: %q", sum.prompts[0][:80])
	}
	if !strings.Contains(sum.prompts[2], "(Part 3/3)") {
		t.Errorf("last prompt missing part marker: %q", sum.prompts[2][:80])
	}
	if len(progress) == 0 {
		t.Error("no progress notifications")
	}
}

func TestProcessLargeToolResponseFallbackTruncation(t *testing.T) {
	broken := &fakeSummarizer{broken: true}
	p := NewResponseProcessor(ResponseProcessorConfig{Enabled: true}, broken, nil)

	// Gentle range: fallback truncates to 5,000.
	out := p.ProcessLargeToolResponse(context.Background(), "t", strings.Repeat("x", 25000), nil)
	if !strings.HasSuffix(out, "\n\n[truncated]") {
		t.Error("missing truncation notice")
	}
	if got := len(strings.TrimSuffix(out, "\n\n[truncated]")); got != 5000 {
		t.Errorf("gentle fallback length = %d, want 5000", got)
	}

	// Critical range: aggressive fallback truncates to 2,000.
	out = p.ProcessLargeToolResponse(context.Background(), "t", strings.Repeat("x", 60000), nil)
	if got := len(strings.TrimSuffix(out, "\n\n[truncated]")); got != 2000 {
		t.Errorf("aggressive fallback length = %d, want 2000", got)
	}
}

func TestProcessLargeToolResponseDisabled(t *testing.T) {
	p := NewResponseProcessor(ResponseProcessorConfig{Enabled: false}, &fakeSummarizer{}, nil)

	// Disabled, only the hard cap applies.
	out := p.ProcessLargeToolResponse(context.Background(), "t", strings.Repeat("x", 60000), nil)
	if !strings.HasSuffix(out, "\n\n[truncated]") {
		t.Error("hard cap should still apply")
	}
	if got := len(strings.TrimSuffix(out, "\n\n[truncated]")); got != MaxToolResponseChars {
		t.Errorf("length = %d, want %d", got, MaxToolResponseChars)
	}
}

func TestProcessLargeToolResponsePanickingProgressCallback(t *testing.T) {
	p := NewResponseProcessor(ResponseProcessorConfig{Enabled: true}, &fakeSummarizer{}, nil)

	out := p.ProcessLargeToolResponse(context.Background(), "t", strings.Repeat("x", 25000), func(string) {
		panic("ui went away")
	})
	if out != "summary" {
		t.Errorf("out = %q, want summary", out)
	}
}
