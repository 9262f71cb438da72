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
	"log/slog"
	"strings"
)

// MaxToolResponseChars is the hard ceiling on any tool response
// forwarded to the model. Applied after summarization, so even a
// failed summarizer cannot blow the context window.
const MaxToolResponseChars = 50000

const truncationNotice = "\n\n[truncated]"

// Summarizer condenses text with a model. Implemented by the LLM
// invocation layer.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// ResponseProcessorConfig tunes adaptive summarization.
type ResponseProcessorConfig struct {
	// Enabled turns summarization on. Off, only the hard cap applies.
	Enabled bool

	// LargeThreshold is the size above which responses are summarized.
	LargeThreshold int

	// CriticalThreshold is the size at which summarization switches
	// from gentle to aggressive.
	CriticalThreshold int

	// ChunkTrigger is the size above which content is summarized in
	// independent chunks.
	ChunkTrigger int
}

// DefaultResponseProcessorConfig returns the standard thresholds.
func DefaultResponseProcessorConfig() ResponseProcessorConfig {
	return ResponseProcessorConfig{
		Enabled:           true,
		LargeThreshold:    20000,
		CriticalThreshold: 50000,
		ChunkTrigger:      30000,
	}
}

func (c ResponseProcessorConfig) withDefaults() ResponseProcessorConfig {
	d := DefaultResponseProcessorConfig()
	if c.LargeThreshold <= 0 {
		c.LargeThreshold = d.LargeThreshold
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = d.CriticalThreshold
	}
	if c.ChunkTrigger <= 0 {
		c.ChunkTrigger = d.ChunkTrigger
	}
	return c
}

// summaryStrategy captures the gentle/aggressive parameter split.
type summaryStrategy struct {
	name          string
	chunkSize     int
	targetChars   int
	fallbackChars int
}

var (
	gentleStrategy = summaryStrategy{
		name:          "gentle",
		chunkSize:     20000,
		targetChars:   5000,
		fallbackChars: 5000,
	}
	aggressiveStrategy = summaryStrategy{
		name:          "aggressive",
		chunkSize:     10000,
		targetChars:   2000,
		fallbackChars: 2000,
	}
)

// ProgressFunc receives best-effort status notifications during long
// summarizations. Never part of the correctness contract.
type ProgressFunc func(message string)

// ResponseProcessor bounds oversized tool responses.
type ResponseProcessor struct {
	logger     *slog.Logger
	config     ResponseProcessorConfig
	summarizer Summarizer
}

// NewResponseProcessor creates a processor. summarizer may be nil;
// large responses then fall back to truncation.
func NewResponseProcessor(config ResponseProcessorConfig, summarizer Summarizer, logger *slog.Logger) *ResponseProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseProcessor{
		logger:     logger,
		config:     config.withDefaults(),
		summarizer: summarizer,
	}
}

// FilterToolResponse enforces the hard response ceiling. Content at or
// below the ceiling passes through unchanged.
func FilterToolResponse(text string) string {
	if len(text) <= MaxToolResponseChars {
		return text
	}
	return text[:MaxToolResponseChars] + truncationNotice
}

// ProcessLargeToolResponse adaptively condenses a tool response.
// Responses below the large threshold pass through unchanged. The
// result is never an error: any summarization failure falls back to
// hard truncation so tool output is never lost entirely.
func (p *ResponseProcessor) ProcessLargeToolResponse(ctx context.Context, toolName, text string, progress ProgressFunc) string {
	if !p.config.Enabled || len(text) < p.config.LargeThreshold {
		return FilterToolResponse(text)
	}

	strategy := gentleStrategy
	if len(text) >= p.config.CriticalThreshold {
		strategy = aggressiveStrategy
	}

	p.logger.Debug("summarizing large tool response",
		"tool", toolName, "chars", len(text), "strategy", strategy.name)
	p.notify(progress, fmt.Sprintf("Summarizing large response from %s...", toolName))

	summary, err := p.summarize(ctx, toolName, text, strategy, progress)
	if err != nil {
		p.logger.Warn("summarization failed, truncating",
			"tool", toolName, "error", err)
		return truncateTo(text, strategy.fallbackChars)
	}
	return FilterToolResponse(summary)
}

func (p *ResponseProcessor) summarize(ctx context.Context, toolName, text string, strategy summaryStrategy, progress ProgressFunc) (string, error) {
	if p.summarizer == nil {
		return "", fmt.Errorf("no summarizer available")
	}

	if len(text) <= p.config.ChunkTrigger {
		return p.summarizer.Summarize(ctx, summaryPrompt(toolName, text, strategy, 0, 0))
	}

	chunks := splitChunks(text, strategy.chunkSize)
	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		p.notify(progress, fmt.Sprintf("Summarizing part %d/%d...", i+1, len(chunks)))
		part, err := p.summarizer.Summarize(ctx, summaryPrompt(toolName, chunk, strategy, i+1, len(chunks)))
		if err != nil {
			return "", fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		parts = append(parts, part)
	}

	combined := strings.Join(parts, "\n\n---\n\n")
	if len(combined) <= 2*strategy.targetChars {
		return combined, nil
	}

	// One consolidating pass over the concatenation; never recurse.
	p.notify(progress, "Consolidating summary...")
	final, err := p.summarizer.Summarize(ctx, summaryPrompt(toolName, combined, strategy, 0, 0))
	if err != nil {
		return "", fmt.Errorf("consolidation: %w", err)
	}
	return final, nil
}

func summaryPrompt(toolName, text string, strategy summaryStrategy, part, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the following output from the tool %q", toolName)
	if total > 0 {
		fmt.Fprintf(&b, " (Part %d/%d)", part, total)
	}
	if strategy.name == "aggressive" {
		fmt.Fprintf(&b, ". Be concise: keep only the essential facts, identifiers, and errors, in at most %d characters.", strategy.targetChars)
	} else {
		fmt.Fprintf(&b, ". Preserve detail: keep all identifiers, values, errors, and structure, in roughly %d characters.", strategy.targetChars)
	}
	b.WriteString("\n\n")
	b.WriteString(text)
	return b.String()
}

func splitChunks(text string, size int) []string {
	var chunks []string
	for len(text) > size {
		chunks = append(chunks, text[:size])
		text = text[size:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

func truncateTo(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max] + truncationNotice
}

func (p *ResponseProcessor) notify(progress ProgressFunc, message string) {
	if progress == nil {
		return
	}
	// A panicking UI callback must not break response processing.
	defer func() { _ = recover() }()
	progress(message)
}
