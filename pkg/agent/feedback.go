package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// ToolOutcome is one executed tool call's result as seen by the engine.
type ToolOutcome struct {
	// Tool is the qualified tool name that produced this result. May be
	// empty when the transport did not echo it back; AnalyzeFeedback then
	// falls back to the matching entry in the calls slice.
	Tool string

	// IsError reports whether the tool signalled failure.
	IsError bool

	// Text is the result content, or the error text when IsError is set.
	Text string
}

// ToolCallInfo describes a tool call that was requested this iteration.
type ToolCallInfo struct {
	Name      string
	Arguments string
}

// FeedbackAnalysis summarizes one iteration's tool results.
type FeedbackAnalysis struct {
	// SuccessScore is the fraction of results that did not error, in
	// [0,1]. Zero when there were no results.
	SuccessScore float64

	// MadeProgress is true when at least one result succeeded.
	MadeProgress bool

	// Issues describes each failed result, one entry per failure.
	Issues []string

	// Suggestions are canned remediations derived from failure classes,
	// deduplicated.
	Suggestions []string

	// ExtractedResources are identifiers mined from successful results:
	// session ids, file paths, URLs, and generic ids. Best-effort hints
	// only; the regexes can false-positive on arbitrary tool text.
	ExtractedResources []string

	// ShouldPivot is set when this and the previous iteration both had a
	// zero success score and at least one issue was recorded.
	ShouldPivot bool

	// Confidence grows with the number of results, capped at 1.0.
	Confidence float64

	// ResultCount and SuccessCount carry the raw tallies so state updates
	// can accumulate totals.
	ResultCount  int
	SuccessCount int
}

var resourcePatterns = []*regexp.Regexp{
	// session / object UUIDs
	regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`),
	// absolute file paths
	regexp.MustCompile(`(?:^|[\s"'(])(/[\w][\w./-]+)`),
	// URLs
	regexp.MustCompile(`https?://[^\s"')<>]+`),
	// generic "id: xyz" identifiers
	regexp.MustCompile(`\b[iI][dD][:=]\s*([\w-]+)`),
}

// failureClass buckets a lower-cased error text by substring matching.
type failureClass struct {
	name       string
	markers    []string
	suggestion string
}

var failureClasses = []failureClass{
	{
		name:       "not_found",
		markers:    []string{"not found", "no such", "does not exist", "unknown"},
		suggestion: "Verify the resource name or path exists, for example by listing it first.",
	},
	{
		name:       "permission",
		markers:    []string{"permission", "access denied", "unauthorized", "forbidden"},
		suggestion: "Check credentials or request access before retrying the operation.",
	},
	{
		name:       "timeout",
		markers:    []string{"timeout", "timed out", "deadline"},
		suggestion: "Retry with a smaller request, or wait briefly before trying again.",
	},
	{
		name:       "invalid_input",
		markers:    []string{"invalid", "malformed", "must be", "expected"},
		suggestion: "Check the argument names and types against the tool's input schema.",
	},
}

const otherSuggestion = "Try a different tool or rephrase the request."

func classifyFailure(text string) (string, string) {
	lowered := strings.ToLower(text)
	for _, fc := range failureClasses {
		for _, marker := range fc.markers {
			if strings.Contains(lowered, marker) {
				return fc.name, fc.suggestion
			}
		}
	}
	return "other", otherSuggestion
}

// AnalyzeFeedback inspects one iteration's tool results. Successful
// results are mined for resource identifiers; failures are classified and
// mapped to suggestions. previous is the prior iteration's analysis, or
// nil on the first iteration.
func AnalyzeFeedback(results []ToolOutcome, calls []ToolCallInfo, previous *FeedbackAnalysis) FeedbackAnalysis {
	analysis := FeedbackAnalysis{ResultCount: len(results)}
	if len(results) == 0 {
		return analysis
	}

	seenSuggestions := make(map[string]bool)
	seenResources := make(map[string]bool)
	for i, result := range results {
		if !result.IsError {
			analysis.SuccessCount++
			for _, res := range extractResources(result.Text) {
				if !seenResources[res] {
					seenResources[res] = true
					analysis.ExtractedResources = append(analysis.ExtractedResources, res)
				}
			}
			continue
		}

		name := result.Tool
		if name == "" && i < len(calls) {
			name = calls[i].Name
		}
		if name == "" {
			name = "unknown"
		}
		class, suggestion := classifyFailure(result.Text)
		analysis.Issues = append(analysis.Issues,
			fmt.Sprintf("tool %s failed (%s): %s", name, class, firstLine(result.Text)))
		if !seenSuggestions[suggestion] {
			seenSuggestions[suggestion] = true
			analysis.Suggestions = append(analysis.Suggestions, suggestion)
		}
	}

	analysis.SuccessScore = float64(analysis.SuccessCount) / float64(len(results))
	analysis.MadeProgress = analysis.SuccessCount > 0
	analysis.Confidence = float64(len(results)) * 0.25
	if analysis.Confidence > 1.0 {
		analysis.Confidence = 1.0
	}
	analysis.ShouldPivot = analysis.SuccessScore == 0 &&
		previous != nil && previous.SuccessScore == 0 &&
		len(analysis.Issues) > 0
	return analysis
}

func extractResources(text string) []string {
	var out []string
	for _, pattern := range resourcePatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			value := match[0]
			if len(match) > 1 {
				value = match[1]
			}
			out = append(out, value)
		}
	}
	return out
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return text
}
