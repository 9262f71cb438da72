package agent

import (
	"fmt"
	"strings"
)

// GenerateRefinementPrompt assembles the addendum for the next model
// call. Section order is fixed: strategy guidance, issues, suggestions,
// extracted resources, progress status, then a closing instruction that
// reiterates the original request. Empty sections are omitted entirely.
func GenerateRefinementPrompt(state RefinementState, feedback FeedbackAnalysis, strategy TaskStrategy) string {
	var b strings.Builder

	fmt.Fprintf(&b, "TASK STRATEGY: %s\n", strategy.Name)
	if strategy.PromptAugmentation != "" {
		b.WriteString(strategy.PromptAugmentation)
		b.WriteByte('\n')
	}

	writeNumberedSection(&b, "PREVIOUS ISSUES ENCOUNTERED", feedback.Issues)
	writeNumberedSection(&b, "SUGGESTED IMPROVEMENTS", feedback.Suggestions)
	writeNumberedSection(&b, "AVAILABLE RESOURCES", feedback.ExtractedResources)

	b.WriteString("\nPROGRESS STATUS:\n")
	fmt.Fprintf(&b, "- Tool success rate: %.0f%%\n", feedback.SuccessScore*100)
	fmt.Fprintf(&b, "- Progress towards goal: %.0f%%\n", state.ProgressTowardsGoal*100)
	if state.StagnationCount > 0 {
		fmt.Fprintf(&b, "- No measurable progress for %d iteration(s); try a different approach.\n", state.StagnationCount)
	}

	b.WriteString("\nContinue working on the original request:\n")
	fmt.Fprintf(&b, "%q\n", state.OriginalRequest)
	b.WriteString("Address the issues above before repeating any earlier step, then take your next action.")

	return b.String()
}

func writeNumberedSection(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", heading)
	for i, item := range items {
		fmt.Fprintf(b, "%d. %s\n", i+1, item)
	}
}
