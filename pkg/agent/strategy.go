package agent

import "strings"

// TaskStrategy is a static catalog entry describing how the agent should
// approach a class of tasks. Strategies are immutable reference data.
type TaskStrategy struct {
	// Name identifies the strategy within the catalog.
	Name string

	// Keywords are transcript substrings that vote for this strategy.
	Keywords []string

	// PreferredToolPatterns are substrings matched against tool names and
	// descriptions; each matching tool votes for this strategy.
	PreferredToolPatterns []string

	// MaxIterations suggests an iteration budget for this strategy.
	MaxIterations int

	// SupportsParallel indicates whether tool calls under this strategy
	// may safely run concurrently.
	SupportsParallel bool

	// PromptAugmentation is guidance text prepended to refinement prompts.
	PromptAugmentation string
}

// ToolInfo is the minimal tool description the detector scores against.
type ToolInfo struct {
	Name        string
	Description string
}

// generalStrategyName is the catch-all used for ties and zero scores.
const generalStrategyName = "general"

var strategyCatalog = []TaskStrategy{
	{
		Name:               generalStrategyName,
		MaxIterations:      10,
		PromptAugmentation: "Work through the request step by step, using the available tools where they help.",
	},
	{
		Name:                  "file_operations",
		Keywords:              []string{"file", "read", "write", "list", "directory", "folder", "save", "open", "contents"},
		PreferredToolPatterns: []string{"fs", "file", "read", "write", "list", "dir"},
		MaxIterations:         8,
		SupportsParallel:      true,
		PromptAugmentation:    "Prefer listing a directory before reading from it, and confirm a path exists before writing to it.",
	},
	{
		Name:                  "web_research",
		Keywords:              []string{"search", "web", "look up", "research", "find", "browse", "website", "url"},
		PreferredToolPatterns: []string{"search", "web", "fetch", "http", "browse"},
		MaxIterations:         12,
		SupportsParallel:      true,
		PromptAugmentation:    "Search broadly first, then fetch the most promising sources and cite where each fact came from.",
	},
	{
		Name:                  "code_analysis",
		Keywords:              []string{"code", "function", "class", "bug", "refactor", "implement", "compile", "test", "analyze"},
		PreferredToolPatterns: []string{"code", "repo", "git", "grep", "lint"},
		MaxIterations:         15,
		PromptAugmentation:    "Read the relevant code before proposing changes, and verify each change against the surrounding context.",
	},
	{
		Name:                  "data_processing",
		Keywords:              []string{"data", "csv", "json", "parse", "transform", "filter", "aggregate", "convert"},
		PreferredToolPatterns: []string{"data", "query", "sql", "json", "transform"},
		MaxIterations:         10,
		SupportsParallel:      true,
		PromptAugmentation:    "Inspect a sample of the data before transforming all of it, and validate the output shape at each step.",
	},
	{
		Name:                  "communication",
		Keywords:              []string{"email", "message", "send", "notify", "reply", "post", "slack"},
		PreferredToolPatterns: []string{"mail", "message", "send", "chat", "notify", "slack"},
		MaxIterations:         6,
		PromptAugmentation:    "Draft the message content first and confirm the recipient before sending anything.",
	},
}

// Strategies returns the strategy catalog in its fixed order.
func Strategies() []TaskStrategy {
	out := make([]TaskStrategy, len(strategyCatalog))
	copy(out, strategyCatalog)
	return out
}

// StrategyByName looks up a catalog strategy. The second return value
// reports whether the name was found.
func StrategyByName(name string) (TaskStrategy, bool) {
	for _, s := range strategyCatalog {
		if s.Name == name {
			return s, true
		}
	}
	return TaskStrategy{}, false
}

// GeneralStrategy returns the catch-all strategy.
func GeneralStrategy() TaskStrategy {
	s, _ := StrategyByName(generalStrategyName)
	return s
}

// DetectTaskType scores every catalog strategy against the transcript and
// the available tools and returns the best match. Each keyword found in
// the transcript scores 2 points; each tool whose name or description
// contains a preferred pattern scores 1 point per pattern. Ties and
// all-zero scores fall back to the general strategy. The result is
// deterministic for identical inputs.
func DetectTaskType(transcript string, tools []ToolInfo) TaskStrategy {
	lowered := strings.ToLower(transcript)

	best := GeneralStrategy()
	bestScore := 0
	tied := false
	for _, s := range strategyCatalog {
		if s.Name == generalStrategyName {
			continue
		}
		score := scoreStrategy(s, lowered, tools)
		switch {
		case score > bestScore:
			best = s
			bestScore = score
			tied = false
		case score == bestScore && score > 0:
			tied = true
		}
	}
	if bestScore == 0 || tied {
		return GeneralStrategy()
	}
	return best
}

func scoreStrategy(s TaskStrategy, loweredTranscript string, tools []ToolInfo) int {
	score := 0
	for _, kw := range s.Keywords {
		if strings.Contains(loweredTranscript, kw) {
			score += 2
		}
	}
	for _, tool := range tools {
		haystack := strings.ToLower(tool.Name) + " " + strings.ToLower(tool.Description)
		for _, pattern := range s.PreferredToolPatterns {
			if strings.Contains(haystack, pattern) {
				score++
			}
		}
	}
	return score
}
