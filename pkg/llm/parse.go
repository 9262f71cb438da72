package llm

import (
	"encoding/json"
	"strings"
)

// ResponseKind identifies which shape a model response was recognized as.
// The parser tries the kinds in declared order and stops at the first
// match, making the precedence an explicit contract.
type ResponseKind int

const (
	// KindToolCalls means the provider returned native structured tool calls.
	KindToolCalls ResponseKind = iota

	// KindEmbeddedJSON means the text carried a JSON object with
	// toolCalls/content fields.
	KindEmbeddedJSON

	// KindMarkerText means legacy inline tool-call markers were found and
	// stripped from the text.
	KindMarkerText

	// KindPlainText means the response is ordinary text.
	KindPlainText
)

// String returns a human-readable name for the kind.
func (k ResponseKind) String() string {
	switch k {
	case KindToolCalls:
		return "tool_calls"
	case KindEmbeddedJSON:
		return "embedded_json"
	case KindMarkerText:
		return "marker_text"
	default:
		return "plain_text"
	}
}

// ParsedResponse is the result of interpreting a model completion.
type ParsedResponse struct {
	// Kind records which recognition path produced this result.
	Kind ResponseKind

	// Content is the text content with any tool-call payloads removed.
	Content string

	// ToolCalls are the tool invocations requested by the model, with
	// names already decoded back to their original form.
	ToolCalls []ToolCall

	// NeedsMoreWork signals whether the agent loop should continue. Tool
	// calls always need more work. For plain text it is nil: the parser
	// cannot tell a final answer from an intermediate one, so the caller
	// decides.
	NeedsMoreWork *bool
}

// toolCallMarker is the legacy inline prefix some models emit when they
// describe a tool call in prose instead of using native tool calling.
const toolCallMarker = "TOOL_CALL:"

// ParseModelResponse interprets a completion using ordered fallbacks:
// native tool calls, then an embedded JSON object, then legacy markers,
// then plain text. nameMap maps encoded tool names back to originals and
// may be nil when the caller never encoded any names.
func ParseModelResponse(resp *CompletionResponse, nameMap map[string]string) ParsedResponse {
	if resp == nil {
		return ParsedResponse{Kind: KindPlainText}
	}

	if len(resp.ToolCalls) > 0 {
		yes := true
		return ParsedResponse{
			Kind:          KindToolCalls,
			Content:       strings.TrimSpace(resp.Content),
			ToolCalls:     decodeToolCalls(resp.ToolCalls, nameMap),
			NeedsMoreWork: &yes,
		}
	}

	text := strings.TrimSpace(resp.Content)

	if parsed, ok := parseEmbeddedJSON(text, nameMap); ok {
		return parsed
	}

	if stripped, ok := stripToolCallMarkers(text); ok {
		no := false
		return ParsedResponse{
			Kind:          KindMarkerText,
			Content:       stripped,
			NeedsMoreWork: &no,
		}
	}

	return ParsedResponse{Kind: KindPlainText, Content: text}
}

// embeddedResponse is the JSON shape some models emit as text when asked
// for structured output.
type embeddedResponse struct {
	Content   string `json:"content"`
	ToolCalls []struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"toolCalls"`
	NeedsMoreWork *bool `json:"needsMoreWork"`
}

// parseEmbeddedJSON scans text for a top-level JSON object carrying
// toolCalls or content fields. Objects without either field are not
// treated as a structured response.
func parseEmbeddedJSON(text string, nameMap map[string]string) (ParsedResponse, bool) {
	candidate, ok := scanJSONObject(text)
	if !ok {
		return ParsedResponse{}, false
	}

	var embedded embeddedResponse
	if err := json.Unmarshal([]byte(candidate), &embedded); err != nil {
		return ParsedResponse{}, false
	}
	if len(embedded.ToolCalls) == 0 && embedded.Content == "" {
		return ParsedResponse{}, false
	}

	parsed := ParsedResponse{
		Kind:          KindEmbeddedJSON,
		Content:       strings.TrimSpace(embedded.Content),
		NeedsMoreWork: embedded.NeedsMoreWork,
	}
	for _, tc := range embedded.ToolCalls {
		args := string(tc.Arguments)
		if args == "" {
			args = "{}"
		}
		parsed.ToolCalls = append(parsed.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      DecodeToolName(tc.Name, nameMap),
			Arguments: args,
		})
	}
	if len(parsed.ToolCalls) > 0 {
		yes := true
		parsed.NeedsMoreWork = &yes
	}
	return parsed, true
}

// scanJSONObject finds the first balanced top-level JSON object in text
// using brace-depth matching, which tolerates nested braces and braces
// inside string literals.
func scanJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// stripToolCallMarkers removes legacy TOOL_CALL: lines from the text.
// Returns the cleaned text and whether any marker was found.
func stripToolCallMarkers(text string) (string, bool) {
	if !strings.Contains(text, toolCallMarker) {
		return text, false
	}

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), toolCallMarker) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), true
}

// colonToken is the literal substituted for ':' in tool names before they
// are handed to a provider. Provider APIs commonly restrict tool names to
// [a-zA-Z0-9_-], which rejects the "server:tool" form.
const colonToken = "__colon__"

// EncodeToolName replaces ':' with a provider-safe token.
func EncodeToolName(name string) string {
	return strings.ReplaceAll(name, ":", colonToken)
}

// EncodeTools returns a copy of tools with encoded names plus the map
// from encoded name back to the original, for decoding responses.
func EncodeTools(tools []Tool) ([]Tool, map[string]string) {
	if len(tools) == 0 {
		return nil, nil
	}
	encoded := make([]Tool, len(tools))
	nameMap := make(map[string]string, len(tools))
	for i, tool := range tools {
		safe := EncodeToolName(tool.Name)
		nameMap[safe] = tool.Name
		encoded[i] = tool
		encoded[i].Name = safe
	}
	return encoded, nameMap
}

// DecodeToolName maps an encoded name back to its original via the name
// map. Reverse substitution is only a last resort for names the map does
// not know, e.g. tool calls parsed out of embedded JSON in raw text.
func DecodeToolName(name string, nameMap map[string]string) string {
	if original, ok := nameMap[name]; ok {
		return original
	}
	return strings.ReplaceAll(name, colonToken, ":")
}

func decodeToolCalls(calls []ToolCall, nameMap map[string]string) []ToolCall {
	decoded := make([]ToolCall, len(calls))
	for i, tc := range calls {
		decoded[i] = tc
		decoded[i].Name = DecodeToolName(tc.Name, nameMap)
		if decoded[i].Arguments == "" {
			decoded[i].Arguments = "{}"
		}
	}
	return decoded
}
