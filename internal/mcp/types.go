// Package mcp implements the Model Context Protocol service layer for
// murmur. It manages tool-server lifecycles over stdio, WebSocket, and
// streamable HTTP transports, aggregates the tools the servers expose,
// executes tool calls with argument repair, and keeps oversized tool
// output from overwhelming the model context.
package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tool name separator and reserved namespaces.
const (
	// NameSeparator joins server and tool into a qualified name.
	NameSeparator = ":"

	// BuiltinNamespace is the reserved server prefix for built-in tools.
	// Built-ins are always available regardless of profile or runtime
	// disablement.
	BuiltinNamespace = "builtin"
)

// QualifyToolName produces the "<server>:<tool>" form.
func QualifyToolName(server, tool string) string {
	return server + NameSeparator + tool
}

// SplitToolName splits a qualified tool name into server and tool.
// Returns ok=false when the name carries no server prefix.
func SplitToolName(name string) (server, tool string, ok bool) {
	idx := strings.Index(name, NameSeparator)
	if idx <= 0 || idx == len(name)-1 {
		return "", name, false
	}
	return name[:idx], name[idx+1:], true
}

// ToolDescriptor describes a tool exposed by a connected server or a
// built-in. Qualified name is "<server>:<tool>"; built-ins live under
// the "builtin" namespace.
type ToolDescriptor struct {
	// Name is the bare tool name without the server prefix.
	Name string `json:"name"`

	// Description explains what the tool does.
	Description string `json:"description"`

	// InputSchema is the tool's declared JSON Schema for arguments.
	InputSchema json.RawMessage `json:"inputSchema"`

	// Server is the owning server name, or "builtin".
	Server string `json:"server"`
}

// ToolCall is a tool invocation requested by the model. Arguments is a
// loosely typed map; models frequently hallucinate types and casing, so
// arguments are normalized against the schema before dispatch.
type ToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResult is the outcome of a tool execution. IsError is the sole
// success/failure signal; no errors cross this boundary.
type ToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ContentItem is one ordered part of a tool result.
type ContentItem struct {
	// Type is the content type (text, image, resource).
	Type string `json:"type"`

	// Text is the text content (for type="text").
	Text string `json:"text,omitempty"`

	// Data is the base64-encoded data (for type="image").
	Data string `json:"data,omitempty"`

	// MimeType is the MIME type for binary content.
	MimeType string `json:"mimeType,omitempty"`
}

// TextResult builds a successful single-text-part result.
func TextResult(text string) ToolResult {
	return ToolResult{Content: []ContentItem{{Type: "text", Text: text}}}
}

// ErrorResult builds a failed single-text-part result.
func ErrorResult(format string, args ...interface{}) ToolResult {
	return ToolResult{
		Content: []ContentItem{{Type: "text", Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// Text concatenates all text parts of the result.
func (r ToolResult) Text() string {
	var sb strings.Builder
	for _, item := range r.Content {
		if item.Type == "text" {
			sb.WriteString(item.Text)
		}
	}
	return sb.String()
}

// ConnectionState tracks a server connection through its lifecycle.
type ConnectionState string

const (
	StateUninitialized ConnectionState = "uninitialized"
	StateConnecting    ConnectionState = "connecting"
	StateConnected     ConnectionState = "connected"
	StateError         ConnectionState = "error"
	StateClosed        ConnectionState = "closed"
)

// ServerRuntimeState is the externally visible status of one server.
type ServerRuntimeState struct {
	// Name is the server name.
	Name string `json:"name"`

	// State is the connection lifecycle state.
	State ConnectionState `json:"state"`

	// Connected is true while the server is handshaken and usable.
	Connected bool `json:"connected"`

	// ToolCount is the number of tools the server exposes.
	ToolCount int `json:"toolCount"`

	// Error holds the last connection error, if any.
	Error string `json:"error,omitempty"`

	// RequiresAuth is set when a 401 was seen during unattended
	// startup and the server needs a manual authentication pass.
	RequiresAuth bool `json:"requiresAuth,omitempty"`

	// RuntimeEnabled reflects session-level enable/disable. It is
	// independent of ConfigDisabled; disabled wins for availability.
	RuntimeEnabled bool `json:"runtimeEnabled"`

	// ConfigDisabled mirrors the disabled flag from configuration.
	ConfigDisabled bool `json:"configDisabled"`
}

// ProfileMcpServerConfig scopes server and tool availability to the
// active profile. When AllServersDisabledByDefault is true the profile
// is allow-listed and EnabledServers is authoritative; otherwise it is
// deny-listed and DisabledServers is authoritative. The two lists are
// never consulted together for the same availability check.
type ProfileMcpServerConfig struct {
	AllServersDisabledByDefault bool     `json:"allServersDisabledByDefault" yaml:"all_servers_disabled_by_default"`
	EnabledServers              []string `json:"enabledServers" yaml:"enabled_servers"`
	DisabledServers             []string `json:"disabledServers" yaml:"disabled_servers"`

	// DisabledTools holds qualified tool names or doublestar patterns
	// ("github:*", "*:delete_*").
	DisabledTools []string `json:"disabledTools" yaml:"disabled_tools"`
}

// ElicitationRequest is a server-initiated request for user input.
// Mode is "form" (schema-validated answer) or "url" (out-of-band
// browser flow completed by a notification).
type ElicitationRequest struct {
	ServerName string          `json:"serverName"`
	Mode       string          `json:"mode"`
	Message    string          `json:"message"`
	Schema     json.RawMessage `json:"schema,omitempty"`
	URL        string          `json:"url,omitempty"`
}

// ElicitationResult carries the user's answer back to the server.
// Action is "accept", "decline", or "cancel".
type ElicitationResult struct {
	Action  string                 `json:"action"`
	Content map[string]interface{} `json:"content,omitempty"`
}

// SamplingRequest is a server-initiated request to run an LLM
// completion on the server's behalf, subject to user approval.
type SamplingRequest struct {
	ServerName   string    `json:"serverName"`
	SystemPrompt string    `json:"systemPrompt,omitempty"`
	Messages     []Message `json:"messages"`
	MaxTokens    int       `json:"maxTokens,omitempty"`
}

// Message is one conversation turn inside a sampling request.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// SamplingResult is the completion returned to the requesting server.
type SamplingResult struct {
	Model string `json:"model"`
	Role  string `json:"role"`
	Text  string `json:"text"`
}
