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
	"regexp"
	"sort"
	"strings"
)

// ApprovalGate asks the user to approve a tool call before dispatch.
type ApprovalGate interface {
	// RequireApproval reports whether the global approval setting is on.
	RequireApproval() bool

	// Approve blocks on a user-facing prompt. False means denied.
	Approve(ctx context.Context, call ToolCall) (bool, error)
}

// toolSource provides the current tool catalog and dispatches calls to
// connected servers. Satisfied by MCPService.
type toolSource interface {
	ListAllTools(ctx context.Context) ([]ToolDescriptor, error)
	CallServerTool(ctx context.Context, serverName, toolName string, args map[string]any) (ToolResult, error)
	IsServerUsable(serverName string) bool
	IsToolEnabled(qualifiedName string) bool
}

// ExecuteOptions modify a single execution.
type ExecuteOptions struct {
	// ApprovalHandled is set when the caller already ran the approval
	// prompt; the gate is then skipped.
	ApprovalHandled bool
}

// ToolExecutor routes and runs tool calls. It never returns a Go
// error: every failure mode resolves to a ToolResult with IsError set
// so the model can read the failure and self-correct.
type ToolExecutor struct {
	logger     *slog.Logger
	source     toolSource
	builtins   *BuiltinRegistry
	normalizer *ArgumentNormalizer
	responses  *ResponseProcessor
	tracker    *ResourceTracker
	approval   ApprovalGate
}

// NewToolExecutor wires the executor. approval, tracker, and responses
// may be nil.
func NewToolExecutor(source toolSource, builtins *BuiltinRegistry, responses *ResponseProcessor, tracker *ResourceTracker, approval ApprovalGate, logger *slog.Logger) *ToolExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolExecutor{
		logger:     logger,
		source:     source,
		builtins:   builtins,
		normalizer: NewArgumentNormalizer(),
		responses:  responses,
		tracker:    tracker,
		approval:   approval,
	}
}

// ExecuteToolCall runs one tool call end to end: approval, routing,
// argument normalization, dispatch, one schema-repair retry, and
// response bounding.
func (e *ToolExecutor) ExecuteToolCall(ctx context.Context, call ToolCall, opts ExecuteOptions) ToolResult {
	if e.approval != nil && e.approval.RequireApproval() && !opts.ApprovalHandled {
		approved, err := e.approval.Approve(ctx, call)
		if err != nil {
			return ErrorResult("Tool approval failed: %v", err)
		}
		if !approved {
			return ErrorResult("Tool call %q was denied by the user", call.Name)
		}
	}

	if e.tracker != nil {
		server, tool, _ := SplitToolName(call.Name)
		e.tracker.TouchFromArgs(server, tool, call.Arguments)
	}

	if e.builtins != nil {
		if server, tool, ok := SplitToolName(call.Name); ok && server == BuiltinNamespace {
			if builtin, found := e.builtins.Lookup(tool); found {
				return e.runBuiltin(ctx, builtin, call)
			}
			return e.notFound(ctx, call.Name)
		}
	}

	serverName, toolName, qualified := SplitToolName(call.Name)
	if !qualified {
		resolved, result := e.resolveUnqualified(ctx, call.Name)
		if result != nil {
			return *result
		}
		serverName, toolName, _ = SplitToolName(resolved)
	}

	// Bare names can resolve back into the builtin namespace.
	if serverName == BuiltinNamespace && e.builtins != nil {
		if builtin, found := e.builtins.Lookup(toolName); found {
			return e.runBuiltin(ctx, builtin, call)
		}
		return e.notFound(ctx, call.Name)
	}

	if !e.source.IsServerUsable(serverName) {
		return e.notFound(ctx, call.Name)
	}
	if !e.source.IsToolEnabled(QualifyToolName(serverName, toolName)) {
		return ErrorResult("Tool %q is disabled by the active profile", QualifyToolName(serverName, toolName))
	}

	args := e.normalizeArgs(ctx, serverName, toolName, call.Arguments)

	result, err := e.source.CallServerTool(ctx, serverName, toolName, args)
	if retryArgs, retry := e.repairArgs(args, result, err); retry {
		e.logger.Debug("retrying tool call with repaired argument keys",
			"server", serverName, "tool", toolName)
		result, err = e.source.CallServerTool(ctx, serverName, toolName, retryArgs)
	}
	if err != nil {
		return ErrorResult("Tool %q failed: %v", call.Name, err)
	}

	return e.boundResponse(ctx, call.Name, result)
}

func (e *ToolExecutor) runBuiltin(ctx context.Context, builtin BuiltinTool, call ToolCall) ToolResult {
	args := e.normalizer.Normalize(call.Arguments, builtin.InputSchema)
	result, err := builtin.Run(ctx, args)
	if err != nil {
		return ErrorResult("Built-in tool %q failed: %v", call.Name, err)
	}
	return result
}

// resolveUnqualified maps a bare tool name to its unique qualified
// form. Models sometimes strip the server prefix; when exactly one
// enabled tool carries the name, dispatch proceeds as if qualified.
func (e *ToolExecutor) resolveUnqualified(ctx context.Context, name string) (string, *ToolResult) {
	tools, err := e.source.ListAllTools(ctx)
	if err != nil {
		r := ErrorResult("Tool %q not found or not connected: %v", name, err)
		return "", &r
	}

	var matches []string
	for _, t := range tools {
		if t.Name == name && e.source.IsToolEnabled(QualifyToolName(t.Server, t.Name)) {
			matches = append(matches, QualifyToolName(t.Server, t.Name))
		}
	}

	if len(matches) == 1 {
		return matches[0], nil
	}

	var r ToolResult
	if len(matches) == 0 {
		r = ErrorResult("Tool %q not found or not connected. Available tools: %s",
			name, availableNames(tools))
	} else {
		r = ErrorResult("Tool name %q is ambiguous: %s. Use the server-qualified name.",
			name, strings.Join(matches, ", "))
	}
	return "", &r
}

func (e *ToolExecutor) notFound(ctx context.Context, name string) ToolResult {
	tools, err := e.source.ListAllTools(ctx)
	if err != nil || len(tools) == 0 {
		return ErrorResult("Tool %q not found or not connected", name)
	}
	return ErrorResult("Tool %q not found or not connected. Available tools: %s",
		name, availableNames(tools))
}

func (e *ToolExecutor) normalizeArgs(ctx context.Context, serverName, toolName string, args map[string]any) map[string]any {
	schema := e.lookupSchema(ctx, serverName, toolName)
	normalized := e.normalizer.Normalize(args, schema)
	if err := ValidateArguments(normalized, schema); err != nil {
		// Advisory only; the server stays authoritative.
		e.logger.Debug("arguments failed local schema validation",
			"server", serverName, "tool", toolName, "error", err)
	}
	return normalized
}

func (e *ToolExecutor) lookupSchema(ctx context.Context, serverName, toolName string) []byte {
	tools, err := e.source.ListAllTools(ctx)
	if err != nil {
		return nil
	}
	for _, t := range tools {
		if t.Server == serverName && t.Name == toolName {
			return t.InputSchema
		}
	}
	return nil
}

// repairArgs decides whether to retry once with snake_case keys
// rewritten to camelCase. Triggered only by a server-side schema
// error, and only when the rewrite actually changes a key.
func (e *ToolExecutor) repairArgs(args map[string]any, result ToolResult, err error) (map[string]any, bool) {
	var message string
	switch {
	case err != nil:
		message = err.Error()
	case result.IsError:
		message = result.Text()
	default:
		return nil, false
	}

	if !isSchemaErrorMessage(message) {
		return nil, false
	}

	repaired := SnakeToCamelKeys(args)
	if len(repaired) != len(args) {
		return nil, false
	}
	changed := false
	for k := range repaired {
		if _, existed := args[k]; !existed {
			changed = true
			break
		}
	}
	if !changed {
		return renameForMissingField(args, message)
	}
	return repaired, true
}

// missingFieldPattern extracts the field name from a server-side
// schema error so a camelCase argument can be matched back to the
// snake_case field the server expects.
var missingFieldPattern = regexp.MustCompile(
	`(?i)(?:missing field|required property|field|property)\s+["']?([A-Za-z0-9_]+)["']?` +
		`|["']([A-Za-z0-9_]+)["']\s+is required`)

func renameForMissingField(args map[string]any, message string) (map[string]any, bool) {
	m := missingFieldPattern.FindStringSubmatch(message)
	if m == nil {
		return nil, false
	}
	want := m[1]
	if want == "" {
		want = m[2]
	}
	if _, present := args[want]; present {
		return nil, false
	}

	for k, v := range args {
		if k == want || camelToSnake(k) != want {
			continue
		}
		out := make(map[string]any, len(args))
		for k2, v2 := range args {
			out[k2] = v2
		}
		delete(out, k)
		out[want] = v
		return out, true
	}
	return nil, false
}

func isSchemaErrorMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range []string{
		"missing field",
		"invalid arguments",
		"invalid argument",
		"required property",
		"is required",
		"invalid_type",
		"did not match schema",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// boundResponse applies the response ceiling, and adaptive
// summarization when configured, to text-bearing results.
func (e *ToolExecutor) boundResponse(ctx context.Context, toolName string, result ToolResult) ToolResult {
	text := result.Text()
	if text == "" {
		return result
	}

	var bounded string
	if e.responses != nil {
		bounded = e.responses.ProcessLargeToolResponse(ctx, toolName, text, nil)
	} else {
		bounded = FilterToolResponse(text)
	}
	if bounded == text {
		return result
	}

	// Part order is significant. The bounded text takes the place of
	// the first text part; later text parts are dropped because the
	// bounded text already covers their concatenation.
	out := ToolResult{IsError: result.IsError}
	replaced := false
	for _, item := range result.Content {
		if item.Type != "text" {
			out.Content = append(out.Content, item)
			continue
		}
		if !replaced {
			out.Content = append(out.Content, ContentItem{Type: "text", Text: bounded})
			replaced = true
		}
	}
	return out
}

// availableNames renders the server-qualified tool names, sorted, for
// error messages that help the model self-correct.
func availableNames(tools []ToolDescriptor) string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, QualifyToolName(t.Server, t.Name))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// FormatToolList renders tools one per line as
// "- server:tool - description".
func FormatToolList(tools []ToolDescriptor) string {
	sorted := make([]ToolDescriptor, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Server != sorted[j].Server {
			return sorted[i].Server < sorted[j].Server
		}
		return sorted[i].Name < sorted[j].Name
	})

	var b strings.Builder
	for _, t := range sorted {
		fmt.Fprintf(&b, "- %s - %s\n", QualifyToolName(t.Server, t.Name), t.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
