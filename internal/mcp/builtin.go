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
	"encoding/json"
	"errors"
	"time"

	"github.com/itchyny/gojq"
)

// BuiltinTool is a tool implemented in-process. Built-ins bypass
// server routing and are always available regardless of profile or
// runtime disablement.
type BuiltinTool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Run         func(ctx context.Context, args map[string]any) (ToolResult, error)
}

// BuiltinRegistry holds the in-process tools under the builtin
// namespace.
type BuiltinRegistry struct {
	tools map[string]BuiltinTool
}

// toolLister is satisfied by MCPService; builtin:list_tools needs the
// aggregate view.
type toolLister interface {
	ListAllTools(ctx context.Context) ([]ToolDescriptor, error)
}

// NewBuiltinRegistry creates the registry with the standard built-ins.
// lister may be nil, in which case builtin:list_tools reports only the
// built-ins themselves.
func NewBuiltinRegistry(lister toolLister) *BuiltinRegistry {
	r := &BuiltinRegistry{tools: make(map[string]BuiltinTool)}

	r.register(BuiltinTool{
		Name:        "get_time",
		Description: "Get the current date and time",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"format":{"type":"string","description":"Go reference time layout; defaults to RFC 3339"}}}`),
		Run:         runGetTime,
	})

	r.register(BuiltinTool{
		Name:        "json_query",
		Description: "Run a jq expression over a JSON document",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"jq expression"},"json":{"type":"string","description":"JSON document to query"}},"required":["query","json"]}`),
		Run:         runJSONQuery,
	})

	r.register(BuiltinTool{
		Name:        "list_tools",
		Description: "List every available tool with its server prefix",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		Run: func(ctx context.Context, args map[string]any) (ToolResult, error) {
			return runListTools(ctx, r, lister)
		},
	})

	return r
}

func (r *BuiltinRegistry) register(t BuiltinTool) {
	r.tools[t.Name] = t
}

// Lookup resolves a tool by its unqualified name.
func (r *BuiltinRegistry) Lookup(name string) (BuiltinTool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// IsBuiltin reports whether a qualified name routes to a built-in.
func (r *BuiltinRegistry) IsBuiltin(qualifiedName string) bool {
	server, tool, ok := SplitToolName(qualifiedName)
	if !ok || server != BuiltinNamespace {
		return false
	}
	_, exists := r.tools[tool]
	return exists
}

// Descriptors lists the built-ins as server-qualified descriptors.
func (r *BuiltinRegistry) Descriptors() []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Server:      BuiltinNamespace,
		})
	}
	return out
}

func runGetTime(_ context.Context, args map[string]any) (ToolResult, error) {
	layout := time.RFC3339
	if f, ok := args["format"].(string); ok && f != "" {
		layout = f
	}
	return TextResult(time.Now().Format(layout)), nil
}

// jqTimeout bounds a single expression; gojq has no internal limit and
// a pathological query would otherwise hang the executor.
const jqTimeout = 5 * time.Second

func runJSONQuery(ctx context.Context, args map[string]any) (ToolResult, error) {
	expr, _ := args["query"].(string)
	doc, _ := args["json"].(string)
	if expr == "" || doc == "" {
		return ErrorResult("json_query requires both 'query' and 'json' arguments"), nil
	}

	query, err := gojq.Parse(expr)
	if err != nil {
		return ErrorResult("invalid jq expression: %v", err), nil
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return ErrorResult("jq compilation failed: %v", err), nil
	}

	var data any
	if err := json.Unmarshal([]byte(doc), &data); err != nil {
		return ErrorResult("invalid JSON document: %v", err), nil
	}

	execCtx, cancel := context.WithTimeout(ctx, jqTimeout)
	defer cancel()

	// RunWithContext aborts evaluation when the deadline fires, so a
	// pathological query cannot outlive the timeout.
	iter := code.RunWithContext(execCtx, data)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return ErrorResult("jq execution timed out after %v", jqTimeout), nil
			}
			return ErrorResult("jq execution failed: %v", err), nil
		}
		results = append(results, v)
	}

	var result any
	switch len(results) {
	case 0:
		result = nil
	case 1:
		result = results[0]
	default:
		result = results
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return ErrorResult("failed to encode result: %v", err), nil
	}
	return TextResult(string(encoded)), nil
}

func runListTools(ctx context.Context, r *BuiltinRegistry, lister toolLister) (ToolResult, error) {
	tools := r.Descriptors()
	if lister != nil {
		all, err := lister.ListAllTools(ctx)
		if err == nil {
			tools = all
		}
	}

	text := FormatToolList(tools)
	if text == "" {
		text = "No tools available"
	}
	return TextResult(text), nil
}
