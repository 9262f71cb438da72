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
	"strings"
	"testing"
	"time"
)

func runBuiltinTool(t *testing.T, r *BuiltinRegistry, name string, args map[string]any) ToolResult {
	t.Helper()
	tool, ok := r.Lookup(name)
	if !ok {
		t.Fatalf("builtin %q not registered", name)
	}
	result, err := tool.Run(context.Background(), args)
	if err != nil {
		t.Fatalf("builtin %q returned Go error: %v", name, err)
	}
	return result
}

func TestBuiltinGetTime(t *testing.T) {
	r := NewBuiltinRegistry(nil)

	result := runBuiltinTool(t, r, "get_time", nil)
	if result.IsError {
		t.Fatalf("error: %s", result.Text())
	}
	if _, err := time.Parse(time.RFC3339, result.Text()); err != nil {
		t.Errorf("default output is not RFC 3339: %q", result.Text())
	}

	result = runBuiltinTool(t, r, "get_time", map[string]any{"format": "2006-01-02"})
	if _, err := time.Parse("2006-01-02", result.Text()); err != nil {
		t.Errorf("custom layout not honored: %q", result.Text())
	}
}

func TestBuiltinJSONQuery(t *testing.T) {
	r := NewBuiltinRegistry(nil)

	tests := []struct {
		name      string
		args      map[string]any
		wantErr   bool
		wantInOut string
	}{
		{
			"field access",
			map[string]any{"query": ".name", "json": `{"name":"murmur"}`},
			false, `"murmur"`,
		},
		{
			"array map",
			map[string]any{"query": "[.[] | .id]", "json": `[{"id":1},{"id":2}]`},
			false, "2",
		},
		{
			"invalid expression",
			map[string]any{"query": ".[unterminated", "json": `{}`},
			true, "invalid jq expression",
		},
		{
			"invalid document",
			map[string]any{"query": ".", "json": "not json"},
			true, "invalid JSON document",
		},
		{
			"missing args",
			map[string]any{"query": "."},
			true, "requires both",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := runBuiltinTool(t, r, "json_query", tt.args)
			if result.IsError != tt.wantErr {
				t.Fatalf("IsError = %v, want %v (text %q)", result.IsError, tt.wantErr, result.Text())
			}
			if !strings.Contains(result.Text(), tt.wantInOut) {
				t.Errorf("text %q missing %q", result.Text(), tt.wantInOut)
			}
		})
	}
}

func TestBuiltinJSONQueryStopsOnCancel(t *testing.T) {
	r := NewBuiltinRegistry(nil)
	tool, ok := r.Lookup("json_query")
	if !ok {
		t.Fatal("json_query not registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// An unbounded expression must stop with the context instead of
	// evaluating forever.
	done := make(chan ToolResult, 1)
	go func() {
		result, _ := tool.Run(ctx, map[string]any{
			"query": "until(false; . + 1)",
			"json":  "0",
		})
		done <- result
	}()

	select {
	case result := <-done:
		if !result.IsError {
			t.Fatalf("expected timeout error, got %q", result.Text())
		}
		if !strings.Contains(result.Text(), "timed out") {
			t.Errorf("text = %q, want timeout message", result.Text())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("evaluation did not stop with the cancelled context")
	}
}

type staticLister struct{ tools []ToolDescriptor }

func (s staticLister) ListAllTools(ctx context.Context) ([]ToolDescriptor, error) {
	return s.tools, nil
}

func TestBuiltinListTools(t *testing.T) {
	lister := staticLister{tools: []ToolDescriptor{
		{Name: "read_file", Server: "filesystem", Description: "Read a file"},
	}}
	r := NewBuiltinRegistry(lister)

	result := runBuiltinTool(t, r, "list_tools", nil)
	if result.IsError {
		t.Fatalf("error: %s", result.Text())
	}
	if !strings.Contains(result.Text(), "- filesystem:read_file - Read a file") {
		t.Errorf("text = %q", result.Text())
	}
}

func TestBuiltinRegistryIsBuiltin(t *testing.T) {
	r := NewBuiltinRegistry(nil)

	tests := []struct {
		name string
		want bool
	}{
		{"builtin:get_time", true},
		{"builtin:json_query", true},
		{"builtin:unknown", false},
		{"filesystem:read_file", false},
		{"get_time", false},
	}
	for _, tt := range tests {
		if got := r.IsBuiltin(tt.name); got != tt.want {
			t.Errorf("IsBuiltin(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
