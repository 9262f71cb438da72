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
	"encoding/json"
	"reflect"
	"testing"
)

func TestNormalizeEnumSynonyms(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"priority":{"type":"string","enum":["easy","medium","hard"]}}}`)
	n := NewArgumentNormalizer()

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"synonym complex", "complex", "hard"},
		{"synonym avg", "avg", "medium"},
		{"case insensitive", "HARD", "hard"},
		{"exact match", "easy", "easy"},
		{"no match passes through", "urgent", "urgent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := n.Normalize(map[string]any{"priority": tt.value}, schema)
			if out["priority"] != tt.want {
				t.Errorf("Normalize(priority=%q) = %v, want %q", tt.value, out["priority"], tt.want)
			}
		})
	}
}

func TestNormalizeCoercions(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{
		"paths":{"type":"array","items":{"type":"string"}},
		"label":{"type":"string"},
		"count":{"type":"integer"},
		"ratio":{"type":"number"},
		"force":{"type":"boolean"}
	}}`)
	n := NewArgumentNormalizer()

	out := n.Normalize(map[string]any{
		"paths": "a.txt, b.txt,c.txt",
		"label": []any{"x", "y"},
		"count": "42",
		"ratio": "0.5",
		"force": "true",
	}, schema)

	if want := []any{"a.txt", "b.txt", "c.txt"}; !reflect.DeepEqual(out["paths"], want) {
		t.Errorf("paths = %#v, want %#v", out["paths"], want)
	}
	if out["label"] != "x,y" {
		t.Errorf("label = %v, want x,y", out["label"])
	}
	if out["count"] != int64(42) {
		t.Errorf("count = %v (%T), want 42", out["count"], out["count"])
	}
	if out["ratio"] != 0.5 {
		t.Errorf("ratio = %v, want 0.5", out["ratio"])
	}
	if out["force"] != true {
		t.Errorf("force = %v, want true", out["force"])
	}
}

func TestNormalizeLeavesUnknownKeys(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"known":{"type":"string"}}}`)
	n := NewArgumentNormalizer()

	out := n.Normalize(map[string]any{"known": "v", "extra": 7.0}, schema)
	if out["extra"] != 7.0 {
		t.Errorf("extra = %v, want 7.0", out["extra"])
	}
}

func TestNormalizeSynonymOverride(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"size":{"type":"string","enum":["small","large"]}}}`)
	n := NewArgumentNormalizer()
	n.SetSynonym("tiny", "small")

	out := n.Normalize(map[string]any{"size": "tiny"}, schema)
	if out["size"] != "small" {
		t.Errorf("size = %v, want small", out["size"])
	}
}

func TestValidateArguments(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)

	if err := ValidateArguments(map[string]any{"path": "/tmp/x"}, schema); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
	if err := ValidateArguments(map[string]any{}, schema); err == nil {
		t.Error("missing required field accepted")
	}
	if err := ValidateArguments(map[string]any{"path": "x"}, nil); err != nil {
		t.Errorf("nil schema should pass: %v", err)
	}
}

func TestSnakeToCamelKeys(t *testing.T) {
	out := SnakeToCamelKeys(map[string]any{
		"file_path":    "/tmp/x",
		"maxResults":   10,
		"long_key_abc": true,
	})

	want := map[string]any{
		"filePath":   "/tmp/x",
		"maxResults": 10,
		"longKeyAbc": true,
	}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("SnakeToCamelKeys = %#v, want %#v", out, want)
	}
}

func TestCamelToSnake(t *testing.T) {
	tests := []struct{ in, want string }{
		{"filePath", "file_path"},
		{"maxResults", "max_results"},
		{"simple", "simple"},
	}
	for _, tt := range tests {
		if got := camelToSnake(tt.in); got != tt.want {
			t.Errorf("camelToSnake(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
