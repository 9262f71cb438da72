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
	"fmt"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// defaultEnumSynonyms maps common model-produced enum values to their
// canonical counterparts. Domain-agnostic, not tool-specific.
var defaultEnumSynonyms = map[string]string{
	"complex":   "hard",
	"difficult": "hard",
	"avg":       "medium",
	"average":   "medium",
	"moderate":  "medium",
	"simple":    "easy",
	"basic":     "easy",
}

// ArgumentNormalizer coerces model-supplied tool arguments toward the
// tool's declared JSON schema before dispatch. Models routinely send
// CSV strings for arrays, quoted numbers, and near-miss enum values.
type ArgumentNormalizer struct {
	synonyms map[string]string
}

// NewArgumentNormalizer creates a normalizer with the default enum
// synonym table.
func NewArgumentNormalizer() *ArgumentNormalizer {
	syn := make(map[string]string, len(defaultEnumSynonyms))
	for k, v := range defaultEnumSynonyms {
		syn[k] = v
	}
	return &ArgumentNormalizer{synonyms: syn}
}

// SetSynonym overrides or extends the enum synonym table.
func (n *ArgumentNormalizer) SetSynonym(from, to string) {
	n.synonyms[strings.ToLower(from)] = to
}

// schemaProperty is the subset of a JSON-schema property declaration
// consulted during coercion.
type schemaProperty struct {
	Type  string            `json:"type"`
	Enum  []json.RawMessage `json:"enum"`
	Items *schemaProperty   `json:"items"`
}

type objectSchema struct {
	Properties map[string]schemaProperty `json:"properties"`
}

// Normalize returns a copy of args with each value coerced toward the
// schema's declared types. Unknown keys and unparseable schemas pass
// through untouched; coercion is best-effort, never an error.
func (n *ArgumentNormalizer) Normalize(args map[string]any, schema json.RawMessage) map[string]any {
	if len(args) == 0 {
		return args
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	if len(schema) == 0 {
		return out
	}
	var parsed objectSchema
	if err := json.Unmarshal(schema, &parsed); err != nil || parsed.Properties == nil {
		return out
	}

	for key, value := range out {
		prop, ok := parsed.Properties[key]
		if !ok {
			continue
		}
		out[key] = n.coerce(value, prop)
	}
	return out
}

func (n *ArgumentNormalizer) coerce(value any, prop schemaProperty) any {
	if len(prop.Enum) > 0 {
		if s, ok := value.(string); ok {
			return n.matchEnum(s, prop.Enum)
		}
		return value
	}

	switch prop.Type {
	case "array":
		if s, ok := value.(string); ok {
			return splitCSV(s)
		}
	case "string":
		switch v := value.(type) {
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprintf("%v", item))
			}
			return strings.Join(parts, ",")
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	case "number":
		if s, ok := value.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f
			}
		}
	case "integer":
		switch v := value.(type) {
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return i
			}
		case float64:
			if v == float64(int64(v)) {
				return int64(v)
			}
		}
	case "boolean":
		if s, ok := value.(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true", "yes", "1":
				return true
			case "false", "no", "0":
				return false
			}
		}
	}
	return value
}

// matchEnum resolves a string against an enum declaration: exact
// match, then case-insensitive match, then the synonym table followed
// by another case-insensitive pass. Unresolvable values pass through
// so the server reports the real validation error.
func (n *ArgumentNormalizer) matchEnum(value string, enum []json.RawMessage) any {
	var options []string
	for _, raw := range enum {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			// Non-string enum, leave the value alone.
			return value
		}
		options = append(options, s)
	}

	for _, opt := range options {
		if value == opt {
			return value
		}
	}
	lower := strings.ToLower(strings.TrimSpace(value))
	for _, opt := range options {
		if lower == strings.ToLower(opt) {
			return opt
		}
	}
	if mapped, ok := n.synonyms[lower]; ok {
		for _, opt := range options {
			if strings.EqualFold(mapped, opt) {
				return opt
			}
		}
	}
	return value
}

func splitCSV(s string) []any {
	if strings.TrimSpace(s) == "" {
		return []any{}
	}
	parts := strings.Split(s, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// ValidateArguments checks normalized arguments against the tool's
// declared schema. Failures are advisory; dispatch proceeds and the
// server remains the authority on argument validity.
func ValidateArguments(args map[string]any, schema json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed to run: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("arguments do not match tool schema: %s", strings.Join(problems, "; "))
}

// SnakeToCamelKeys rewrites snake_case argument keys to camelCase.
// Used for the single repair pass after a server-side schema error.
func SnakeToCamelKeys(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[snakeToCamel(k)] = v
	}
	return out
}

func snakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// camelToSnake is the inverse, used to match a camelCase argument key
// against the snake_case field a server reports missing.
func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
