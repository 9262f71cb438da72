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

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("server connected", slog.String(ServerKey, "github"), slog.Int("tool_count", 12))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "server connected", entry["msg"])
	assert.Equal(t, "github", entry["server"])
	assert.Equal(t, float64(12), entry["tool_count"])
}

func TestNewTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatText, Output: &buf})

	logger.Debug("tool call dispatched", slog.String(ToolKey, "fs_read"))

	out := buf.String()
	assert.Contains(t, out, "tool call dispatched")
	assert.Contains(t, out, "tool=fs_read")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatJSON, Output: &buf})

	logger.Info("should be dropped")
	logger.Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should be dropped")
	assert.Contains(t, out, "should appear")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("MURMUR_DEBUG", "")
	t.Setenv("MURMUR_LOG_LEVEL", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_SOURCE", "")

	cfg := FromEnv()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, FormatJSON, cfg.Format)

	t.Setenv("MURMUR_DEBUG", "1")
	cfg = FromEnv()
	assert.Equal(t, "debug", cfg.Level)
	assert.True(t, cfg.AddSource)

	t.Setenv("MURMUR_DEBUG", "")
	t.Setenv("MURMUR_LOG_LEVEL", "ERROR")
	t.Setenv("LOG_FORMAT", "text")
	cfg = FromEnv()
	assert.Equal(t, "error", cfg.Level)
	assert.Equal(t, FormatText, cfg.Format)
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	l := WithComponent(logger, "mcp")
	l = WithSession(l, "sess-42")
	l = WithServer(l, "filesystem")
	l.Info("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "mcp", entry["component"])
	assert.Equal(t, "sess-42", entry["session_id"])
	assert.Equal(t, "filesystem", entry["server"])
}

func TestSanitizeAPIKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "[REDACTED]"},
		{"abc", "[REDACTED]"},
		{"sk-1234567890", "...7890"},
	}

	for _, tt := range tests {
		if got := SanitizeAPIKey(tt.in); got != tt.want {
			t.Errorf("SanitizeAPIKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "trace", Format: FormatJSON, Output: &buf})

	Trace(logger, "raw request", String("body", "{}"))
	require.True(t, strings.Contains(buf.String(), "raw request"))

	buf.Reset()
	logger = New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	Trace(logger, "raw request")
	assert.Empty(t, buf.String())
}
