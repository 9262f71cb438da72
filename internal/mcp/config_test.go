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
	"strings"
	"testing"
)

func TestInferTransportType(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want TransportType
	}{
		{"explicit stdio", ServerConfig{Transport: TransportStdio, URL: "https://x"}, TransportStdio},
		{"explicit websocket", ServerConfig{Transport: TransportWebSocket}, TransportWebSocket},
		{"explicit http", ServerConfig{Transport: TransportStreamableHTTP}, TransportStreamableHTTP},
		{"ws url", ServerConfig{URL: "ws://localhost:8080/mcp"}, TransportWebSocket},
		{"wss url", ServerConfig{URL: "wss://example.com/mcp"}, TransportWebSocket},
		{"http url", ServerConfig{URL: "http://localhost:3000/mcp"}, TransportStreamableHTTP},
		{"https url", ServerConfig{URL: "https://example.com/mcp"}, TransportStreamableHTTP},
		{"no url", ServerConfig{Command: "npx"}, TransportStdio},
		{"unrecognized scheme", ServerConfig{URL: "ftp://example.com"}, TransportStdio},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferTransportType(tt.cfg); got != tt.want {
				t.Errorf("InferTransportType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeServerConfigIdempotent(t *testing.T) {
	tests := []struct {
		name        string
		cfg         ServerConfig
		wantChanged bool
		wantType    TransportType
	}{
		{"infers websocket", ServerConfig{Name: "a", URL: "wss://x/mcp"}, true, TransportWebSocket},
		{"infers http", ServerConfig{Name: "a", URL: "https://x/mcp"}, true, TransportStreamableHTTP},
		{"infers stdio", ServerConfig{Name: "a", Command: "npx"}, true, TransportStdio},
		{"explicit unchanged", ServerConfig{Name: "a", Transport: TransportStdio, Command: "npx"}, false, TransportStdio},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			normalized, changed := NormalizeServerConfig(tt.cfg)
			if changed != tt.wantChanged {
				t.Errorf("first pass changed = %v, want %v", changed, tt.wantChanged)
			}
			if normalized.Transport != tt.wantType {
				t.Errorf("transport = %v, want %v", normalized.Transport, tt.wantType)
			}

			// Normalizing a normalized config must be a no-op.
			again, changedAgain := NormalizeServerConfig(normalized)
			if changedAgain {
				t.Error("second pass reported changed = true")
			}
			if again.Transport != normalized.Transport {
				t.Errorf("second pass transport = %v, want %v", again.Transport, normalized.Transport)
			}
		})
	}
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"valid stdio", ServerConfig{Name: "fs", Transport: TransportStdio, Command: "npx"}, false},
		{"valid http", ServerConfig{Name: "api", Transport: TransportStreamableHTTP, URL: "https://example.com/mcp"}, false},
		{"valid websocket", ServerConfig{Name: "socket", Transport: TransportWebSocket, URL: "wss://example.com"}, false},
		{"stdio without command", ServerConfig{Name: "fs", Transport: TransportStdio}, true},
		{"http without url", ServerConfig{Name: "api", Transport: TransportStreamableHTTP}, true},
		{"bad name", ServerConfig{Name: "9lives", Transport: TransportStdio, Command: "npx"}, true},
		{"injection in arg", ServerConfig{Name: "fs", Transport: TransportStdio, Command: "npx", Args: []string{"a;rm -rf"}}, true},
		{"negative timeout", ServerConfig{Name: "fs", Transport: TransportStdio, Command: "npx", Timeout: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConnectTimeoutDefault(t *testing.T) {
	cfg := ServerConfig{Name: "a"}
	if got := cfg.ConnectTimeout(); got != DefaultConnectTimeout {
		t.Errorf("ConnectTimeout() = %v, want %v", got, DefaultConnectTimeout)
	}
}

func TestRedactEnv(t *testing.T) {
	env := map[string]string{
		"API_KEY":   "sk-12345",
		"AUTH_TOKEN": "abc",
		"HOME":      "/home/user",
	}
	redacted := RedactEnv(env)

	if redacted["HOME"] != "/home/user" {
		t.Errorf("HOME was redacted: %q", redacted["HOME"])
	}
	if strings.Contains(redacted["API_KEY"], "12345") {
		t.Errorf("API_KEY not redacted: %q", redacted["API_KEY"])
	}
	if strings.Contains(redacted["AUTH_TOKEN"], "abc") {
		t.Errorf("AUTH_TOKEN not redacted: %q", redacted["AUTH_TOKEN"])
	}
	// Input must not be mutated.
	if env["API_KEY"] != "sk-12345" {
		t.Error("RedactEnv mutated its input")
	}
}
