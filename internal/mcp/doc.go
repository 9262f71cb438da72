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

/*
Package mcp implements the Model Context Protocol client layer for
Murmur.

MCP servers expose tools the agent loop can call: file system access,
web search, database queries, or custom operations. This package owns
server lifecycle, transport selection, OAuth, tool routing, and
response bounding.

# Overview

  - MCPService: the facade the rest of the process talks to
  - ServerLifecycleManager: per-server connect/stop/restart state machine
  - TransportFactory: stdio, WebSocket, and streaming-HTTP transports
  - OAuthManager: authorization-code flow with PKCE and dynamic
    client registration, keyring-backed token storage
  - ToolExecutor: routing, argument normalization, schema repair
  - ResponseProcessor: truncation and adaptive summarization
  - ServerStateManager: runtime enable/disable with profile scoping

# Usage

Construct the service once at process start:

	svc := mcp.NewMCPService(mcp.ServiceOptions{
	    Configs:   store,
	    ConfigDir: configDir,
	    Logger:    logger,
	})
	if err := svc.Initialize(ctx); err != nil {
	    return err
	}

Execute a tool call on behalf of the model:

	result := svc.ExecuteToolCall(ctx, mcp.ToolCall{
	    Name:      "filesystem:read_file",
	    Arguments: map[string]any{"path": "/etc/hosts"},
	}, mcp.ExecuteOptions{})

Every failure mode comes back as a ToolResult with IsError set, never
as a Go error, so the model can read the failure text and self-correct.

# Server states

Servers transition uninitialized -> connecting -> connected and end in
error or closed. A 401 over streaming HTTP during a user-triggered
start runs one OAuth cycle and retries; during silent startup it marks
the server as requiring manual authentication instead.

# Tool names

Tools are namespaced "server:tool". Built-ins live under "builtin:"
and are always available. Bare names are resolved to a unique match
when the model drops the prefix.
*/
package mcp
