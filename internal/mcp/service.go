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
	"log/slog"
	"sync"
	"time"
)

// ConfigProvider supplies the externally persisted server and profile
// configuration.
type ConfigProvider interface {
	ServerConfigs() ([]ServerConfig, error)
	ActiveProfile() (*ProfileMcpServerConfig, error)
}

// toolCacheTTL bounds staleness of the aggregated tool catalog.
const toolCacheTTL = 30 * time.Second

type cachedTools struct {
	tools     []ToolDescriptor
	fetchedAt time.Time
}

// MCPService is the facade over server lifecycle, state, OAuth, and
// tool execution. One instance per process, constructed at startup and
// threaded explicitly to whichever component needs it.
type MCPService struct {
	logger    *slog.Logger
	configs   ConfigProvider
	lifecycle *ServerLifecycleManager
	state     *ServerStateManager
	executor  *ToolExecutor
	builtins  *BuiltinRegistry
	oauth     *OAuthManager
	logs      *LogCapture
	tracker   *ResourceTracker

	// initCh collapses concurrent Initialize calls onto one in-flight
	// pass; initErr is that pass's outcome.
	initMu   sync.Mutex
	initCh   chan struct{}
	initErr  error
	initDone bool

	cacheMu   sync.Mutex
	toolCache map[string]cachedTools
}

// ServiceOptions wires the service's collaborators.
type ServiceOptions struct {
	Configs   ConfigProvider
	ConfigDir string

	// Elicitor handles server-initiated user-input requests. Optional.
	Elicitor Elicitor

	// Sampling approves and runs server-initiated completions. Optional.
	Sampling SamplingGate

	// Approval gates tool execution. Optional.
	Approval ApprovalGate

	// Summarizer condenses oversized tool responses. Optional.
	Summarizer Summarizer

	// Responses tunes summarization thresholds.
	Responses ResponseProcessorConfig

	// RuntimeState persists user server toggles. Optional.
	RuntimeState RuntimeStateStore

	// PersistOAuth saves synthesized OAuth configs. Optional.
	PersistOAuth OAuthConfigPersister

	// OpenBrowser launches authorization URLs. Optional.
	OpenBrowser BrowserOpener

	Logger *slog.Logger
}

// NewMCPService wires the full service graph.
func NewMCPService(opts ServiceOptions) *MCPService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &MCPService{
		logger:    logger,
		configs:   opts.Configs,
		logs:      NewLogCapture(),
		tracker:   NewResourceTracker(0),
		toolCache: make(map[string]cachedTools),
	}

	s.oauth = NewOAuthManager(opts.ConfigDir, opts.PersistOAuth, opts.OpenBrowser, logger)
	s.state = NewServerStateManager(opts.RuntimeState, logger)
	s.lifecycle = NewServerLifecycleManager(
		NewTransportFactory(logger),
		s.oauth,
		opts.Elicitor,
		opts.Sampling,
		s.logs.Sink(),
		logger,
	)
	s.builtins = NewBuiltinRegistry(s)

	responses := NewResponseProcessor(opts.Responses, opts.Summarizer, logger)
	s.executor = NewToolExecutor(s, s.builtins, responses, s.tracker, opts.Approval, logger)

	s.tracker.StartSweeper(0)
	return s
}

// Initialize connects every server worth connecting. Safe to call
// concurrently and repeatedly: concurrent calls collapse onto a single
// in-flight pass, and later calls only touch servers not yet
// initialized. Startup is silent, so a 401 never triggers a browser
// flow here.
func (s *MCPService) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	if ch := s.initCh; ch != nil {
		s.initMu.Unlock()
		select {
		case <-ch:
			s.initMu.Lock()
			err := s.initErr
			s.initMu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ch := make(chan struct{})
	s.initCh = ch
	s.initMu.Unlock()

	err := s.initialize(ctx)

	s.initMu.Lock()
	s.initErr = err
	s.initCh = nil
	s.initDone = true
	close(ch)
	s.initMu.Unlock()
	return err
}

func (s *MCPService) initialize(ctx context.Context) error {
	configs, err := s.configs.ServerConfigs()
	if err != nil {
		return ErrInvalidConfig(err.Error())
	}

	profile, err := s.configs.ActiveProfile()
	if err != nil {
		s.logger.Warn("failed to load active profile", "error", err)
	} else if err := s.state.ReconcileOnStartup(profile, configs); err != nil {
		s.logger.Warn("failed to reconcile profile state", "error", err)
	}

	s.initMu.Lock()
	firstInit := !s.initDone
	s.initMu.Unlock()

	var isInitialized func(string) bool
	if !firstInit {
		isInitialized = s.lifecycle.IsInitialized
	}
	targets := s.state.ServersToInitialize(configs, isInitialized)
	if len(targets) == 0 {
		return nil
	}

	s.logger.Info("initializing MCP servers", "count", len(targets))

	var wg sync.WaitGroup
	for _, cfg := range targets {
		wg.Add(1)
		go func(cfg ServerConfig) {
			defer wg.Done()
			if err := s.lifecycle.InitializeServer(ctx, cfg, false); err != nil {
				// Recorded on the server's status; init carries on.
				s.logger.Warn("server failed to initialize",
					"server", cfg.Name, "error", err)
			}
		}(cfg)
	}
	wg.Wait()
	return nil
}

// ExecuteToolCall routes and runs one tool call. Never returns a Go
// error; failures come back as ToolResult.IsError.
func (s *MCPService) ExecuteToolCall(ctx context.Context, call ToolCall, opts ExecuteOptions) ToolResult {
	return s.executor.ExecuteToolCall(ctx, call, opts)
}

// ListAllTools aggregates built-ins plus every connected server's
// tools, filtered by profile tool disablement. Per-server results are
// cached briefly.
func (s *MCPService) ListAllTools(ctx context.Context) ([]ToolDescriptor, error) {
	tools := s.builtins.Descriptors()

	for _, name := range s.lifecycle.ConnectedServers() {
		if !s.state.IsServerRuntimeEnabled(name) {
			continue
		}
		serverTools, err := s.serverTools(ctx, name)
		if err != nil {
			s.logger.Warn("failed to list tools", "server", name, "error", err)
			continue
		}
		tools = append(tools, serverTools...)
	}

	filtered := tools[:0]
	for _, t := range tools {
		if s.state.IsToolEnabled(QualifyToolName(t.Server, t.Name)) {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

// ListAllToolsFormatted renders the catalog for a system prompt, one
// tool per line.
func (s *MCPService) ListAllToolsFormatted(ctx context.Context) (string, error) {
	tools, err := s.ListAllTools(ctx)
	if err != nil {
		return "", err
	}
	return FormatToolList(tools), nil
}

func (s *MCPService) serverTools(ctx context.Context, name string) ([]ToolDescriptor, error) {
	s.cacheMu.Lock()
	cached, ok := s.toolCache[name]
	s.cacheMu.Unlock()
	if ok && time.Since(cached.fetchedAt) < toolCacheTTL {
		return cached.tools, nil
	}

	client, connected := s.lifecycle.Client(name)
	if !connected {
		return nil, ErrConnectionClosed(name)
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.toolCache[name] = cachedTools{tools: tools, fetchedAt: time.Now()}
	s.cacheMu.Unlock()
	return tools, nil
}

func (s *MCPService) invalidateToolCache(name string) {
	s.cacheMu.Lock()
	delete(s.toolCache, name)
	s.cacheMu.Unlock()
}

// Client exposes a connected server's client.
func (s *MCPService) Client(serverName string) (*Client, bool) {
	return s.lifecycle.Client(serverName)
}

// CallServerTool dispatches a call to a connected server.
func (s *MCPService) CallServerTool(ctx context.Context, serverName, toolName string, args map[string]any) (ToolResult, error) {
	client, ok := s.lifecycle.Client(serverName)
	if !ok {
		return ToolResult{}, ErrConnectionClosed(serverName)
	}
	return client.CallTool(ctx, toolName, args)
}

// IsServerUsable reports whether a server is connected and not
// runtime-disabled.
func (s *MCPService) IsServerUsable(serverName string) bool {
	if !s.state.IsServerRuntimeEnabled(serverName) {
		return false
	}
	_, connected := s.lifecycle.Client(serverName)
	return connected
}

// IsToolEnabled reports whether the active profile allows a tool.
func (s *MCPService) IsToolEnabled(qualifiedName string) bool {
	return s.state.IsToolEnabled(qualifiedName)
}

// StartServer connects one server on user request; auto-OAuth is
// allowed.
func (s *MCPService) StartServer(ctx context.Context, name string) error {
	cfg, err := s.findConfig(name)
	if err != nil {
		return err
	}
	s.invalidateToolCache(name)
	return s.lifecycle.InitializeServer(ctx, cfg, true)
}

// StopServer tears one server down. Idempotent.
func (s *MCPService) StopServer(name string) error {
	s.invalidateToolCache(name)
	return s.lifecycle.StopServer(name)
}

// RestartServer stops and reconnects a server with auto-OAuth allowed.
func (s *MCPService) RestartServer(ctx context.Context, name string) error {
	s.invalidateToolCache(name)
	return s.lifecycle.RestartServer(ctx, name)
}

// TestServerConnection validates a config by connecting, listing
// tools, and tearing down. Managed state is never touched.
func (s *MCPService) TestServerConnection(ctx context.Context, cfg ServerConfig) ([]ToolDescriptor, error) {
	return s.lifecycle.TestServerConnection(ctx, cfg)
}

// SetServerEnabled toggles a server at runtime, stopping it when
// disabled and connecting it when enabled.
func (s *MCPService) SetServerEnabled(ctx context.Context, name string, enabled bool) error {
	if err := s.state.SetServerRuntimeEnabled(name, enabled); err != nil {
		return err
	}
	if !enabled {
		return s.StopServer(name)
	}
	return s.StartServer(ctx, name)
}

// ApplyProfileConfig swaps in a profile's server scoping and
// reconciles running servers against it.
func (s *MCPService) ApplyProfileConfig(ctx context.Context, profile ProfileMcpServerConfig) error {
	configs, err := s.configs.ServerConfigs()
	if err != nil {
		return ErrInvalidConfig(err.Error())
	}
	if err := s.state.ApplyProfileConfig(profile, configs); err != nil {
		return err
	}

	for _, name := range s.lifecycle.ConnectedServers() {
		if !s.state.IsServerRuntimeEnabled(name) {
			_ = s.StopServer(name)
		}
	}
	return nil
}

// ServerStatuses merges lifecycle state with runtime and config
// disablement for every configured server.
func (s *MCPService) ServerStatuses() []ServerRuntimeState {
	configs, err := s.configs.ServerConfigs()
	if err != nil {
		return s.lifecycle.ServerStatuses()
	}

	out := make([]ServerRuntimeState, 0, len(configs))
	for _, cfg := range configs {
		status, _ := s.lifecycle.ServerStatus(cfg.Name)
		status.Name = cfg.Name
		status.RuntimeEnabled = s.state.IsServerRuntimeEnabled(cfg.Name)
		status.ConfigDisabled = cfg.Disabled
		out = append(out, status)
	}
	return out
}

// CompleteOAuthFlow finishes a pending browser flow; called by the
// host's callback listener.
func (s *MCPService) CompleteOAuthFlow(ctx context.Context, code, state string) error {
	return s.oauth.CompleteFlow(ctx, code, state)
}

// FindServerByOAuthState maps a callback state value to its server.
func (s *MCPService) FindServerByOAuthState(state string) (string, bool) {
	return s.oauth.FindServerByState(state)
}

// OAuthStatus reports a server's authentication state.
func (s *MCPService) OAuthStatus(ctx context.Context, name string) (OAuthStatus, error) {
	cfg, err := s.findConfig(name)
	if err != nil {
		return OAuthStatus{}, err
	}
	return s.oauth.Status(ctx, name, cfg), nil
}

// RevokeOAuthTokens discards a server's stored tokens.
func (s *MCPService) RevokeOAuthTokens(name string) error {
	return s.oauth.Revoke(name)
}

// ServerLogs returns recent diagnostic output for a server.
func (s *MCPService) ServerLogs(name string, lines int) []LogEntry {
	return s.logs.GetLogs(name, lines, time.Time{})
}

// Shutdown stops every server and background worker gracefully.
func (s *MCPService) Shutdown() {
	s.tracker.Stop()
	s.lifecycle.StopAll()
}

// EmergencyStop force-terminates every server process. Safe with
// connections in any state.
func (s *MCPService) EmergencyStop() {
	s.tracker.Stop()
	s.lifecycle.EmergencyStopAll()
}

func (s *MCPService) findConfig(name string) (ServerConfig, error) {
	configs, err := s.configs.ServerConfigs()
	if err != nil {
		return ServerConfig{}, ErrInvalidConfig(err.Error())
	}
	for _, cfg := range configs {
		if cfg.Name == name {
			return cfg, nil
		}
	}
	return ServerConfig{}, ErrServerNotFound(name)
}
