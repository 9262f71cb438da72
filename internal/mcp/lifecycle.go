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
	"strings"
	"sync"
)

// StderrSink receives diagnostic output lines from stdio servers.
type StderrSink func(serverName, line string)

// managedServer is the lifecycle state for one server.
type managedServer struct {
	config       ServerConfig
	state        ConnectionState
	client       *Client
	toolCount    int
	lastError    string
	requiresAuth bool

	// cancelScope aborts in-flight elicitation/sampling requests when
	// the server is torn down.
	cancelScope context.CancelFunc
}

// ServerLifecycleManager drives each server through
// uninitialized -> connecting -> connected -> (error | closed).
type ServerLifecycleManager struct {
	logger     *slog.Logger
	transports *TransportFactory
	oauth      *OAuthManager
	elicitor   Elicitor
	sampling   SamplingGate
	stderr     StderrSink

	mu      sync.Mutex
	servers map[string]*managedServer
}

// NewServerLifecycleManager creates the manager. oauth, elicitor,
// sampling, and stderr may be nil.
func NewServerLifecycleManager(transports *TransportFactory, oauth *OAuthManager, elicitor Elicitor, sampling SamplingGate, stderr StderrSink, logger *slog.Logger) *ServerLifecycleManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerLifecycleManager{
		logger:     logger,
		transports: transports,
		oauth:      oauth,
		elicitor:   elicitor,
		sampling:   sampling,
		stderr:     stderr,
		servers:    make(map[string]*managedServer),
	}
}

// InitializeServer connects and handshakes one server. allowAutoOAuth
// permits a single OAuth-and-retry cycle on a 401 over streaming HTTP;
// it is true only for user-triggered starts and restarts. During
// silent startup reconnection a 401 marks the server as requiring
// manual authentication instead.
func (m *ServerLifecycleManager) InitializeServer(ctx context.Context, cfg ServerConfig, allowAutoOAuth bool) error {
	cfg, _ = NormalizeServerConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if existing, ok := m.servers[cfg.Name]; ok && existing.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	srv := &managedServer{config: cfg, state: StateConnecting}
	m.servers[cfg.Name] = srv
	m.mu.Unlock()

	m.logger.Info("connecting to MCP server", "server", cfg.Name,
		"transport", string(InferTransportType(cfg)))

	client, tools, cancelScope, err := m.connect(ctx, cfg)

	if err != nil && isUnauthorized(err) && InferTransportType(cfg) == TransportStreamableHTTP {
		if !allowAutoOAuth || m.oauth == nil {
			authErr := ErrAuthRequired(cfg.Name)
			m.recordError(cfg.Name, authErr.Error(), true)
			return authErr
		}

		m.logger.Info("server returned 401, starting OAuth flow", "server", cfg.Name)
		if oauthErr := m.oauth.Handle401AndRetry(ctx, cfg.Name, cfg, true); oauthErr != nil {
			m.recordError(cfg.Name, oauthErr.Error(), true)
			return oauthErr
		}
		client, tools, cancelScope, err = m.connect(ctx, cfg)
	}

	if err != nil {
		m.recordError(cfg.Name, err.Error(), false)
		return ErrConnectFailed(cfg.Name, err)
	}

	m.mu.Lock()
	srv = m.servers[cfg.Name]
	if srv == nil || srv.state == StateClosed {
		// Torn down while connecting.
		m.mu.Unlock()
		cancelScope()
		_ = client.Close()
		return ErrConnectionClosed(cfg.Name)
	}
	srv.state = StateConnected
	srv.client = client
	srv.toolCount = len(tools)
	srv.lastError = ""
	srv.requiresAuth = false
	srv.cancelScope = cancelScope
	m.mu.Unlock()

	m.logger.Info("MCP server connected", "server", cfg.Name, "tools", len(tools))
	return nil
}

// connect builds the transport, performs the handshake, and lists
// tools. The returned cancel func aborts inbound server-initiated
// requests scoped to this connection.
func (m *ServerLifecycleManager) connect(ctx context.Context, cfg ServerConfig) (*Client, []ToolDescriptor, context.CancelFunc, error) {
	connectCtx, cancelConnect := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancelConnect()

	var getToken TokenProvider
	if m.oauth != nil {
		serverName, serverCfg := cfg.Name, cfg
		getToken = func(ctx context.Context) (string, error) {
			return m.oauth.GetValidToken(ctx, serverName, serverCfg)
		}
	}

	tr, err := m.transports.CreateTransport(connectCtx, cfg.Name, cfg, getToken)
	if err != nil {
		return nil, nil, nil, err
	}

	scope, cancelScope := context.WithCancel(context.Background())

	opts := ClientOptions{
		ServerName: cfg.Name,
		Timeout:    cfg.Timeout,
		Elicitor:   scopedElicitor{inner: m.elicitor, scope: scope},
		Sampling:   scopedSampling{inner: m.sampling, scope: scope},
	}
	if m.stderr != nil {
		serverName := cfg.Name
		opts.OnStderrLine = func(line string) { m.stderr(serverName, line) }
	}

	client, err := Connect(connectCtx, tr, opts)
	if err != nil {
		cancelScope()
		if connectCtx.Err() == context.DeadlineExceeded {
			return nil, nil, nil, ErrConnectTimeout(cfg.Name, int(cfg.ConnectTimeout().Seconds()))
		}
		return nil, nil, nil, err
	}

	tools, err := client.ListTools(connectCtx)
	if err != nil {
		cancelScope()
		_ = client.Close()
		return nil, nil, nil, err
	}

	return client, tools, cancelScope, nil
}

// StopServer tears one server down. Idempotent: unknown or already
// closed servers are a no-op. In-flight inbound requests scoped to the
// server are cancelled.
func (m *ServerLifecycleManager) StopServer(name string) error {
	m.mu.Lock()
	srv, ok := m.servers[name]
	if !ok || srv.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	client := srv.client
	cancelScope := srv.cancelScope
	srv.state = StateClosed
	srv.client = nil
	srv.cancelScope = nil
	srv.toolCount = 0
	m.mu.Unlock()

	if cancelScope != nil {
		cancelScope()
	}
	if client != nil {
		if err := client.Close(); err != nil {
			m.logger.Warn("error closing MCP client", "server", name, "error", err)
		}
	}

	m.logger.Info("MCP server stopped", "server", name)
	return nil
}

// RestartServer stops and re-initializes a server. Auto-OAuth is
// allowed because a restart is user-triggered.
func (m *ServerLifecycleManager) RestartServer(ctx context.Context, name string) error {
	m.mu.Lock()
	srv, ok := m.servers[name]
	if !ok {
		m.mu.Unlock()
		return ErrServerNotFound(name)
	}
	cfg := srv.config
	m.mu.Unlock()

	if err := m.StopServer(name); err != nil {
		return err
	}
	return m.InitializeServer(ctx, cfg, true)
}

// TestServerConnection connects, lists tools, and always tears the
// connection down. It never touches managed state; use it to validate
// a config before saving it.
func (m *ServerLifecycleManager) TestServerConnection(ctx context.Context, cfg ServerConfig) ([]ToolDescriptor, error) {
	cfg, _ = NormalizeServerConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, tools, cancelScope, err := m.connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cancelScope()
	_ = client.Close()
	return tools, nil
}

// ServerStatus reports the lifecycle state of one server.
func (m *ServerLifecycleManager) ServerStatus(name string) (ServerRuntimeState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.servers[name]
	if !ok {
		return ServerRuntimeState{Name: name, State: StateUninitialized}, false
	}
	return srv.runtimeState(), true
}

// ServerStatuses reports the lifecycle state of every known server.
func (m *ServerLifecycleManager) ServerStatuses() []ServerRuntimeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ServerRuntimeState, 0, len(m.servers))
	for _, srv := range m.servers {
		out = append(out, srv.runtimeState())
	}
	return out
}

func (s *managedServer) runtimeState() ServerRuntimeState {
	return ServerRuntimeState{
		Name:         s.config.Name,
		State:        s.state,
		Connected:    s.state == StateConnected,
		ToolCount:    s.toolCount,
		Error:        s.lastError,
		RequiresAuth: s.requiresAuth,
	}
}

// Client returns the connected client for a server, or false when the
// server is unknown or not connected.
func (m *ServerLifecycleManager) Client(name string) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.servers[name]
	if !ok || srv.state != StateConnected || srv.client == nil {
		return nil, false
	}
	return srv.client, true
}

// ConnectedServers returns the names of all connected servers, for
// tool listing and prefixless resolution.
func (m *ServerLifecycleManager) ConnectedServers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name, srv := range m.servers {
		if srv.state == StateConnected {
			names = append(names, name)
		}
	}
	return names
}

// IsInitialized reports whether a server has reached the connected
// state at least once and has not been stopped.
func (m *ServerLifecycleManager) IsInitialized(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.servers[name]
	return ok && srv.state == StateConnected
}

// StopAll tears down every server. Safe with connections in any state.
func (m *ServerLifecycleManager) StopAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		_ = m.StopServer(name)
	}
}

// EmergencyStopAll force-terminates every server, killing stdio
// subprocesses outright. Never panics regardless of connection state;
// double-close is absorbed.
func (m *ServerLifecycleManager) EmergencyStopAll() {
	m.mu.Lock()
	var procs []ProcessHandle
	for _, srv := range m.servers {
		if srv.client != nil {
			if p := srv.client.Process(); p != nil {
				procs = append(procs, p)
			}
		}
	}
	m.mu.Unlock()

	m.StopAll()

	for _, p := range procs {
		_ = p.Kill()
	}
}

// recordError moves a server into the error state.
func (m *ServerLifecycleManager) recordError(name, message string, requiresAuth bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.servers[name]
	if !ok {
		return
	}
	srv.state = StateError
	srv.lastError = message
	srv.requiresAuth = requiresAuth
}

// isUnauthorized detects an HTTP 401 from a transport-level error.
func isUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized")
}

// scopedElicitor cancels elicitation requests when the owning server
// connection is torn down.
type scopedElicitor struct {
	inner Elicitor
	scope context.Context
}

func (s scopedElicitor) Elicit(ctx context.Context, req ElicitationRequest) (ElicitationResult, error) {
	if s.inner == nil {
		return ElicitationResult{Action: "decline"}, nil
	}
	ctx, cancel := scopedContext(ctx, s.scope)
	defer cancel()
	return s.inner.Elicit(ctx, req)
}

// scopedSampling cancels sampling requests when the owning server
// connection is torn down.
type scopedSampling struct {
	inner SamplingGate
	scope context.Context
}

func (s scopedSampling) Approve(ctx context.Context, req SamplingRequest) (bool, error) {
	if s.inner == nil {
		return false, nil
	}
	ctx, cancel := scopedContext(ctx, s.scope)
	defer cancel()
	return s.inner.Approve(ctx, req)
}

func (s scopedSampling) Complete(ctx context.Context, req SamplingRequest) (SamplingResult, error) {
	if s.inner == nil {
		return SamplingResult{}, context.Canceled
	}
	ctx, cancel := scopedContext(ctx, s.scope)
	defer cancel()
	return s.inner.Complete(ctx, req)
}

// scopedContext derives a context cancelled when either parent is done.
func scopedContext(parent, scope context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(scope, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
