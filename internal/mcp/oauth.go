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
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mark3labs/mcp-go/client/transport"
)

// DefaultOAuthRedirectURI receives authorization codes on the loopback
// interface. The host application owns the callback listener.
const DefaultOAuthRedirectURI = "http://127.0.0.1:43117/oauth/callback"

// OAuthStatus reports the authentication state of one server.
type OAuthStatus struct {
	Configured   bool `json:"configured"`
	HasToken     bool `json:"hasToken"`
	TokenExpired bool `json:"tokenExpired"`
	PendingAuth  bool `json:"pendingAuth"`
}

// BrowserOpener launches the system browser for an authorization URL.
// Implemented by the host application.
type BrowserOpener func(url string) error

// OAuthConfigPersister saves a synthesized OAuth config back to the
// externally persisted server configuration.
type OAuthConfigPersister func(serverName string, cfg *OAuthConfig) error

// pendingAuth tracks one in-flight authorization-code flow.
type pendingAuth struct {
	serverName string
	state      string
	verifier   string
	done       chan error
}

// oauthClient is the lazily created per-server OAuth state.
type oauthClient struct {
	handler *transport.OAuthHandler
	store   *KeyringTokenStore
}

// OAuthManager owns per-server OAuth client state. Operations are not
// retried internally; retry is the caller's responsibility.
type OAuthManager struct {
	logger     *slog.Logger
	configDir  string
	persist    OAuthConfigPersister
	openURL    BrowserOpener

	mu      sync.Mutex
	clients map[string]*oauthClient
	pending map[string]*pendingAuth // keyed by state
}

// NewOAuthManager creates the manager. persist and openURL may be nil;
// synthesized configs are then not saved and flows must be driven
// manually via InitiateFlow/CompleteFlow.
func NewOAuthManager(configDir string, persist OAuthConfigPersister, openURL BrowserOpener, logger *slog.Logger) *OAuthManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuthManager{
		logger:    logger,
		configDir: configDir,
		persist:   persist,
		openURL:   openURL,
		clients:   make(map[string]*oauthClient),
		pending:   make(map[string]*pendingAuth),
	}
}

// clientFor returns the cached OAuth client for a server, creating it
// on first use. Externally persisted token state is merged implicitly
// through the keyring-backed token store.
func (m *OAuthManager) clientFor(serverName string, cfg ServerConfig) (*oauthClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("server %q has no URL; OAuth requires an HTTP server", serverName)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[serverName]; ok {
		return c, nil
	}

	oc := cfg.OAuth
	if oc == nil {
		oc = defaultOAuthConfig()
	}

	store := NewKeyringTokenStore(cfg.URL, m.configDir)
	handler := transport.NewOAuthHandler(transport.OAuthConfig{
		ClientID:              oc.ClientID,
		ClientSecret:          oc.ClientSecret,
		RedirectURI:           redirectURI(oc),
		Scopes:                oc.Scopes,
		TokenStore:            store,
		AuthServerMetadataURL: oc.AuthServerMetadataURL,
		PKCEEnabled:           true,
	})
	handler.SetBaseURL(cfg.URL)

	c := &oauthClient{handler: handler, store: store}
	m.clients[serverName] = c
	return c, nil
}

// defaultOAuthConfig synthesizes the discovery + dynamic-registration
// config used when a server's configuration omits OAuth entirely.
func defaultOAuthConfig() *OAuthConfig {
	return &OAuthConfig{
		RedirectURI:         DefaultOAuthRedirectURI,
		DynamicRegistration: true,
	}
}

func redirectURI(oc *OAuthConfig) string {
	if oc.RedirectURI != "" {
		return oc.RedirectURI
	}
	return DefaultOAuthRedirectURI
}

// GetValidToken returns a stored, unexpired access token for the
// server, or an error when none is available. It never initiates a
// flow.
func (m *OAuthManager) GetValidToken(ctx context.Context, serverName string, cfg ServerConfig) (string, error) {
	c, err := m.clientFor(serverName, cfg)
	if err != nil {
		return "", err
	}

	token, err := c.store.GetToken(ctx)
	if err != nil {
		return "", err
	}

	if tokenExpired(token) {
		return "", fmt.Errorf("stored token for %q is expired", serverName)
	}
	return token.AccessToken, nil
}

// tokenExpired checks the stored expiry, falling back to the access
// token's JWT exp claim when the token response omitted expires_in.
func tokenExpired(token *transport.Token) bool {
	if !token.ExpiresAt.IsZero() {
		return time.Now().After(token.ExpiresAt)
	}

	// Unverified parse: this is expiry introspection, not validation.
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token.AccessToken, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Now().After(exp.Time)
}

// InitiateFlow begins an authorization-code flow: discovers server
// metadata, registers a client dynamically when permitted and no client
// id is configured, and returns the browser URL plus the state value.
func (m *OAuthManager) InitiateFlow(ctx context.Context, serverName string, cfg ServerConfig) (authURL string, state string, err error) {
	c, err := m.clientFor(serverName, cfg)
	if err != nil {
		return "", "", err
	}

	if _, err := c.handler.GetServerMetadata(ctx); err != nil {
		return "", "", fmt.Errorf("metadata discovery for %q: %w", serverName, err)
	}

	if c.handler.GetClientID() == "" {
		allowDCR := cfg.OAuth == nil || cfg.OAuth.DynamicRegistration
		if !allowDCR {
			return "", "", fmt.Errorf("server %q has no OAuth client_id and dynamic registration is disabled", serverName)
		}
		if err := c.handler.RegisterClient(ctx, "murmur"); err != nil {
			return "", "", fmt.Errorf("client registration for %q: %w", serverName, err)
		}
	}

	verifier, err := transport.GenerateCodeVerifier()
	if err != nil {
		return "", "", fmt.Errorf("PKCE verifier: %w", err)
	}
	challenge := transport.GenerateCodeChallenge(verifier)

	state, err = transport.GenerateState()
	if err != nil {
		return "", "", fmt.Errorf("state generation: %w", err)
	}
	c.handler.SetExpectedState(state)

	authURL, err = c.handler.GetAuthorizationURL(ctx, state, challenge)
	if err != nil {
		return "", "", fmt.Errorf("authorization URL for %q: %w", serverName, err)
	}

	m.mu.Lock()
	m.pending[state] = &pendingAuth{
		serverName: serverName,
		state:      state,
		verifier:   verifier,
		done:       make(chan error, 1),
	}
	m.mu.Unlock()

	m.logger.Info("OAuth flow initiated", "server", serverName)
	return authURL, state, nil
}

// CompleteFlow finishes a pending flow with the callback parameters.
// A state mismatch or missing pending-auth record is a hard failure.
func (m *OAuthManager) CompleteFlow(ctx context.Context, code, state string) error {
	m.mu.Lock()
	pending, ok := m.pending[state]
	if ok {
		delete(m.pending, state)
	}
	m.mu.Unlock()

	if !ok {
		return NewServerError(ErrorCodeOAuth, "OAuth state mismatch").
			WithDetail("no pending authorization matches the returned state parameter").
			WithSuggestions("Restart the sign-in flow from server settings")
	}

	m.mu.Lock()
	c := m.clients[pending.serverName]
	m.mu.Unlock()
	if c == nil {
		err := fmt.Errorf("no OAuth client for server %q", pending.serverName)
		pending.done <- err
		return err
	}

	if err := c.handler.ProcessAuthorizationResponse(ctx, code, state, pending.verifier); err != nil {
		wrapped := fmt.Errorf("token exchange for %q: %w", pending.serverName, err)
		pending.done <- wrapped
		return wrapped
	}

	m.logger.Info("OAuth flow complete", "server", pending.serverName)
	pending.done <- nil
	return nil
}

// FindServerByState maps an OAuth callback state value back to the
// server whose flow is pending.
func (m *OAuthManager) FindServerByState(state string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending, ok := m.pending[state]
	if !ok {
		return "", false
	}
	return pending.serverName, true
}

// Handle401AndRetry drives a full OAuth flow after a 401 response.
// allowAuto gates automatic initiation: it is true only for manual
// user-triggered restarts. During silent startup reconnection a 401
// must surface as "requires manual authentication" instead of popping
// a browser window.
//
// When the server's config omits OAuth, a default discovery + dynamic
// client registration config is synthesized and persisted first. The
// call blocks until the browser flow completes or ctx expires; on
// success the caller reconnects with the freshly stored token.
func (m *OAuthManager) Handle401AndRetry(ctx context.Context, serverName string, cfg ServerConfig, allowAuto bool) error {
	if !allowAuto {
		return ErrAuthRequired(serverName)
	}

	if cfg.OAuth == nil {
		synthesized := defaultOAuthConfig()
		cfg.OAuth = synthesized
		if m.persist != nil {
			if err := m.persist(serverName, synthesized); err != nil {
				// Flow can proceed with the in-memory config.
				m.logger.Warn("failed to persist synthesized OAuth config",
					"server", serverName, "error", err)
			}
		}
	}

	authURL, state, err := m.InitiateFlow(ctx, serverName, cfg)
	if err != nil {
		return err
	}

	if m.openURL == nil {
		return fmt.Errorf("no browser opener configured; visit %s to authorize %q", authURL, serverName)
	}
	if err := m.openURL(authURL); err != nil {
		return fmt.Errorf("failed to open browser for %q: %w", serverName, err)
	}

	m.mu.Lock()
	pending := m.pending[state]
	m.mu.Unlock()
	if pending == nil {
		// CompleteFlow already ran.
		return nil
	}

	select {
	case err := <-pending.done:
		return err
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, state)
		m.mu.Unlock()
		return fmt.Errorf("OAuth flow for %q timed out: %w", serverName, ctx.Err())
	}
}

// Status reports the authentication state for a server.
func (m *OAuthManager) Status(ctx context.Context, serverName string, cfg ServerConfig) OAuthStatus {
	status := OAuthStatus{Configured: cfg.OAuth != nil}

	m.mu.Lock()
	for _, pending := range m.pending {
		if pending.serverName == serverName {
			status.PendingAuth = true
			break
		}
	}
	m.mu.Unlock()

	c, err := m.clientFor(serverName, cfg)
	if err != nil {
		return status
	}

	token, err := c.store.GetToken(ctx)
	if err != nil {
		return status
	}
	status.HasToken = true
	status.TokenExpired = tokenExpired(token)
	return status
}

// Revoke discards stored tokens for a server and drops its cached
// client so the next operation starts clean.
func (m *OAuthManager) Revoke(serverName string) error {
	m.mu.Lock()
	c := m.clients[serverName]
	delete(m.clients, serverName)
	for state, pending := range m.pending {
		if pending.serverName == serverName {
			delete(m.pending, state)
		}
	}
	m.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.store.Clear()
}
