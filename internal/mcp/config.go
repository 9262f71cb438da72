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
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ServerNameRegex validates MCP server names.
// Names must start with a letter and contain only letters, numbers,
// hyphens, and underscores. Maximum length is 64 characters.
var ServerNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// TransportType selects how a server is reached.
type TransportType string

const (
	// TransportStdio spawns the server as a local subprocess.
	TransportStdio TransportType = "stdio"
	// TransportWebSocket connects over a WebSocket URL.
	TransportWebSocket TransportType = "websocket"
	// TransportStreamableHTTP uses a long-lived HTTP streaming connection.
	TransportStreamableHTTP TransportType = "streamable-http"
)

// OAuthConfig holds per-server OAuth client configuration.
type OAuthConfig struct {
	// ClientID is the registered OAuth client identifier. Empty when
	// dynamic client registration is expected to mint one.
	ClientID string `yaml:"client_id,omitempty" json:"clientId,omitempty"`

	// ClientSecret is the client secret, if the server issued one.
	ClientSecret string `yaml:"client_secret,omitempty" json:"clientSecret,omitempty"`

	// RedirectURI receives the authorization code.
	RedirectURI string `yaml:"redirect_uri,omitempty" json:"redirectUri,omitempty"`

	// Scopes requested during authorization.
	Scopes []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// AuthServerMetadataURL overrides metadata discovery. Empty means
	// discover from the server's base URL.
	AuthServerMetadataURL string `yaml:"auth_server_metadata_url,omitempty" json:"authServerMetadataUrl,omitempty"`

	// DynamicRegistration permits registering a client on the fly when
	// no ClientID is configured.
	DynamicRegistration bool `yaml:"dynamic_registration,omitempty" json:"dynamicRegistration,omitempty"`
}

// ServerConfig describes one configured tool server.
type ServerConfig struct {
	// Name is the server identifier used in qualified tool names.
	Name string `yaml:"-" json:"name"`

	// Transport is the transport type; empty means inferred from URL.
	Transport TransportType `yaml:"transport,omitempty" json:"transport,omitempty"`

	// Command is the executable for stdio transport.
	Command string `yaml:"command,omitempty" json:"command,omitempty"`

	// Args are command-line arguments for stdio transport.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Env holds environment overrides layered over the inherited
	// environment; caller wins on conflict.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// URL is the endpoint for websocket and streamable-http transports.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Headers are extra HTTP headers for streamable-http transport.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// OAuth configures the authorization-code flow for this server.
	OAuth *OAuthConfig `yaml:"oauth,omitempty" json:"oauth,omitempty"`

	// Timeout bounds the connect-and-handshake phase. Zero means the
	// default of 10 seconds.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Disabled excludes the server from initialization entirely.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// DefaultConnectTimeout bounds server connect and handshake.
const DefaultConnectTimeout = 10 * time.Second

// ConnectTimeout returns the configured timeout or the default.
func (c ServerConfig) ConnectTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultConnectTimeout
}

// InferTransportType determines the transport for a config. It is a
// pure function of {Transport, URL}: an explicit transport is returned
// unchanged, otherwise the URL scheme decides (ws/wss -> websocket,
// http/https -> streamable-http), and anything else is stdio.
func InferTransportType(cfg ServerConfig) TransportType {
	if cfg.Transport != "" {
		return cfg.Transport
	}
	if cfg.URL != "" {
		if u, err := url.Parse(cfg.URL); err == nil {
			switch strings.ToLower(u.Scheme) {
			case "ws", "wss":
				return TransportWebSocket
			case "http", "https":
				return TransportStreamableHTTP
			}
		}
	}
	return TransportStdio
}

// NormalizeServerConfig fills in an inferred transport. Normalization
// is idempotent: a config whose transport is already explicit is
// returned unchanged with changed=false.
func NormalizeServerConfig(cfg ServerConfig) (ServerConfig, bool) {
	if cfg.Transport != "" {
		return cfg, false
	}
	cfg.Transport = InferTransportType(cfg)
	return cfg, true
}

// Validate checks a server config for structural problems.
func (c ServerConfig) Validate() error {
	if err := ValidateServerName(c.Name); err != nil {
		return err
	}

	switch InferTransportType(c) {
	case TransportStdio:
		if c.Command == "" {
			return ErrInvalidConfig(fmt.Sprintf("server %q: command is required for stdio transport", c.Name))
		}
		for i, arg := range c.Args {
			if err := ValidateArg(arg); err != nil {
				return ErrInvalidConfig(fmt.Sprintf("server %q: args[%d]: %v", c.Name, i, err))
			}
		}
		for key, value := range c.Env {
			if err := ValidateEnvPair(key, value); err != nil {
				return ErrInvalidConfig(fmt.Sprintf("server %q: env %s: %v", c.Name, key, err))
			}
		}
	case TransportWebSocket, TransportStreamableHTTP:
		if c.URL == "" {
			return ErrInvalidConfig(fmt.Sprintf("server %q: url is required for %s transport", c.Name, InferTransportType(c)))
		}
		if _, err := url.Parse(c.URL); err != nil {
			return ErrInvalidConfig(fmt.Sprintf("server %q: invalid url: %v", c.Name, err))
		}
	default:
		return ErrInvalidConfig(fmt.Sprintf("server %q: unknown transport %q", c.Name, c.Transport))
	}

	if c.Timeout < 0 {
		return ErrInvalidConfig(fmt.Sprintf("server %q: timeout must be non-negative", c.Name))
	}

	return nil
}

// ValidateServerName validates an MCP server name.
func ValidateServerName(name string) error {
	if name == "" {
		return fmt.Errorf("server name is required")
	}
	if !ServerNameRegex.MatchString(name) {
		return ErrInvalidServerName(name)
	}
	return nil
}

// shellInjectionPatterns are patterns that could indicate shell
// injection attempts in arguments or environment values.
var shellInjectionPatterns = []string{
	";", "&&", "||", "|", "`", "$(", "${", "\n", "\r",
}

// ValidateArg validates a command argument for shell injection.
func ValidateArg(arg string) error {
	for _, pattern := range shellInjectionPatterns {
		if strings.Contains(arg, pattern) {
			return fmt.Errorf("argument contains potentially unsafe pattern %q", pattern)
		}
	}
	return nil
}

var envKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateEnvPair validates an environment override key and value.
func ValidateEnvPair(key, value string) error {
	if key == "" {
		return fmt.Errorf("environment variable key is required")
	}
	if !envKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid environment variable key: %s", key)
	}

	// ${VAR} is allowed for runtime substitution, the rest are not.
	for _, pattern := range shellInjectionPatterns {
		if pattern == "${" {
			continue
		}
		if strings.Contains(value, pattern) {
			return fmt.Errorf("environment value contains potentially unsafe pattern %q", pattern)
		}
	}
	return nil
}

// sensitiveKeyPatterns are patterns that indicate a sensitive value.
var sensitiveKeyPatterns = []string{
	"SECRET", "TOKEN", "KEY", "PASSWORD", "CREDENTIAL", "AUTH", "API_KEY",
}

// IsSensitiveEnvKey returns true if the key appears to contain
// sensitive data.
func IsSensitiveEnvKey(key string) bool {
	upperKey := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upperKey, pattern) {
			return true
		}
	}
	return false
}

// RedactEnv redacts sensitive values from an environment override map
// for logging.
func RedactEnv(env map[string]string) map[string]string {
	result := make(map[string]string, len(env))
	for key, value := range env {
		if IsSensitiveEnvKey(key) {
			result[key] = "***REDACTED***"
		} else {
			result[key] = value
		}
	}
	return result
}
