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
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/client/transport"
)

// TokenProvider supplies a bearer token for authenticated transports.
// Returning an empty token with a nil error means "connect without
// authentication"; 401 handling is then the caller's responsibility.
type TokenProvider func(ctx context.Context) (string, error)

// TransportFactory builds transport handles for configured servers.
// It only opens handles; it never connects or handshakes.
type TransportFactory struct {
	logger *slog.Logger

	// extraPathDirs are searched after PATH when resolving stdio
	// executables. GUI-launched desktop apps often inherit an
	// impoverished PATH, so common install locations are covered
	// explicitly.
	extraPathDirs []string
}

// NewTransportFactory creates a factory with the default search dirs.
func NewTransportFactory(logger *slog.Logger) *TransportFactory {
	if logger == nil {
		logger = slog.Default()
	}

	home, _ := os.UserHomeDir()
	dirs := []string{
		"/usr/local/bin",
		"/opt/homebrew/bin",
		"/usr/bin",
		"/bin",
		"/opt/local/bin",
	}
	if home != "" {
		dirs = append(dirs,
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, ".npm-global", "bin"),
			filepath.Join(home, "bin"),
		)
	}

	return &TransportFactory{
		logger:        logger,
		extraPathDirs: dirs,
	}
}

// CreateTransport builds the transport handle for a server config.
// getToken may be nil; it is only consulted for streamable-http.
func (f *TransportFactory) CreateTransport(ctx context.Context, serverName string, cfg ServerConfig, getToken TokenProvider) (transport.Interface, error) {
	switch InferTransportType(cfg) {
	case TransportStdio:
		return f.createStdio(serverName, cfg)
	case TransportWebSocket:
		return newWSTransport(cfg.URL, f.logger), nil
	case TransportStreamableHTTP:
		return f.createStreamableHTTP(ctx, serverName, cfg, getToken)
	default:
		return nil, ErrInvalidConfig(fmt.Sprintf("server %q: unknown transport %q", serverName, cfg.Transport))
	}
}

func (f *TransportFactory) createStdio(serverName string, cfg ServerConfig) (transport.Interface, error) {
	execPath, err := f.ResolveExecutable(cfg.Command)
	if err != nil {
		return nil, err
	}

	env := f.MergedEnv(cfg.Env)

	f.logger.Debug("creating stdio transport",
		"server", serverName,
		"command", execPath,
		"args", cfg.Args,
		"env", RedactEnv(cfg.Env))

	return transport.NewStdio(execPath, env, cfg.Args...), nil
}

func (f *TransportFactory) createStreamableHTTP(ctx context.Context, serverName string, cfg ServerConfig, getToken TokenProvider) (transport.Interface, error) {
	headers := make(map[string]string, len(cfg.Headers)+1)
	for key, value := range cfg.Headers {
		headers[key] = value
	}

	// Best effort: include a bearer token when one is available and
	// fall through to unauthenticated otherwise. The lifecycle layer
	// owns 401 handling.
	if getToken != nil {
		token, err := getToken(ctx)
		if err != nil {
			f.logger.Debug("no OAuth token available for server",
				"server", serverName,
				"error", err)
		} else if token != "" {
			headers["Authorization"] = "Bearer " + token
		}
	}

	f.logger.Debug("creating streamable HTTP transport",
		"server", serverName,
		"url", cfg.URL,
		"header_count", len(headers))

	return transport.NewStreamableHTTP(cfg.URL, transport.WithHTTPHeaders(headers))
}

// ResolveExecutable locates the executable for a stdio server. Absolute
// paths are checked directly; bare names are searched in PATH and then
// in the factory's extra directories.
func (f *TransportFactory) ResolveExecutable(command string) (string, error) {
	if command == "" {
		return "", ErrInvalidConfig("command is required for stdio transport")
	}

	if filepath.IsAbs(command) {
		info, err := os.Stat(command)
		if err != nil {
			if os.IsNotExist(err) {
				return "", ErrCommandNotFound(command)
			}
			return "", fmt.Errorf("cannot access command %s: %w", command, err)
		}
		if info.IsDir() {
			return "", ErrInvalidConfig(fmt.Sprintf("command is a directory: %s", command))
		}
		return command, nil
	}

	if path, err := exec.LookPath(command); err == nil {
		return path, nil
	}

	for _, dir := range f.extraPathDirs {
		candidate := filepath.Join(dir, command)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return candidate, nil
		}
	}

	return "", ErrCommandNotFound(command)
}

// MergedEnv builds the subprocess environment: the full inherited
// environment, a guaranteed PATH that includes the extra search dirs,
// and the caller's overrides layered last so the caller wins on
// conflict.
func (f *TransportFactory) MergedEnv(overrides map[string]string) []string {
	env := os.Environ()

	path := os.Getenv("PATH")
	for _, dir := range f.extraPathDirs {
		if !strings.Contains(path, dir) {
			path = path + string(os.PathListSeparator) + dir
		}
	}
	env = setEnvVar(env, "PATH", path)

	for key, value := range overrides {
		env = setEnvVar(env, key, value)
	}

	return env
}

// setEnvVar overrides key in env if present, else appends it.
func setEnvVar(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
