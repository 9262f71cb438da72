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
	"log/slog"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// RuntimeStateStore persists user enable/disable toggles across
// process restarts.
type RuntimeStateStore interface {
	LoadDisabledServers() ([]string, error)
	SaveDisabledServers(names []string) error
}

// ServerStateManager tracks which servers and tools are usable right
// now. The runtime-disabled set is always derivable from the active
// profile's allow/deny semantics plus explicit user toggles.
type ServerStateManager struct {
	logger *slog.Logger
	store  RuntimeStateStore

	mu            sync.RWMutex
	disabled      map[string]bool
	disabledTools []string
}

// NewServerStateManager loads the persisted disabled set. store may be
// nil, in which case toggles live only for the process lifetime.
func NewServerStateManager(store RuntimeStateStore, logger *slog.Logger) *ServerStateManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &ServerStateManager{
		logger:   logger,
		store:    store,
		disabled: make(map[string]bool),
	}
	if store != nil {
		names, err := store.LoadDisabledServers()
		if err != nil {
			logger.Warn("failed to load runtime server state", "error", err)
		}
		for _, name := range names {
			m.disabled[name] = true
		}
	}
	return m
}

// SetServerRuntimeEnabled toggles one server and persists the result.
func (m *ServerStateManager) SetServerRuntimeEnabled(name string, enabled bool) error {
	m.mu.Lock()
	if enabled {
		delete(m.disabled, name)
	} else {
		m.disabled[name] = true
	}
	m.mu.Unlock()

	m.logger.Info("server runtime state changed", "server", name, "enabled", enabled)
	return m.persist()
}

// IsServerRuntimeEnabled reports whether a server has not been
// runtime-disabled. Unknown servers default to enabled.
func (m *ServerStateManager) IsServerRuntimeEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.disabled[name]
}

// IsServerAvailable reports whether a configured server is usable:
// not disabled in its config and not runtime-disabled.
func (m *ServerStateManager) IsServerAvailable(cfg ServerConfig) bool {
	if cfg.Disabled {
		return false
	}
	return m.IsServerRuntimeEnabled(cfg.Name)
}

// ApplyProfileConfig recomputes the entire runtime-disabled set from
// the profile. This is a full replace, not a merge: toggles made under
// a previous profile do not survive a profile switch.
func (m *ServerStateManager) ApplyProfileConfig(profile ProfileMcpServerConfig, configured []ServerConfig) error {
	disabled := make(map[string]bool)

	if profile.AllServersDisabledByDefault {
		allowed := make(map[string]bool, len(profile.EnabledServers))
		for _, name := range profile.EnabledServers {
			allowed[name] = true
		}
		for _, cfg := range configured {
			if !allowed[cfg.Name] {
				disabled[cfg.Name] = true
			}
		}
	} else {
		for _, name := range profile.DisabledServers {
			disabled[name] = true
		}
	}

	m.mu.Lock()
	m.disabled = disabled
	m.disabledTools = append([]string(nil), profile.DisabledTools...)
	m.mu.Unlock()

	m.logger.Info("profile server config applied",
		"allow_list", profile.AllServersDisabledByDefault,
		"disabled_count", len(disabled))
	return m.persist()
}

// ReconcileOnStartup re-derives the disabled set for an allow-list
// profile. The persisted toggle set and the profile are two sources of
// truth that can drift between runs; the profile's allow-list wins.
func (m *ServerStateManager) ReconcileOnStartup(profile *ProfileMcpServerConfig, configured []ServerConfig) error {
	if profile == nil || !profile.AllServersDisabledByDefault {
		return nil
	}
	return m.ApplyProfileConfig(*profile, configured)
}

// IsToolEnabled checks a qualified tool name against the profile's
// disabled-tool patterns. Built-in tools are always enabled.
func (m *ServerStateManager) IsToolEnabled(qualifiedName string) bool {
	if server, _, ok := SplitToolName(qualifiedName); ok && server == BuiltinNamespace {
		return true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pattern := range m.disabledTools {
		if ok, err := doublestar.Match(pattern, qualifiedName); err == nil && ok {
			return false
		}
	}
	return true
}

// ServersToInitialize filters the configured servers down to those
// worth connecting: skips config-disabled, runtime-disabled, and
// already-initialized servers so incremental reconnection does not
// re-touch healthy ones.
func (m *ServerStateManager) ServersToInitialize(configured []ServerConfig, isInitialized func(name string) bool) []ServerConfig {
	var out []ServerConfig
	for _, cfg := range configured {
		if !m.IsServerAvailable(cfg) {
			continue
		}
		if isInitialized != nil && isInitialized(cfg.Name) {
			continue
		}
		out = append(out, cfg)
	}
	return out
}

// DisabledServers returns the current runtime-disabled set, sorted.
func (m *ServerStateManager) DisabledServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disabledLocked()
}

func (m *ServerStateManager) disabledLocked() []string {
	names := make([]string, 0, len(m.disabled))
	for name := range m.disabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *ServerStateManager) persist() error {
	if m.store == nil {
		return nil
	}
	m.mu.RLock()
	names := m.disabledLocked()
	m.mu.RUnlock()
	return m.store.SaveDisabledServers(names)
}
