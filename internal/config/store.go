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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/murmur/internal/mcp"
)

// ErrLockTimeout is returned when file lock acquisition times out.
var ErrLockTimeout = errors.New("settings locked by another process")

// lockTimeout is the maximum duration to wait for lock acquisition.
const lockTimeout = 5 * time.Second

// Store is the process-wide handle on the settings file. It caches the
// last loaded settings and serializes read-modify-write cycles with a
// cross-process file lock.
type Store struct {
	path string

	mu      sync.RWMutex
	current *Settings
}

// NewStore opens a store for the given settings path. An empty path
// selects the default XDG location. The file is loaded immediately; a
// missing file yields defaults.
func NewStore(path string) (*Store, error) {
	if path == "" {
		var err error
		path, err = SettingsPath()
		if err != nil {
			return nil, fmt.Errorf("resolve settings path: %w", err)
		}
	}
	s := &Store{path: path}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the current settings.
func (s *Store) Get() *Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Reload reads the settings file from disk, replacing the cached copy.
// A missing file yields defaults rather than an error.
func (s *Store) Reload() (*Settings, error) {
	loaded, err := s.read()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()
	return loaded.Clone(), nil
}

// Save validates and persists the given settings object, replacing the
// cached copy on success. The write is a tmp-file rename under the file
// lock, so a crash never leaves a half-written settings file.
func (s *Store) Save(settings *Settings) error {
	settings.applyDefaults()
	if err := settings.Validate(); err != nil {
		return err
	}

	err := s.withLock(func() error {
		return s.write(settings)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = settings.Clone()
	s.mu.Unlock()
	return nil
}

// Update runs a read-modify-write cycle under the file lock: the latest
// on-disk settings are loaded, passed to fn, and written back.
func (s *Store) Update(fn func(*Settings) error) error {
	var updated *Settings
	err := s.withLock(func() error {
		loaded, err := s.read()
		if err != nil {
			return err
		}
		if err := fn(loaded); err != nil {
			return err
		}
		loaded.applyDefaults()
		if err := loaded.Validate(); err != nil {
			return err
		}
		if err := s.write(loaded); err != nil {
			return err
		}
		updated = loaded
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = updated
	s.mu.Unlock()
	return nil
}

// ServerConfigs returns the configured servers sorted by name.
// Implements the MCP service's configuration interface.
func (s *Store) ServerConfigs() ([]mcp.ServerConfig, error) {
	return s.Get().ServerList(), nil
}

// ActiveProfile returns the scoping rules of the active profile, or nil
// when no profile is active.
func (s *Store) ActiveProfile() (*mcp.ProfileMcpServerConfig, error) {
	settings := s.Get()
	if settings.ActiveProfile == "" {
		return nil, nil
	}
	profile, ok := settings.Profiles[settings.ActiveProfile]
	if !ok {
		return nil, fmt.Errorf("active profile %q is not defined", settings.ActiveProfile)
	}
	return &profile, nil
}

// LoadDisabledServers returns the persisted runtime disable toggles.
func (s *Store) LoadDisabledServers() ([]string, error) {
	return s.Get().DisabledServers, nil
}

// SaveDisabledServers persists the runtime disable toggles.
func (s *Store) SaveDisabledServers(names []string) error {
	return s.Update(func(settings *Settings) error {
		settings.DisabledServers = append([]string(nil), names...)
		return nil
	})
}

// PersistOAuth writes a synthesized OAuth config back onto the named
// server. Matches the MCP service's persister signature.
func (s *Store) PersistOAuth(serverName string, cfg *mcp.OAuthConfig) error {
	return s.Update(func(settings *Settings) error {
		server, ok := settings.Servers[serverName]
		if !ok {
			return fmt.Errorf("server %q is not configured", serverName)
		}
		oauth := *cfg
		oauth.Scopes = append([]string(nil), cfg.Scopes...)
		server.OAuth = &oauth
		settings.Servers[serverName] = server
		return nil
	})
}

func (s *Store) read() (*Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse settings YAML: %w", err)
	}
	settings.applyDefaults()
	return &settings, nil
}

func (s *Store) write(settings *Settings) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings to YAML: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("write temporary file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename temporary file: %w", err)
	}
	return nil
}

// withLock runs fn while holding an exclusive flock on a sibling lock
// file, bounding the wait by lockTimeout.
func (s *Store) withLock(fn func() error) error {
	lockPath := s.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer lockFile.Close()

	deadline := time.Now().Add(lockTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		<-ticker.C
	}
	defer syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)

	return fn()
}
