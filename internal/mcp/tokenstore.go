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
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/zalando/go-keyring"
)

const keyringService = "murmur-mcp-oauth"

// KeyringTokenStore persists OAuth tokens in the OS keyring, keyed by
// server URL. When the keyring is unavailable (headless Linux, missing
// dbus) it falls back to a JSON file with 0600 permissions.
// It implements transport.TokenStore.
type KeyringTokenStore struct {
	serverURL    string
	fallbackPath string

	mu sync.RWMutex

	// useFallback latches after the first keyring failure so every
	// subsequent operation goes to the same backend.
	useFallback bool
}

// NewKeyringTokenStore creates a token store for one server.
// fallbackDir holds the JSON fallback files; pass the app config dir.
func NewKeyringTokenStore(serverURL, fallbackDir string) *KeyringTokenStore {
	name := sanitizeFileName(serverURL) + ".token.json"
	return &KeyringTokenStore{
		serverURL:    serverURL,
		fallbackPath: filepath.Join(fallbackDir, "tokens", name),
	}
}

// GetToken reads the stored token.
// Returns transport.ErrNoToken when no token has been saved.
func (s *KeyringTokenStore) GetToken(_ context.Context) (*transport.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.useFallback {
		data, err := keyring.Get(keyringService, s.serverURL)
		if err == nil {
			var token transport.Token
			if jsonErr := json.Unmarshal([]byte(data), &token); jsonErr != nil {
				return nil, transport.ErrNoToken
			}
			return &token, nil
		}
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, transport.ErrNoToken
		}
		// Keyring unavailable, try the file.
	}

	data, err := os.ReadFile(s.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, transport.ErrNoToken
		}
		return nil, err
	}

	var token transport.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, transport.ErrNoToken
	}
	return &token, nil
}

// SaveToken persists the token, preferring the keyring.
func (s *KeyringTokenStore) SaveToken(_ context.Context, token *transport.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(token)
	if err != nil {
		return err
	}

	if !s.useFallback {
		if err := keyring.Set(keyringService, s.serverURL, string(data)); err == nil {
			return nil
		}
		s.useFallback = true
	}

	if err := os.MkdirAll(filepath.Dir(s.fallbackPath), 0700); err != nil {
		return err
	}
	return os.WriteFile(s.fallbackPath, data, 0600)
}

// Clear removes any stored token for this server.
func (s *KeyringTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kerr := keyring.Delete(keyringService, s.serverURL)
	if errors.Is(kerr, keyring.ErrNotFound) {
		kerr = nil
	}

	ferr := os.Remove(s.fallbackPath)
	if os.IsNotExist(ferr) {
		ferr = nil
	}

	if kerr != nil {
		return kerr
	}
	return ferr
}

// sanitizeFileName maps a server URL onto a safe file name.
func sanitizeFileName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
