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

package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// keychainService is the service name for keychain entries.
const keychainService = "murmur"

// KeychainSource stores API keys in the system keychain.
// Supported platforms:
//   - macOS: Keychain Access
//   - Linux: Secret Service API (GNOME Keyring, KWallet)
//   - Windows: Credential Manager
type KeychainSource struct {
	available bool
}

// NewKeychainSource creates a keychain source, probing availability so
// a locked or missing keychain service is detected early.
func NewKeychainSource() *KeychainSource {
	source := &KeychainSource{available: true}
	_, err := keyring.Get(keychainService, "__murmur_availability_probe__")
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		source.available = false
	}
	return source
}

func (k *KeychainSource) Name() string {
	return "keychain"
}

// Available reports whether the keychain service is accessible.
func (k *KeychainSource) Available() bool {
	return k.available
}

func keychainKey(provider string) string {
	return "api_key." + provider
}

func (k *KeychainSource) Get(_ context.Context, provider string) (string, error) {
	if !k.available {
		return "", fmt.Errorf("%w: keychain service unavailable", ErrBackendUnavailable)
	}
	value, err := keyring.Get(keychainService, keychainKey(provider))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, provider)
		}
		if isKeychainUnavailableError(err) {
			return "", fmt.Errorf("%w: %s", ErrBackendUnavailable, err.Error())
		}
		return "", fmt.Errorf("keychain error: %w", err)
	}
	return value, nil
}

// Set stores a provider's API key in the keychain.
func (k *KeychainSource) Set(_ context.Context, provider, value string) error {
	if !k.available {
		return fmt.Errorf("%w: keychain service unavailable", ErrBackendUnavailable)
	}
	if err := keyring.Set(keychainService, keychainKey(provider), value); err != nil {
		if isKeychainUnavailableError(err) {
			return fmt.Errorf("%w: %s", ErrBackendUnavailable, err.Error())
		}
		return fmt.Errorf("keychain error: %w", err)
	}
	return nil
}

// Delete removes a provider's API key from the keychain.
func (k *KeychainSource) Delete(_ context.Context, provider string) error {
	if !k.available {
		return fmt.Errorf("%w: keychain service unavailable", ErrBackendUnavailable)
	}
	if err := keyring.Delete(keychainService, keychainKey(provider)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSecretNotFound, provider)
		}
		if isKeychainUnavailableError(err) {
			return fmt.Errorf("%w: %s", ErrBackendUnavailable, err.Error())
		}
		return fmt.Errorf("keychain error: %w", err)
	}
	return nil
}

// isKeychainUnavailableError detects a locked or inaccessible keychain
// from the error text, which varies by platform.
func isKeychainUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	indicators := []string{
		"locked",
		"cannot access",
		"permission denied",
		"failed to unlock",
		"user interaction required",
		"secret service",
		"dbus",
		"user canceled",
	}
	for _, indicator := range indicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}
