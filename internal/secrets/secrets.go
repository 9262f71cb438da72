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

// Package secrets resolves provider API keys from layered sources:
// environment variables first, then the OS keychain, then whatever
// fallback the caller supplies (typically the settings file). Sources
// that are unavailable, such as a locked keychain, are skipped rather
// than surfaced as errors.
package secrets

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSecretNotFound is returned when no source holds the secret.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrBackendUnavailable is returned when a source cannot be reached,
	// for example a locked keychain.
	ErrBackendUnavailable = errors.New("secret backend unavailable")
)

// Source supplies API keys for named providers.
type Source interface {
	// Name identifies the source in logs.
	Name() string

	// Get returns the API key for a provider, or ErrSecretNotFound.
	Get(ctx context.Context, provider string) (string, error)
}

// Resolver tries sources in order and returns the first hit. Not-found
// and unavailable sources are skipped; any other error aborts.
type Resolver struct {
	sources []Source
}

// NewResolver builds a resolver over the given sources, consulted in
// argument order.
func NewResolver(sources ...Source) *Resolver {
	return &Resolver{sources: sources}
}

// Get resolves the API key for a provider.
func (r *Resolver) Get(ctx context.Context, provider string) (string, error) {
	for _, source := range r.sources {
		value, err := source.Get(ctx, provider)
		if err == nil && value != "" {
			return value, nil
		}
		if err != nil && !errors.Is(err, ErrSecretNotFound) && !errors.Is(err, ErrBackendUnavailable) {
			return "", fmt.Errorf("source %s: %w", source.Name(), err)
		}
	}
	return "", fmt.Errorf("%w: no API key for provider %q", ErrSecretNotFound, provider)
}

// StaticSource serves keys from an in-memory map, used as the settings
// file fallback.
type StaticSource struct {
	name string
	keys map[string]string
}

// NewStaticSource wraps a provider-to-key map.
func NewStaticSource(name string, keys map[string]string) *StaticSource {
	return &StaticSource{name: name, keys: keys}
}

func (s *StaticSource) Name() string {
	return s.name
}

func (s *StaticSource) Get(_ context.Context, provider string) (string, error) {
	if value, ok := s.keys[provider]; ok && value != "" {
		return value, nil
	}
	return "", ErrSecretNotFound
}
