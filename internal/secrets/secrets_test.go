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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSource struct {
	err error
}

func (f *failingSource) Name() string { return "failing" }

func (f *failingSource) Get(context.Context, string) (string, error) {
	return "", f.err
}

func TestResolverOrderAndFallback(t *testing.T) {
	resolver := NewResolver(
		NewStaticSource("first", map[string]string{"openai": "from-first"}),
		NewStaticSource("second", map[string]string{"openai": "from-second", "gemini": "g-key"}),
	)

	value, err := resolver.Get(context.Background(), "openai")
	require.NoError(t, err)
	assert.Equal(t, "from-first", value)

	value, err = resolver.Get(context.Background(), "gemini")
	require.NoError(t, err)
	assert.Equal(t, "g-key", value)
}

func TestResolverSkipsUnavailableSources(t *testing.T) {
	resolver := NewResolver(
		&failingSource{err: ErrBackendUnavailable},
		NewStaticSource("settings", map[string]string{"openai": "sk-test"}),
	)
	value, err := resolver.Get(context.Background(), "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", value)
}

func TestResolverMissEverywhere(t *testing.T) {
	resolver := NewResolver(NewStaticSource("empty", nil))
	_, err := resolver.Get(context.Background(), "openai")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestResolverSurfacesUnexpectedErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	resolver := NewResolver(&failingSource{err: boom})
	_, err := resolver.Get(context.Background(), "openai")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestEnvSource(t *testing.T) {
	t.Setenv("MURMUR_OPENAI_API_KEY", "sk-scoped")
	t.Setenv("OPENAI_API_KEY", "sk-plain")

	source := NewEnvSource()
	value, err := source.Get(context.Background(), "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-scoped", value, "scoped variable wins")

	t.Setenv("MURMUR_OPENAI_API_KEY", "")
	value, err = source.Get(context.Background(), "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-plain", value)

	_, err = source.Get(context.Background(), "nonexistent-provider")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestIsKeychainUnavailableError(t *testing.T) {
	assert.False(t, isKeychainUnavailableError(nil))
	assert.True(t, isKeychainUnavailableError(errors.New("keychain is Locked")))
	assert.True(t, isKeychainUnavailableError(errors.New("org.freedesktop.DBus error")))
	assert.False(t, isKeychainUnavailableError(errors.New("weird failure")))
}
