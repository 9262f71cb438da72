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
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	store := newTestStore(t)

	reloaded := make(chan *Settings, 1)
	watcher, err := NewWatcher(store, func(s *Settings) {
		select {
		case reloaded <- s:
		default:
		}
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { watcher.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)

	// Simulate an external edit.
	data := []byte("version: 1\nllm:\n  default_provider: gemini\n")
	require.NoError(t, os.WriteFile(store.Path(), data, 0600))

	select {
	case s := <-reloaded:
		assert.Equal(t, "gemini", s.LLM.DefaultProvider)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload after file change")
	}

	assert.Equal(t, "gemini", store.Get().LLM.DefaultProvider)
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	store := newTestStore(t)

	reloaded := make(chan *Settings, 1)
	watcher, err := NewWatcher(store, func(s *Settings) { reloaded <- s }, nil)
	require.NoError(t, err)
	t.Cleanup(func() { watcher.Stop() })
	watcher.Start(context.Background())

	other := store.Path() + ".bak"
	require.NoError(t, os.WriteFile(other, []byte("x"), 0600))

	select {
	case <-reloaded:
		t.Fatal("sibling file change must not trigger a reload")
	case <-time.After(600 * time.Millisecond):
	}
}

func TestWatcherStopReleasesResources(t *testing.T) {
	store := newTestStore(t)
	watcher, err := NewWatcher(store, nil, nil)
	require.NoError(t, err)
	watcher.Start(context.Background())
	require.NoError(t, watcher.Stop())
}
