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
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the write bursts editors and atomic renames
// produce into a single reload.
const debounceDelay = 250 * time.Millisecond

// ReloadFunc receives the freshly loaded settings after an on-disk
// change. Called from the watcher goroutine.
type ReloadFunc func(*Settings)

// Watcher reloads the store when the settings file changes on disk.
// The parent directory is watched rather than the file itself, because
// atomic saves replace the file and would otherwise drop the watch.
type Watcher struct {
	store    *Store
	onReload ReloadFunc
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher creates a watcher over the store's settings file.
func NewWatcher(store *Store, onReload ReloadFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(store.Path())
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	return &Watcher{
		store:    store,
		onReload: onReload,
		watcher:  fsw,
		logger:   logger.With(slog.String("component", "config-watcher")),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching until the context is cancelled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) {
	go w.eventLoop(ctx)
	w.logger.Info("settings watcher started", "path", w.store.Path())
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.store.Path() {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceDelay)
				debounceCh = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(debounceDelay)
			}
		case <-debounceCh:
			debounce = nil
			debounceCh = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("settings watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	settings, err := w.store.Reload()
	if err != nil {
		w.logger.Error("settings reload failed", "error", err)
		return
	}
	w.logger.Info("settings reloaded", "path", w.store.Path())
	if w.onReload != nil {
		w.onReload(settings)
	}
}
