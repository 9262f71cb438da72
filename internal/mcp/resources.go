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
	"regexp"
	"sync"
	"time"
)

// resourceTokenRe matches opaque session/connection identifiers:
// 20 or more hex characters, optionally dash-separated (UUID style).
var resourceTokenRe = regexp.MustCompile(`^[0-9a-fA-F][0-9a-fA-F-]{19,}$`)

// LooksLikeResourceToken reports whether a string argument is plausibly
// an opaque resource identifier worth tracking.
func LooksLikeResourceToken(s string) bool {
	if !resourceTokenRe.MatchString(s) {
		return false
	}
	// Require at least one digit so ordinary words do not match.
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// TrackedResource records one resource touch observed in tool
// arguments.
type TrackedResource struct {
	Token    string    `json:"token"`
	Server   string    `json:"server"`
	Tool     string    `json:"tool"`
	LastSeen time.Time `json:"lastSeen"`
}

// ResourceTracker remembers identifier-shaped tool arguments so stale
// sessions and connections can be reported or cleaned up later.
// Bookkeeping only; it never closes anything itself.
type ResourceTracker struct {
	maxAge time.Duration

	mu        sync.Mutex
	resources map[string]*TrackedResource

	stopOnce sync.Once
	stop     chan struct{}
}

// NewResourceTracker creates a tracker that forgets resources not
// touched within maxAge (default 30 minutes).
func NewResourceTracker(maxAge time.Duration) *ResourceTracker {
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &ResourceTracker{
		maxAge:    maxAge,
		resources: make(map[string]*TrackedResource),
		stop:      make(chan struct{}),
	}
}

// TouchFromArgs records every string argument that looks like an
// opaque resource token.
func (t *ResourceTracker) TouchFromArgs(server, tool string, args map[string]any) {
	now := time.Now()
	for _, v := range args {
		s, ok := v.(string)
		if !ok || !LooksLikeResourceToken(s) {
			continue
		}
		t.mu.Lock()
		t.resources[s] = &TrackedResource{
			Token:    s,
			Server:   server,
			Tool:     tool,
			LastSeen: now,
		}
		t.mu.Unlock()
	}
}

// Active returns all resources touched within the age window.
func (t *ResourceTracker) Active() []TrackedResource {
	cutoff := time.Now().Add(-t.maxAge)
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TrackedResource, 0, len(t.resources))
	for _, r := range t.resources {
		if r.LastSeen.After(cutoff) {
			out = append(out, *r)
		}
	}
	return out
}

// StartSweeper launches a background goroutine that evicts aged-out
// entries. Stop terminates it.
func (t *ResourceTracker) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.sweep()
			case <-t.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweeper. Idempotent.
func (t *ResourceTracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *ResourceTracker) sweep() {
	cutoff := time.Now().Add(-t.maxAge)
	t.mu.Lock()
	defer t.mu.Unlock()
	for token, r := range t.resources {
		if r.LastSeen.Before(cutoff) {
			delete(t.resources, token)
		}
	}
}
