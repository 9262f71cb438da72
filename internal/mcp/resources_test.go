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
	"testing"
	"time"
)

func TestLooksLikeResourceToken(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"hex session id", "a3f8c2d91b4e5f6a7c8d9e0f1a2b3c4d", true},
		{"uuid", "550e8400-e29b-41d4-a716-446655440000", true},
		{"short hex", "a3f8c2d9", false},
		{"ordinary word", "configuration_file_name", false},
		{"path", "/etc/hosts", false},
		{"all letters long", "abcdefabcdefabcdefabcdef", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooksLikeResourceToken(tt.input); got != tt.want {
				t.Errorf("LooksLikeResourceToken(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestResourceTrackerTouchAndSweep(t *testing.T) {
	tracker := NewResourceTracker(50 * time.Millisecond)
	defer tracker.Stop()

	tracker.TouchFromArgs("db", "query", map[string]any{
		"session_id": "550e8400-e29b-41d4-a716-446655440000",
		"sql":        "select 1",
	})

	active := tracker.Active()
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}
	if active[0].Server != "db" || active[0].Tool != "query" {
		t.Errorf("touch = %+v", active[0])
	}

	time.Sleep(60 * time.Millisecond)
	if got := tracker.Active(); len(got) != 0 {
		t.Errorf("aged-out resource still active: %d", len(got))
	}

	tracker.sweep()
	tracker.mu.Lock()
	remaining := len(tracker.resources)
	tracker.mu.Unlock()
	if remaining != 0 {
		t.Errorf("sweep left %d entries", remaining)
	}
}

func TestResourceTrackerStopIdempotent(t *testing.T) {
	tracker := NewResourceTracker(0)
	tracker.StartSweeper(time.Millisecond)
	tracker.Stop()
	tracker.Stop()
}
