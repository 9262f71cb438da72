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
	"fmt"
	"testing"
	"time"
)

func TestRingBufferWrapAround(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 0; i < 5; i++ {
		rb.Add(LogEntry{Message: fmt.Sprintf("line %d", i)})
	}

	if rb.Count() != 3 {
		t.Fatalf("count = %d, want 3", rb.Count())
	}
	all := rb.GetAll()
	if all[0].Message != "line 2" || all[2].Message != "line 4" {
		t.Errorf("entries = %v", all)
	}

	last := rb.GetLast(2)
	if len(last) != 2 || last[0].Message != "line 3" {
		t.Errorf("GetLast(2) = %v", last)
	}

	rb.Clear()
	if rb.Count() != 0 {
		t.Errorf("count after clear = %d", rb.Count())
	}
}

func TestLogCaptureSink(t *testing.T) {
	lc := NewLogCapture()
	sink := lc.Sink()

	sink("fs", "server listening on stdio")
	sink("fs", "ERROR: cannot open /etc/shadow")
	sink("other", "warning: deprecated flag")

	logs := lc.GetLogs("fs", 0, time.Time{})
	if len(logs) != 2 {
		t.Fatalf("fs logs = %d, want 2", len(logs))
	}
	if logs[0].Level != LogLevelInfo {
		t.Errorf("level = %s, want info", logs[0].Level)
	}
	if logs[1].Level != LogLevelError {
		t.Errorf("level = %s, want error", logs[1].Level)
	}
	if logs[0].Source != "stderr" {
		t.Errorf("source = %s", logs[0].Source)
	}

	if got := lc.GetLogs("other", 0, time.Time{}); len(got) != 1 || got[0].Level != LogLevelWarn {
		t.Errorf("other logs = %v", got)
	}

	lc.RemoveServer("fs")
	if got := lc.GetLogs("fs", 0, time.Time{}); got != nil {
		t.Errorf("logs after removal = %v", got)
	}
}
