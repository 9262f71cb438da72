package mcp

import (
	"testing"
)

func TestSplitToolName(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantServer string
		wantTool   string
		wantOK     bool
	}{
		{"qualified", "filesystem:read_file", "filesystem", "read_file", true},
		{"builtin", "builtin:get_time", "builtin", "get_time", true},
		{"bare", "read_file", "", "read_file", false},
		{"leading separator", ":read_file", "", ":read_file", false},
		{"trailing separator", "filesystem:", "", "filesystem:", false},
		{"tool with colon", "server:ns:tool", "server", "ns:tool", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, tool, ok := SplitToolName(tt.input)
			if server != tt.wantServer || tool != tt.wantTool || ok != tt.wantOK {
				t.Errorf("SplitToolName(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.input, server, tool, ok, tt.wantServer, tt.wantTool, tt.wantOK)
			}
		})
	}
}

func TestQualifyToolName(t *testing.T) {
	if got := QualifyToolName("web", "search"); got != "web:search" {
		t.Errorf("QualifyToolName = %q", got)
	}
}

func TestToolResultText(t *testing.T) {
	r := ToolResult{Content: []ContentItem{
		{Type: "text", Text: "part one "},
		{Type: "image", Data: "base64"},
		{Type: "text", Text: "part two"},
	}}
	if got := r.Text(); got != "part one part two" {
		t.Errorf("Text() = %q", got)
	}
}

func TestErrorResultFormatting(t *testing.T) {
	r := ErrorResult("tool %q failed", "x")
	if !r.IsError {
		t.Error("IsError not set")
	}
	if r.Text() != `tool "x" failed` {
		t.Errorf("text = %q", r.Text())
	}
}
