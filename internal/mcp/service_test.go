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
	"sync"
	"testing"
)

type staticConfigs struct {
	servers []ServerConfig
	profile *ProfileMcpServerConfig
}

func (s staticConfigs) ServerConfigs() ([]ServerConfig, error) {
	return s.servers, nil
}

func (s staticConfigs) ActiveProfile() (*ProfileMcpServerConfig, error) {
	return s.profile, nil
}

func newTestService(t *testing.T, configs ConfigProvider) *MCPService {
	t.Helper()
	svc := NewMCPService(ServiceOptions{
		Configs:   configs,
		ConfigDir: t.TempDir(),
	})
	t.Cleanup(svc.Shutdown)
	return svc
}

func TestInitializeConcurrent(t *testing.T) {
	svc := newTestService(t, staticConfigs{})

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Initialize(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d: %v", i, err)
		}
	}

	// A later call with nothing new to do is a no-op.
	if err := svc.Initialize(context.Background()); err != nil {
		t.Errorf("re-initialize: %v", err)
	}
}

func TestListAllToolsIncludesBuiltins(t *testing.T) {
	svc := newTestService(t, staticConfigs{})

	tools, err := svc.ListAllTools(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	found := map[string]bool{}
	for _, tool := range tools {
		found[QualifyToolName(tool.Server, tool.Name)] = true
	}
	for _, want := range []string{"builtin:get_time", "builtin:json_query", "builtin:list_tools"} {
		if !found[want] {
			t.Errorf("missing %s", want)
		}
	}
}

func TestServerStatusesMergesConfigState(t *testing.T) {
	svc := newTestService(t, staticConfigs{servers: []ServerConfig{
		{Name: "fs", Transport: TransportStdio, Command: "npx"},
		{Name: "off", Transport: TransportStdio, Command: "npx", Disabled: true},
	}})
	_ = svc.state.SetServerRuntimeEnabled("fs", false)

	statuses := svc.ServerStatuses()
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}

	byName := map[string]ServerRuntimeState{}
	for _, st := range statuses {
		byName[st.Name] = st
	}
	if byName["fs"].RuntimeEnabled {
		t.Error("fs should report runtime-disabled")
	}
	if !byName["off"].ConfigDisabled {
		t.Error("off should report config-disabled")
	}
	if byName["fs"].State != StateUninitialized {
		t.Errorf("fs state = %s, want uninitialized", byName["fs"].State)
	}
}

func TestExecuteToolCallUnknownServerViaService(t *testing.T) {
	svc := newTestService(t, staticConfigs{})

	result := svc.ExecuteToolCall(context.Background(), ToolCall{Name: "unknownserver:foo"}, ExecuteOptions{})
	if !result.IsError {
		t.Fatal("expected error result")
	}
}
