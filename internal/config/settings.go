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

// Package config persists the application's single settings object:
// tool server definitions, profiles, LLM provider selection, and the
// tuning knobs for response processing and refinement. Settings live in
// one YAML file under the XDG config directory; writes are atomic and
// guarded by a file lock so concurrent processes cannot interleave a
// read-modify-write.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/tombee/murmur/internal/mcp"
)

// Settings is the single persisted configuration object. Access goes
// through a Store; callers receive copies and write back whole objects,
// last write wins.
type Settings struct {
	// Version tracks the settings schema for future migrations.
	Version int `yaml:"version"`

	// LLM selects and tunes the model provider layer.
	LLM LLMSettings `yaml:"llm,omitempty"`

	// Tools tunes tool-response processing.
	Tools ToolSettings `yaml:"tools,omitempty"`

	// Refinement tunes the agentic refinement engine.
	Refinement RefinementSettings `yaml:"refinement,omitempty"`

	// Servers maps server name to its configuration. The name lives in
	// the map key; ServerConfig.Name is filled on load.
	Servers map[string]mcp.ServerConfig `yaml:"mcp_servers,omitempty"`

	// Profiles maps profile name to its server/tool scoping rules.
	Profiles map[string]mcp.ProfileMcpServerConfig `yaml:"profiles,omitempty"`

	// ActiveProfile names the profile in effect, empty for none.
	ActiveProfile string `yaml:"active_profile,omitempty"`

	// DisabledServers holds the user's runtime disable toggles, which
	// persist across restarts independently of profile scoping.
	DisabledServers []string `yaml:"disabled_servers,omitempty"`
}

// LLMSettings selects the provider and bounds request behavior.
type LLMSettings struct {
	// DefaultProvider is the provider registry name, such as "openai".
	DefaultProvider string `yaml:"default_provider,omitempty"`

	// APIKeys maps provider name to its API key. Keys here are a
	// fallback; the OS keychain is preferred when available.
	APIKeys map[string]string `yaml:"api_keys,omitempty"`

	// RequestsPerSecond paces calls per provider. Zero disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`

	// MaxRetries caps retry attempts for non-rate-limit failures.
	// Default: 3
	MaxRetries int `yaml:"max_retries,omitempty"`

	// InitialRetryDelay is the first backoff delay.
	// Default: 1s
	InitialRetryDelay time.Duration `yaml:"initial_retry_delay,omitempty"`

	// MaxRetryDelay caps the backoff delay.
	// Default: 30s
	MaxRetryDelay time.Duration `yaml:"max_retry_delay,omitempty"`
}

// ToolSettings tunes tool-response size management.
type ToolSettings struct {
	// SummarizationEnabled turns adaptive summarization on.
	// Default: true
	SummarizationEnabled *bool `yaml:"summarization_enabled,omitempty"`

	// LargeThreshold is the response size that triggers summarization.
	// Default: 20000
	LargeThreshold int `yaml:"large_threshold,omitempty"`

	// CriticalThreshold is the size at which summarization turns
	// aggressive.
	// Default: 50000
	CriticalThreshold int `yaml:"critical_threshold,omitempty"`

	// ChunkTrigger is the size above which content is summarized in
	// independent chunks.
	// Default: 30000
	ChunkTrigger int `yaml:"chunk_trigger,omitempty"`
}

// RefinementSettings tunes stagnation detection and scoring.
type RefinementSettings struct {
	// SimilarityThreshold flags near-identical responses as stagnation.
	// Default: 0.85
	SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty"`

	// MaxConsecutiveFailures is the stagnation ceiling before a pivot
	// or stop.
	// Default: 3
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures,omitempty"`

	// MinAcceptableScore is the trailing-mean score floor.
	// Default: 0.3
	MinAcceptableScore float64 `yaml:"min_acceptable_score,omitempty"`
}

// Default returns a settings object with every default applied.
func Default() *Settings {
	s := &Settings{Version: 1}
	s.applyDefaults()
	return s
}

func (s *Settings) applyDefaults() {
	if s.Version == 0 {
		s.Version = 1
	}
	if s.LLM.MaxRetries == 0 {
		s.LLM.MaxRetries = 3
	}
	if s.LLM.InitialRetryDelay == 0 {
		s.LLM.InitialRetryDelay = time.Second
	}
	if s.LLM.MaxRetryDelay == 0 {
		s.LLM.MaxRetryDelay = 30 * time.Second
	}
	if s.Tools.SummarizationEnabled == nil {
		enabled := true
		s.Tools.SummarizationEnabled = &enabled
	}
	if s.Tools.LargeThreshold == 0 {
		s.Tools.LargeThreshold = 20000
	}
	if s.Tools.CriticalThreshold == 0 {
		s.Tools.CriticalThreshold = 50000
	}
	if s.Tools.ChunkTrigger == 0 {
		s.Tools.ChunkTrigger = 30000
	}
	if s.Refinement.SimilarityThreshold == 0 {
		s.Refinement.SimilarityThreshold = 0.85
	}
	if s.Refinement.MaxConsecutiveFailures == 0 {
		s.Refinement.MaxConsecutiveFailures = 3
	}
	if s.Refinement.MinAcceptableScore == 0 {
		s.Refinement.MinAcceptableScore = 0.3
	}

	// Server names live in the map key; mirror them into the structs.
	for name, server := range s.Servers {
		server.Name = name
		s.Servers[name] = server
	}
}

// Validate checks every server config and the active-profile reference.
func (s *Settings) Validate() error {
	for name, server := range s.Servers {
		if server.Name == "" {
			server.Name = name
		}
		if err := server.Validate(); err != nil {
			return err
		}
	}
	if s.ActiveProfile != "" {
		if _, ok := s.Profiles[s.ActiveProfile]; !ok {
			return fmt.Errorf("active profile %q is not defined", s.ActiveProfile)
		}
	}
	return nil
}

// ServerList returns the configured servers sorted by name.
func (s *Settings) ServerList() []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(s.Servers))
	for name, server := range s.Servers {
		server.Name = name
		out = append(out, server)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResponseProcessorConfig converts the tool settings to the processor's
// config type.
func (s *Settings) ResponseProcessorConfig() mcp.ResponseProcessorConfig {
	enabled := true
	if s.Tools.SummarizationEnabled != nil {
		enabled = *s.Tools.SummarizationEnabled
	}
	return mcp.ResponseProcessorConfig{
		Enabled:           enabled,
		LargeThreshold:    s.Tools.LargeThreshold,
		CriticalThreshold: s.Tools.CriticalThreshold,
		ChunkTrigger:      s.Tools.ChunkTrigger,
	}
}

// Clone returns a deep copy so callers can mutate freely.
func (s *Settings) Clone() *Settings {
	out := *s

	if s.LLM.APIKeys != nil {
		out.LLM.APIKeys = make(map[string]string, len(s.LLM.APIKeys))
		for k, v := range s.LLM.APIKeys {
			out.LLM.APIKeys[k] = v
		}
	}
	if s.Tools.SummarizationEnabled != nil {
		enabled := *s.Tools.SummarizationEnabled
		out.Tools.SummarizationEnabled = &enabled
	}
	if s.Servers != nil {
		out.Servers = make(map[string]mcp.ServerConfig, len(s.Servers))
		for name, server := range s.Servers {
			out.Servers[name] = cloneServer(server)
		}
	}
	if s.Profiles != nil {
		out.Profiles = make(map[string]mcp.ProfileMcpServerConfig, len(s.Profiles))
		for name, profile := range s.Profiles {
			out.Profiles[name] = cloneProfile(profile)
		}
	}
	out.DisabledServers = append([]string(nil), s.DisabledServers...)
	return &out
}

func cloneServer(server mcp.ServerConfig) mcp.ServerConfig {
	out := server
	out.Args = append([]string(nil), server.Args...)
	if server.Env != nil {
		out.Env = make(map[string]string, len(server.Env))
		for k, v := range server.Env {
			out.Env[k] = v
		}
	}
	if server.Headers != nil {
		out.Headers = make(map[string]string, len(server.Headers))
		for k, v := range server.Headers {
			out.Headers[k] = v
		}
	}
	if server.OAuth != nil {
		oauth := *server.OAuth
		oauth.Scopes = append([]string(nil), server.OAuth.Scopes...)
		out.OAuth = &oauth
	}
	return out
}

func cloneProfile(profile mcp.ProfileMcpServerConfig) mcp.ProfileMcpServerConfig {
	out := profile
	out.EnabledServers = append([]string(nil), profile.EnabledServers...)
	out.DisabledServers = append([]string(nil), profile.DisabledServers...)
	out.DisabledTools = append([]string(nil), profile.DisabledTools...)
	return out
}
