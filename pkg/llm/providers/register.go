// Package providers registers all built-in LLM provider factories.
//
// Import this package to register all provider factories with the global registry:
//
//	import _ "github.com/tombee/murmur/pkg/llm/providers"
//
// This registers factories but does not instantiate providers.
// Call llm.Activate() to instantiate providers based on configuration.
package providers

import (
	"github.com/tombee/murmur/pkg/llm"
)

func init() {
	// Register all built-in provider factories.
	// Factories are registered at import time but not instantiated.
	// Call llm.Activate() to instantiate based on config.

	// OpenAI - Chat Completions API, also covers OpenAI-compatible gateways
	llm.RegisterFactory("openai", NewOpenAIWithCredentials)

	// Gemini - Google generateContent API
	llm.RegisterFactory("gemini", NewGeminiWithCredentials)
}
