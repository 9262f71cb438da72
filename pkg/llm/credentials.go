// Package llm provides abstractions for Large Language Model providers.
package llm

import (
	"fmt"
	"strings"
)

// Credentials is the interface that all provider credential types must implement.
// This provides a unified way to handle authentication across different providers.
type Credentials interface {
	// Validate checks if the credentials are properly formatted and present.
	// Returns an error if credentials are missing or malformed.
	Validate() error

	// Redacted returns a safe-to-log version of the credentials.
	// Sensitive values (API keys, tokens) are replaced with masked versions.
	Redacted() string

	// ProviderType returns the type of provider these credentials are for.
	ProviderType() string
}

// APIKeyCredentials holds authentication for API-based providers (OpenAI, Gemini).
type APIKeyCredentials struct {
	// APIKey is the authentication token for the provider's API.
	APIKey string

	// BaseURL is an optional override for the API endpoint. This is how
	// OpenAI-compatible gateways and local inference servers are reached.
	// If empty, the provider's default endpoint is used.
	BaseURL string
}

// Validate checks that the API key is present.
// Length and format validation is left to individual providers since key formats vary.
func (c APIKeyCredentials) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	return nil
}

// Redacted returns a safe-to-log version with the API key masked.
func (c APIKeyCredentials) Redacted() string {
	masked := maskSecret(c.APIKey)
	if c.BaseURL != "" {
		return fmt.Sprintf("APIKey: %s, BaseURL: %s", masked, c.BaseURL)
	}
	return fmt.Sprintf("APIKey: %s", masked)
}

// ProviderType returns "api" indicating this is for API-based providers.
func (c APIKeyCredentials) ProviderType() string {
	return "api"
}

// maskSecret returns a masked version of a secret string.
// Shows first 4 and last 4 characters with asterisks in between.
func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// Compile-time interface implementation check
var _ Credentials = APIKeyCredentials{}
