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

package secrets

import (
	"context"
	"os"
	"strings"
)

// EnvSource resolves API keys from environment variables. For provider
// "openai" it checks MURMUR_OPENAI_API_KEY, then OPENAI_API_KEY.
type EnvSource struct{}

// NewEnvSource creates an environment-variable source.
func NewEnvSource() *EnvSource {
	return &EnvSource{}
}

func (e *EnvSource) Name() string {
	return "env"
}

func (e *EnvSource) Get(_ context.Context, provider string) (string, error) {
	upper := strings.ToUpper(strings.ReplaceAll(provider, "-", "_"))
	for _, name := range []string{"MURMUR_" + upper + "_API_KEY", upper + "_API_KEY"} {
		if value := os.Getenv(name); value != "" {
			return value, nil
		}
	}
	return "", ErrSecretNotFound
}
