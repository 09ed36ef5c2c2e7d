// Copyright 2025 The Polis Authors
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
	"fmt"
	"os"
	"time"
)

// LLMProvider identifies the LLM provider type.
type LLMProvider string

const (
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderGemini    LLMProvider = "gemini"
	LLMProviderOllama    LLMProvider = "ollama"
)

// LLMConfig configures the chat-completion client shared by both agents.
//
// A missing API key is not a validation error: the agents degrade to their
// rule-based paths when the provider rejects calls, and local providers
// need no key at all.
type LLMConfig struct {
	// Provider type (openai, anthropic, gemini, ollama). Auto-detected
	// from available API keys when unset; default openai.
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=openai,enum=anthropic,enum=gemini,enum=ollama,default=openai"`

	// PrimaryModel is tried first for every completion.
	PrimaryModel string `yaml:"primary_model,omitempty" json:"primary_model,omitempty"`

	// FallbackModel is tried once when the primary times out or errors.
	FallbackModel string `yaml:"fallback_model,omitempty" json:"fallback_model,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Temperature for generation. Default: 0.2
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2"`

	// MaxTokens limits response length. Default: 1024
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// Timeout is the per-call deadline. Default: 10s
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = detectProviderFromEnv()
	}

	if c.PrimaryModel == "" {
		switch c.Provider {
		case LLMProviderOpenAI:
			c.PrimaryModel = "gpt-4o"
		case LLMProviderAnthropic:
			c.PrimaryModel = "claude-sonnet-4-20250514"
		case LLMProviderGemini:
			c.PrimaryModel = "gemini-2.0-flash"
		case LLMProviderOllama:
			c.PrimaryModel = "llama3.2"
		}
	}

	if c.FallbackModel == "" {
		switch c.Provider {
		case LLMProviderOpenAI:
			c.FallbackModel = "gpt-4o-mini"
		case LLMProviderAnthropic:
			c.FallbackModel = "claude-3-5-haiku-20241022"
		case LLMProviderGemini:
			c.FallbackModel = "gemini-2.0-flash-lite"
		case LLMProviderOllama:
			c.FallbackModel = c.PrimaryModel
		}
	}

	if c.APIKey == "" {
		c.APIKey = getAPIKeyFromEnv(c.Provider)
	}

	if c.Temperature == nil {
		temp := 0.2
		c.Temperature = &temp
	}

	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}

	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	validProviders := map[LLMProvider]bool{
		LLMProviderOpenAI:    true,
		LLMProviderAnthropic: true,
		LLMProviderGemini:    true,
		LLMProviderOllama:    true,
	}

	if c.Provider != "" && !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q (valid: openai, anthropic, gemini, ollama)", c.Provider)
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be positive")
	}

	return nil
}

// detectProviderFromEnv picks a provider based on available API keys.
func detectProviderFromEnv() LLMProvider {
	if os.Getenv("OPENAI_API_KEY") != "" {
		return LLMProviderOpenAI
	}
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return LLMProviderAnthropic
	}
	if os.Getenv("GEMINI_API_KEY") != "" || os.Getenv("GOOGLE_API_KEY") != "" {
		return LLMProviderGemini
	}
	return LLMProviderOpenAI
}

// getAPIKeyFromEnv returns the conventional key for a provider, preferring
// the provider-neutral LLM_API_KEY.
func getAPIKeyFromEnv(provider LLMProvider) string {
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		return key
	}
	switch provider {
	case LLMProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case LLMProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case LLMProviderGemini:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}
