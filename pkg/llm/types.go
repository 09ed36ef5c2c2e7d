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

// Package llm provides the chat-completion client shared by both
// agents. It wraps a single configured provider (OpenAI-compatible,
// Anthropic, Gemini, or Ollama) behind one non-streaming Complete
// call, adds a one-shot fallback model for retryable failures, and
// implements JSON-mode completion with a single repair round trip.
package llm

import (
	"context"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a completion conversation.
type Message struct {
	Role    Role
	Content string
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Format selects the response shape requested from the provider.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options tune a single completion. Zero fields fall back to the
// client configuration.
type Options struct {
	// Model overrides the configured primary model.
	Model string

	// MaxTokens caps the completion length.
	MaxTokens int

	// Temperature overrides the configured temperature.
	Temperature *float64

	// Format requests plain text (default) or strict JSON.
	Format Format

	// Timeout bounds this call. The surrounding context still applies.
	Timeout time.Duration
}

// Usage reports token consumption for one completion. Estimated is
// set when the provider returned no usage and the counts come from
// local tokenization.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Estimated        bool
}

// Result is a finished completion.
type Result struct {
	// Text is the raw model output.
	Text string

	// Model is the model that actually answered, which differs from
	// the primary when the fallback was used.
	Model string

	// Usage is the token accounting for this call.
	Usage Usage
}

// Request is the provider-level completion input.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	Format      Format
}

// Provider executes completions against one upstream API. Errors
// carry a fault kind so callers can tell timeouts and unreachable
// servers from upstream rejections.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Result, error)
	Close() error
}
