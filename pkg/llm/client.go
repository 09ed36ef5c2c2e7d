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

package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/polisware/polis/pkg/config"
	"github.com/polisware/polis/pkg/fault"
	"github.com/polisware/polis/pkg/logger"
	"github.com/polisware/polis/pkg/observability"
)

const jsonRepairInstruction = "Your previous reply was not valid JSON. " +
	"Respond again with only the valid JSON object. No prose, no code fences."

// Client is the completion entry point for both agents. It owns one
// provider, retries retryable failures once on the fallback model,
// and fills in estimated token usage when the provider reports none.
type Client struct {
	provider Provider
	cfg      config.LLMConfig
	counter  *TokenCounter
	log      *slog.Logger
}

// New builds a client for the configured provider.
func New(cfg config.LLMConfig) (*Client, error) {
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithProvider(provider, cfg), nil
}

// NewWithProvider builds a client around an existing provider.
func NewWithProvider(provider Provider, cfg config.LLMConfig) *Client {
	return &Client{
		provider: provider,
		cfg:      cfg,
		counter:  NewTokenCounter(),
		log:      logger.Component("llm"),
	}
}

func newProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case config.LLMProviderOpenAI:
		return NewOpenAIProvider(cfg), nil
	case config.LLMProviderAnthropic:
		return NewAnthropicProvider(cfg), nil
	case config.LLMProviderGemini:
		return NewGeminiProvider(cfg)
	case config.LLMProviderOllama:
		return NewOllamaProvider(cfg), nil
	default:
		return nil, fault.Newf(fault.InvalidParameters, "unknown llm provider %q", cfg.Provider)
	}
}

// Provider returns the name of the underlying provider.
func (c *Client) Provider() string {
	return c.provider.Name()
}

// PrimaryModel returns the configured primary model.
func (c *Client) PrimaryModel() string {
	return c.cfg.PrimaryModel
}

// Close releases provider resources.
func (c *Client) Close() error {
	return c.provider.Close()
}

// Complete runs one completion. The primary model (or opts.Model) is
// tried first; on a retryable failure the fallback model is tried
// once. Both attempts share the surrounding context, so a caller
// deadline is never exceeded.
func (c *Client) Complete(ctx context.Context, messages []Message, opts Options) (*Result, error) {
	model := opts.Model
	if model == "" {
		model = c.cfg.PrimaryModel
	}

	result, err := c.completeOnce(ctx, model, messages, opts)
	if err == nil {
		return result, nil
	}

	fallback := c.cfg.FallbackModel
	if fallback == "" || fallback == model || !fault.Retryable(fault.KindOf(err)) || ctx.Err() != nil {
		return nil, err
	}

	c.log.Warn("primary model failed, trying fallback",
		"model", model,
		"fallback", fallback,
		"error_kind", fault.KindOf(err),
		"error", err)

	result, fbErr := c.completeOnce(ctx, fallback, messages, opts)
	if fbErr != nil {
		// The primary failure is the more useful diagnostic.
		return nil, err
	}
	return result, nil
}

func (c *Client) completeOnce(ctx context.Context, model string, messages []Message, opts Options) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := &Request{
		Model:       model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Format:      opts.Format,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}
	if req.Temperature == nil {
		req.Temperature = c.cfg.Temperature
	}

	start := time.Now()
	result, err := c.provider.Complete(callCtx, req)
	duration := time.Since(start)

	if err != nil {
		observability.GetGlobalMetrics().RecordLLMCall(ctx, c.provider.Name(), model, duration, 0, 0, err)
		return nil, err
	}

	if result.Model == "" {
		result.Model = model
	}
	if result.Usage.TotalTokens == 0 {
		result.Usage = Usage{
			PromptTokens:     c.counter.CountMessages(model, messages),
			CompletionTokens: c.counter.Count(model, result.Text),
			Estimated:        true,
		}
		result.Usage.TotalTokens = result.Usage.PromptTokens + result.Usage.CompletionTokens
	}

	observability.GetGlobalMetrics().RecordLLMCall(ctx, c.provider.Name(), model,
		duration, result.Usage.PromptTokens, result.Usage.CompletionTokens, nil)
	c.log.Debug("completion finished",
		"model", result.Model,
		"duration", duration,
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens)

	return result, nil
}

// CompleteJSON runs Complete in JSON mode and unmarshals the output
// into out. Unparseable output gets exactly one repair round trip;
// if that also fails to parse, the error kind is LLMParseError.
func (c *Client) CompleteJSON(ctx context.Context, messages []Message, opts Options, out any) (*Result, error) {
	opts.Format = FormatJSON

	result, err := c.Complete(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ExtractJSON(result.Text)), out); err == nil {
		return result, nil
	}

	c.log.Warn("model returned invalid JSON, repairing", "model", result.Model)

	repair := append(slices.Clone(messages),
		Assistant(result.Text),
		User(jsonRepairInstruction))
	repaired, err := c.Complete(ctx, repair, opts)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ExtractJSON(repaired.Text)), out); err != nil {
		return nil, fault.Wrap(fault.LLMParseError, "model output is not valid JSON after repair", err)
	}
	return repaired, nil
}

// ExtractJSON strips markdown fences and surrounding prose from a
// model reply, returning the outermost JSON object or array. The
// input is returned unchanged when no JSON delimiters are found.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	var closer byte = '}'
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return s
	}
	return s[start : end+1]
}
