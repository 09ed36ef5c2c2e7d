package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/polisware/polis/pkg/config"
	"github.com/polisware/polis/pkg/fault"
	"github.com/polisware/polis/pkg/httpclient"
)

const (
	defaultAnthropicHost    = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicJSONDirective  = "Respond with only a valid JSON object. No prose, no code fences."
	anthropicDefaultMaxToks = 1024
)

// AnthropicProvider talks to the Anthropic messages API.
type AnthropicProvider struct {
	host       string
	apiKey     string
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewAnthropicProvider builds the provider from the shared LLM config.
func NewAnthropicProvider(cfg config.LLMConfig) *AnthropicProvider {
	host := cfg.BaseURL
	if host == "" {
		host = defaultAnthropicHost
	}
	return &AnthropicProvider{
		host:   host,
		apiKey: cfg.APIKey,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Transport: httpclient.PooledTransport()}),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Close() error { return nil }

func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Result, error) {
	body := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      false,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = anthropicDefaultMaxToks
	}

	// System messages travel in the dedicated field; the messages API
	// rejects role "system" entries.
	var system []string
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: string(msg.Role), Content: msg.Content})
	}
	if req.Format == FormatJSON {
		system = append(system, anthropicJSONDirective)
	}
	body.System = strings.Join(system, "\n\n")

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamError, "marshaling completion request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamError, "building completion request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(httpReq)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fault.Wrap(classifyTransport(err), p.readError(resp), err)
		}
		return nil, fault.Wrap(classifyTransport(err), "anthropic request failed", err)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamError, "reading completion response", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fault.Wrap(fault.UpstreamError, "malformed completion response", err)
	}
	if parsed.Error != nil {
		return nil, fault.Newf(fault.UpstreamError, "anthropic: %s", parsed.Error.Message)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fault.New(fault.UpstreamError, "anthropic returned no text content")
	}

	return &Result{
		Text:  text.String(),
		Model: parsed.Model,
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}, nil
}

func (p *AnthropicProvider) readError(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err == nil {
		var parsed anthropicResponse
		if json.Unmarshal(data, &parsed) == nil && parsed.Error != nil {
			return fmt.Sprintf("anthropic: %s (HTTP %d)", parsed.Error.Message, resp.StatusCode)
		}
	}
	return fmt.Sprintf("anthropic: HTTP %d", resp.StatusCode)
}
