package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/polisware/polis/pkg/config"
	"github.com/polisware/polis/pkg/fault"
	"github.com/polisware/polis/pkg/httpclient"
)

const defaultOllamaHost = "http://localhost:11434"

// OllamaProvider talks to a local Ollama server. No API key required.
type OllamaProvider struct {
	host       string
	httpClient *httpclient.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

// NewOllamaProvider builds the provider from the shared LLM config.
func NewOllamaProvider(cfg config.LLMConfig) *OllamaProvider {
	host := cfg.BaseURL
	if host == "" {
		host = defaultOllamaHost
	}
	return &OllamaProvider{
		host: host,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Transport: httpclient.PooledTransport()}),
		),
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Close() error { return nil }

func (p *OllamaProvider) Complete(ctx context.Context, req *Request) (*Result, error) {
	body := ollamaRequest{
		Model:  req.Model,
		Stream: false,
	}
	for _, msg := range req.Messages {
		body.Messages = append(body.Messages, ollamaMessage{Role: string(msg.Role), Content: msg.Content})
	}
	if req.Format == FormatJSON {
		body.Format = "json"
	}
	opts := &ollamaOptions{}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		opts.NumPredict = req.MaxTokens
	}
	if opts.Temperature != 0 || opts.NumPredict != 0 {
		body.Options = opts
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamError, "marshaling completion request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamError, "building completion request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fault.Wrap(classifyTransport(err), p.readError(resp), err)
		}
		return nil, fault.Wrap(classifyTransport(err), "ollama request failed", err)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamError, "reading completion response", err)
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fault.Wrap(fault.UpstreamError, "malformed completion response", err)
	}
	if parsed.Error != "" {
		return nil, fault.Newf(fault.UpstreamError, "ollama: %s", parsed.Error)
	}

	return &Result{
		Text:  parsed.Message.Content,
		Model: parsed.Model,
		Usage: Usage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
			TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		},
	}, nil
}

func (p *OllamaProvider) readError(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err == nil {
		var parsed ollamaResponse
		if json.Unmarshal(data, &parsed) == nil && parsed.Error != "" {
			return fmt.Sprintf("ollama: %s (HTTP %d)", parsed.Error, resp.StatusCode)
		}
	}
	return fmt.Sprintf("ollama: HTTP %d", resp.StatusCode)
}
