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

package toolproto

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	polis "github.com/polisware/polis"
	"github.com/polisware/polis/pkg/config"
	"github.com/polisware/polis/pkg/fault"
	"github.com/polisware/polis/pkg/logger"
	"github.com/polisware/polis/pkg/observability"
)

const mcpProtocolVersion = "2024-11-05"

// MCPConnector adapts an MCP server (stdio subprocess or streamable HTTP)
// to the Connector contract. The connection is established lazily on the
// first discovery pass.
type MCPConnector struct {
	serverID string
	command  string
	args     []string
	env      []string
	url      string
	timeout  time.Duration
	queue    chan struct{}
	log      *slog.Logger

	mu        sync.Mutex
	client    *client.Client
	connected bool
	schemas   map[string]map[string]any
}

// NewMCPConnector builds a connector for one configured MCP server.
func NewMCPConnector(cfg *config.ToolServerConfig) (*MCPConnector, error) {
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fault.Newf(fault.InvalidParameters, "mcp server %s needs url or command", cfg.ID)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	depth := cfg.QueueDepth
	if depth < 1 {
		depth = 32
	}

	return &MCPConnector{
		serverID: cfg.ID,
		command:  cfg.Command,
		args:     cfg.Args,
		env:      cfg.Env,
		url:      cfg.URL,
		timeout:  timeout,
		queue:    make(chan struct{}, depth),
		log:      logger.Component("toolproto").With("server_id", cfg.ID),
		schemas:  make(map[string]map[string]any),
	}, nil
}

// ServerID returns the configured server identifier.
func (c *MCPConnector) ServerID() string {
	return c.serverID
}

// ListTools connects on first use, then issues an MCP tools/list.
func (c *MCPConnector) ListTools(ctx context.Context) ([]Descriptor, error) {
	mcpClient, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.disconnect()
		if isTimeout(err) {
			return nil, fault.Wrap(fault.Timeout, "mcp tools/list timed out", err)
		}
		return nil, fault.Wrap(fault.ServerUnreachable, "mcp tools/list failed", err)
	}

	now := time.Now()
	descriptors := make([]Descriptor, 0, len(listResp.Tools))
	schemas := make(map[string]map[string]any, len(listResp.Tools))
	for _, t := range listResp.Tools {
		if t.Name == "" {
			continue
		}
		schema := mcpSchemaMap(t.InputSchema)
		descriptors = append(descriptors, Descriptor{
			ServerID:        c.serverID,
			Name:            t.Name,
			Description:     t.Description,
			ParameterSchema: schema,
			DiscoveredAt:    now,
		})
		schemas[t.Name] = schema
	}

	c.mu.Lock()
	c.schemas = schemas
	c.mu.Unlock()

	c.log.Debug("tools discovered",
		"event", "discovery_completed",
		"transport", c.transportName(),
		"tools", len(descriptors))
	return descriptors, nil
}

// CallTool invokes one MCP tool, mapping the result onto the shared
// status set. MCP carries no structured error kinds, so server-side
// failures surface as upstream_error with the reported text.
func (c *MCPConnector) CallTool(ctx context.Context, name string, params map[string]any) *CallResult {
	start := time.Now()
	result := c.invoke(ctx, name, params)
	result.Duration = time.Since(start)

	observability.GetGlobalMetrics().RecordToolCall(ctx, c.serverID, name, string(result.Status), result.Duration)

	if result.OK() {
		c.log.Debug("tool call completed",
			"event", "tool_call_completed",
			"tool", name,
			"status", string(result.Status),
			"latency_ms", result.Duration.Milliseconds())
	} else {
		c.log.Warn("tool call failed",
			"event", "tool_call_failed",
			"tool", name,
			"status", string(result.Status),
			"latency_ms", result.Duration.Milliseconds(),
			"detail", result.Error)
	}
	return result
}

func (c *MCPConnector) invoke(ctx context.Context, name string, params map[string]any) *CallResult {
	select {
	case c.queue <- struct{}{}:
		defer func() { <-c.queue }()
	default:
		return &CallResult{
			Status: StatusOverloaded,
			Error:  fmt.Sprintf("server %s invocation queue is full", c.serverID),
		}
	}

	if params == nil {
		params = map[string]any{}
	}
	if schema, ok := c.paramSchema(name); ok {
		if err := ValidateParams(schema, params); err != nil {
			return &CallResult{
				Status: statusForKind(fault.KindOf(err)),
				Error:  fault.MessageOf(err),
			}
		}
	}

	mcpClient, err := c.ensureConnected(ctx)
	if err != nil {
		return &CallResult{Status: StatusServerUnreachable, Error: fault.MessageOf(err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = params

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		if isTimeout(err) {
			return &CallResult{Status: StatusTimeout, Error: "call timed out: " + err.Error(), Attempts: 1}
		}
		c.disconnect()
		return &CallResult{Status: StatusServerUnreachable, Error: "mcp call failed: " + err.Error(), Attempts: 1}
	}

	texts := textContents(resp.Content)
	if resp.IsError {
		message := "tool reported an error"
		if len(texts) > 0 {
			message = texts[0]
		}
		status := StatusUpstreamError
		if strings.Contains(strings.ToLower(message), "not found") {
			status = StatusNotFound
		}
		return &CallResult{Status: status, Error: message, Attempts: 1}
	}

	return &CallResult{Status: StatusOK, Data: dataFromTexts(texts), Attempts: 1}
}

// Close shuts the MCP connection down.
func (c *MCPConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.connected = false
	return err
}

func (c *MCPConnector) ensureConnected(ctx context.Context) (*client.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected && c.client != nil {
		return c.client, nil
	}

	mcpClient, err := c.dial()
	if err != nil {
		return nil, fault.Wrap(fault.ServerUnreachable, "mcp client setup failed", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		mcpClient.Close()
		return nil, fault.Wrap(fault.ServerUnreachable, "mcp transport start failed", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpProtocolVersion
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "polis",
		Version: polis.Version,
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, fault.Wrap(fault.ServerUnreachable, "mcp initialize failed", err)
	}

	c.client = mcpClient
	c.connected = true
	c.log.Info("connected to mcp server",
		"event", "mcp_connected",
		"transport", c.transportName())
	return c.client, nil
}

func (c *MCPConnector) dial() (*client.Client, error) {
	if c.command != "" {
		return client.NewStdioMCPClient(c.command, c.env, c.args...)
	}
	return client.NewStreamableHttpClient(c.url)
}

func (c *MCPConnector) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	c.connected = false
}

func (c *MCPConnector) paramSchema(name string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	schema, ok := c.schemas[name]
	return schema, ok
}

func (c *MCPConnector) transportName() string {
	if c.command != "" {
		return "stdio"
	}
	return "streamable-http"
}

// mcpSchemaMap converts an MCP input schema to a plain map by JSON
// round-trip.
func mcpSchemaMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

func textContents(content []mcp.Content) []string {
	var texts []string
	for _, item := range content {
		if text, ok := item.(mcp.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	return texts
}

// dataFromTexts renders MCP text blocks as a JSON payload. A single block
// that already is valid JSON passes through untouched; anything else is
// quoted so the result stays parseable.
func dataFromTexts(texts []string) json.RawMessage {
	switch len(texts) {
	case 0:
		return nil
	case 1:
		trimmed := strings.TrimSpace(texts[0])
		if json.Valid([]byte(trimmed)) {
			return json.RawMessage(trimmed)
		}
		quoted, _ := json.Marshal(texts[0])
		return quoted
	default:
		joined, _ := json.Marshal(texts)
		return joined
	}
}
