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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/polisware/polis/pkg/config"
	"github.com/polisware/polis/pkg/fault"
	"github.com/polisware/polis/pkg/httpclient"
	"github.com/polisware/polis/pkg/logger"
	"github.com/polisware/polis/pkg/observability"
)

const (
	toolsPath  = "/tools"
	invokePath = "/tools/%s/invoke"

	// maxReplyBytes bounds how much of a server reply is read. Tool data
	// is compact; anything past this is a misbehaving server.
	maxReplyBytes = 4 << 20

	// maxErrorBytes bounds error document reads.
	maxErrorBytes = 64 << 10
)

// TPConnector speaks the native Tool Protocol over HTTP with one server.
type TPConnector struct {
	serverID string
	baseURL  string
	timeout  time.Duration
	http     *httpclient.Client
	queue    chan struct{}
	log      *slog.Logger

	mu      sync.RWMutex
	schemas map[string]map[string]any
}

type toolListing struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	ParameterSchema map[string]any `json:"parameter_schema"`
	ReturnSchema    map[string]any `json:"return_schema"`
}

type invokeRequest struct {
	Parameters map[string]any `json:"parameters"`
}

type invokeReply struct {
	Data json.RawMessage `json:"data"`
}

type errorDoc struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// NewTPConnector builds a connector for one configured TP server.
func NewTPConnector(cfg *config.ToolServerConfig) (*TPConnector, error) {
	if cfg.URL == "" {
		return nil, fault.Newf(fault.InvalidParameters, "tool server %s has no url", cfg.ID)
	}

	var tlsCfg *httpclient.TLSConfig
	if cfg.TLS != nil {
		tlsCfg = &httpclient.TLSConfig{
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
			CACertificate:      cfg.TLS.CACertificate,
		}
	}
	transport, err := httpclient.NewTransport(tlsCfg)
	if err != nil {
		return nil, fault.Wrap(fault.InvalidParameters, "tool server "+cfg.ID+" tls setup failed", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	depth := cfg.QueueDepth
	if depth < 1 {
		depth = 32
	}

	return &TPConnector{
		serverID: cfg.ID,
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		timeout:  timeout,
		http: httpclient.New(httpclient.WithHTTPClient(&http.Client{
			Transport: &countingTransport{base: transport},
		})),
		queue:   make(chan struct{}, depth),
		log:     logger.Component("toolproto").With("server_id", cfg.ID),
		schemas: make(map[string]map[string]any),
	}, nil
}

// ServerID returns the configured server identifier.
func (c *TPConnector) ServerID() string {
	return c.serverID
}

// ListTools performs a GET /tools discovery pass. Parameter schemas from
// the newest pass replace the local validation cache.
func (c *TPConnector) ListTools(ctx context.Context) ([]Descriptor, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+toolsPath, nil)
	if err != nil {
		return nil, fault.Wrap(fault.ServerUnreachable, "building discovery request failed", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, discoveryFault(resp, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fault.Wrap(fault.ServerUnreachable, "reading discovery reply failed", err)
	}

	var listings []toolListing
	if err := json.Unmarshal(body, &listings); err != nil {
		return nil, fault.Wrap(fault.ProtocolMismatch, "discovery reply is not a tool list", err)
	}

	now := time.Now()
	descriptors := make([]Descriptor, 0, len(listings))
	schemas := make(map[string]map[string]any, len(listings))
	for _, l := range listings {
		if l.Name == "" {
			return nil, fault.New(fault.ProtocolMismatch, "discovery reply contains a tool without a name")
		}
		descriptors = append(descriptors, Descriptor{
			ServerID:        c.serverID,
			Name:            l.Name,
			Description:     l.Description,
			ParameterSchema: l.ParameterSchema,
			ReturnSchema:    l.ReturnSchema,
			DiscoveredAt:    now,
		})
		schemas[l.Name] = l.ParameterSchema
	}

	c.mu.Lock()
	c.schemas = schemas
	c.mu.Unlock()

	c.log.Debug("tools discovered",
		"event", "discovery_completed",
		"tools", len(descriptors),
		"latency_ms", time.Since(start).Milliseconds())
	return descriptors, nil
}

// CallTool invokes one tool. Parameters are validated against the schema
// from the latest discovery pass before the request is sent; a tool never
// seen in discovery skips local validation and the server enforces.
func (c *TPConnector) CallTool(ctx context.Context, name string, params map[string]any) *CallResult {
	start := time.Now()
	c.log.Debug("tool call started", "event", "tool_call_started", "tool", name)

	result := c.invoke(ctx, name, params)
	result.Duration = time.Since(start)

	observability.GetGlobalMetrics().RecordToolCall(ctx, c.serverID, name, string(result.Status), result.Duration)

	if result.OK() {
		c.log.Debug("tool call completed",
			"event", "tool_call_completed",
			"tool", name,
			"status", string(result.Status),
			"attempts", result.Attempts,
			"latency_ms", result.Duration.Milliseconds())
	} else {
		c.log.Warn("tool call failed",
			"event", "tool_call_failed",
			"tool", name,
			"status", string(result.Status),
			"attempts", result.Attempts,
			"latency_ms", result.Duration.Milliseconds(),
			"detail", result.Error)
	}
	return result
}

func (c *TPConnector) invoke(ctx context.Context, name string, params map[string]any) *CallResult {
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

	body, err := json.Marshal(invokeRequest{Parameters: params})
	if err != nil {
		return &CallResult{
			Status: StatusInvalidParams,
			Error:  "parameters are not serializable: " + err.Error(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx, counter := withAttemptCounter(ctx)

	url := c.baseURL + fmt.Sprintf(invokePath, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &CallResult{
			Status: StatusServerUnreachable,
			Error:  "building invoke request failed: " + err.Error(),
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	attempts := counter.count()
	if err != nil {
		status, message := c.interpretCallError(resp, err)
		return &CallResult{Status: status, Error: message, Attempts: attempts}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return &CallResult{
			Status:   StatusServerUnreachable,
			Error:    "reading invoke reply failed: " + err.Error(),
			Attempts: attempts,
		}
	}

	var reply invokeReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		c.log.Warn("malformed invoke reply",
			"event", "protocol_mismatch",
			"tool", name,
			"error_kind", string(fault.ProtocolMismatch))
		return &CallResult{
			Status:   StatusUpstreamError,
			Error:    "server reply is not a result document",
			Attempts: attempts,
		}
	}

	return &CallResult{Status: StatusOK, Data: reply.Data, Attempts: attempts}
}

// interpretCallError maps a failed Do into the closed status set. The
// response, when present, still has its body open for the error document.
func (c *TPConnector) interpretCallError(resp *http.Response, err error) (Status, string) {
	if resp != nil {
		defer resp.Body.Close()
	}

	var retryErr *httpclient.RetryableError
	switch {
	case errors.As(err, &retryErr):
		if retryErr.StatusCode == 0 {
			if isTimeout(retryErr.Err) {
				return StatusTimeout, "call timed out: " + retryErr.Error()
			}
			return StatusServerUnreachable, "server unreachable: " + retryErr.Error()
		}
		doc := readErrorDoc(resp)
		if status, ok := statusForWireKind(doc.ErrorKind); ok {
			return status, errorMessage(doc, retryErr.StatusCode)
		}
		return StatusUpstreamError, errorMessage(doc, retryErr.StatusCode)

	case isTimeout(err):
		return StatusTimeout, "call timed out: " + err.Error()

	case resp != nil:
		// Non-retryable HTTP status, single attempt.
		doc := readErrorDoc(resp)
		if status, ok := statusForWireKind(doc.ErrorKind); ok {
			return status, errorMessage(doc, resp.StatusCode)
		}
		switch resp.StatusCode {
		case http.StatusNotFound:
			return StatusNotFound, errorMessage(doc, resp.StatusCode)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return StatusInvalidParams, errorMessage(doc, resp.StatusCode)
		default:
			return StatusUpstreamError, errorMessage(doc, resp.StatusCode)
		}

	default:
		return StatusServerUnreachable, "server unreachable: " + err.Error()
	}
}

// Close releases the invocation queue. The underlying transport pools are
// shared process-wide and stay open.
func (c *TPConnector) Close() error {
	return nil
}

func (c *TPConnector) paramSchema(name string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	schema, ok := c.schemas[name]
	return schema, ok
}

func discoveryFault(resp *http.Response, err error) error {
	var retryErr *httpclient.RetryableError
	if errors.As(err, &retryErr) && retryErr.StatusCode > 0 {
		return fault.Wrap(fault.UpstreamError,
			fmt.Sprintf("discovery failed with HTTP %d", retryErr.StatusCode), err)
	}
	if isTimeout(err) {
		return fault.Wrap(fault.Timeout, "discovery timed out", err)
	}
	if resp != nil {
		return fault.Wrap(fault.UpstreamError,
			fmt.Sprintf("discovery failed with HTTP %d", resp.StatusCode), err)
	}
	return fault.Wrap(fault.ServerUnreachable, "discovery request failed", err)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func readErrorDoc(resp *http.Response) errorDoc {
	var doc errorDoc
	if resp == nil {
		return doc
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
	if err != nil {
		return doc
	}
	_ = json.Unmarshal(body, &doc)
	return doc
}

func errorMessage(doc errorDoc, statusCode int) string {
	if doc.Message != "" {
		return doc.Message
	}
	return fmt.Sprintf("HTTP %d", statusCode)
}

// attemptCounter counts wire attempts for one logical call. The counter
// travels in the request context so the shared transport can find it.
type attemptCounter struct {
	n atomic.Int32
}

func (a *attemptCounter) count() int {
	if a == nil {
		return 0
	}
	return int(a.n.Load())
}

type attemptCounterKey struct{}

func withAttemptCounter(ctx context.Context) (context.Context, *attemptCounter) {
	counter := &attemptCounter{}
	return context.WithValue(ctx, attemptCounterKey{}, counter), counter
}

// countingTransport increments the context-carried attempt counter on
// every round trip, including retries issued by the retrying client.
type countingTransport struct {
	base http.RoundTripper
}

func (t *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if counter, ok := req.Context().Value(attemptCounterKey{}).(*attemptCounter); ok {
		counter.n.Add(1)
	}
	return t.base.RoundTrip(req)
}
