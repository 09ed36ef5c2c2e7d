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

// Package toolproto speaks the Tool Protocol with backend tool servers.
//
// Two server kinds are supported: native TP servers (GET /tools,
// POST /tools/{name}/invoke) and MCP servers (stdio or streamable HTTP).
// Both surface the same Connector contract, so the registry and the
// technical agent never branch on the protocol.
//
// Tool calls never return Go errors: every outcome is a *CallResult whose
// Status comes from the closed set below. Partial failure is data here,
// not control flow. Discovery (ListTools) does return errors, classified
// with fault kinds, because the registry treats a failed refresh
// differently from an empty catalog.
package toolproto

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/polisware/polis/pkg/fault"
)

// Status is the outcome of one tool invocation. The set is closed and
// wire-stable: these strings appear verbatim in result bundles.
type Status string

const (
	StatusOK                Status = "ok"
	StatusNotFound          Status = "not_found"
	StatusInvalidParams     Status = "invalid_params"
	StatusUpstreamError     Status = "upstream_error"
	StatusTimeout           Status = "timeout"
	StatusServerUnreachable Status = "server_unreachable"
	StatusOverloaded        Status = "overloaded"
)

// Descriptor describes one tool advertised by one server. The registry
// snapshots descriptors; planners render them into prompts.
type Descriptor struct {
	ServerID        string         `json:"server_id"`
	Name            string         `json:"tool_name"`
	Description     string         `json:"description,omitempty"`
	ParameterSchema map[string]any `json:"parameter_schema,omitempty"`
	ReturnSchema    map[string]any `json:"return_schema,omitempty"`
	DiscoveredAt    time.Time      `json:"discovered_at"`
}

// CallResult is the terminal outcome of one tool invocation.
//
// Data is set only when Status is StatusOK. Attempts counts HTTP attempts
// actually made (0 when the call was rejected before reaching the wire,
// for example by local parameter validation or queue saturation).
type CallResult struct {
	Status   Status          `json:"status"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	Attempts int             `json:"attempts"`
	Duration time.Duration   `json:"-"`
}

// OK reports whether the invocation succeeded.
func (r *CallResult) OK() bool {
	return r.Status == StatusOK
}

// Connector is one tool server. Implementations are safe for concurrent
// use and apply their own per-call deadline and backpressure bound.
type Connector interface {
	// ServerID returns the configured server identifier.
	ServerID() string

	// ListTools discovers the server's tools. Errors carry fault kinds:
	// ServerUnreachable for transport failures, ProtocolMismatch for
	// replies that do not parse, UpstreamError for non-2xx statuses.
	ListTools(ctx context.Context) ([]Descriptor, error)

	// CallTool invokes one tool. The result is never nil and never
	// accompanied by an error; failures are encoded in Status.
	CallTool(ctx context.Context, name string, params map[string]any) *CallResult

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Client routes calls to a set of connectors by server ID. Connector
// order follows configuration order, which the registry relies on for
// duplicate-name precedence.
type Client struct {
	connectors []Connector
	byID       map[string]Connector
}

// NewClient builds a client over the given connectors. Order is preserved.
func NewClient(connectors ...Connector) *Client {
	byID := make(map[string]Connector, len(connectors))
	for _, c := range connectors {
		if _, dup := byID[c.ServerID()]; !dup {
			byID[c.ServerID()] = c
		}
	}
	return &Client{connectors: connectors, byID: byID}
}

// Connectors returns the connectors in configuration order.
func (c *Client) Connectors() []Connector {
	out := make([]Connector, len(c.connectors))
	copy(out, c.connectors)
	return out
}

// Connector returns the connector for a server ID.
func (c *Client) Connector(serverID string) (Connector, bool) {
	conn, ok := c.byID[serverID]
	return conn, ok
}

// CallTool routes one invocation to the named server.
func (c *Client) CallTool(ctx context.Context, serverID, name string, params map[string]any) *CallResult {
	conn, ok := c.byID[serverID]
	if !ok {
		return &CallResult{
			Status: StatusServerUnreachable,
			Error:  "server " + serverID + " is not configured",
		}
	}
	return conn.CallTool(ctx, name, params)
}

// Close closes every connector, returning the joined errors.
func (c *Client) Close() error {
	var errs []error
	for _, conn := range c.connectors {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// statusForKind maps a fault kind onto the call result status set.
// ProtocolMismatch collapses to upstream_error on the wire; the kind is
// still logged at the call site.
func statusForKind(kind fault.Kind) Status {
	switch kind {
	case fault.InvalidParameters:
		return StatusInvalidParams
	case fault.Timeout:
		return StatusTimeout
	case fault.ServerUnreachable:
		return StatusServerUnreachable
	case fault.Overloaded:
		return StatusOverloaded
	default:
		return StatusUpstreamError
	}
}

// statusForWireKind maps an error_kind string from a TP error document
// onto the status set. Servers speak the snake_case status vocabulary;
// the CamelCase fault kinds are accepted as aliases. Unknown kinds fall
// back to the HTTP status class at the call site.
func statusForWireKind(kind string) (Status, bool) {
	switch kind {
	case string(StatusNotFound):
		return StatusNotFound, true
	case string(StatusInvalidParams), string(fault.InvalidParameters):
		return StatusInvalidParams, true
	case string(StatusOverloaded), string(fault.Overloaded):
		return StatusOverloaded, true
	case string(StatusTimeout), string(fault.Timeout):
		return StatusTimeout, true
	case string(StatusUpstreamError), string(fault.UpstreamError):
		return StatusUpstreamError, true
	default:
		return "", false
	}
}
