// Package tptest provides an in-process Tool Protocol server with the
// canonical policy tools and deterministic insurance fixtures. Package
// tests across the repository point connectors at it instead of a live
// policy backend. It supports fault injection per tool (HTTP status,
// latency, malformed bodies) and per-tool call accounting.
package tptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/polisware/polis/pkg/config"
)

// Fixture identifiers shared by tests.
const (
	CustomerID        = "CUST-001"
	CustomerName      = "Jordan Reyes"
	UnknownCustomerID = "INVALID-999"
	AutoPolicyID      = "POL-AUTO-7782"
	LifePolicyID      = "POL-LIFE-3310"
	AutoVehicle       = "2019 Honda Civic"
	AgentName         = "Dana Whitfield"
)

// Fault describes injected misbehavior for one tool. Delay applies first;
// then Status (with Kind and Message as the error document) or Malformed.
// Times > 0 limits how many calls are affected before the fault clears.
type Fault struct {
	Status    int
	Kind      string
	Message   string
	Delay     time.Duration
	Malformed bool
	Times     int
}

func (f *Fault) active() bool {
	return f != nil && (f.Status != 0 || f.Malformed || f.Delay > 0)
}

type toolEntry struct {
	description string
	schema      map[string]any
	handle      func(params map[string]any) (any, *invokeError)
}

type invokeError struct {
	status  int
	kind    string
	message string
}

// Server is a fake policy backend speaking the Tool Protocol.
type Server struct {
	httpServer *httptest.Server

	mu        sync.Mutex
	tools     map[string]*toolEntry
	order     []string
	calls     map[string]int
	faults    map[string]*Fault
	listFault *Fault
}

// New starts a server preloaded with the nine canonical tools.
func New() *Server {
	s := &Server{
		tools:  make(map[string]*toolEntry),
		calls:  make(map[string]int),
		faults: make(map[string]*Fault),
	}
	s.registerCanonicalTools()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /tools", s.handleList)
	mux.HandleFunc("POST /tools/{name}/invoke", s.handleInvoke)
	s.httpServer = httptest.NewServer(mux)
	return s
}

// URL returns the server base URL.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.httpServer.Close()
}

// ServerConfig returns a tool server configuration pointing at this
// server, with defaults applied.
func (s *Server) ServerConfig(id string) *config.ToolServerConfig {
	cfg := &config.ToolServerConfig{ID: id, Kind: config.ToolServerTP, URL: s.URL()}
	cfg.SetDefaults()
	return cfg
}

// Calls returns how many invocations the named tool has received.
func (s *Server) Calls(tool string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[tool]
}

// TotalCalls returns the number of invocations across all tools.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// InjectFault makes the named tool misbehave on subsequent calls.
func (s *Server) InjectFault(tool string, f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[tool] = &f
}

// ClearFault restores normal behavior for the named tool.
func (s *Server) ClearFault(tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.faults, tool)
}

// InjectListFault makes GET /tools misbehave.
func (s *Server) InjectListFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listFault = &f
}

// ClearListFault restores normal discovery behavior.
func (s *Server) ClearListFault() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listFault = nil
}

// RegisterTool adds or replaces a tool. A nil handler echoes the tool
// name; a handler error surfaces as HTTP 500 upstream_error.
func (s *Server) RegisterTool(name, description string, schema map[string]any, handle func(params map[string]any) (any, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[name]; !exists {
		s.order = append(s.order, name)
	}
	s.tools[name] = &toolEntry{
		description: description,
		schema:      schema,
		handle: func(params map[string]any) (any, *invokeError) {
			if handle == nil {
				return map[string]any{"tool": name}, nil
			}
			data, err := handle(params)
			if err != nil {
				return nil, &invokeError{status: http.StatusInternalServerError, kind: "upstream_error", message: err.Error()}
			}
			return data, nil
		},
	}
}

// RemoveTool drops a tool from the catalog and from invocation.
func (s *Server) RemoveTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tools, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fault := s.listFault
	if fault.active() && fault.Times > 0 {
		fault.Times--
		if fault.Times == 0 {
			s.listFault = nil
		}
	}
	s.mu.Unlock()

	if fault.active() {
		if fault.Delay > 0 {
			time.Sleep(fault.Delay)
		}
		if fault.Malformed {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"tools": not json`)
			return
		}
		if fault.Status != 0 {
			writeError(w, fault.Status, fault.Kind, fault.Message)
			return
		}
	}

	type listing struct {
		Name            string         `json:"name"`
		Description     string         `json:"description"`
		ParameterSchema map[string]any `json:"parameter_schema,omitempty"`
	}

	s.mu.Lock()
	listings := make([]listing, 0, len(s.order))
	for _, name := range s.order {
		entry := s.tools[name]
		listings = append(listings, listing{Name: name, Description: entry.description, ParameterSchema: entry.schema})
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listings)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	s.mu.Lock()
	s.calls[name]++
	entry, known := s.tools[name]
	fault := s.faults[name]
	if fault.active() && fault.Times > 0 {
		fault.Times--
		if fault.Times == 0 {
			delete(s.faults, name)
		}
	}
	s.mu.Unlock()

	if fault.active() {
		if fault.Delay > 0 {
			time.Sleep(fault.Delay)
		}
		if fault.Malformed {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"data": <broken>`)
			return
		}
		if fault.Status != 0 {
			writeError(w, fault.Status, fault.Kind, fault.Message)
			return
		}
	}

	if !known {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("tool %s is not supported", name))
		return
	}

	var req struct {
		Parameters map[string]any `json:"parameters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", "request body is not valid JSON")
		return
	}
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}

	data, invErr := entry.handle(req.Parameters)
	if invErr != nil {
		writeError(w, invErr.status, invErr.kind, invErr.message)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error_kind": kind, "message": message})
}
