package technical

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/polisware/polis/pkg/a2a"
	"github.com/polisware/polis/pkg/config"
	"github.com/polisware/polis/pkg/fault"
	"github.com/polisware/polis/pkg/llm"
	"github.com/polisware/polis/pkg/prompt"
	"github.com/polisware/polis/pkg/registry"
	"github.com/polisware/polis/pkg/toolproto"
)

// scriptedProvider feeds canned completions to the llm client. Replies
// are consumed in order; the last one repeats. A non-nil err fails
// every call.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
	lastReq *llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, req *llm.Request) (*llm.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	if len(p.replies) == 0 {
		return &llm.Result{Text: "{}", Model: req.Model}, nil
	}
	text := p.replies[0]
	if len(p.replies) > 1 {
		p.replies = p.replies[1:]
	}
	return &llm.Result{Text: text, Model: req.Model}, nil
}

func (p *scriptedProvider) Close() error { return nil }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastReq == nil || len(p.lastReq.Messages) == 0 {
		return ""
	}
	return p.lastReq.Messages[len(p.lastReq.Messages)-1].Content
}

// fakeConnector is a scriptable tool server. Unscripted tools succeed
// with a fixed payload.
type fakeConnector struct {
	id string

	mu      sync.Mutex
	tools   []toolproto.Descriptor
	results map[string]*toolproto.CallResult
	delays  map[string]time.Duration
	calls   []string
	params  map[string]map[string]any
	lists   int
}

func newFakeConnector(id string, toolNames ...string) *fakeConnector {
	c := &fakeConnector{
		id:      id,
		results: make(map[string]*toolproto.CallResult),
		delays:  make(map[string]time.Duration),
		params:  make(map[string]map[string]any),
	}
	for _, name := range toolNames {
		c.tools = append(c.tools, toolproto.Descriptor{
			ServerID:    id,
			Name:        name,
			Description: "fake " + name,
			ParameterSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"customer_id": map[string]any{"type": "string"}},
				"required":   []any{"customer_id"},
			},
			DiscoveredAt: time.Now(),
		})
	}
	return c
}

func (c *fakeConnector) ServerID() string { return c.id }

func (c *fakeConnector) ListTools(context.Context) ([]toolproto.Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists++
	out := make([]toolproto.Descriptor, len(c.tools))
	copy(out, c.tools)
	return out, nil
}

func (c *fakeConnector) CallTool(ctx context.Context, name string, params map[string]any) *toolproto.CallResult {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.params[name] = params
	delay := c.delays[name]
	scripted := c.results[name]
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return &toolproto.CallResult{Status: toolproto.StatusTimeout, Error: "tool call deadline exceeded", Attempts: 1}
		case <-time.After(delay):
		}
	}
	if scripted != nil {
		return scripted
	}
	return &toolproto.CallResult{Status: toolproto.StatusOK, Data: json.RawMessage(`{"ok":true}`), Attempts: 1}
}

func (c *fakeConnector) Close() error { return nil }

func (c *fakeConnector) callOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *fakeConnector) paramsFor(name string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params[name]
}

func (c *fakeConnector) listCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lists
}

func newTestAgent(t *testing.T, cfg config.TechnicalAgentConfig, provider llm.Provider, conn toolproto.Connector) (*Agent, *registry.Registry) {
	t.Helper()

	reg := registry.New(config.RegistryConfig{}, conn)
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	prompts, err := prompt.NewStore()
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	llmClient := llm.NewWithProvider(provider, config.LLMConfig{PrimaryModel: "scripted-model"})

	agent, err := New(cfg, reg, toolproto.NewClient(conn), llmClient, prompts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return agent, reg
}

func decodeBundle(t *testing.T, reply *a2a.Reply) *Bundle {
	t.Helper()
	if len(reply.Parts) == 0 {
		t.Fatal("reply has no parts")
	}
	var bundle Bundle
	if err := json.Unmarshal([]byte(reply.Parts[0].Text), &bundle); err != nil {
		t.Fatalf("bundle does not parse: %v", err)
	}
	return &bundle
}

func TestHandleTaskLLMPlan(t *testing.T) {
	planJSON := `{"steps":[` +
		`{"step_id":"s1","tool_name":"get_payment_information","parameters":{"customer_id":"CUST001"},"purpose":"premium due date"},` +
		`{"step_id":"s2","tool_name":"get_deductibles","parameters":{"customer_id":"CUST001"}}]}`
	provider := &scriptedProvider{replies: []string{planJSON}}
	conn := newFakeConnector("policy-server",
		"get_payment_information", "get_deductibles", "get_customer_policies")
	agent, _ := newTestAgent(t, config.TechnicalAgentConfig{}, provider, conn)

	task := a2a.NewTask(a2a.AgentDomain, a2a.AgentTechnical,
		"When is my premium due and what is my deductible?",
		map[string]any{"customer_id": "CUST001"})
	reply := agent.HandleTask(context.Background(), task)

	if !reply.Completed() {
		t.Fatalf("reply status = %q, want completed (%s)", reply.Status, reply.ErrorMessage())
	}
	if reply.TaskID != task.TaskID {
		t.Errorf("reply task_id = %q, want %q", reply.TaskID, task.TaskID)
	}

	bundle := decodeBundle(t, reply)
	if len(bundle.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(bundle.Results))
	}
	for _, id := range []string{"s1", "s2"} {
		res, ok := bundle.Results[id]
		if !ok {
			t.Fatalf("missing result for %s", id)
		}
		if res.Status != toolproto.StatusOK {
			t.Errorf("%s status = %q, want ok (%s)", id, res.Status, res.Error)
		}
	}
	if bundle.SummaryCounts.OK != 2 || bundle.SummaryCounts.Error != 0 {
		t.Errorf("counts = %+v, want 2 ok", bundle.SummaryCounts)
	}

	summary, _ := reply.Parts[0].Metadata["human_summary"].(string)
	if !strings.Contains(summary, "2 of 2") {
		t.Errorf("human_summary = %q, want it to mention 2 of 2", summary)
	}

	if got := conn.paramsFor("get_deductibles")["customer_id"]; got != "CUST001" {
		t.Errorf("customer_id param = %v, want CUST001", got)
	}
	if !strings.Contains(provider.lastPrompt(), `"get_deductibles"`) {
		t.Error("planning prompt does not carry the tool catalog")
	}
}

func TestHandleTaskRuleFallback(t *testing.T) {
	provider := &scriptedProvider{err: fault.New(fault.UpstreamError, "llm down")}
	conn := newFakeConnector("policy-server", "get_payment_information")
	agent, _ := newTestAgent(t, config.TechnicalAgentConfig{}, provider, conn)

	task := a2a.NewTask(a2a.AgentDomain, a2a.AgentTechnical,
		"Which payments are due this month?",
		map[string]any{"customer_id": "CUST009"})
	reply := agent.HandleTask(context.Background(), task)

	if !reply.Completed() {
		t.Fatalf("reply status = %q, want completed (%s)", reply.Status, reply.ErrorMessage())
	}
	bundle := decodeBundle(t, reply)
	if len(bundle.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(bundle.Results))
	}
	res := bundle.Results["s1"]
	if res.ToolName != "get_payment_information" || res.Status != toolproto.StatusOK {
		t.Errorf("result = %+v, want ok get_payment_information", res)
	}
	if got := conn.paramsFor("get_payment_information")["customer_id"]; got != "CUST009" {
		t.Errorf("customer_id param = %v, want CUST009", got)
	}
}

func TestHandleTaskMarkerRecovery(t *testing.T) {
	provider := &scriptedProvider{err: fault.New(fault.UpstreamError, "llm down")}
	conn := newFakeConnector("policy-server", "get_deductibles")
	agent, _ := newTestAgent(t, config.TechnicalAgentConfig{}, provider, conn)

	task := a2a.NewTask(a2a.AgentDomain, a2a.AgentTechnical,
		"What is my deductible? (session_customer_id: CUST007)", nil)
	reply := agent.HandleTask(context.Background(), task)

	if !reply.Completed() {
		t.Fatalf("reply status = %q, want completed (%s)", reply.Status, reply.ErrorMessage())
	}
	if got := conn.paramsFor("get_deductibles")["customer_id"]; got != "CUST007" {
		t.Errorf("customer_id param = %v, want CUST007 from the marker", got)
	}
}

func TestHandleTaskLLMCustomerRecovery(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"customer_id":"CUST055"}`,
		`{"steps":[{"step_id":"s1","tool_name":"get_deductibles","parameters":{}}]}`,
	}}
	conn := newFakeConnector("policy-server", "get_deductibles")
	agent, _ := newTestAgent(t, config.TechnicalAgentConfig{}, provider, conn)

	task := a2a.NewTask(a2a.AgentDomain, a2a.AgentTechnical,
		"I am CUST055, what is my deductible?", nil)
	reply := agent.HandleTask(context.Background(), task)

	if !reply.Completed() {
		t.Fatalf("reply status = %q, want completed (%s)", reply.Status, reply.ErrorMessage())
	}
	// The plan omitted customer_id; injection must fill the recovered one.
	if got := conn.paramsFor("get_deductibles")["customer_id"]; got != "CUST055" {
		t.Errorf("customer_id param = %v, want injected CUST055", got)
	}
}

func TestHandleTaskMissingCustomer(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"customer_id":""}`}}
	conn := newFakeConnector("policy-server", "get_deductibles")
	agent, _ := newTestAgent(t, config.TechnicalAgentConfig{}, provider, conn)

	task := a2a.NewTask(a2a.AgentDomain, a2a.AgentTechnical, "What is my deductible?", nil)
	reply := agent.HandleTask(context.Background(), task)

	if reply.Completed() {
		t.Fatal("reply completed, want failed")
	}
	if kind := reply.ErrorKind(); kind != fault.MissingCustomerContext {
		t.Errorf("error kind = %q, want MissingCustomerContext", kind)
	}
	if reply.TaskID != task.TaskID {
		t.Errorf("reply task_id = %q, want %q", reply.TaskID, task.TaskID)
	}
	if provider.callCount() == 0 {
		t.Error("llm extraction was never attempted")
	}
}

func TestHandleTaskNoTools(t *testing.T) {
	provider := &scriptedProvider{}
	conn := newFakeConnector("policy-server")
	agent, _ := newTestAgent(t, config.TechnicalAgentConfig{}, provider, conn)

	task := a2a.NewTask(a2a.AgentDomain, a2a.AgentTechnical,
		"policy list please", map[string]any{"customer_id": "CUST001"})
	reply := agent.HandleTask(context.Background(), task)

	if reply.Completed() {
		t.Fatal("reply completed, want failed")
	}
	if kind := reply.ErrorKind(); kind != fault.NoToolsDiscovered {
		t.Errorf("error kind = %q, want NoToolsDiscovered", kind)
	}
}

func TestHandleTaskPlanUnavailable(t *testing.T) {
	// The model plans a tool that does not exist and the message matches
	// no keyword whose tool the registry holds.
	provider := &scriptedProvider{replies: []string{
		`{"steps":[{"step_id":"s1","tool_name":"get_weather","parameters":{}}]}`,
	}}
	conn := newFakeConnector("policy-server", "get_agent")
	agent, _ := newTestAgent(t, config.TechnicalAgentConfig{}, provider, conn)

	task := a2a.NewTask(a2a.AgentDomain, a2a.AgentTechnical,
		"tell me a joke", map[string]any{"customer_id": "CUST001"})
	reply := agent.HandleTask(context.Background(), task)

	if reply.Completed() {
		t.Fatal("reply completed, want failed")
	}
	if kind := reply.ErrorKind(); kind != fault.PlanUnavailable {
		t.Errorf("error kind = %q, want PlanUnavailable", kind)
	}
}

func TestHandleTaskUnreachableServerRequestsRefresh(t *testing.T) {
	provider := &scriptedProvider{err: fault.New(fault.UpstreamError, "llm down")}
	conn := newFakeConnector("policy-server", "get_payment_information")
	conn.results["get_payment_information"] = &toolproto.CallResult{
		Status:   toolproto.StatusServerUnreachable,
		Error:    "dial tcp: connection refused",
		Attempts: 3,
	}
	agent, reg := newTestAgent(t, config.TechnicalAgentConfig{}, provider, conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.Start(ctx)
	defer reg.Stop()

	// Wait for the loop's initial pass so the on-demand one is distinct.
	base := 0
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if base = conn.listCount(); base >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if base < 2 {
		t.Fatalf("initial refresh never ran, lists = %d", base)
	}

	task := a2a.NewTask(a2a.AgentDomain, a2a.AgentTechnical,
		"When is my payment due?", map[string]any{"customer_id": "CUST001"})
	reply := agent.HandleTask(context.Background(), task)

	if !reply.Completed() {
		t.Fatalf("reply status = %q, want completed with a failing bundle", reply.Status)
	}
	bundle := decodeBundle(t, reply)
	if bundle.SummaryCounts.Error != 1 {
		t.Errorf("counts = %+v, want 1 error", bundle.SummaryCounts)
	}
	if res := bundle.Results["s1"]; res.Status != toolproto.StatusServerUnreachable {
		t.Errorf("s1 status = %q, want server_unreachable", res.Status)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn.listCount() > base {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("unreachable result did not trigger a registry refresh")
}

func TestRecoverCustomerIDPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		metadata   map[string]any
		replies    []string
		wantID     string
		wantMethod string
	}{
		{
			name:       "metadata wins over marker",
			text:       "anything (session_customer_id: MARKED)",
			metadata:   map[string]any{"customer_id": "META1"},
			wantID:     "META1",
			wantMethod: "metadata",
		},
		{
			name:       "marker wins over loose pattern",
			text:       "customer_id: LOOSE1 plus (session_customer_id: MARK1)",
			wantID:     "MARK1",
			wantMethod: "marker",
		},
		{
			name:       "loose pattern",
			text:       "records for customer_id: C-42 please",
			wantID:     "C-42",
			wantMethod: "pattern",
		},
		{
			name:       "llm extraction as last resort",
			text:       "I am CUST077, show my policies",
			replies:    []string{`{"customer_id":"CUST077"}`},
			wantID:     "CUST077",
			wantMethod: "llm",
		},
		{
			name:    "nothing recoverable",
			text:    "show my policies",
			replies: []string{`{"customer_id":""}`},
		},
		{
			name:       "non-string metadata ignored",
			text:       "customer_id: FALLBACK",
			metadata:   map[string]any{"customer_id": 12345},
			wantID:     "FALLBACK",
			wantMethod: "pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &scriptedProvider{replies: tt.replies}
			conn := newFakeConnector("policy-server", "get_customer_policies")
			agent, _ := newTestAgent(t, config.TechnicalAgentConfig{}, provider, conn)

			task := a2a.NewTask(a2a.AgentDomain, a2a.AgentTechnical, tt.text, tt.metadata)
			id, method := agent.recoverCustomerID(context.Background(), task)
			if id != tt.wantID {
				t.Errorf("id = %q, want %q", id, tt.wantID)
			}
			if method != tt.wantMethod {
				t.Errorf("method = %q, want %q", method, tt.wantMethod)
			}
		})
	}
}

func TestValidatePlan(t *testing.T) {
	provider := &scriptedProvider{}
	conn := newFakeConnector("policy-server", "get_customer_policies", "get_payment_information")
	agent, _ := newTestAgent(t, config.TechnicalAgentConfig{}, provider, conn)

	tests := []struct {
		name     string
		raw      string
		wantKind fault.Kind
	}{
		{
			name: "valid single step",
			raw:  `{"steps":[{"step_id":"s1","tool_name":"get_customer_policies","parameters":{"customer_id":"C1"}}]}`,
		},
		{
			name: "valid dependency chain",
			raw: `{"steps":[` +
				`{"step_id":"s1","tool_name":"get_customer_policies","parameters":{}},` +
				`{"step_id":"s2","tool_name":"get_payment_information","parameters":{},"dependencies":["s1"]}]}`,
		},
		{
			name:     "not json",
			raw:      "definitely not a plan",
			wantKind: fault.LLMParseError,
		},
		{
			name:     "empty steps",
			raw:      `{"steps":[]}`,
			wantKind: fault.PlanUnavailable,
		},
		{
			name:     "steps missing entirely",
			raw:      `{}`,
			wantKind: fault.PlanUnavailable,
		},
		{
			name:     "step without parameters",
			raw:      `{"steps":[{"step_id":"s1","tool_name":"get_customer_policies"}]}`,
			wantKind: fault.PlanUnavailable,
		},
		{
			name: "duplicate step ids",
			raw: `{"steps":[` +
				`{"step_id":"s1","tool_name":"get_customer_policies","parameters":{}},` +
				`{"step_id":"s1","tool_name":"get_payment_information","parameters":{}}]}`,
			wantKind: fault.PlanUnavailable,
		},
		{
			name:     "unknown tool",
			raw:      `{"steps":[{"step_id":"s1","tool_name":"get_weather","parameters":{}}]}`,
			wantKind: fault.PlanUnavailable,
		},
		{
			name: "forward dependency",
			raw: `{"steps":[` +
				`{"step_id":"s1","tool_name":"get_customer_policies","parameters":{},"dependencies":["s2"]},` +
				`{"step_id":"s2","tool_name":"get_payment_information","parameters":{}}]}`,
			wantKind: fault.PlanUnavailable,
		},
		{
			name:     "self dependency",
			raw:      `{"steps":[{"step_id":"s1","tool_name":"get_customer_policies","parameters":{},"dependencies":["s1"]}]}`,
			wantKind: fault.PlanUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var plan Plan
			_ = json.Unmarshal([]byte(llm.ExtractJSON(tt.raw)), &plan)

			err := agent.validatePlan(tt.raw, &plan)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("validatePlan() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("validatePlan() = nil, want error")
			}
			if kind := fault.KindOf(err); kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", kind, tt.wantKind)
			}
		})
	}
}

func TestExecuteWaves(t *testing.T) {
	provider := &scriptedProvider{}
	conn := newFakeConnector("policy-server",
		"get_customer_policies", "get_policy_details", "get_agent")
	agent, _ := newTestAgent(t, config.TechnicalAgentConfig{}, provider, conn)

	plan := &Plan{Steps: []Step{
		{StepID: "s1", ToolName: "get_customer_policies", Parameters: map[string]any{"customer_id": "C1"}},
		{StepID: "s2", ToolName: "get_policy_details", Parameters: map[string]any{"customer_id": "C1"}, Dependencies: []string{"s1"}},
		{StepID: "s3", ToolName: "get_agent", Parameters: map[string]any{"customer_id": "C1"}, Dependencies: []string{"s1"}},
	}}
	bundle := agent.execute(context.Background(), plan)

	if len(bundle.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(bundle.Results))
	}
	if bundle.SummaryCounts.OK != 3 {
		t.Errorf("counts = %+v, want 3 ok", bundle.SummaryCounts)
	}
	order := conn.callOrder()
	if len(order) != 3 || order[0] != "get_customer_policies" {
		t.Errorf("call order = %v, want get_customer_policies first", order)
	}
}

func TestExecuteFailedDependencyStillRuns(t *testing.T) {
	provider := &scriptedProvider{}
	conn := newFakeConnector("policy-server", "get_customer_policies", "get_agent")
	conn.results["get_customer_policies"] = &toolproto.CallResult{
		Status: toolproto.StatusUpstreamError, Error: "backend 500", Attempts: 3,
	}
	agent, _ := newTestAgent(t, config.TechnicalAgentConfig{}, provider, conn)

	plan := &Plan{Steps: []Step{
		{StepID: "s1", ToolName: "get_customer_policies", Parameters: map[string]any{}},
		{StepID: "s2", ToolName: "get_agent", Parameters: map[string]any{}, Dependencies: []string{"s1"}},
	}}
	bundle := agent.execute(context.Background(), plan)

	if got := bundle.Results["s1"].Status; got != toolproto.StatusUpstreamError {
		t.Errorf("s1 status = %q, want upstream_error", got)
	}
	if got := bundle.Results["s2"].Status; got != toolproto.StatusOK {
		t.Errorf("s2 status = %q, want ok despite failed dependency", got)
	}
	if bundle.SummaryCounts.OK != 1 || bundle.SummaryCounts.Error != 1 {
		t.Errorf("counts = %+v, want 1 ok and 1 error", bundle.SummaryCounts)
	}
}

func TestExecutePlanDeadline(t *testing.T) {
	provider := &scriptedProvider{}
	conn := newFakeConnector("policy-server", "get_customer_policies", "get_agent")
	conn.delays["get_customer_policies"] = 500 * time.Millisecond
	agent, _ := newTestAgent(t, config.TechnicalAgentConfig{PlanTimeout: 40 * time.Millisecond}, provider, conn)

	plan := &Plan{Steps: []Step{
		{StepID: "s1", ToolName: "get_customer_policies", Parameters: map[string]any{}},
		{StepID: "s2", ToolName: "get_agent", Parameters: map[string]any{}, Dependencies: []string{"s1"}},
	}}
	bundle := agent.execute(context.Background(), plan)

	if len(bundle.Results) != 2 {
		t.Fatalf("results = %d, want entries for every step", len(bundle.Results))
	}
	if got := bundle.Results["s1"].Status; got != toolproto.StatusTimeout {
		t.Errorf("s1 status = %q, want timeout", got)
	}
	if got := bundle.Results["s2"].Status; got != toolproto.StatusTimeout {
		t.Errorf("s2 status = %q, want timeout without running", got)
	}
	if order := conn.callOrder(); len(order) != 1 {
		t.Errorf("calls = %v, want only the first step to reach the server", order)
	}
}

func TestExecuteVanishedToolIsNotFound(t *testing.T) {
	provider := &scriptedProvider{}
	conn := newFakeConnector("policy-server", "get_customer_policies")
	agent, _ := newTestAgent(t, config.TechnicalAgentConfig{}, provider, conn)

	plan := &Plan{Steps: []Step{
		{StepID: "s1", ToolName: "get_recommendations", Parameters: map[string]any{}},
	}}
	bundle := agent.execute(context.Background(), plan)

	if got := bundle.Results["s1"].Status; got != toolproto.StatusNotFound {
		t.Errorf("s1 status = %q, want not_found", got)
	}
	if bundle.SummaryCounts.NotFound != 1 {
		t.Errorf("counts = %+v, want 1 not_found", bundle.SummaryCounts)
	}
}

func TestInjectCustomerID(t *testing.T) {
	plan := &Plan{Steps: []Step{
		{StepID: "s1", ToolName: "a"},
		{StepID: "s2", ToolName: "b", Parameters: map[string]any{"policy_id": "P1"}},
		{StepID: "s3", ToolName: "c", Parameters: map[string]any{"customer_id": "KEEP"}},
	}}
	injectCustomerID(plan, "CUST001")

	if got := plan.Steps[0].Parameters["customer_id"]; got != "CUST001" {
		t.Errorf("nil params: customer_id = %v, want CUST001", got)
	}
	if got := plan.Steps[1].Parameters["customer_id"]; got != "CUST001" {
		t.Errorf("partial params: customer_id = %v, want CUST001", got)
	}
	if got := plan.Steps[1].Parameters["policy_id"]; got != "P1" {
		t.Errorf("existing param clobbered: policy_id = %v", got)
	}
	if got := plan.Steps[2].Parameters["customer_id"]; got != "KEEP" {
		t.Errorf("explicit customer_id overwritten: %v", got)
	}
}

func TestHumanSummary(t *testing.T) {
	tests := []struct {
		counts Counts
		want   string
	}{
		{Counts{}, "no tool calls were made"},
		{Counts{OK: 2}, "2 of 2 tool calls succeeded"},
		{Counts{OK: 1, NotFound: 1, Error: 1}, "1 of 3 tool calls succeeded (1 found no records, 1 failed)"},
		{Counts{Error: 2}, "0 of 2 tool calls succeeded (2 failed)"},
	}
	for _, tt := range tests {
		if got := humanSummary(tt.counts); got != tt.want {
			t.Errorf("humanSummary(%+v) = %q, want %q", tt.counts, got, tt.want)
		}
	}
}
