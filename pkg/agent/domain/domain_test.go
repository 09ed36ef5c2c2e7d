package domain

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/polisware/polis/pkg/a2a"
	"github.com/polisware/polis/pkg/agent/intent"
	"github.com/polisware/polis/pkg/config"
	"github.com/polisware/polis/pkg/fault"
	"github.com/polisware/polis/pkg/llm"
	"github.com/polisware/polis/pkg/prompt"
	"github.com/polisware/polis/pkg/session"
)

const (
	generalIntentJSON = `{"primary_intents":["general_inquiry"],"confidence":0.9,"requires_auth":false,"requires_technical":false}`
	paymentIntentJSON = `{"primary_intents":["payment_inquiry"],"confidence":0.9,"requires_auth":true,"requires_technical":true}`
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

// techStub plays the Technical Agent behind a real A2A server so
// delegation exercises the actual client, server, and wire envelopes.
// Scripted replies are consumed in order; when none remain, tasks get
// a completed two-call bundle.
type techStub struct {
	mu      sync.Mutex
	tasks   []*a2a.Task
	scripts []func(taskID string) *a2a.Reply
}

func (s *techStub) push(fs ...func(taskID string) *a2a.Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, fs...)
}

func (s *techStub) HandleTask(_ context.Context, task *a2a.Task) *a2a.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	if len(s.scripts) == 0 {
		return bundleReply(2, 0, 0)(task.TaskID)
	}
	f := s.scripts[0]
	s.scripts = s.scripts[1:]
	return f(task.TaskID)
}

func (s *techStub) taskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *techStub) task(i int) *a2a.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[i]
}

// bundleReply fabricates a completed Technical Agent reply carrying the
// given result counts.
func bundleReply(ok, notFound, errs int) func(string) *a2a.Reply {
	total := ok + notFound + errs
	bundle := fmt.Sprintf(`{"results":{"s1":{"step_id":"s1","tool_name":"get_payment_information",`+
		`"status":"ok","data":{"amount_due":120.5,"due_date":"2026-03-01"},"latency_ms":3,"attempts":1}},`+
		`"summary_counts":{"ok":%d,"not_found":%d,"error":%d}}`, ok, notFound, errs)
	summary := fmt.Sprintf("%d of %d tool calls succeeded", ok, total)
	return func(taskID string) *a2a.Reply {
		return &a2a.Reply{
			TaskID: taskID,
			Status: a2a.StatusCompleted,
			Parts: []a2a.Part{{
				Text:     bundle,
				Metadata: map[string]any{"human_summary": summary},
			}},
		}
	}
}

func failedReply(kind fault.Kind, msg string) func(string) *a2a.Reply {
	return func(taskID string) *a2a.Reply {
		return a2a.FailedReply(taskID, kind, msg)
	}
}

type harness struct {
	agent    *Agent
	sessions *session.Store
	tech     *techStub
	ts       *httptest.Server
}

func newHarness(t *testing.T, provider llm.Provider, cfg config.DomainAgentConfig) *harness {
	t.Helper()

	tech := &techStub{}
	ts := httptest.NewServer(a2a.NewServer(a2a.AgentTechnical, 0, 8, tech).Router())
	t.Cleanup(ts.Close)

	sessions := session.NewStore(config.SessionConfig{TTL: time.Hour, SweepInterval: time.Minute})
	prompts, err := prompt.NewStore()
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	llmClient := llm.NewWithProvider(provider, config.LLMConfig{PrimaryModel: "scripted-model"})

	cfg.TechnicalAgentURL = ts.URL
	return &harness{
		agent:    New(cfg, sessions, llmClient, prompts),
		sessions: sessions,
		tech:     tech,
		ts:       ts,
	}
}

func (h *harness) login(t *testing.T, sessionID, customerID string) {
	t.Helper()
	if _, err := h.sessions.Create(sessionID, customerID); err != nil {
		t.Fatalf("Create(%s) error = %v", sessionID, err)
	}
}

func chat(t *testing.T, h *harness, sessionID, text string, withDiagnostics bool) *ChatResult {
	t.Helper()
	result, err := h.agent.Chat(context.Background(), sessionID, text, withDiagnostics)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	return result
}

func TestChatNoSession(t *testing.T) {
	provider := &scriptedProvider{}
	h := newHarness(t, provider, config.DomainAgentConfig{})

	result := chat(t, h, "ghost-session", "When is my premium due?", false)

	if !strings.Contains(result.Reply, "verify your identity") {
		t.Errorf("reply = %q, want the authentication message", result.Reply)
	}
	if result.Diagnostics != nil {
		t.Error("diagnostics returned without being requested")
	}
	if provider.callCount() != 0 {
		t.Errorf("llm calls = %d, want 0 before authentication", provider.callCount())
	}
	if h.tech.taskCount() != 0 {
		t.Errorf("tasks sent = %d, want 0 before authentication", h.tech.taskCount())
	}
}

func TestChatGeneralInquiry(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		generalIntentJSON,
		"An insurance deductible is the amount you pay before coverage kicks in.",
	}}
	h := newHarness(t, provider, config.DomainAgentConfig{})
	h.login(t, "sess-1", "CUST001")

	result := chat(t, h, "sess-1", "What does deductible mean in general?", true)

	if !strings.Contains(result.Reply, "before coverage kicks in") {
		t.Errorf("reply = %q, want the synthesized text", result.Reply)
	}
	if h.tech.taskCount() != 0 {
		t.Errorf("tasks sent = %d, want 0 for a general inquiry", h.tech.taskCount())
	}

	diag := result.Diagnostics
	if diag == nil {
		t.Fatal("diagnostics requested but missing")
	}
	if len(diag.Intents) != 1 || diag.Intents[0] != intent.GeneralInquiry {
		t.Errorf("intents = %v, want [general_inquiry]", diag.Intents)
	}
	if diag.TaskID != "" || diag.ToolCalls != 0 {
		t.Errorf("diagnostics = %+v, want no delegation recorded", diag)
	}
	// The synthesis prompt must say no backend data was used.
	if !strings.Contains(provider.lastPrompt(), "null") {
		t.Error("synthesis prompt is missing the null technical_data")
	}
}

func TestChatDelegatesWithMarker(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		paymentIntentJSON,
		"Your premium of $120.50 is due on March 1.",
	}}
	h := newHarness(t, provider, config.DomainAgentConfig{})
	h.login(t, "sess-1", "CUST001")

	result := chat(t, h, "sess-1", "When is my premium due?", true)

	if h.tech.taskCount() != 1 {
		t.Fatalf("tasks sent = %d, want 1", h.tech.taskCount())
	}
	task := h.tech.task(0)
	if !strings.Contains(task.Text, "(session_customer_id: CUST001)") {
		t.Errorf("task text = %q, want the customer marker", task.Text)
	}
	if got := task.Metadata["customer_id"]; got != "CUST001" {
		t.Errorf("task metadata customer_id = %v, want CUST001", got)
	}
	if got := task.Metadata["session_id"]; got != "sess-1" {
		t.Errorf("task metadata session_id = %v, want sess-1", got)
	}

	if !strings.Contains(result.Reply, "due on March 1") {
		t.Errorf("reply = %q, want the synthesized text", result.Reply)
	}

	diag := result.Diagnostics
	if diag == nil {
		t.Fatal("diagnostics requested but missing")
	}
	if diag.TaskID != task.TaskID {
		t.Errorf("diagnostics task_id = %q, want %q", diag.TaskID, task.TaskID)
	}
	if diag.ToolCalls != 2 || diag.OK != 2 || diag.Failed != 0 {
		t.Errorf("diagnostics = %+v, want 2 tool calls, 2 ok", diag)
	}
	// The bundle must reach synthesis verbatim.
	if !strings.Contains(provider.lastPrompt(), `"summary_counts"`) {
		t.Error("synthesis prompt is missing the technical bundle")
	}
}

func TestChatRuleFallbackWhenLLMDown(t *testing.T) {
	// Every model call fails: intent falls back to keyword rules,
	// delegation still happens, and the reply is the fallback template
	// wrapped around the Technical Agent's own summary.
	provider := &scriptedProvider{err: fault.New(fault.UpstreamError, "llm down")}
	h := newHarness(t, provider, config.DomainAgentConfig{})
	h.login(t, "sess-1", "CUST001")
	h.tech.push(bundleReply(1, 0, 0))

	result := chat(t, h, "sess-1", "When is my payment due?", false)

	if h.tech.taskCount() != 1 {
		t.Fatalf("tasks sent = %d, want 1 despite the llm outage", h.tech.taskCount())
	}
	if !strings.Contains(result.Reply, "Here is what I found on your account") {
		t.Errorf("reply = %q, want the fallback template", result.Reply)
	}
	if !strings.Contains(result.Reply, "1 of 1 tool calls succeeded") {
		t.Errorf("reply = %q, want the technical summary inside it", result.Reply)
	}
}

func TestChatInvalidIntentFallsBackToRules(t *testing.T) {
	// The model answers with JSON whose intents are all outside the
	// closed set. Sanitize rejects it and the keyword rules classify.
	provider := &scriptedProvider{replies: []string{
		`{"primary_intents":["weather_inquiry"],"confidence":0.9,"requires_auth":false,"requires_technical":false}`,
		"Your policy covers collision and liability.",
	}}
	h := newHarness(t, provider, config.DomainAgentConfig{})
	h.login(t, "sess-1", "CUST001")

	result := chat(t, h, "sess-1", "What does my coverage include?", true)

	if h.tech.taskCount() != 1 {
		t.Fatalf("tasks sent = %d, want 1 via the rule classification", h.tech.taskCount())
	}
	diag := result.Diagnostics
	if len(diag.Intents) != 1 || diag.Intents[0] != intent.CoverageInquiry {
		t.Errorf("intents = %v, want [coverage_inquiry] from the rules", diag.Intents)
	}
	if !strings.Contains(result.Reply, "collision and liability") {
		t.Errorf("reply = %q, want the synthesized text", result.Reply)
	}
}

func TestChatTechnicalFailureTransient(t *testing.T) {
	kinds := []fault.Kind{
		fault.NoToolsDiscovered,
		fault.PlanUnavailable,
		fault.Overloaded,
		fault.UpstreamError,
	}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			provider := &scriptedProvider{replies: []string{paymentIntentJSON}}
			h := newHarness(t, provider, config.DomainAgentConfig{})
			h.login(t, "sess-1", "CUST001")
			h.tech.push(failedReply(kind, "backend acting up"))

			result := chat(t, h, "sess-1", "When is my premium due?", false)

			if !strings.Contains(result.Reply, "trouble reaching your policy records") {
				t.Errorf("reply = %q, want the transient failure message", result.Reply)
			}
			if h.tech.taskCount() != 1 {
				t.Errorf("tasks sent = %d, want 1 (no retry for %s)", h.tech.taskCount(), kind)
			}
		})
	}
}

func TestChatMissingContextRetrySucceeds(t *testing.T) {
	// A failed MissingCustomerContext reply contradicts the marker the
	// task always carries, so the same task is resent exactly once.
	provider := &scriptedProvider{replies: []string{
		paymentIntentJSON,
		"Your premium is $120.50.",
	}}
	h := newHarness(t, provider, config.DomainAgentConfig{})
	h.login(t, "sess-1", "CUST001")
	h.tech.push(
		failedReply(fault.MissingCustomerContext, "no customer identity in task"),
		bundleReply(1, 0, 0),
	)

	result := chat(t, h, "sess-1", "When is my premium due?", true)

	if h.tech.taskCount() != 2 {
		t.Fatalf("tasks sent = %d, want the original plus one retry", h.tech.taskCount())
	}
	if h.tech.task(0).TaskID != h.tech.task(1).TaskID {
		t.Error("retry used a different task_id, want the same task resent")
	}
	if !strings.Contains(result.Reply, "$120.50") {
		t.Errorf("reply = %q, want the synthesized text after the retry", result.Reply)
	}
	if result.Diagnostics.ToolCalls != 1 || result.Diagnostics.OK != 1 {
		t.Errorf("diagnostics = %+v, want the retried bundle counted", result.Diagnostics)
	}
}

func TestChatMissingContextTwiceUnverified(t *testing.T) {
	provider := &scriptedProvider{replies: []string{paymentIntentJSON}}
	h := newHarness(t, provider, config.DomainAgentConfig{})
	h.login(t, "sess-1", "CUST001")
	h.tech.push(
		failedReply(fault.MissingCustomerContext, "no customer identity in task"),
		failedReply(fault.MissingCustomerContext, "no customer identity in task"),
	)

	result := chat(t, h, "sess-1", "When is my premium due?", false)

	if h.tech.taskCount() != 2 {
		t.Fatalf("tasks sent = %d, want exactly one retry", h.tech.taskCount())
	}
	if !strings.Contains(result.Reply, "securely match this conversation") {
		t.Errorf("reply = %q, want the identity message", result.Reply)
	}
}

func TestChatTransportFailure(t *testing.T) {
	provider := &scriptedProvider{replies: []string{paymentIntentJSON}}
	h := newHarness(t, provider, config.DomainAgentConfig{})
	h.login(t, "sess-1", "CUST001")
	h.ts.Close()

	result := chat(t, h, "sess-1", "When is my premium due?", false)

	if !strings.Contains(result.Reply, "trouble reaching your policy records") {
		t.Errorf("reply = %q, want the transient failure message", result.Reply)
	}
}

func TestChatSynthesisEmptyFallback(t *testing.T) {
	// No delegation and an empty synthesis answer: the fallback fills in
	// its own summary line instead of echoing nothing.
	provider := &scriptedProvider{replies: []string{generalIntentJSON, ""}}
	h := newHarness(t, provider, config.DomainAgentConfig{})
	h.login(t, "sess-1", "CUST001")

	result := chat(t, h, "sess-1", "hello there", false)

	if !strings.Contains(result.Reply, "no account data was needed") {
		t.Errorf("reply = %q, want the no-data fallback summary", result.Reply)
	}
}

func TestChatTurnLog(t *testing.T) {
	provider := &scriptedProvider{}
	h := newHarness(t, provider, config.DomainAgentConfig{HistoryLimit: 2})

	for _, text := range []string{"first", "second", "third"} {
		chat(t, h, "ghost", text, false)
	}

	turns := h.agent.Turns()
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want the capacity of 2", len(turns))
	}
	if turns[0].UserText != "second" || turns[1].UserText != "third" {
		t.Errorf("turns = [%q, %q], want oldest-first [second, third]", turns[0].UserText, turns[1].UserText)
	}
	if turns[0].TurnID == "" || turns[0].TurnID == turns[1].TurnID {
		t.Error("turn ids missing or not unique")
	}
	if !strings.Contains(turns[1].Reply, "verify your identity") {
		t.Errorf("turn reply = %q, want the recorded reply text", turns[1].Reply)
	}
}

func TestDecodeCounts(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bundleCounts
	}{
		{
			name: "full bundle",
			in:   `{"results":{},"summary_counts":{"ok":2,"not_found":1,"error":3}}`,
			want: bundleCounts{OK: 2, NotFound: 1, Error: 3},
		},
		{name: "null", in: "null"},
		{name: "garbage", in: "not json"},
		{name: "empty", in: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeCounts(tt.in); got != tt.want {
				t.Errorf("decodeCounts() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
