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

// Package domain implements the customer-facing Domain Agent: session
// resolution, intent analysis, delegation to the Technical Agent over
// A2A, and response synthesis.
//
// Chat degrades instead of failing: a dead model falls back to keyword
// rules, a failed delegation becomes a canned transient message, and a
// failed synthesis becomes a template around the Technical Agent's own
// summary. The only Go error Chat returns is a broken prompt catalog,
// which is a deployment defect rather than an operational condition.
package domain

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polisware/polis/pkg/a2a"
	"github.com/polisware/polis/pkg/agent/intent"
	"github.com/polisware/polis/pkg/config"
	"github.com/polisware/polis/pkg/fault"
	"github.com/polisware/polis/pkg/llm"
	"github.com/polisware/polis/pkg/logger"
	"github.com/polisware/polis/pkg/observability"
	"github.com/polisware/polis/pkg/prompt"
	"github.com/polisware/polis/pkg/session"
)

// Diagnostics describes one exchange for callers that request it.
// Failed counts every tool call that produced no data, whether the
// record was absent or the call errored.
type Diagnostics struct {
	Intents   []intent.Kind `json:"intents"`
	TaskID    string        `json:"task_id,omitempty"`
	ToolCalls int           `json:"tool_calls"`
	OK        int           `json:"ok"`
	Failed    int           `json:"failed"`
}

// ChatResult is the outcome of one Chat call. Diagnostics is non-nil
// only when the caller asked for it.
type ChatResult struct {
	Reply       string
	Diagnostics *Diagnostics
}

// Agent is the Domain Agent. Safe for concurrent use.
type Agent struct {
	cfg      config.DomainAgentConfig
	sessions *session.Store
	llm      *llm.Client
	prompts  *prompt.Store
	tasks    *a2a.Client
	turns    *turnLog
	log      *slog.Logger
}

// New builds the Domain Agent and its A2A client for the configured
// Technical Agent endpoint.
func New(cfg config.DomainAgentConfig, sessions *session.Store, llmClient *llm.Client, prompts *prompt.Store) *Agent {
	cfg.SetDefaults()
	return &Agent{
		cfg:      cfg,
		sessions: sessions,
		llm:      llmClient,
		prompts:  prompts,
		tasks:    a2a.NewClient(cfg.TechnicalAgentURL, cfg.A2ATimeout),
		turns:    newTurnLog(cfg.HistoryLimit),
		log:      logger.Component("agent.domain"),
	}
}

// Turns returns the retained conversation turns, oldest first.
func (a *Agent) Turns() []Turn {
	return a.turns.recent()
}

// Chat translates one customer message into a reply under the overall
// chat deadline.
func (a *Agent) Chat(ctx context.Context, sessionID, userText string, withDiagnostics bool) (*ChatResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ChatTimeout)
	defer cancel()

	turn := Turn{
		TurnID:    uuid.NewString(),
		SessionID: sessionID,
		UserText:  userText,
		StartedAt: start,
	}

	reply, diag, err := a.run(ctx, sessionID, userText, &turn)

	turn.FinishedAt = time.Now()
	turn.Reply = reply
	if err != nil {
		turn.Err = err.Error()
	}
	a.turns.add(turn)
	observability.GetGlobalMetrics().RecordChatRequest(ctx, time.Since(start), err)

	if err != nil {
		return nil, err
	}
	res := &ChatResult{Reply: reply}
	if withDiagnostics {
		res.Diagnostics = diag
	}
	return res, nil
}

func (a *Agent) run(ctx context.Context, sessionID, userText string, turn *Turn) (string, *Diagnostics, error) {
	diag := &Diagnostics{}

	// No live session means no verified identity: answer with the canned
	// authentication message and never touch the LLM or the Technical
	// Agent.
	sess, ok := a.sessions.Resolve(sessionID)
	if !ok {
		a.log.Info("chat without a live session",
			"event", "auth_required",
			"session_id", sessionID)
		reply, err := a.canned("domain/auth_required", nil)
		return reply, diag, err
	}
	turn.CustomerID = sess.CustomerID

	in := a.analyzeIntent(ctx, userText)
	diag.Intents = in.PrimaryIntents
	turn.Intents = in.PrimaryIntents

	technicalData := "null"
	technicalSummary := ""
	if in.Delegate() {
		reply, taskID := a.delegate(ctx, sess, userText, in)
		diag.TaskID = taskID
		turn.TaskID = taskID

		switch {
		case reply == nil:
			text, err := a.canned("domain/transient_failure", nil)
			return text, diag, err

		case reply.Completed():
			if len(reply.Parts) > 0 {
				technicalData = reply.Parts[0].Text
				if s, ok := reply.Parts[0].Metadata["human_summary"].(string); ok {
					technicalSummary = s
				}
			}
			counts := decodeCounts(technicalData)
			diag.ToolCalls = counts.total()
			diag.OK = counts.OK
			diag.Failed = counts.total() - counts.OK

		case reply.ErrorKind() == fault.MissingCustomerContext:
			// delegate already retried once.
			text, err := a.canned("domain/identity_unverified", nil)
			return text, diag, err

		default:
			a.log.Warn("technical agent could not serve the task",
				"event", "delegation_failed",
				"task_id", taskID,
				"session_id", sess.ID,
				"error_kind", string(reply.ErrorKind()),
				"detail", reply.ErrorMessage())
			text, err := a.canned("domain/transient_failure", nil)
			return text, diag, err
		}
	}

	reply, err := a.synthesize(ctx, userText, sess.CustomerID, in, technicalData)
	if err == nil {
		return reply, diag, nil
	}
	a.log.Warn("synthesis failed, using fallback template",
		"event", "synthesis_fallback",
		"session_id", sess.ID,
		"error_kind", string(fault.KindOf(err)),
		"detail", err.Error())
	text, cerr := a.fallbackReply(technicalSummary, technicalData)
	return text, diag, cerr
}

// analyzeIntent classifies the message with the model, falling back to
// the keyword rules on any failure so intent analysis never blocks a
// reply. The fallback confidence is the classifier's fixed 0.5.
func (a *Agent) analyzeIntent(ctx context.Context, userText string) *intent.Intent {
	rendered, err := a.prompts.Render("domain/intent_analysis", map[string]any{
		"user_text": userText,
	})
	if err != nil {
		a.log.Warn("intent prompt unavailable, using rules", "detail", err.Error())
		return intent.Classify(userText)
	}

	var in intent.Intent
	if _, err := a.llm.CompleteJSON(ctx, []llm.Message{llm.User(rendered)}, llm.Options{}, &in); err != nil {
		a.log.Warn("intent analysis failed, using rules",
			"event", "intent_fallback",
			"error_kind", string(fault.KindOf(err)),
			"detail", err.Error())
		return intent.Classify(userText)
	}
	if !in.Sanitize() {
		a.log.Warn("intent analysis returned no valid intents, using rules",
			"event", "intent_fallback")
		return intent.Classify(userText)
	}
	return &in
}

// delegate sends the A2A task for this message. A failed reply with
// MissingCustomerContext is retried once with the same task: the text
// always carries the marker, so that kind signals an internal defect
// rather than a bad request. A nil reply means the exchange failed at
// the transport and the caller should degrade.
func (a *Agent) delegate(ctx context.Context, sess *session.Session, userText string, in *intent.Intent) (*a2a.Reply, string) {
	kinds := make([]string, 0, len(in.PrimaryIntents))
	for _, k := range in.PrimaryIntents {
		kinds = append(kinds, string(k))
	}
	task := a2a.NewTask(a2a.AgentDomain, a2a.AgentTechnical,
		a2a.EmbedCustomerID(userText, sess.CustomerID),
		map[string]any{
			"customer_id":     sess.CustomerID,
			"session_id":      sess.ID,
			"primary_intents": kinds,
		})

	reply, err := a.tasks.Send(ctx, task)
	if err != nil {
		a.log.Warn("a2a exchange failed",
			"event", "a2a_failed",
			"task_id", task.TaskID,
			"session_id", sess.ID,
			"error_kind", string(fault.KindOf(err)),
			"detail", err.Error())
		return nil, task.TaskID
	}

	if !reply.Completed() && reply.ErrorKind() == fault.MissingCustomerContext {
		a.log.Error("technical agent saw no customer context in a marked task",
			"event", "marker_defect",
			"task_id", task.TaskID,
			"session_id", sess.ID)
		retry, rerr := a.tasks.Send(ctx, task)
		if rerr != nil {
			return nil, task.TaskID
		}
		return retry, task.TaskID
	}
	return reply, task.TaskID
}

// synthesize renders the grounded reply. The prompt owns the
// no-fabrication contract; the code only refuses empty output.
func (a *Agent) synthesize(ctx context.Context, userText, customerID string, in *intent.Intent, technicalData string) (string, error) {
	intentsJSON, _ := json.Marshal(in.PrimaryIntents)
	rendered, err := a.prompts.Render("domain/response_synthesis", map[string]any{
		"user_text":       userText,
		"customer_id":     customerID,
		"primary_intents": string(intentsJSON),
		"technical_data":  technicalData,
	})
	if err != nil {
		return "", err
	}

	result, err := a.llm.Complete(ctx, []llm.Message{llm.User(rendered)}, llm.Options{Format: llm.FormatText})
	if err != nil {
		return "", err
	}
	reply := strings.TrimSpace(result.Text)
	if reply == "" {
		return "", fault.New(fault.LLMParseError, "synthesis returned empty text")
	}
	return reply, nil
}

// fallbackReply is the last resort when synthesis is down: a fixed
// template around the Technical Agent's own summary, so nothing is
// invented.
func (a *Agent) fallbackReply(summary, technicalData string) (string, error) {
	if summary == "" {
		if technicalData == "null" || technicalData == "" {
			summary = "no account data was needed for this question"
		} else {
			summary = "your account data was retrieved"
		}
	}
	return a.canned("domain/fallback_reply", map[string]any{"technical_summary": summary})
}

// canned renders a no-LLM reply template. A failure here means the
// prompt catalog itself is broken, the one condition Chat surfaces as
// a Go error.
func (a *Agent) canned(key string, vars map[string]any) (string, error) {
	text, err := a.prompts.Render(key, vars)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// bundleCounts mirrors the summary_counts object of the Technical
// Agent's bundle. The rest of the bundle stays opaque JSON handed to
// the synthesis prompt.
type bundleCounts struct {
	OK       int `json:"ok"`
	NotFound int `json:"not_found"`
	Error    int `json:"error"`
}

func (c bundleCounts) total() int { return c.OK + c.NotFound + c.Error }

func decodeCounts(bundleJSON string) bundleCounts {
	var doc struct {
		SummaryCounts bundleCounts `json:"summary_counts"`
	}
	_ = json.Unmarshal([]byte(bundleJSON), &doc)
	return doc.SummaryCounts
}
