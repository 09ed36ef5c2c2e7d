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

// Package technical implements the Technical Agent: it receives A2A
// tasks, recovers the customer identity, plans backend tool calls, and
// executes the plan against the registry's tool servers.
//
// HandleTask never returns a Go error. Every failure is a failed A2A
// reply carrying a fault kind, so the Domain Agent can degrade by kind
// instead of parsing error strings.
package technical

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/polisware/polis/pkg/a2a"
	"github.com/polisware/polis/pkg/config"
	"github.com/polisware/polis/pkg/fault"
	"github.com/polisware/polis/pkg/llm"
	"github.com/polisware/polis/pkg/logger"
	"github.com/polisware/polis/pkg/prompt"
	"github.com/polisware/polis/pkg/registry"
	"github.com/polisware/polis/pkg/toolproto"
)

// looseCustomerID recovers an identity from task text that lost the
// canonical marker but still names a customer_id key somewhere.
var looseCustomerID = regexp.MustCompile(`customer_id:\s*([^\s,)]+)`)

// Agent is the Technical Agent. It is safe for concurrent use; the A2A
// server invokes HandleTask from many goroutines.
type Agent struct {
	cfg        config.TechnicalAgentConfig
	reg        *registry.Registry
	tools      *toolproto.Client
	llm        *llm.Client
	prompts    *prompt.Store
	planSchema *jsonschema.Schema
	log        *slog.Logger
}

// New builds the Technical Agent. The plan schema is compiled here so a
// broken schema fails at startup rather than on the first task.
func New(cfg config.TechnicalAgentConfig, reg *registry.Registry, tools *toolproto.Client, llmClient *llm.Client, prompts *prompt.Store) (*Agent, error) {
	cfg.SetDefaults()
	schema, err := compilePlanSchema()
	if err != nil {
		return nil, fault.Wrap(fault.PromptError, "plan schema does not compile", err)
	}
	return &Agent{
		cfg:        cfg,
		reg:        reg,
		tools:      tools,
		llm:        llmClient,
		prompts:    prompts,
		planSchema: schema,
		log:        logger.Component("agent.technical"),
	}, nil
}

// HandleTask implements a2a.Handler.
func (a *Agent) HandleTask(ctx context.Context, task *a2a.Task) *a2a.Reply {
	customerID, method := a.recoverCustomerID(ctx, task)
	if customerID == "" {
		a.log.Warn("task carries no recoverable customer identity",
			"event", "customer_missing",
			"task_id", task.TaskID,
			"from_agent", task.FromAgent)
		return a2a.FailedReply(task.TaskID, fault.MissingCustomerContext,
			"no customer identity in task metadata or text")
	}
	a.log.Debug("customer identity recovered",
		"task_id", task.TaskID,
		"method", method)

	if a.reg.Len() == 0 {
		// Kick a refresh so the next task has a chance of a catalog.
		a.reg.RequestRefresh()
		a.log.Warn("no tools discovered, refusing task",
			"event", "no_tools",
			"task_id", task.TaskID)
		return a2a.FailedReply(task.TaskID, fault.NoToolsDiscovered,
			"no tools are currently discovered from any server")
	}

	plan, source, err := a.buildPlan(ctx, task.Text, customerID)
	if err != nil {
		a.log.Warn("no executable plan for task",
			"event", "plan_unavailable",
			"task_id", task.TaskID,
			"detail", err.Error())
		return a2a.FailedReply(task.TaskID, fault.KindOf(err), fault.MessageOf(err))
	}
	a.log.Info("plan built",
		"event", "plan_built",
		"task_id", task.TaskID,
		"source", source,
		"steps", len(plan.Steps))

	bundle := a.execute(ctx, plan)

	for _, r := range bundle.Results {
		if r.Status == toolproto.StatusServerUnreachable {
			a.reg.RequestRefresh()
			break
		}
	}

	payload, err := json.Marshal(bundle)
	if err != nil {
		return a2a.FailedReply(task.TaskID, fault.UpstreamError, "result bundle is not serializable")
	}
	return &a2a.Reply{
		TaskID: task.TaskID,
		Status: a2a.StatusCompleted,
		Parts: []a2a.Part{{
			Text:     string(payload),
			Metadata: map[string]any{"human_summary": humanSummary(bundle.SummaryCounts)},
		}},
	}
}

// recoverCustomerID tries the recovery strategies in order: the
// string-typed metadata value, the canonical text marker, a loose
// customer_id pattern, and finally an LLM extraction. It returns the
// identity and the strategy that produced it, or two empty strings.
func (a *Agent) recoverCustomerID(ctx context.Context, task *a2a.Task) (string, string) {
	if v, ok := task.Metadata["customer_id"].(string); ok && v != "" {
		return v, "metadata"
	}
	if id, ok := a2a.ExtractCustomerID(task.Text); ok {
		return id, "marker"
	}
	if m := looseCustomerID.FindStringSubmatch(task.Text); m != nil && m[1] != "" {
		return m[1], "pattern"
	}
	if id := a.extractCustomerID(ctx, task.Text); id != "" {
		return id, "llm"
	}
	return "", ""
}

// extractCustomerID is the last-resort recovery strategy. Any model
// failure means "not found"; the caller turns that into a failed reply.
func (a *Agent) extractCustomerID(ctx context.Context, text string) string {
	rendered, err := a.prompts.Render("technical/extract_customer_id", map[string]any{
		"task_text": text,
	})
	if err != nil {
		a.log.Warn("extraction prompt unavailable", "detail", err.Error())
		return ""
	}

	var out struct {
		CustomerID string `json:"customer_id"`
	}
	if _, err := a.llm.CompleteJSON(ctx, []llm.Message{llm.User(rendered)}, llm.Options{}, &out); err != nil {
		a.log.Warn("llm customer id extraction failed",
			"error_kind", fault.KindOf(err),
			"detail", err.Error())
		return ""
	}
	return strings.TrimSpace(out.CustomerID)
}
