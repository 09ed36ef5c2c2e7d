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

package technical

import (
	"context"
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/polisware/polis/pkg/agent/intent"
	"github.com/polisware/polis/pkg/fault"
	"github.com/polisware/polis/pkg/llm"
)

// Step is one tool invocation in a plan. Dependencies name step_ids
// that must finish before this step runs; they may only reference
// earlier steps, which keeps plans acyclic by construction.
type Step struct {
	StepID       string         `json:"step_id" jsonschema:"required,minLength=1"`
	ToolName     string         `json:"tool_name" jsonschema:"required,minLength=1"`
	Parameters   map[string]any `json:"parameters" jsonschema:"required"`
	Purpose      string         `json:"purpose,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
}

// Plan is an ordered set of tool invocations derived from one task.
type Plan struct {
	Steps []Step `json:"steps" jsonschema:"required,minItems=1"`
}

// compilePlanSchema reflects the Plan shape into a JSON schema and
// compiles it once. Extra keys from chatty models are tolerated; the
// decoder drops them anyway.
func compilePlanSchema() (*jsonschema.Schema, error) {
	reflector := &invopop.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
		AllowAdditionalProperties:  true,
	}
	reflected := reflector.Reflect(&Plan{})

	raw, err := json.Marshal(reflected)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	delete(doc, "$schema")
	delete(doc, "$id")
	cleaned, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return jsonschema.CompileString("plan.schema.json", string(cleaned))
}

// buildPlan derives the tool call plan for a task. The LLM planner is
// tried first; any failure falls back to the keyword rules. The error
// is always PlanUnavailable and only when neither strategy yields a
// step the registry can serve.
func (a *Agent) buildPlan(ctx context.Context, taskText, customerID string) (*Plan, string, error) {
	plan, err := a.llmPlan(ctx, taskText, customerID)
	if err == nil {
		injectCustomerID(plan, customerID)
		return plan, "llm", nil
	}
	a.log.Warn("llm planning failed, trying rule fallback",
		"event", "plan_fallback",
		"error_kind", fault.KindOf(err),
		"detail", err.Error())

	if plan := a.rulePlan(taskText, customerID); plan != nil {
		return plan, "rules", nil
	}
	return nil, "", fault.New(fault.PlanUnavailable, "neither llm nor rule planning produced an executable plan")
}

// llmPlan asks the model for a plan and validates the result. The raw
// reply is schema-checked before the typed plan is trusted, because
// json.Unmarshal silently zero-fills missing fields.
func (a *Agent) llmPlan(ctx context.Context, taskText, customerID string) (*Plan, error) {
	catalog, err := json.Marshal(a.toolCatalog())
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamError, "tool catalog is not serializable", err)
	}
	rendered, err := a.prompts.Render("technical/plan_tools", map[string]any{
		"task_text":    taskText,
		"customer_id":  customerID,
		"tool_catalog": string(catalog),
	})
	if err != nil {
		return nil, err
	}

	var plan Plan
	result, err := a.llm.CompleteJSON(ctx, []llm.Message{llm.User(rendered)}, llm.Options{}, &plan)
	if err != nil {
		return nil, err
	}
	if err := a.validatePlan(result.Text, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// validatePlan checks the raw model output against the plan schema and
// then enforces what a schema cannot: tool names must resolve in the
// registry, step_ids must be unique, and dependencies must reference
// earlier steps only.
func (a *Agent) validatePlan(rawText string, plan *Plan) error {
	var doc any
	if err := json.Unmarshal([]byte(llm.ExtractJSON(rawText)), &doc); err != nil {
		return fault.Wrap(fault.LLMParseError, "plan is not valid JSON", err)
	}
	if err := a.planSchema.Validate(doc); err != nil {
		return fault.Wrap(fault.PlanUnavailable, "plan rejected by schema", err)
	}

	seen := make(map[string]bool, len(plan.Steps))
	for _, step := range plan.Steps {
		if seen[step.StepID] {
			return fault.Newf(fault.PlanUnavailable, "duplicate step_id %q", step.StepID)
		}
		if _, ok := a.reg.Lookup(step.ToolName); !ok {
			return fault.Newf(fault.PlanUnavailable, "plan names unknown tool %q", step.ToolName)
		}
		for _, dep := range step.Dependencies {
			if !seen[dep] {
				return fault.Newf(fault.PlanUnavailable,
					"step %q depends on %q, which is not an earlier step", step.StepID, dep)
			}
		}
		seen[step.StepID] = true
	}
	return nil
}

// rulePlan maps task keywords onto well-known tools, keeping only the
// tools the registry currently resolves. Steps are independent and run
// in one wave. Returns nil when nothing survives the registry filter.
func (a *Agent) rulePlan(taskText, customerID string) *Plan {
	var steps []Step
	for _, tool := range intent.ToolsFor(taskText) {
		if _, ok := a.reg.Lookup(tool); !ok {
			continue
		}
		steps = append(steps, Step{
			StepID:     fmt.Sprintf("s%d", len(steps)+1),
			ToolName:   tool,
			Parameters: map[string]any{"customer_id": customerID},
		})
	}
	if len(steps) == 0 {
		return nil
	}
	return &Plan{Steps: steps}
}

// injectCustomerID fills the recovered identity into any step that
// omits it. A step that already names a customer_id keeps its value.
func injectCustomerID(plan *Plan, customerID string) {
	for i := range plan.Steps {
		if plan.Steps[i].Parameters == nil {
			plan.Steps[i].Parameters = map[string]any{}
		}
		if _, ok := plan.Steps[i].Parameters["customer_id"]; !ok {
			plan.Steps[i].Parameters["customer_id"] = customerID
		}
	}
}

// catalogEntry is the per-tool shape rendered into the planning prompt.
type catalogEntry struct {
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	ParameterSchema map[string]any `json:"parameter_schema,omitempty"`
}

func (a *Agent) toolCatalog() []catalogEntry {
	tools := a.reg.AllTools()
	out := make([]catalogEntry, 0, len(tools))
	for _, d := range tools {
		out = append(out, catalogEntry{
			Name:            d.Name,
			Description:     d.Description,
			ParameterSchema: d.ParameterSchema,
		})
	}
	return out
}
