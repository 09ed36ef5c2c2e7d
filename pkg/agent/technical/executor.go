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
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polisware/polis/pkg/toolproto"
)

// StepResult is the terminal outcome of one plan step. Data is present
// only for ok results; every other status carries an error string.
type StepResult struct {
	StepID    string           `json:"step_id"`
	ToolName  string           `json:"tool_name"`
	Status    toolproto.Status `json:"status"`
	Data      json.RawMessage  `json:"data,omitempty"`
	Error     string           `json:"error,omitempty"`
	LatencyMS int64            `json:"latency_ms"`
	Attempts  int              `json:"attempts"`
}

// Counts aggregates step outcomes. Every status that is neither ok nor
// not_found lands in Error.
type Counts struct {
	OK       int `json:"ok"`
	NotFound int `json:"not_found"`
	Error    int `json:"error"`
}

// Bundle is the reply payload of one executed plan, keyed by step_id.
// A completed reply always accounts for every plan step, including the
// failed ones.
type Bundle struct {
	Results       map[string]StepResult `json:"results"`
	SummaryCounts Counts                `json:"summary_counts"`
}

// execute runs the plan in dependency waves under the plan deadline.
// Steps whose dependencies are all settled run concurrently. A failed
// dependency does not cancel its dependents; they run and report their
// own outcome. When the deadline expires mid-plan, the remaining steps
// settle as timeouts, so the bundle still covers the whole plan.
func (a *Agent) execute(ctx context.Context, plan *Plan) *Bundle {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.PlanTimeout)
	defer cancel()

	var mu sync.Mutex
	results := make(map[string]StepResult, len(plan.Steps))

	settled := make(map[string]bool, len(plan.Steps))
	pending := make([]Step, len(plan.Steps))
	copy(pending, plan.Steps)

	for len(pending) > 0 {
		var wave, rest []Step
		for _, step := range pending {
			ready := true
			for _, dep := range step.Dependencies {
				if !settled[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, step)
			} else {
				rest = append(rest, step)
			}
		}
		// Validation guarantees dependencies reference earlier steps, so
		// a wave is never empty while steps remain.
		if len(wave) == 0 {
			for _, step := range rest {
				results[step.StepID] = StepResult{
					StepID:   step.StepID,
					ToolName: step.ToolName,
					Status:   toolproto.StatusInvalidParams,
					Error:    "step has unsatisfiable dependencies",
				}
			}
			break
		}

		var g errgroup.Group
		for _, step := range wave {
			g.Go(func() error {
				res := a.callStep(ctx, step)
				mu.Lock()
				results[step.StepID] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		for _, step := range wave {
			settled[step.StepID] = true
		}
		pending = rest
	}

	return &Bundle{Results: results, SummaryCounts: tally(results)}
}

// callStep resolves and invokes one tool. A tool that vanished between
// planning and execution settles as not_found rather than failing the
// plan.
func (a *Agent) callStep(ctx context.Context, step Step) StepResult {
	res := StepResult{StepID: step.StepID, ToolName: step.ToolName}

	desc, ok := a.reg.Lookup(step.ToolName)
	if !ok {
		res.Status = toolproto.StatusNotFound
		res.Error = "tool is no longer in the registry"
		return res
	}
	if ctx.Err() != nil {
		res.Status = toolproto.StatusTimeout
		res.Error = "plan deadline exhausted before the step ran"
		return res
	}

	start := time.Now()
	call := a.tools.CallTool(ctx, desc.ServerID, step.ToolName, step.Parameters)
	res.LatencyMS = time.Since(start).Milliseconds()
	res.Status = call.Status
	res.Data = call.Data
	res.Error = call.Error
	res.Attempts = call.Attempts

	a.log.Debug("step settled",
		"step_id", step.StepID,
		"tool", step.ToolName,
		"server", desc.ServerID,
		"status", string(res.Status),
		"latency_ms", res.LatencyMS)
	return res
}

func tally(results map[string]StepResult) Counts {
	var c Counts
	for _, r := range results {
		switch r.Status {
		case toolproto.StatusOK:
			c.OK++
		case toolproto.StatusNotFound:
			c.NotFound++
		default:
			c.Error++
		}
	}
	return c
}

// humanSummary renders the counts as one sentence for the reply part
// metadata. The Domain Agent uses it verbatim when synthesis is down.
func humanSummary(c Counts) string {
	total := c.OK + c.NotFound + c.Error
	if total == 0 {
		return "no tool calls were made"
	}
	s := fmt.Sprintf("%d of %d tool calls succeeded", c.OK, total)
	var notes []string
	if c.NotFound > 0 {
		notes = append(notes, fmt.Sprintf("%d found no records", c.NotFound))
	}
	if c.Error > 0 {
		notes = append(notes, fmt.Sprintf("%d failed", c.Error))
	}
	if len(notes) > 0 {
		s += " (" + strings.Join(notes, ", ") + ")"
	}
	return s
}
