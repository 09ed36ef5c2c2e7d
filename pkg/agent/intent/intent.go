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

// Package intent classifies customer messages into insurance intents and
// maps intents onto well-known tool names.
//
// The keyword classifier is the deterministic fallback behind the LLM:
// both agents use it when a model call fails or returns an invalid
// document, so a message that names a payment, deductible, coverage,
// agent, or policy concern always resolves to at least one tool.
package intent

import "strings"

// Kind is one insurance intent category.
type Kind string

const (
	PaymentInquiry    Kind = "payment_inquiry"
	DeductibleInquiry Kind = "deductible_inquiry"
	CoverageInquiry   Kind = "coverage_inquiry"
	PolicyInquiry     Kind = "policy_inquiry"
	AgentContact      Kind = "agent_contact"
	ClaimStatus       Kind = "claim_status"
	GeneralInquiry    Kind = "general_inquiry"
)

// DefaultTool answers intents with no dedicated backend tool.
const DefaultTool = "get_customer_policies"

// Intent is the analysis result for one customer message. The JSON shape
// doubles as the contract for the intent-analysis LLM response.
type Intent struct {
	PrimaryIntents    []Kind  `json:"primary_intents"`
	Confidence        float64 `json:"confidence"`
	RequiresAuth      bool    `json:"requires_auth"`
	RequiresTechnical bool    `json:"requires_technical"`
}

// Valid reports whether k is a member of the closed intent set.
func Valid(k Kind) bool {
	switch k {
	case PaymentInquiry, DeductibleInquiry, CoverageInquiry, PolicyInquiry,
		AgentContact, ClaimStatus, GeneralInquiry:
		return true
	}
	return false
}

// Technical reports whether k needs backend data to answer. Only
// general_inquiry can be answered from the prompt alone.
func Technical(k Kind) bool {
	return Valid(k) && k != GeneralInquiry
}

// rule is one row of the keyword table. Rows are evaluated in order and
// every matching row contributes its kind, so a multi-intent message
// yields multiple primary intents.
type rule struct {
	kind     Kind
	keywords []string
}

var rules = []rule{
	{PaymentInquiry, []string{"payment", "premium", "due"}},
	{DeductibleInquiry, []string{"deductible"}},
	{CoverageInquiry, []string{"coverage", "limit"}},
	{AgentContact, []string{"agent", "contact"}},
	{PolicyInquiry, []string{"policy", "policies"}},
}

// ruleConfidence is reported by the keyword classifier. The value is
// fixed: keyword hits are strong signals but carry no context.
const ruleConfidence = 0.5

// Classify runs the keyword table over text and returns the matched
// intents in table order. A message matching no keyword is a
// general_inquiry. The result always names at least one intent.
func Classify(text string) *Intent {
	lowered := strings.ToLower(text)

	var kinds []Kind
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lowered, kw) {
				kinds = append(kinds, r.kind)
				break
			}
		}
	}
	if len(kinds) == 0 {
		kinds = []Kind{GeneralInquiry}
	}

	technical := false
	for _, k := range kinds {
		if Technical(k) {
			technical = true
			break
		}
	}
	return &Intent{
		PrimaryIntents:    kinds,
		Confidence:        ruleConfidence,
		RequiresAuth:      technical,
		RequiresTechnical: technical,
	}
}

// ToolFor maps an intent kind onto the well-known tool that serves it.
// Kinds without a dedicated tool, including claim_status, fall back to
// DefaultTool.
func ToolFor(k Kind) string {
	switch k {
	case PaymentInquiry:
		return "get_payment_information"
	case DeductibleInquiry:
		return "get_deductibles"
	case CoverageInquiry:
		return "get_coverage_information"
	case AgentContact:
		return "get_agent"
	default:
		return DefaultTool
	}
}

// ToolsFor classifies text and returns the distinct tools for its
// intents, preserving intent order. The result is never empty.
func ToolsFor(text string) []string {
	in := Classify(text)
	seen := make(map[string]bool, len(in.PrimaryIntents))
	tools := make([]string, 0, len(in.PrimaryIntents))
	for _, k := range in.PrimaryIntents {
		tool := ToolFor(k)
		if seen[tool] {
			continue
		}
		seen[tool] = true
		tools = append(tools, tool)
	}
	return tools
}

// Sanitize drops unknown kinds, clamps confidence into [0,1], and
// recomputes requires_technical from the surviving kinds. It reports
// whether at least one valid intent remains, which is the acceptance
// bar for an LLM-produced document.
func (in *Intent) Sanitize() bool {
	kept := in.PrimaryIntents[:0]
	for _, k := range in.PrimaryIntents {
		if Valid(k) {
			kept = append(kept, k)
		}
	}
	in.PrimaryIntents = kept

	if in.Confidence < 0 {
		in.Confidence = 0
	} else if in.Confidence > 1 {
		in.Confidence = 1
	}

	for _, k := range in.PrimaryIntents {
		if Technical(k) {
			in.RequiresTechnical = true
			break
		}
	}
	return len(in.PrimaryIntents) > 0
}

// Delegate reports whether the intent requires consulting the Technical
// Agent, either by explicit flag or because any primary intent is
// backed by customer data.
func (in *Intent) Delegate() bool {
	if in.RequiresTechnical {
		return true
	}
	for _, k := range in.PrimaryIntents {
		if Technical(k) {
			return true
		}
	}
	return false
}
