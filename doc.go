// Package polis is the coordination core of a two-tier insurance assistant.
//
// Polis pairs a session-aware Domain Agent with a tool-executing Technical
// Agent. The Domain Agent turns a customer message into an intent, delegates
// data retrieval to the Technical Agent over an HTTP task protocol, and
// synthesizes a grounded natural-language reply. The Technical Agent
// discovers tools on one or more policy backends, plans which to invoke,
// executes the plan concurrently, and returns a structured results bundle.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/polisware/polis/cmd/polis@latest
//
// Start both agent tiers against a policy backend:
//
//	POLICY_SERVER_URL=http://localhost:8000 \
//	LLM_API_BASE=https://api.openai.com/v1 \
//	LLM_API_KEY=sk-... \
//	polis serve --role all
//
// Talk to the Domain Agent:
//
//	polis chat --session s1
//
// # Packages
//
//   - pkg/agent/domain: intent analysis, delegation, response synthesis
//   - pkg/agent/technical: customer recovery, planning, parallel execution
//   - pkg/a2a: agent-to-agent task envelope, client, and server
//   - pkg/toolproto: tool-protocol and MCP clients for policy backends
//   - pkg/registry: discovered-tool catalog with refresh and conflict rules
//   - pkg/llm: provider-pluggable chat completion with model fallback
//   - pkg/session: short-lived session-to-customer bindings
package polis
