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

// Package a2a carries tasks between the Domain Agent and the Technical
// Agent as a plain HTTP JSON exchange: one POST to /a2a/tasks with a
// task envelope, one reply envelope back, correlated by task_id.
//
// The customer identity travels inside the task text via the canonical
// marker "(session_customer_id: <ID>)". Metadata channels have been
// observed to drop across hops; the marker in the primary payload is
// the source of truth and EmbedCustomerID/ExtractCustomerID implement
// its round trip.
package a2a

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polisware/polis/pkg/fault"
)

// TasksPath is the single endpoint of the task exchange.
const TasksPath = "/a2a/tasks"

// Reply statuses. A reply is failed only when the receiving agent could
// not produce a usable answer at all; partial tool failures still
// complete with the detail encoded in the reply parts.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Agent names used in the from_agent/to_agent envelope fields.
const (
	AgentDomain    = "domain"
	AgentTechnical = "technical"
)

// Task is the request envelope. Text is the primary payload; Metadata
// is advisory and may be dropped by intermediaries.
type Task struct {
	TaskID    string         `json:"task_id"`
	FromAgent string         `json:"from_agent"`
	ToAgent   string         `json:"to_agent"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Part is one unit of reply content.
type Part struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Reply is the response envelope, correlated to its Task by TaskID.
type Reply struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Parts  []Part `json:"parts,omitempty"`
}

// NewTask builds a task envelope with a fresh UUID and creation time.
func NewTask(from, to, text string, metadata map[string]any) *Task {
	return &Task{
		TaskID:    uuid.NewString(),
		FromAgent: from,
		ToAgent:   to,
		Text:      text,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
}

// Completed reports whether the reply carries a usable answer.
func (r *Reply) Completed() bool {
	return r != nil && r.Status == StatusCompleted
}

// errorDoc is the body of the first part of a failed reply.
type errorDoc struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// FailedReply builds a failed reply whose first part carries the error
// kind both as a JSON document in the text and in the part metadata.
func FailedReply(taskID string, kind fault.Kind, message string) *Reply {
	doc, _ := json.Marshal(errorDoc{ErrorKind: string(kind), Message: message})
	return &Reply{
		TaskID: taskID,
		Status: StatusFailed,
		Parts: []Part{{
			Text:     string(doc),
			Metadata: map[string]any{"error_kind": string(kind)},
		}},
	}
}

// ErrorKind extracts the fault kind from a failed reply. It prefers the
// part metadata and falls back to parsing the part text, mirroring the
// marker-in-payload rule for the request direction. Completed replies
// and replies without a recognizable kind return UpstreamError.
func (r *Reply) ErrorKind() fault.Kind {
	if r == nil || r.Status != StatusFailed {
		return ""
	}
	for _, part := range r.Parts {
		if v, ok := part.Metadata["error_kind"].(string); ok {
			if k := fault.Kind(v); fault.Valid(k) {
				return k
			}
		}
		var doc errorDoc
		if err := json.Unmarshal([]byte(part.Text), &doc); err == nil {
			if k := fault.Kind(doc.ErrorKind); fault.Valid(k) {
				return k
			}
		}
	}
	return fault.UpstreamError
}

// ErrorMessage returns the human-readable detail of a failed reply, or
// "" for completed replies.
func (r *Reply) ErrorMessage() string {
	if r == nil || r.Status != StatusFailed {
		return ""
	}
	for _, part := range r.Parts {
		var doc errorDoc
		if err := json.Unmarshal([]byte(part.Text), &doc); err == nil && doc.Message != "" {
			return doc.Message
		}
		if part.Text != "" {
			return part.Text
		}
	}
	return ""
}

// customerMarker matches the canonical identity marker wherever it
// appears in task text.
var customerMarker = regexp.MustCompile(`session_customer_id:\s*([^\s,)]+)`)

// EmbedCustomerID suffixes text with the canonical identity marker.
// Text that already carries a marker is returned unchanged so that a
// retry never stacks a second marker.
func EmbedCustomerID(text, customerID string) string {
	if customerID == "" {
		return text
	}
	if customerMarker.MatchString(text) {
		return text
	}
	return strings.TrimRight(text, " ") + " (session_customer_id: " + customerID + ")"
}

// ExtractCustomerID recovers the customer ID from the canonical marker.
func ExtractCustomerID(text string) (string, bool) {
	m := customerMarker.FindStringSubmatch(text)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}
