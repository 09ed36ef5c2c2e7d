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

// Package fault defines the closed error taxonomy shared by every component.
//
// Errors that cross a component boundary carry a Kind from the closed set
// below. Kinds are wire-stable: they appear verbatim in A2A failure replies,
// tool result statuses, and structured logs. Internal errors wrap freely
// with fmt.Errorf; KindOf walks the chain to classify them at the boundary.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is one of the closed set of error kinds.
type Kind string

const (
	// MissingCustomerContext means no customer_id was recoverable from a task.
	MissingCustomerContext Kind = "MissingCustomerContext"

	// NoToolsDiscovered means the registry was empty at planning time.
	NoToolsDiscovered Kind = "NoToolsDiscovered"

	// PlanUnavailable means both planning strategies failed.
	PlanUnavailable Kind = "PlanUnavailable"

	// InvalidParameters means a local schema check rejected a tool call.
	InvalidParameters Kind = "InvalidParameters"

	// UpstreamError means a non-2xx reply from a tool server, LLM, or agent.
	UpstreamError Kind = "UpstreamError"

	// Timeout means a deadline elapsed before the call completed.
	Timeout Kind = "Timeout"

	// ServerUnreachable means a transport-level failure reaching a tool server.
	ServerUnreachable Kind = "ServerUnreachable"

	// ProtocolMismatch means a tool server replied with an unparseable body.
	ProtocolMismatch Kind = "ProtocolMismatch"

	// LLMParseError means LLM output stayed invalid after the repair attempt.
	LLMParseError Kind = "LLMParseError"

	// Overloaded means a backpressure bound rejected the request.
	Overloaded Kind = "Overloaded"

	// PromptError means a prompt template was missing a required variable.
	PromptError Kind = "PromptError"
)

// Error is a classified error. Message is safe to surface on the wire;
// Err retains the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so errors.Is(err, &Error{Kind: k}) matches.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf classifies an arbitrary error. Unclassified non-nil errors map to
// UpstreamError; context cancellation and deadline expiry map to Timeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if isDeadline(err) {
		return Timeout
	}
	return UpstreamError
}

// MessageOf returns the wire-safe message of a classified error, or the
// plain Error() text for anything else.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

func isDeadline(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Retryable reports whether calls failing with this kind may be retried
// within the attempt budget.
func Retryable(kind Kind) bool {
	switch kind {
	case UpstreamError, Timeout, ServerUnreachable:
		return true
	default:
		return false
	}
}

// Valid reports whether k belongs to the closed set.
func Valid(k Kind) bool {
	switch k {
	case MissingCustomerContext, NoToolsDiscovered, PlanUnavailable,
		InvalidParameters, UpstreamError, Timeout, ServerUnreachable,
		ProtocolMismatch, LLMParseError, Overloaded, PromptError:
		return true
	}
	return false
}
