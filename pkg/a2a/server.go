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

package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/semaphore"

	"github.com/polisware/polis/pkg/fault"
	"github.com/polisware/polis/pkg/logger"
	"github.com/polisware/polis/pkg/observability"
)

const maxTaskBytes = 4 << 20

// Handler processes one task and returns its reply. Implementations
// never return a Go error; failures are encoded as failed replies so
// the error kind crosses the wire intact.
type Handler interface {
	HandleTask(ctx context.Context, task *Task) *Reply
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task *Task) *Reply

func (f HandlerFunc) HandleTask(ctx context.Context, task *Task) *Reply {
	return f(ctx, task)
}

// Server accepts tasks over HTTP and hands them to a Handler. A
// weighted semaphore bounds concurrent work; excess tasks are refused
// immediately with a failed Overloaded reply rather than queued.
type Server struct {
	agent      string
	addr       string
	handler    Handler
	sem        *semaphore.Weighted
	httpServer *http.Server
	log        *slog.Logger
}

// NewServer builds a task server for the named agent. Concurrency
// values below one fall back to 64.
func NewServer(agent string, port int, concurrency int, handler Handler) *Server {
	if concurrency < 1 {
		concurrency = 64
	}
	s := &Server{
		agent:   agent,
		addr:    fmt.Sprintf(":%d", port),
		handler: handler,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		log:     logger.Component("a2a.server"),
	}
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the HTTP handler so callers can mount it on their own
// listener, which the tests do.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post(TasksPath, s.handleTask)
	return r
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("a2a_listening", "agent", s.agent, "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("a2a server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight tasks until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("a2a_stopping", "agent", s.agent)
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxTaskBytes))
	if err != nil {
		writeReply(w, http.StatusBadRequest, FailedReply("", fault.ProtocolMismatch, "unreadable task body"))
		return
	}

	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		writeReply(w, http.StatusBadRequest, FailedReply("", fault.ProtocolMismatch, "task body is not a task envelope"))
		return
	}
	if task.TaskID == "" {
		writeReply(w, http.StatusBadRequest, FailedReply("", fault.ProtocolMismatch, "task is missing task_id"))
		return
	}

	// Refuse rather than queue. The refusal is a delivered reply, so
	// the HTTP status stays 200 and the client does not retry it.
	if !s.sem.TryAcquire(1) {
		s.log.Warn("task_refused",
			"agent", s.agent,
			"task_id", task.TaskID,
			"error_kind", string(fault.Overloaded),
		)
		writeReply(w, http.StatusOK, FailedReply(task.TaskID, fault.Overloaded, "agent is at capacity"))
		return
	}
	defer s.sem.Release(1)

	start := time.Now()
	s.log.Debug("task_received",
		"agent", s.agent,
		"task_id", task.TaskID,
		"from_agent", task.FromAgent,
	)

	reply := s.handler.HandleTask(r.Context(), &task)
	if reply == nil {
		reply = FailedReply(task.TaskID, fault.UpstreamError, "handler produced no reply")
	}
	if reply.TaskID == "" {
		reply.TaskID = task.TaskID
	}

	duration := time.Since(start)
	observability.GetGlobalMetrics().RecordTask(r.Context(), s.agent, duration, !reply.Completed())
	s.log.Info("task_handled",
		"agent", s.agent,
		"task_id", task.TaskID,
		"status", reply.Status,
		"latency_ms", duration.Milliseconds(),
	)

	writeReply(w, http.StatusOK, reply)
}

func writeReply(w http.ResponseWriter, status int, reply *Reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(reply)
}
