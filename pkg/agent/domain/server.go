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

package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/polisware/polis/pkg/logger"
	"github.com/polisware/polis/pkg/session"
)

const maxChatBytes = 1 << 20

type chatRequest struct {
	SessionID   string `json:"session_id"`
	Message     string `json:"message"`
	Diagnostics bool   `json:"diagnostics,omitempty"`
}

type chatResponse struct {
	Reply       string       `json:"reply"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
}

type sessionRequest struct {
	SessionID  string `json:"session_id,omitempty"`
	CustomerID string `json:"customer_id"`
}

type sessionResponse struct {
	SessionID  string    `json:"session_id"`
	CustomerID string    `json:"customer_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server exposes the Domain Agent over HTTP: the chat endpoint plus the
// session lifecycle that stands in for a real authentication flow.
type Server struct {
	agent      *Agent
	sessions   *session.Store
	addr       string
	httpServer *http.Server
	log        *slog.Logger
}

// NewServer builds the customer-facing HTTP server.
func NewServer(agent *Agent, sessions *session.Store, port int) *Server {
	s := &Server{
		agent:    agent,
		sessions: sessions,
		addr:     fmt.Sprintf(":%d", port),
		log:      logger.Component("domain.server"),
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
	r.Post("/chat", s.handleChat)
	r.Post("/sessions", s.handleCreateSession)
	r.Delete("/sessions/{sessionID}", s.handleDestroySession)
	r.Get("/healthz", s.handleHealth)
	return r
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("chat_listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("domain server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("chat_stopping")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeInto(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := s.agent.Chat(r.Context(), req.SessionID, req.Message, req.Diagnostics)
	if err != nil {
		s.log.Error("chat failed", "session_id", req.SessionID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Reply:       result.Reply,
		Diagnostics: result.Diagnostics,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decodeInto(w, r, &req) {
		return
	}

	sess, err := s.sessions.Create(req.SessionID, req.CustomerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID:  sess.ID,
		CustomerID: sess.CustomerID,
		CreatedAt:  sess.CreatedAt,
	})
}

func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !s.sessions.Destroy(id) {
		writeError(w, http.StatusNotFound, "no such session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeInto reads one JSON body. It writes the 400 itself and reports
// whether the caller should continue.
func decodeInto(w http.ResponseWriter, r *http.Request, dst any) bool {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxChatBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
