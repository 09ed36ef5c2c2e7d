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

// Package session holds the in-memory store binding chat sessions to
// verified customer identities.
//
// A session is created after authentication succeeds (an external
// concern) and is the only source of customer identity for the whole
// pipeline: downstream components never infer identity from message
// text. Sessions expire on a sliding TTL; every successful Resolve
// pushes the expiry forward. The bound customer id is immutable for
// the session's lifetime.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polisware/polis/pkg/config"
	"github.com/polisware/polis/pkg/fault"
	"github.com/polisware/polis/pkg/logger"
)

// Session is a read-only snapshot of one authenticated session.
type Session struct {
	ID         string
	CustomerID string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

type entry struct {
	customerID string
	createdAt  time.Time
	lastSeen   time.Time
}

// Store is a concurrency-safe in-memory session table with a
// background sweeper for expired entries.
type Store struct {
	ttl        time.Duration
	sweepEvery time.Duration
	log        *slog.Logger

	// now is a seam for expiry tests.
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewStore builds a store from the session configuration.
func NewStore(cfg config.SessionConfig) *Store {
	cfg.SetDefaults()
	return &Store{
		ttl:        cfg.TTL,
		sweepEvery: cfg.SweepInterval,
		log:        logger.Component("session"),
		now:        time.Now,
		sessions:   make(map[string]*entry),
		stopCh:     make(chan struct{}),
	}
}

// Create binds a customer id to a new session. When id is empty a
// random one is generated. Creating over a live session is rejected:
// the binding is immutable until the session expires or is destroyed.
func (s *Store) Create(id, customerID string) (*Session, error) {
	if customerID == "" {
		return nil, fault.New(fault.InvalidParameters, "session requires a customer id")
	}
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.sessions[id]; ok && !s.expired(existing, now) {
		return nil, fault.Newf(fault.InvalidParameters, "session %s already exists", id)
	}

	e := &entry{customerID: customerID, createdAt: now, lastSeen: now}
	s.sessions[id] = e
	s.log.Debug("session created", "session_id", id)
	return snapshot(id, e), nil
}

// Resolve looks up a live session and slides its expiry forward.
// Expired sessions are removed on sight and reported as absent.
func (s *Store) Resolve(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	if s.expired(e, now) {
		delete(s.sessions, id)
		s.log.Debug("session expired", "session_id", id)
		return nil, false
	}
	e.lastSeen = now
	return snapshot(id, e), true
}

// Destroy removes a session, reporting whether it existed.
func (s *Store) Destroy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	s.log.Debug("session destroyed", "session_id", id)
	return true
}

// Len returns the number of stored sessions, expired ones included
// until the sweeper or a Resolve removes them.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Start launches the background sweeper. Safe to call once.
func (s *Store) Start() {
	go s.sweepLoop()
}

// Stop terminates the sweeper. Idempotent.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n := s.sweep(); n > 0 {
				s.log.Debug("swept expired sessions", "count", n)
			}
		}
	}
}

func (s *Store) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.sessions {
		if s.expired(e, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *Store) expired(e *entry, now time.Time) bool {
	return now.Sub(e.lastSeen) >= s.ttl
}

func snapshot(id string, e *entry) *Session {
	return &Session{
		ID:         id,
		CustomerID: e.customerID,
		CreatedAt:  e.createdAt,
		LastSeenAt: e.lastSeen,
	}
}
