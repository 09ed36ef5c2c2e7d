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

// Package registry maintains the tool catalog across all configured tool
// servers.
//
// Refresh discovers every server concurrently and swaps per-server
// snapshots atomically. A server that fails discovery keeps its last
// known descriptors and is marked stale, so one unreachable backend
// never empties the catalog. When two servers advertise the same tool
// name, configuration order decides the winner; each conflict is logged
// once.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polisware/polis/pkg/config"
	"github.com/polisware/polis/pkg/logger"
	"github.com/polisware/polis/pkg/toolproto"
)

// serverState is the per-server snapshot. tools always holds the last
// successful discovery, even while stale.
type serverState struct {
	connector   toolproto.Connector
	tools       []toolproto.Descriptor
	refreshedAt time.Time
	stale       bool
}

// ServerStatus is a point-in-time view of one server's snapshot.
type ServerStatus struct {
	ServerID    string
	ToolCount   int
	RefreshedAt time.Time
	Stale       bool
}

// Registry is the shared tool catalog. All methods are safe for
// concurrent use.
type Registry struct {
	interval time.Duration
	log      *slog.Logger

	mu        sync.RWMutex
	servers   []*serverState
	effective map[string]toolproto.Descriptor
	order     []string
	conflicts map[string]bool

	refreshCh chan struct{}
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// New builds a registry over the given connectors. Connector order is
// configuration order and decides duplicate-name precedence.
func New(cfg config.RegistryConfig, connectors ...toolproto.Connector) *Registry {
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	servers := make([]*serverState, 0, len(connectors))
	for _, conn := range connectors {
		servers = append(servers, &serverState{connector: conn})
	}

	return &Registry{
		interval:  interval,
		log:       logger.Component("registry"),
		servers:   servers,
		effective: make(map[string]toolproto.Descriptor),
		conflicts: make(map[string]bool),
		refreshCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Refresh rediscovers every server concurrently. Failing servers keep
// their last-known descriptors and turn stale; the catalog is rebuilt
// from whatever each server currently holds. The returned error joins
// the per-server discovery failures and is nil when every server
// answered.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.RLock()
	servers := make([]*serverState, len(r.servers))
	copy(servers, r.servers)
	r.mu.RUnlock()

	type outcome struct {
		tools []toolproto.Descriptor
		err   error
	}
	outcomes := make([]outcome, len(servers))

	g, gctx := errgroup.WithContext(ctx)
	for i, state := range servers {
		g.Go(func() error {
			tools, err := state.connector.ListTools(gctx)
			outcomes[i] = outcome{tools: tools, err: err}
			// Discovery failures must not cancel sibling servers.
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now()
	var failures []error

	r.mu.Lock()
	for i, state := range servers {
		out := outcomes[i]
		if out.err != nil {
			state.stale = true
			failures = append(failures, fmt.Errorf("%s: %w", state.connector.ServerID(), out.err))
			continue
		}
		state.tools = out.tools
		state.refreshedAt = now
		state.stale = false
	}
	r.rebuildLocked()
	total := len(r.order)
	newConflicts := r.unloggedConflictsLocked()
	r.mu.Unlock()

	for _, c := range newConflicts {
		r.log.Warn("duplicate tool name across servers",
			"event", "tool_name_conflict",
			"tool", c.tool,
			"winner", c.winner,
			"shadowed", c.shadowed)
	}

	for _, err := range failures {
		r.log.Warn("server discovery failed, keeping last-known tools",
			"event", "refresh_failed",
			"detail", err.Error())
	}
	r.log.Info("registry refreshed",
		"event", "registry_refreshed",
		"tools", total,
		"servers", len(servers),
		"failed", len(failures))

	return errors.Join(failures...)
}

// Lookup returns the effective descriptor for a tool name.
func (r *Registry) Lookup(name string) (toolproto.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.effective[name]
	return d, ok
}

// AllTools returns a copy of the effective catalog in deterministic
// order: configuration order across servers, listing order within one.
func (r *Registry) AllTools() []toolproto.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]toolproto.Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.effective[name])
	}
	return out
}

// Len returns the effective tool count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Status reports the per-server snapshot state in configuration order.
func (r *Registry) Status() []ServerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerStatus, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, ServerStatus{
			ServerID:    s.connector.ServerID(),
			ToolCount:   len(s.tools),
			RefreshedAt: s.refreshedAt,
			Stale:       s.stale,
		})
	}
	return out
}

// RequestRefresh asks the refresh loop for an out-of-band pass. Requests
// coalesce; the call never blocks.
func (r *Registry) RequestRefresh() {
	select {
	case r.refreshCh <- struct{}{}:
	default:
	}
}

// Start launches the refresh loop: one initial pass, then periodic and
// on-demand passes until ctx ends or Stop is called.
func (r *Registry) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Stop terminates the refresh loop. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Registry) loop(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		r.log.Warn("initial discovery incomplete", "event", "refresh_failed", "detail", err.Error())
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
		case <-r.refreshCh:
		}
		if err := r.Refresh(ctx); err != nil {
			r.log.Warn("periodic discovery incomplete", "event", "refresh_failed", "detail", err.Error())
		}
	}
}

// rebuildLocked recomputes the effective catalog. Caller holds mu.
func (r *Registry) rebuildLocked() {
	effective := make(map[string]toolproto.Descriptor)
	order := make([]string, 0, len(r.effective))
	for _, state := range r.servers {
		for _, d := range state.tools {
			if _, taken := effective[d.Name]; taken {
				continue
			}
			effective[d.Name] = d
			order = append(order, d.Name)
		}
	}
	r.effective = effective
	r.order = order
}

type conflict struct {
	tool     string
	winner   string
	shadowed string
}

// unloggedConflictsLocked finds duplicate names not yet reported and
// marks them logged. Caller holds mu.
func (r *Registry) unloggedConflictsLocked() []conflict {
	var out []conflict
	for _, state := range r.servers {
		for _, d := range state.tools {
			winner := r.effective[d.Name]
			if winner.ServerID == d.ServerID || r.conflicts[d.Name] {
				continue
			}
			r.conflicts[d.Name] = true
			out = append(out, conflict{tool: d.Name, winner: winner.ServerID, shadowed: d.ServerID})
		}
	}
	return out
}
