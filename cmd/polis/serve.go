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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/polisware/polis/pkg/a2a"
	"github.com/polisware/polis/pkg/agent/domain"
	"github.com/polisware/polis/pkg/agent/technical"
	"github.com/polisware/polis/pkg/config"
	"github.com/polisware/polis/pkg/llm"
	"github.com/polisware/polis/pkg/logger"
	"github.com/polisware/polis/pkg/observability"
	"github.com/polisware/polis/pkg/prompt"
	"github.com/polisware/polis/pkg/registry"
	"github.com/polisware/polis/pkg/session"
	"github.com/polisware/polis/pkg/toolproto"
)

// drainTimeout bounds how long shutdown waits for in-flight requests.
const drainTimeout = 10 * time.Second

const (
	roleDomain    = "domain"
	roleTechnical = "technical"
	roleAll       = "all"
)

// ServeCmd starts the agent servers.
type ServeCmd struct {
	Role          string `help:"Which agents to run." default:"all" enum:"domain,technical,all"`
	DomainPort    int    `name:"domain-port" help:"Override the Domain Agent port."`
	TechnicalPort int    `name:"technical-port" help:"Override the Technical Agent port."`
	MetricsPort   int    `name:"metrics-port" help:"Port for the Prometheus scrape endpoint." default:"9090"`
}

// agentServer is the lifecycle both role servers share.
type agentServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

type namedServer struct {
	name string
	srv  agentServer
}

func (c *ServeCmd) wantDomain() bool    { return c.Role == roleDomain || c.Role == roleAll }
func (c *ServeCmd) wantTechnical() bool { return c.Role == roleTechnical || c.Role == roleAll }

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, closeCfg, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	defer closeCfg()
	setupLogging(cli, cfg)
	log := logger.Component("cli")

	if c.DomainPort != 0 {
		cfg.DomainAgent.Port = c.DomainPort
	}
	if c.TechnicalPort != 0 {
		cfg.TechnicalAgent.Port = c.TechnicalPort
		// Co-located agents talk over loopback; keep the DA pointed at
		// the overridden TA port.
		if c.Role == roleAll {
			cfg.DomainAgent.TechnicalAgentURL = fmt.Sprintf("http://localhost:%d", c.TechnicalPort)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutdown signal received", "event", "shutdown", "signal", sig.String())
		cancel()
	}()

	obs := observability.NoopManager()
	if cfg.Observability != nil {
		obs = observability.NewManager(*cfg.Observability)
		if err := obs.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize observability: %w", err)
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), drainTimeout)
			defer flushCancel()
			_ = obs.Shutdown(flushCtx)
		}()
	}

	prompts, err := prompt.NewStore()
	if err != nil {
		return fmt.Errorf("failed to load prompt catalog: %w", err)
	}
	llmClient, err := llm.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}
	defer llmClient.Close()

	var servers []namedServer

	if c.wantTechnical() {
		connectors, err := buildConnectors(cfg.ToolServers)
		if err != nil {
			return err
		}
		tools := toolproto.NewClient(connectors...)
		defer tools.Close()

		reg := registry.New(cfg.Registry, connectors...)
		reg.Start(ctx)
		defer reg.Stop()

		techAgent, err := technical.New(cfg.TechnicalAgent, reg, tools, llmClient, prompts)
		if err != nil {
			return fmt.Errorf("failed to create technical agent: %w", err)
		}
		srv := a2a.NewServer(a2a.AgentTechnical, cfg.TechnicalAgent.Port, cfg.TechnicalAgent.Concurrency, techAgent)
		servers = append(servers, namedServer{name: "technical", srv: srv})
	}

	if c.wantDomain() {
		sessions := session.NewStore(cfg.Session)
		sessions.Start()
		defer sessions.Stop()

		agent := domain.New(cfg.DomainAgent, sessions, llmClient, prompts)
		srv := domain.NewServer(agent, sessions, cfg.DomainAgent.Port)
		servers = append(servers, namedServer{name: "domain", srv: srv})
	}

	var metricsSrv *http.Server
	if obs.MetricsEnabled() {
		mux := http.NewServeMux()
		mux.Handle(obs.MetricsPath(), obs.GetMetrics().Handler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", c.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	errCh := make(chan error, len(servers)+1)
	for _, s := range servers {
		go func() {
			if err := s.srv.Start(); err != nil {
				errCh <- fmt.Errorf("%s: %w", s.name, err)
			}
		}()
	}
	if metricsSrv != nil {
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
	}

	c.printStartup(cfg, obs)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer shutdownCancel()
	for _, s := range servers {
		if err := s.srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = fmt.Errorf("%s shutdown: %w", s.name, err)
		}
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

// printStartup lists the endpoints a smoke test or reverse proxy needs.
func (c *ServeCmd) printStartup(cfg *config.Config, obs *observability.Manager) {
	fmt.Printf("\nPolis ready (role: %s)\n", c.Role)
	if c.wantDomain() {
		fmt.Printf("   Chat:      http://localhost:%d/chat\n", cfg.DomainAgent.Port)
		fmt.Printf("   Sessions:  http://localhost:%d/sessions\n", cfg.DomainAgent.Port)
	}
	if c.wantTechnical() {
		fmt.Printf("   A2A:       http://localhost:%d%s\n", cfg.TechnicalAgent.Port, a2a.TasksPath)
	}
	if obs.MetricsEnabled() {
		fmt.Printf("   Metrics:   http://localhost:%d%s\n", c.MetricsPort, obs.MetricsPath())
	}
	fmt.Println("\nPress Ctrl+C to stop")
}
