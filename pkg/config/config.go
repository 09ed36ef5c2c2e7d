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

// Package config loads, defaults, and validates the runtime configuration
// for both agents. Configuration comes from an optional YAML file overlaid
// by environment variables; with neither present every knob falls back to
// a built-in default, so a bare `polis serve` works out of the box.
package config

import (
	"fmt"
	"time"

	"github.com/polisware/polis/pkg/observability"
)

// Config is the root configuration shared by the Domain Agent, the
// Technical Agent, and the supporting runtime.
type Config struct {
	Logging        LoggingConfig         `yaml:"logging,omitempty" json:"logging,omitempty"`
	DomainAgent    DomainAgentConfig     `yaml:"domain_agent,omitempty" json:"domain_agent,omitempty"`
	TechnicalAgent TechnicalAgentConfig  `yaml:"technical_agent,omitempty" json:"technical_agent,omitempty"`
	LLM            LLMConfig             `yaml:"llm,omitempty" json:"llm,omitempty"`
	Session        SessionConfig         `yaml:"session,omitempty" json:"session,omitempty"`
	Registry       RegistryConfig        `yaml:"registry,omitempty" json:"registry,omitempty"`
	ToolServers    []*ToolServerConfig   `yaml:"tool_servers,omitempty" json:"tool_servers,omitempty"`
	Observability  *observability.Config `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`

	// Format is "text" or "json". Default: text
	Format string `yaml:"format,omitempty" json:"format,omitempty" jsonschema:"enum=text,enum=json,default=text"`
}

// SessionConfig controls the in-memory session store.
type SessionConfig struct {
	// TTL is the sliding idle window after which a session expires.
	// Default: 30m
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// SweepInterval is how often the background sweeper runs. Default: 1m
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty" json:"sweep_interval,omitempty"`
}

// RegistryConfig controls tool discovery.
type RegistryConfig struct {
	// RefreshInterval is the periodic rediscovery cadence. Default: 5m
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty" json:"refresh_interval,omitempty"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.DomainAgent.SetDefaults()
	c.TechnicalAgent.SetDefaults()
	c.LLM.SetDefaults()
	c.Session.SetDefaults()
	c.Registry.SetDefaults()

	// A bare config still needs one tool server to discover against.
	if len(c.ToolServers) == 0 {
		c.ToolServers = []*ToolServerConfig{{
			ID:  DefaultPolicyServerID,
			URL: DefaultPolicyServerURL,
		}}
	}
	for _, server := range c.ToolServers {
		server.SetDefaults()
	}

	if c.Observability != nil {
		c.Observability.SetDefaults()
	}
}

// Validate checks every section and rejects duplicate tool server IDs.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.DomainAgent.Validate(); err != nil {
		return fmt.Errorf("domain_agent: %w", err)
	}
	if err := c.TechnicalAgent.Validate(); err != nil {
		return fmt.Errorf("technical_agent: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	seen := make(map[string]bool, len(c.ToolServers))
	for i, server := range c.ToolServers {
		if err := server.Validate(); err != nil {
			return fmt.Errorf("tool_servers[%d]: %w", i, err)
		}
		if seen[server.ID] {
			return fmt.Errorf("tool_servers[%d]: duplicate server id %q", i, server.ID)
		}
		seen[server.ID] = true
	}

	if c.Observability != nil {
		if err := c.Observability.Validate(); err != nil {
			return fmt.Errorf("observability: %w", err)
		}
	}
	return nil
}

// SetDefaults applies logging defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// Validate checks logging settings.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid level %q (valid: debug, info, warn, error)", c.Level)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid format %q (valid: text, json)", c.Format)
	}
	return nil
}

// SetDefaults applies session store defaults.
func (c *SessionConfig) SetDefaults() {
	if c.TTL == 0 {
		c.TTL = 30 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
}

// Validate checks session store settings.
func (c *SessionConfig) Validate() error {
	if c.TTL < 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	return nil
}

// SetDefaults applies registry defaults.
func (c *RegistryConfig) SetDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 5 * time.Minute
	}
}

// Validate checks registry settings.
func (c *RegistryConfig) Validate() error {
	if c.RefreshInterval < 0 {
		return fmt.Errorf("refresh_interval must be positive")
	}
	return nil
}
