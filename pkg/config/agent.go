package config

import (
	"fmt"
	"net/url"
	"time"
)

// DomainAgentConfig configures the customer-facing Domain Agent.
type DomainAgentConfig struct {
	// Port the chat surface binds to. Default: 8001
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// TechnicalAgentURL is the base URL of the Technical Agent's A2A
	// endpoint. Default: http://localhost:8002
	TechnicalAgentURL string `yaml:"technical_agent_url,omitempty" json:"technical_agent_url,omitempty"`

	// ChatTimeout is the overall deadline for one Chat call. Default: 30s
	ChatTimeout time.Duration `yaml:"chat_timeout,omitempty" json:"chat_timeout,omitempty"`

	// A2ATimeout is the deadline for one delegated A2A exchange.
	// Default: 20s
	A2ATimeout time.Duration `yaml:"a2a_timeout,omitempty" json:"a2a_timeout,omitempty"`

	// HistoryLimit bounds the process-wide conversation turn log.
	// Oldest turns are evicted first. Default: 256
	HistoryLimit int `yaml:"history_limit,omitempty" json:"history_limit,omitempty"`
}

// TechnicalAgentConfig configures the tool-execution Technical Agent.
type TechnicalAgentConfig struct {
	// Port the A2A server binds to. Default: 8002
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// Concurrency bounds simultaneously handled A2A tasks. Default: 64
	Concurrency int `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`

	// PlanTimeout is the total deadline for executing one plan.
	// Default: 15s
	PlanTimeout time.Duration `yaml:"plan_timeout,omitempty" json:"plan_timeout,omitempty"`
}

// SetDefaults applies Domain Agent defaults.
func (c *DomainAgentConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8001
	}
	if c.TechnicalAgentURL == "" {
		c.TechnicalAgentURL = "http://localhost:8002"
	}
	if c.ChatTimeout == 0 {
		c.ChatTimeout = 30 * time.Second
	}
	if c.A2ATimeout == 0 {
		c.A2ATimeout = 20 * time.Second
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 256
	}
}

// Validate checks Domain Agent settings.
func (c *DomainAgentConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if _, err := url.Parse(c.TechnicalAgentURL); err != nil {
		return fmt.Errorf("invalid technical_agent_url: %w", err)
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be at least 1")
	}
	return nil
}

// SetDefaults applies Technical Agent defaults.
func (c *TechnicalAgentConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8002
	}
	if c.Concurrency == 0 {
		c.Concurrency = 64
	}
	if c.PlanTimeout == 0 {
		c.PlanTimeout = 15 * time.Second
	}
}

// Validate checks Technical Agent settings.
func (c *TechnicalAgentConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	return nil
}
