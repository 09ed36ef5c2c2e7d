package config

import (
	"fmt"
	"time"
)

// Canonical identifiers for the default backend.
const (
	DefaultPolicyServerID  = "policy-server"
	DefaultPolicyServerURL = "http://localhost:8003"
)

// ToolServerKind identifies the discovery protocol a server speaks.
type ToolServerKind string

const (
	// ToolServerTP is the native HTTP tool protocol
	// (GET /tools, POST /tools/{name}/invoke).
	ToolServerTP ToolServerKind = "tp"

	// ToolServerMCP is a Model Context Protocol server.
	ToolServerMCP ToolServerKind = "mcp"
)

// ToolServerConfig describes one server the registry discovers tools from.
// Configuration order is significant: when two servers advertise the same
// tool name, the earlier entry wins.
type ToolServerConfig struct {
	// ID uniquely names this server in descriptors and logs.
	ID string `yaml:"id" json:"id"`

	// Kind selects the protocol. Default: tp
	Kind ToolServerKind `yaml:"kind,omitempty" json:"kind,omitempty" jsonschema:"enum=tp,enum=mcp,default=tp"`

	// URL is the server base URL. Required for tp; for mcp it selects the
	// streamable HTTP transport.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Command launches a local mcp server over stdio (mcp only).
	Command string `yaml:"command,omitempty" json:"command,omitempty"`

	// Args are passed to Command.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Env is extra environment for Command, as KEY=VALUE pairs.
	Env []string `yaml:"env,omitempty" json:"env,omitempty"`

	// Timeout is the per-call deadline for this server. Default: 5s
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// QueueDepth bounds in-flight calls to this server; excess calls fail
	// fast as overloaded. Default: 32
	QueueDepth int `yaml:"queue_depth,omitempty" json:"queue_depth,omitempty"`

	// TLS configures transport security toward this server.
	TLS *TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// TLSConfig carries per-server transport security options.
type TLSConfig struct {
	// CACertificate is a path to a PEM bundle for private CAs.
	CACertificate string `yaml:"ca_certificate,omitempty" json:"ca_certificate,omitempty"`

	// InsecureSkipVerify disables certificate verification (dev only).
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`
}

// SetDefaults applies tool server defaults.
func (c *ToolServerConfig) SetDefaults() {
	if c.Kind == "" {
		c.Kind = ToolServerTP
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = 32
	}
}

// Validate checks tool server settings.
func (c *ToolServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}

	switch c.Kind {
	case ToolServerTP:
		if c.URL == "" {
			return fmt.Errorf("url is required for tp servers")
		}
		if c.Command != "" {
			return fmt.Errorf("command is only valid for mcp servers")
		}
	case ToolServerMCP:
		if c.URL == "" && c.Command == "" {
			return fmt.Errorf("mcp servers need url (streamable http) or command (stdio)")
		}
		if c.URL != "" && c.Command != "" {
			return fmt.Errorf("url and command are mutually exclusive")
		}
	default:
		return fmt.Errorf("invalid kind %q (valid: tp, mcp)", c.Kind)
	}

	if c.QueueDepth < 1 {
		return fmt.Errorf("queue_depth must be at least 1")
	}
	return nil
}
