package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/polisware/polis/pkg/config/provider"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polis.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("POLIS_TEST_API_KEY", "sk-test-123")
	// Ambient values for these would override the file under test.
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("LLM_PROVIDER", "")

	path := writeConfigFile(t, `
logging:
  level: debug
  format: json

domain_agent:
  port: 7001
  technical_agent_url: http://localhost:7002
  chat_timeout: 45s

technical_agent:
  port: 7002
  concurrency: 16
  plan_timeout: 20s

llm:
  provider: anthropic
  primary_model: claude-sonnet-4-20250514
  api_key: ${POLIS_TEST_API_KEY}

session:
  ttl: 10m

registry:
  refresh_interval: 30s

tool_servers:
  - id: policy-server
    url: http://localhost:9003
    timeout: 2s
  - id: local-mcp
    kind: mcp
    command: policy-mcp
    args: serve,--stdio
`)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error = %v", err)
	}
	defer loader.Close()

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %s/%s, want debug/json", cfg.Logging.Level, cfg.Logging.Format)
	}

	if cfg.DomainAgent.Port != 7001 {
		t.Errorf("domain port = %d, want 7001", cfg.DomainAgent.Port)
	}
	if cfg.DomainAgent.ChatTimeout != 45*time.Second {
		t.Errorf("chat_timeout = %v, want 45s", cfg.DomainAgent.ChatTimeout)
	}
	if cfg.DomainAgent.A2ATimeout != 20*time.Second {
		t.Errorf("a2a_timeout default = %v, want 20s", cfg.DomainAgent.A2ATimeout)
	}
	if cfg.DomainAgent.HistoryLimit != 256 {
		t.Errorf("history_limit default = %d, want 256", cfg.DomainAgent.HistoryLimit)
	}

	if cfg.TechnicalAgent.Port != 7002 || cfg.TechnicalAgent.Concurrency != 16 {
		t.Errorf("technical agent = %d/%d, want 7002/16", cfg.TechnicalAgent.Port, cfg.TechnicalAgent.Concurrency)
	}
	if cfg.TechnicalAgent.PlanTimeout != 20*time.Second {
		t.Errorf("plan_timeout = %v, want 20s", cfg.TechnicalAgent.PlanTimeout)
	}

	if cfg.LLM.Provider != LLMProviderAnthropic {
		t.Errorf("llm provider = %s, want anthropic", cfg.LLM.Provider)
	}
	if cfg.LLM.APIKey != "sk-test-123" {
		t.Errorf("api_key = %q, want expanded env value", cfg.LLM.APIKey)
	}
	if cfg.LLM.FallbackModel == "" {
		t.Error("fallback model default was not applied")
	}

	if cfg.Session.TTL != 10*time.Minute {
		t.Errorf("session ttl = %v, want 10m", cfg.Session.TTL)
	}
	if cfg.Session.SweepInterval != time.Minute {
		t.Errorf("sweep_interval default = %v, want 1m", cfg.Session.SweepInterval)
	}
	if cfg.Registry.RefreshInterval != 30*time.Second {
		t.Errorf("refresh_interval = %v, want 30s", cfg.Registry.RefreshInterval)
	}

	if len(cfg.ToolServers) != 2 {
		t.Fatalf("tool servers = %d, want 2", len(cfg.ToolServers))
	}
	first := cfg.ToolServers[0]
	if first.Kind != ToolServerTP || first.URL != "http://localhost:9003" {
		t.Errorf("first server = %s %s, want tp http://localhost:9003", first.Kind, first.URL)
	}
	if first.Timeout != 2*time.Second || first.QueueDepth != 32 {
		t.Errorf("first server timeout/queue = %v/%d, want 2s/32", first.Timeout, first.QueueDepth)
	}
	second := cfg.ToolServers[1]
	if second.Kind != ToolServerMCP || second.Command != "policy-mcp" {
		t.Errorf("second server = %s %s, want mcp policy-mcp", second.Kind, second.Command)
	}
	if len(second.Args) != 2 || second.Args[0] != "serve" || second.Args[1] != "--stdio" {
		t.Errorf("second server args = %v, want [serve --stdio]", second.Args)
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	_, _, err := LoadConfigFile(context.Background(), "/nonexistent/polis.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadConfigFileInvalidSyntax(t *testing.T) {
	path := writeConfigFile(t, "domain_agent: [1,\n")

	_, _, err := LoadConfigFile(context.Background(), path)
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigFileValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "port out of range",
			yaml: "domain_agent:\n  port: 99999\n",
		},
		{
			name: "bad log level",
			yaml: "logging:\n  level: loud\n",
		},
		{
			name: "tp server without url",
			yaml: "tool_servers:\n  - id: broken\n",
		},
		{
			name: "duplicate server ids",
			yaml: "tool_servers:\n  - id: policy-server\n    url: http://a\n  - id: policy-server\n    url: http://b\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.yaml)
			_, _, err := LoadConfigFile(context.Background(), path)
			if err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadConfigFileEmpty(t *testing.T) {
	path := writeConfigFile(t, "")

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error = %v", err)
	}
	defer loader.Close()

	if cfg.DomainAgent.Port != 8001 || cfg.TechnicalAgent.Port != 8002 {
		t.Errorf("default ports = %d/%d, want 8001/8002", cfg.DomainAgent.Port, cfg.TechnicalAgent.Port)
	}
	if len(cfg.ToolServers) != 1 || cfg.ToolServers[0].ID != DefaultPolicyServerID {
		t.Fatalf("default tool servers = %+v, want seeded %s", cfg.ToolServers, DefaultPolicyServerID)
	}
	if cfg.ToolServers[0].URL != DefaultPolicyServerURL {
		t.Errorf("policy server url = %s, want %s", cfg.ToolServers[0].URL, DefaultPolicyServerURL)
	}
}

func TestLoadConfigStaticProvider(t *testing.T) {
	cfg, loader, err := LoadConfig(context.Background(), provider.ProviderConfig{Type: provider.TypeStatic})
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	defer loader.Close()

	if cfg.DomainAgent.TechnicalAgentURL != "http://localhost:8002" {
		t.Errorf("technical_agent_url = %s, want default", cfg.DomainAgent.TechnicalAgentURL)
	}
	if loader.Provider().Type() != provider.TypeStatic {
		t.Errorf("provider type = %s, want static", loader.Provider().Type())
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("DOMAIN_AGENT_PORT", "9100")
	t.Setenv("TECHNICAL_AGENT_URL", "http://ta.internal:9200")
	t.Setenv("SESSION_TTL_SECONDS", "120")
	t.Setenv("POLICY_SERVER_URL", "http://policy.internal:9300")
	t.Setenv("HTTP_TIMEOUT_SECONDS", "3")
	t.Setenv("A2A_CONCURRENCY", "8")
	t.Setenv("LOG_LEVEL", "warn")

	path := writeConfigFile(t, `
domain_agent:
  port: 7001
session:
  ttl: 10m
`)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error = %v", err)
	}
	defer loader.Close()

	if cfg.DomainAgent.Port != 9100 {
		t.Errorf("domain port = %d, want env override 9100", cfg.DomainAgent.Port)
	}
	if cfg.DomainAgent.TechnicalAgentURL != "http://ta.internal:9200" {
		t.Errorf("technical_agent_url = %s, want env override", cfg.DomainAgent.TechnicalAgentURL)
	}
	if cfg.Session.TTL != 2*time.Minute {
		t.Errorf("session ttl = %v, want 2m", cfg.Session.TTL)
	}
	if cfg.TechnicalAgent.Concurrency != 8 {
		t.Errorf("concurrency = %d, want 8", cfg.TechnicalAgent.Concurrency)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %s, want warn", cfg.Logging.Level)
	}

	if len(cfg.ToolServers) != 1 {
		t.Fatalf("tool servers = %d, want 1", len(cfg.ToolServers))
	}
	// POLICY_SERVER_URL synthesizes the entry, HTTP_TIMEOUT_SECONDS then
	// applies to it.
	server := cfg.ToolServers[0]
	if server.ID != DefaultPolicyServerID || server.URL != "http://policy.internal:9300" {
		t.Errorf("policy server = %s %s, want %s with env url", server.ID, server.URL, DefaultPolicyServerID)
	}
	if server.Timeout != 3*time.Second {
		t.Errorf("policy server timeout = %v, want 3s", server.Timeout)
	}
}

func TestZeroConfig(t *testing.T) {
	cfg, err := ZeroConfig()
	if err != nil {
		t.Fatalf("ZeroConfig() error = %v", err)
	}
	if cfg.DomainAgent.Port != 8001 {
		t.Errorf("domain port = %d, want 8001", cfg.DomainAgent.Port)
	}
	if cfg.Registry.RefreshInterval != 5*time.Minute {
		t.Errorf("refresh_interval = %v, want 5m", cfg.Registry.RefreshInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("zero config does not validate: %v", err)
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		wantKey string
	}{
		{name: "yaml", input: "logging:\n  level: info\n", wantKey: "logging"},
		{name: "json", input: `{"logging": {"level": "info"}}`, wantKey: "logging"},
		{name: "empty", input: ""},
		{name: "garbage", input: "a: [1,", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBytes([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseBytes() error = %v", err)
			}
			if got == nil {
				t.Fatal("parseBytes() returned nil map")
			}
			if tt.wantKey != "" {
				if _, ok := got[tt.wantKey]; !ok {
					t.Errorf("key %q missing from %v", tt.wantKey, got)
				}
			}
		})
	}
}

func TestExpandEnvString(t *testing.T) {
	t.Setenv("POLIS_SET", "value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "plain", want: "plain"},
		{name: "braced", input: "${POLIS_SET}", want: "value"},
		{name: "bare", input: "$POLIS_SET", want: "value"},
		{name: "embedded", input: "pre-${POLIS_SET}-post", want: "pre-value-post"},
		{name: "default taken", input: "${POLIS_UNSET_VAR:-fallback}", want: "fallback"},
		{name: "default ignored", input: "${POLIS_SET:-fallback}", want: "value"},
		{name: "unset empty", input: "${POLIS_UNSET_VAR}", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandEnvString(tt.input); got != tt.want {
				t.Errorf("expandEnvString(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
