package config

import (
	"strings"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.LLM.Provider = LLMProviderOpenAI
	cfg.SetDefaults()

	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging defaults = %s/%s, want info/text", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.DomainAgent.Port != 8001 {
		t.Errorf("domain port = %d, want 8001", cfg.DomainAgent.Port)
	}
	if cfg.DomainAgent.ChatTimeout != 30*time.Second || cfg.DomainAgent.A2ATimeout != 20*time.Second {
		t.Errorf("domain timeouts = %v/%v, want 30s/20s", cfg.DomainAgent.ChatTimeout, cfg.DomainAgent.A2ATimeout)
	}
	if cfg.TechnicalAgent.Port != 8002 || cfg.TechnicalAgent.Concurrency != 64 {
		t.Errorf("technical defaults = %d/%d, want 8002/64", cfg.TechnicalAgent.Port, cfg.TechnicalAgent.Concurrency)
	}
	if cfg.TechnicalAgent.PlanTimeout != 15*time.Second {
		t.Errorf("plan_timeout = %v, want 15s", cfg.TechnicalAgent.PlanTimeout)
	}
	if cfg.LLM.PrimaryModel != "gpt-4o" || cfg.LLM.FallbackModel != "gpt-4o-mini" {
		t.Errorf("llm models = %s/%s, want gpt-4o/gpt-4o-mini", cfg.LLM.PrimaryModel, cfg.LLM.FallbackModel)
	}
	if cfg.LLM.MaxTokens != 1024 || cfg.LLM.Timeout != 10*time.Second {
		t.Errorf("llm limits = %d/%v, want 1024/10s", cfg.LLM.MaxTokens, cfg.LLM.Timeout)
	}
	if cfg.LLM.Temperature == nil || *cfg.LLM.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", cfg.LLM.Temperature)
	}
	if cfg.Session.TTL != 30*time.Minute || cfg.Session.SweepInterval != time.Minute {
		t.Errorf("session defaults = %v/%v, want 30m/1m", cfg.Session.TTL, cfg.Session.SweepInterval)
	}
	if cfg.Registry.RefreshInterval != 5*time.Minute {
		t.Errorf("refresh_interval = %v, want 5m", cfg.Registry.RefreshInterval)
	}

	if len(cfg.ToolServers) != 1 {
		t.Fatalf("tool servers = %d, want seeded default", len(cfg.ToolServers))
	}
	server := cfg.ToolServers[0]
	if server.ID != DefaultPolicyServerID || server.URL != DefaultPolicyServerURL {
		t.Errorf("seeded server = %s %s, want %s %s", server.ID, server.URL, DefaultPolicyServerID, DefaultPolicyServerURL)
	}
	if server.Kind != ToolServerTP || server.Timeout != 5*time.Second || server.QueueDepth != 32 {
		t.Errorf("seeded server defaults = %s/%v/%d, want tp/5s/32", server.Kind, server.Timeout, server.QueueDepth)
	}
}

func TestLoggingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LoggingConfig
		wantErr bool
	}{
		{name: "valid", cfg: LoggingConfig{Level: "info", Format: "text"}},
		{name: "json format", cfg: LoggingConfig{Level: "error", Format: "json"}},
		{name: "bad level", cfg: LoggingConfig{Level: "loud", Format: "text"}, wantErr: true},
		{name: "bad format", cfg: LoggingConfig{Level: "info", Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDomainAgentConfigValidate(t *testing.T) {
	valid := DomainAgentConfig{}
	valid.SetDefaults()
	if err := valid.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*DomainAgentConfig)
	}{
		{name: "port too large", mutate: func(c *DomainAgentConfig) { c.Port = 70000 }},
		{name: "port zero", mutate: func(c *DomainAgentConfig) { c.Port = 0 }},
		{name: "history limit", mutate: func(c *DomainAgentConfig) { c.HistoryLimit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DomainAgentConfig{}
			cfg.SetDefaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestTechnicalAgentConfigValidate(t *testing.T) {
	cfg := TechnicalAgentConfig{}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}

	cfg.Concurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero concurrency")
	}

	cfg = TechnicalAgentConfig{Port: -1, Concurrency: 4}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative port")
	}
}

func TestLLMConfigValidate(t *testing.T) {
	temp := func(v float64) *float64 { return &v }

	tests := []struct {
		name    string
		cfg     LLMConfig
		wantErr bool
	}{
		{name: "valid", cfg: LLMConfig{Provider: LLMProviderOpenAI}},
		{name: "empty provider ok", cfg: LLMConfig{}},
		{name: "unknown provider", cfg: LLMConfig{Provider: "mystery"}, wantErr: true},
		{name: "temperature high", cfg: LLMConfig{Provider: LLMProviderOpenAI, Temperature: temp(2.5)}, wantErr: true},
		{name: "temperature low", cfg: LLMConfig{Provider: LLMProviderOpenAI, Temperature: temp(-0.1)}, wantErr: true},
		{name: "negative tokens", cfg: LLMConfig{Provider: LLMProviderOpenAI, MaxTokens: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestToolServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ToolServerConfig
		wantErr string
	}{
		{
			name: "valid tp",
			cfg:  ToolServerConfig{ID: "s1", Kind: ToolServerTP, URL: "http://localhost:8003", QueueDepth: 8},
		},
		{
			name: "valid mcp stdio",
			cfg:  ToolServerConfig{ID: "s2", Kind: ToolServerMCP, Command: "policy-mcp", QueueDepth: 8},
		},
		{
			name: "valid mcp http",
			cfg:  ToolServerConfig{ID: "s3", Kind: ToolServerMCP, URL: "http://localhost:8003/mcp", QueueDepth: 8},
		},
		{
			name:    "missing id",
			cfg:     ToolServerConfig{Kind: ToolServerTP, URL: "http://x", QueueDepth: 8},
			wantErr: "id is required",
		},
		{
			name:    "tp without url",
			cfg:     ToolServerConfig{ID: "s4", Kind: ToolServerTP, QueueDepth: 8},
			wantErr: "url is required",
		},
		{
			name:    "tp with command",
			cfg:     ToolServerConfig{ID: "s5", Kind: ToolServerTP, URL: "http://x", Command: "oops", QueueDepth: 8},
			wantErr: "only valid for mcp",
		},
		{
			name:    "mcp without transport",
			cfg:     ToolServerConfig{ID: "s6", Kind: ToolServerMCP, QueueDepth: 8},
			wantErr: "url (streamable http) or command",
		},
		{
			name:    "mcp with both",
			cfg:     ToolServerConfig{ID: "s7", Kind: ToolServerMCP, URL: "http://x", Command: "both", QueueDepth: 8},
			wantErr: "mutually exclusive",
		},
		{
			name:    "unknown kind",
			cfg:     ToolServerConfig{ID: "s8", Kind: "grpc", URL: "http://x", QueueDepth: 8},
			wantErr: "invalid kind",
		},
		{
			name:    "queue depth",
			cfg:     ToolServerConfig{ID: "s9", Kind: ToolServerTP, URL: "http://x"},
			wantErr: "queue_depth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationValidation(t *testing.T) {
	session := SessionConfig{TTL: -time.Second, SweepInterval: time.Minute}
	if err := session.Validate(); err == nil {
		t.Error("expected error for negative ttl")
	}
	registry := RegistryConfig{RefreshInterval: -time.Second}
	if err := registry.Validate(); err == nil {
		t.Error("expected error for negative refresh_interval")
	}
}

func TestDuplicateToolServerIDs(t *testing.T) {
	cfg := &Config{
		ToolServers: []*ToolServerConfig{
			{ID: "policy-server", URL: "http://a"},
			{ID: "policy-server", URL: "http://b"},
		},
	}
	cfg.SetDefaults()

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
	if !strings.Contains(err.Error(), "duplicate server id") {
		t.Errorf("error = %q, want duplicate server id", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TECHNICAL_AGENT_PORT", "9500")
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("LLM_PRIMARY_MODEL", "llama3.2")
	t.Setenv("LLM_API_BASE", "http://localhost:11434")
	t.Setenv("REGISTRY_REFRESH_SECONDS", "45")

	cfg := &Config{}
	cfg.ApplyEnvOverrides()

	if cfg.TechnicalAgent.Port != 9500 {
		t.Errorf("technical port = %d, want 9500", cfg.TechnicalAgent.Port)
	}
	if cfg.LLM.Provider != LLMProviderOllama || cfg.LLM.PrimaryModel != "llama3.2" {
		t.Errorf("llm = %s/%s, want ollama/llama3.2", cfg.LLM.Provider, cfg.LLM.PrimaryModel)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434" {
		t.Errorf("base url = %s, want ollama endpoint", cfg.LLM.BaseURL)
	}
	if cfg.Registry.RefreshInterval != 45*time.Second {
		t.Errorf("refresh = %v, want 45s", cfg.Registry.RefreshInterval)
	}
}

func TestApplyEnvOverridesIgnoresGarbage(t *testing.T) {
	t.Setenv("DOMAIN_AGENT_PORT", "not-a-number")

	cfg := &Config{}
	cfg.ApplyEnvOverrides()

	if cfg.DomainAgent.Port != 0 {
		t.Errorf("port = %d, want 0 for unparseable env value", cfg.DomainAgent.Port)
	}
}
