package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env.local and .env if present. Missing files are not
// an error.
func LoadEnvFiles() error {
	envFiles := []string{".env.local", ".env"}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	return nil
}

// ApplyEnvOverrides overlays the well-known environment variables onto the
// config. Environment values win over file values; defaults fill whatever
// remains zero afterwards. POLICY_SERVER_URL is applied before
// HTTP_TIMEOUT_SECONDS so a synthesized policy-server entry picks up the
// timeout override too.
func (c *Config) ApplyEnvOverrides() {
	if v, ok := envInt("DOMAIN_AGENT_PORT"); ok {
		c.DomainAgent.Port = v
	}
	if v, ok := envInt("TECHNICAL_AGENT_PORT"); ok {
		c.TechnicalAgent.Port = v
	}
	if v := os.Getenv("TECHNICAL_AGENT_URL"); v != "" {
		c.DomainAgent.TechnicalAgentURL = v
	}
	if v := os.Getenv("POLICY_SERVER_URL"); v != "" {
		c.setPolicyServerURL(v)
	}

	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = LLMProvider(v)
	}
	if v := os.Getenv("LLM_PRIMARY_MODEL"); v != "" {
		c.LLM.PrimaryModel = v
	}
	if v := os.Getenv("LLM_FALLBACK_MODEL"); v != "" {
		c.LLM.FallbackModel = v
	}
	if v := os.Getenv("LLM_API_BASE"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}

	if v, ok := envSeconds("SESSION_TTL_SECONDS"); ok {
		c.Session.TTL = v
	}
	if v, ok := envSeconds("REGISTRY_REFRESH_SECONDS"); ok {
		c.Registry.RefreshInterval = v
	}
	if v, ok := envSeconds("HTTP_TIMEOUT_SECONDS"); ok {
		for _, server := range c.ToolServers {
			server.Timeout = v
		}
	}
	if v, ok := envInt("A2A_CONCURRENCY"); ok {
		c.TechnicalAgent.Concurrency = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// setPolicyServerURL updates the default backend entry, creating it when
// the file configured none.
func (c *Config) setPolicyServerURL(url string) {
	for _, server := range c.ToolServers {
		if server.ID == DefaultPolicyServerID {
			server.URL = url
			return
		}
	}
	c.ToolServers = append(c.ToolServers, &ToolServerConfig{
		ID:  DefaultPolicyServerID,
		URL: url,
	})
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envSeconds(name string) (time.Duration, bool) {
	v, ok := envInt(name)
	if !ok {
		return 0, false
	}
	return time.Duration(v) * time.Second, true
}
