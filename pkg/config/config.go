package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig                 `yaml:"app"`
	Agent     AgentConfig               `yaml:"agent"`
	Roles     RolesConfig               `yaml:"roles"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	// UnreliableProviders lists providers whose structured-output mode
	// is known to fail intermittently; the invoker downgrades these to
	// the manual path instead of failing the run.
	UnreliableProviders []string                 `yaml:"unreliable_providers"`
	Memory              MemoryConfig             `yaml:"memory"`
	Gateways            map[string]GatewayConfig `yaml:"gateways"`
	PromptsDir          string                   `yaml:"prompts_dir"`
}

type AppConfig struct {
	Name      string `yaml:"name"`
	Workspace string `yaml:"workspace"`
}

type AgentConfig struct {
	MaxSteps            int `yaml:"max_steps"`
	MaxFailures         int `yaml:"max_failures"`
	PlanningInterval    int `yaml:"planning_interval"`
	RepetitionThreshold int `yaml:"repetition_threshold"`
	PausePollMillis     int `yaml:"pause_poll_ms"`
}

type RolesConfig struct {
	Planner   RoleConfig `yaml:"planner"`
	Navigator RoleConfig `yaml:"navigator"`
}

type RoleConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type ProviderConfig struct {
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url,omitempty"`
	StructuredOutput bool   `yaml:"structured_output"`
	Enabled          bool   `yaml:"enabled"`
}

type MemoryConfig struct {
	Type          string `yaml:"type"`
	Path          string `yaml:"path"`
	RetainHistory bool   `yaml:"retain_history"`
}

type GatewayConfig struct {
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id,omitempty"`
	Enabled bool   `yaml:"enabled"`
}

func LoadConfig(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("failed to decode config file: %v", err)
	}
	cfg.applyDefaults()

	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Agent.MaxSteps <= 0 {
		c.Agent.MaxSteps = 50
	}
	if c.Agent.MaxFailures <= 0 {
		c.Agent.MaxFailures = 3
	}
	if c.Agent.PlanningInterval <= 0 {
		c.Agent.PlanningInterval = 5
	}
	if c.Agent.RepetitionThreshold <= 0 {
		c.Agent.RepetitionThreshold = 3
	}
	if c.Agent.PausePollMillis <= 0 {
		c.Agent.PausePollMillis = 500
	}
	if c.PromptsDir == "" {
		c.PromptsDir = "./prompts"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "waypoint.db"
	}
}

// Provider returns the named provider's settings if it is enabled.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	if !ok || !p.Enabled {
		return ProviderConfig{}, false
	}
	return p, true
}

// IsUnreliable reports whether a provider is on the allow-list for the
// structured-to-manual downgrade.
func (c *Config) IsUnreliable(provider string) bool {
	for _, name := range c.UnreliableProviders {
		if name == provider {
			return true
		}
	}
	return false
}

// Gateway returns the named gateway config if enabled.
func (c *Config) Gateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled {
		return g, true
	}
	return GatewayConfig{}, false
}
