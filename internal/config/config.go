package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "engage"
	DefaultPGSSLMode    = "disable"
	DefaultGatewayURL   = "https://www.wasenderapi.com/api"
	DefaultAgentTimeout = 30
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Agent     AgentConfig     `toml:"agent"`
	Assistant AssistantConfig `toml:"assistant"`
	Mention   MentionConfig   `toml:"mention"`
	Notify    NotifyConfig    `toml:"notify"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// GatewayConfig configures the outbound messaging gateway.
type GatewayConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	WebhookSecret  string `toml:"webhook_secret"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// AgentConfig configures the external conversational-AI runtime.
type AgentConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	GraphID        string `toml:"graph_id"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// AssistantConfig configures the assistant-provisioning service. It usually
// shares the host with the agent runtime but carries its own credentials.
type AssistantConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	GraphID        string `toml:"graph_id"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type MentionConfig struct {
	Patterns []string `toml:"patterns"`
}

type NotifyConfig struct {
	DebounceMillis int `toml:"debounce_ms"`
	ResyncSeconds  int `toml:"resync_seconds"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Gateway: GatewayConfig{
			BaseURL:        DefaultGatewayURL,
			TimeoutSeconds: 15,
		},
		Agent: AgentConfig{
			TimeoutSeconds: DefaultAgentTimeout,
		},
		Assistant: AssistantConfig{
			TimeoutSeconds: 15,
		},
		Notify: NotifyConfig{
			DebounceMillis: 300,
			ResyncSeconds:  30,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	// The provisioning service defaults to the agent runtime host: both are
	// faces of the same deployment in the common case.
	if cfg.Assistant.BaseURL == "" {
		cfg.Assistant.BaseURL = cfg.Agent.BaseURL
	}
	if cfg.Assistant.APIKey == "" {
		cfg.Assistant.APIKey = cfg.Agent.APIKey
	}

	return cfg, nil
}
