// Package config loads the alpha server configuration from defaults, a
// YAML file, environment variables and secret files.
package config

import (
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/rhuss/alpha/pkg/auth/apikey"
	"github.com/rhuss/alpha/pkg/auth/jwt"
	"github.com/rhuss/alpha/pkg/provider"
	"github.com/rhuss/alpha/pkg/tools/mcp"
)

// Config is the top-level configuration.
type Config struct {
	Server        ServerConfig              `yaml:"server"`
	Engine        EngineConfig              `yaml:"engine"`
	Providers     map[string]ProviderConfig `yaml:"providers"`
	Storage       StorageConfig             `yaml:"storage"`
	Auth          AuthConfig                `yaml:"auth"`
	MCP           MCPConfig                 `yaml:"mcp"`
	Observability ObservabilityConfig       `yaml:"observability"`
	Logging       LoggingConfig             `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	APIPrefix         string        `yaml:"api_prefix"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxBodySize       int64         `yaml:"max_body_size"`
	CORS              bool          `yaml:"cors"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// EngineConfig holds agentic loop and chat settings.
type EngineConfig struct {
	DefaultModel  string   `yaml:"default_model"`
	DefaultPrompt string   `yaml:"default_prompt"`
	PromptsDir    string   `yaml:"prompts_dir"`
	MaxTurns      int      `yaml:"max_turns"`
	HistoryWindow int      `yaml:"history_window"`
	Temperature   *float64 `yaml:"temperature"`
	MaxTokens     *int     `yaml:"max_tokens"`
}

// ProviderConfig overrides the preset of one model provider.
type ProviderConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	APIKeyFile string        `yaml:"api_key_file"`
	Timeout    time.Duration `yaml:"timeout"`
	Models     []string      `yaml:"models"`
}

// StorageConfig selects and configures the conversation store.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "sqlite", "memory", "postgres" or "bolt"
	SQLite   PathConfig     `yaml:"sqlite"`
	Bolt     PathConfig     `yaml:"bolt"`
	Memory   MemoryConfig   `yaml:"memory"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PathConfig configures a file-backed store.
type PathConfig struct {
	Path string `yaml:"path"`
}

// MemoryConfig configures the in-memory store.
type MemoryConfig struct {
	MaxSize int `yaml:"max_size"`
}

// PostgresConfig configures the PostgreSQL store.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	DSNFile         string        `yaml:"dsn_file"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// AuthConfig selects the authenticator.
type AuthConfig struct {
	Type    string       `yaml:"type"` // "none", "apikey" or "jwt"
	APIKeys []apikey.Key `yaml:"api_keys"`
	JWT     jwt.Config   `yaml:"jwt"`
}

// MCPConfig lists the MCP servers whose tools the engine may call.
type MCPConfig struct {
	// ConfigFile is a Claude Desktop style mcpServers file.
	ConfigFile string `yaml:"config_file"`
	// Filter restricts ConfigFile to the named servers. Empty keeps all.
	Filter  []string           `yaml:"filter"`
	Servers []mcp.ServerConfig `yaml:"servers"`
}

// ObservabilityConfig holds metrics settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig is handed to debug.InitWithFormat. The ALPHA_DEBUG,
// ALPHA_LOG_LEVEL and ALPHA_LOG_FORMAT variables take precedence.
type LoggingConfig struct {
	Debug  string `yaml:"debug"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns a Config with the built-in defaults.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8000,
			APIPrefix:         "/api/v1",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			MaxBodySize:       1 << 20,
			CORS:              true,
		},
		Engine: EngineConfig{
			DefaultModel:  "ollama:qwen2.5:14b",
			PromptsDir:    "prompts",
			MaxTurns:      10,
			HistoryWindow: 10,
		},
		Storage: StorageConfig{
			Type:   "sqlite",
			SQLite: PathConfig{Path: "alpha.db"},
			Bolt:   PathConfig{Path: "alpha.bolt"},
			Memory: MemoryConfig{MaxSize: 10000},
			Postgres: PostgresConfig{
				MaxConns:       10,
				MigrateOnStart: true,
			},
		},
		Auth: AuthConfig{Type: "none"},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// ProviderConfigs converts the provider section for provider.NewRegistry,
// sorted by name.
func (c *Config) ProviderConfigs() []provider.Config {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]provider.Config, 0, len(names))
	for _, name := range names {
		p := c.Providers[name]
		out = append(out, provider.Config{
			Name:    name,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Timeout: p.Timeout,
			Models:  append([]string(nil), p.Models...),
		})
	}
	return out
}

// MCPServers returns the configured MCP servers: the filtered entries of
// ConfigFile followed by the inline servers.
func (c *Config) MCPServers() ([]mcp.ServerConfig, error) {
	var out []mcp.ServerConfig
	if c.MCP.ConfigFile != "" {
		desktop, err := mcp.LoadDesktopConfig(c.MCP.ConfigFile)
		if err != nil {
			return nil, err
		}
		out = append(out, desktop.ServerConfigs(c.MCP.Filter)...)
	}
	return append(out, c.MCP.Servers...), nil
}
