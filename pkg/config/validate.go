package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rhuss/alpha/pkg/provider"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.APIPrefix, "/") {
		errs = append(errs, fmt.Errorf("server.api_prefix must start with \"/\", got %q", c.Server.APIPrefix))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0"))
	}

	if _, _, err := provider.ParseModel(c.Engine.DefaultModel); err != nil {
		errs = append(errs, fmt.Errorf("engine.default_model: %q must have the form provider:model", c.Engine.DefaultModel))
	}
	if c.Engine.MaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("engine.max_turns must be > 0, got %d", c.Engine.MaxTurns))
	}
	if c.Engine.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("engine.history_window must be >= 0, got %d", c.Engine.HistoryWindow))
	}

	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, fmt.Errorf("storage.sqlite.path is required when storage.type is \"sqlite\""))
		}
	case "bolt":
		if c.Storage.Bolt.Path == "" {
			errs = append(errs, fmt.Errorf("storage.bolt.path is required when storage.type is \"bolt\""))
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	case "memory":
		if c.Storage.Memory.MaxSize < 0 {
			errs = append(errs, fmt.Errorf("storage.memory.max_size must be >= 0"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"sqlite\", \"memory\", \"postgres\", or \"bolt\", got %q", c.Storage.Type))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
	case "jwt":
		if c.Auth.JWT.Secret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.secret or auth.jwt.secret_file is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	for i, s := range c.MCP.Servers {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d].name is required", i))
		}
		if s.Command == "" && s.URL == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: command or url is required", i))
		}
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}

	return errors.Join(errs...)
}
