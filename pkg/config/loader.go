package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/alpha/pkg/auth/apikey"
	"github.com/rhuss/alpha/pkg/provider"
)

// EnvPrefix prefixes every alpha environment variable.
const EnvPrefix = "ALPHA_"

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, ALPHA_CONFIG env, ./config.yaml, /etc/alpha/config.yaml)
//  3. ALPHA_* environment variables
//  4. Provider environment fallbacks (OPENAI_API_KEY, OLLAMA_BASE_URL, ...)
//  5. File reference resolution (_file suffix)
//  6. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	applyProviderEnv(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile returns the first config file found, or "" when
// none exists. An explicit path or ALPHA_CONFIG is returned unchecked so a
// missing file is reported by the loader.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv(EnvPrefix + "CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/alpha/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile parses path into cfg. Fields absent from the file keep
// their current values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// envOverrides maps ALPHA_* variables to setters. Setters return an error
// for malformed values.
var envOverrides = map[string]func(*Config, string) error{
	"HOST":          func(c *Config, v string) error { c.Server.Host = v; return nil },
	"PORT":          func(c *Config, v string) error { return setInt(&c.Server.Port, v) },
	"API_PREFIX":    func(c *Config, v string) error { c.Server.APIPrefix = v; return nil },
	"CORS":          func(c *Config, v string) error { return setBool(&c.Server.CORS, v) },
	"DEFAULT_MODEL": func(c *Config, v string) error { c.Engine.DefaultModel = v; return nil },
	"DEFAULT_PROMPT": func(c *Config, v string) error {
		c.Engine.DefaultPrompt = v
		return nil
	},
	"PROMPTS_DIR":    func(c *Config, v string) error { c.Engine.PromptsDir = v; return nil },
	"MAX_TURNS":      func(c *Config, v string) error { return setInt(&c.Engine.MaxTurns, v) },
	"HISTORY_WINDOW": func(c *Config, v string) error { return setInt(&c.Engine.HistoryWindow, v) },
	"STORAGE":        func(c *Config, v string) error { c.Storage.Type = v; return nil },
	"STORAGE_SIZE":   func(c *Config, v string) error { return setInt(&c.Storage.Memory.MaxSize, v) },
	"SQLITE_PATH":    func(c *Config, v string) error { c.Storage.SQLite.Path = v; return nil },
	"BOLT_PATH":      func(c *Config, v string) error { c.Storage.Bolt.Path = v; return nil },
	"POSTGRES_DSN":   func(c *Config, v string) error { c.Storage.Postgres.DSN = v; return nil },
	"AUTH_TYPE":      func(c *Config, v string) error { c.Auth.Type = v; return nil },
	"API_KEYS": func(c *Config, v string) error {
		var keys []apikey.Key
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			return fmt.Errorf("parsing API keys JSON: %w", err)
		}
		c.Auth.APIKeys = keys
		return nil
	},
	"JWT_SECRET":      func(c *Config, v string) error { c.Auth.JWT.Secret = v; return nil },
	"MCP_CONFIG":      func(c *Config, v string) error { c.MCP.ConfigFile = v; return nil },
	"MCP_SERVERS":     func(c *Config, v string) error { c.MCP.Filter = splitList(v); return nil },
	"METRICS_ENABLED": func(c *Config, v string) error { return setBool(&c.Observability.Metrics.Enabled, v) },
}

// applyEnvOverrides applies every set ALPHA_* variable and reports all
// malformed values together.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	for name, set := range envOverrides {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			continue
		}
		if err := set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		}
	}
	return errors.Join(errs...)
}

// applyProviderEnv fills provider keys from the conventional environment
// variables of the presets, without overriding configured values.
func applyProviderEnv(cfg *Config) {
	for name, preset := range provider.Presets {
		p := cfg.Providers[name]
		changed := false
		if preset.APIKeyEnv != "" && p.APIKey == "" && p.APIKeyFile == "" {
			if v := os.Getenv(preset.APIKeyEnv); v != "" {
				p.APIKey = v
				changed = true
			}
		}
		if name == "ollama" && p.BaseURL == "" {
			if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
				p.BaseURL = v
				changed = true
			}
		}
		if changed {
			if cfg.Providers == nil {
				cfg.Providers = make(map[string]ProviderConfig)
			}
			cfg.Providers[name] = p
		}
	}
}

// resolveFileReferences reads _file fields into their empty value fields.
// An explicit value wins over its file reference.
func resolveFileReferences(cfg *Config) error {
	for name, p := range cfg.Providers {
		if p.APIKeyFile == "" || p.APIKey != "" {
			continue
		}
		val, err := readSecretFile(p.APIKeyFile)
		if err != nil {
			return fmt.Errorf("providers.%s.api_key_file: %w", name, err)
		}
		p.APIKey = val
		cfg.Providers[name] = p
	}

	if pg := &cfg.Storage.Postgres; pg.DSNFile != "" && pg.DSN == "" {
		val, err := readSecretFile(pg.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		pg.DSN = val
	}

	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		if k.KeyFile == "" || k.Key != "" {
			continue
		}
		val, err := readSecretFile(k.KeyFile)
		if err != nil {
			return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
		}
		k.Key = val
	}

	if j := &cfg.Auth.JWT; j.SecretFile != "" && j.Secret == "" {
		val, err := readSecretFile(j.SecretFile)
		if err != nil {
			return fmt.Errorf("auth.jwt.secret_file: %w", err)
		}
		j.Secret = val
	}

	return nil
}

// readSecretFile returns the content of path with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
