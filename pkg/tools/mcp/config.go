package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/rhuss/alpha/pkg/tools"
)

// Transport types.
const (
	TransportStdio      = "stdio"
	TransportSSE        = "sse"
	TransportStreamable = "streamable-http"
)

// ServerConfig describes a single MCP server connection.
type ServerConfig struct {
	// Name is the logical name for this server. It prefixes the names of
	// the server's tools.
	Name string `yaml:"name" json:"name"`

	// Transport is "stdio", "sse" or "streamable-http". If empty, stdio is
	// used when Command is set and streamable-http otherwise.
	Transport string `yaml:"transport" json:"transport"`

	// Command, Args and Env launch a stdio server.
	Command string            `yaml:"command" json:"command,omitempty"`
	Args    []string          `yaml:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`

	// URL is the endpoint of an HTTP server.
	URL string `yaml:"url" json:"url,omitempty"`

	// Headers contains additional HTTP headers to send with requests,
	// typically used for authentication.
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`
}

// EffectiveTransport resolves an empty Transport.
func (c ServerConfig) EffectiveTransport() string {
	if c.Transport != "" {
		return c.Transport
	}
	if c.Command != "" {
		return TransportStdio
	}
	return TransportStreamable
}

// DesktopConfig is the Claude Desktop MCP configuration file.
type DesktopConfig struct {
	MCPServers     map[string]DesktopServer `json:"mcpServers"`
	GlobalShortcut string                   `json:"globalShortcut,omitempty"`
}

// DesktopServer is one mcpServers entry.
type DesktopServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// RemoteURL returns the URL of an "npx mcp-remote <url>" entry.
func (s DesktopServer) RemoteURL() (string, bool) {
	if s.Command == "npx" && len(s.Args) >= 2 && s.Args[0] == "mcp-remote" && strings.HasPrefix(s.Args[1], "http") {
		return s.Args[1], true
	}
	return "", false
}

// LoadDesktopConfig reads a Claude Desktop configuration file.
func LoadDesktopConfig(path string) (*DesktopConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading MCP config: %w", err)
	}
	var cfg DesktopConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing MCP config %s: %w", path, err)
	}
	return &cfg, nil
}

// ServerConfigs converts the desktop entries to server configurations,
// keeping only the servers named in filter (all when filter is empty).
// The result is sorted by name.
func (c *DesktopConfig) ServerConfigs(filter []string) []ServerConfig {
	result := tools.FilterAllowed(c.MCPServers, filter)
	for _, name := range result.Missing {
		slog.Warn("MCP server in filter not found in config", "server", name)
	}

	out := make([]ServerConfig, 0, len(result.Allowed))
	for name, s := range result.Allowed {
		if url, ok := s.RemoteURL(); ok {
			out = append(out, ServerConfig{Name: name, Transport: TransportStreamable, URL: url})
			continue
		}
		out = append(out, ServerConfig{
			Name:      name,
			Transport: TransportStdio,
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
