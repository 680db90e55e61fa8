package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rhuss/alpha/pkg/tools"
)

// PrefixSeparator joins server and tool names.
const PrefixSeparator = "_"

// route maps an exposed tool name back to its server and original name.
type route struct {
	server string
	tool   string
}

// MCPExecutor implements tools.ToolExecutor for MCP server tools.
// It manages connections to multiple MCP servers, discovers their tools,
// and routes tool calls to the appropriate server.
type MCPExecutor struct {
	mu sync.RWMutex

	// clients maps server name to MCPClient.
	clients map[string]*MCPClient

	// routes maps the exposed "<server>_<tool>" name to its server.
	routes map[string]route
	defs   []tools.Definition

	discovered bool
}

var _ tools.ToolExecutor = (*MCPExecutor)(nil)

// NewMCPExecutor creates a new MCPExecutor with the given MCP clients,
// keyed by server name.
func NewMCPExecutor(clients map[string]*MCPClient) *MCPExecutor {
	if clients == nil {
		clients = make(map[string]*MCPClient)
	}
	return &MCPExecutor{
		clients: clients,
		routes:  make(map[string]route),
	}
}

// Connect connects to every server and returns an executor for them. If a
// server cannot be reached the already open connections are closed and
// the error is returned.
func Connect(ctx context.Context, servers []ServerConfig) (*MCPExecutor, error) {
	clients := make(map[string]*MCPClient, len(servers))
	for _, cfg := range servers {
		c := NewMCPClient(cfg)
		if err := c.Connect(ctx); err != nil {
			for _, open := range clients {
				_ = open.Close()
			}
			return nil, err
		}
		slog.Info("connected MCP server",
			"server", cfg.Name,
			"transport", cfg.EffectiveTransport(),
			"prefix", cfg.Name+PrefixSeparator,
		)
		clients[cfg.Name] = c
	}
	return NewMCPExecutor(clients), nil
}

// Kind returns ToolKindMCP.
func (e *MCPExecutor) Kind() tools.ToolKind {
	return tools.ToolKindMCP
}

// Definitions returns the prefixed tool definitions of every server.
func (e *MCPExecutor) Definitions(ctx context.Context) ([]tools.Definition, error) {
	e.ensureDiscovered(ctx)

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]tools.Definition, len(e.defs))
	copy(out, e.defs)
	return out, nil
}

// CanExecute reports whether toolName is an exposed tool of a connected
// server. The first call triggers tool discovery.
func (e *MCPExecutor) CanExecute(toolName string) bool {
	e.ensureDiscovered(context.Background())

	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.routes[toolName]
	return ok
}

// Execute strips the server prefix and calls the tool on its server.
func (e *MCPExecutor) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	e.ensureDiscovered(ctx)

	e.mu.RLock()
	r, ok := e.routes[call.Name]
	client := e.clients[r.server]
	e.mu.RUnlock()

	if !ok || client == nil {
		return &tools.ToolResult{
			CallID:  call.ID,
			Output:  fmt.Sprintf("no MCP server provides tool %q", call.Name),
			IsError: true,
		}, nil
	}

	serverCall := call
	serverCall.Name = r.tool
	return client.CallTool(ctx, serverCall)
}

// Servers returns the connected server names, sorted.
func (e *MCPExecutor) Servers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.clients))
	for name := range e.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes all MCP client connections.
func (e *MCPExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for name, client := range e.clients {
		if err := client.Close(); err != nil {
			slog.Warn("failed to close MCP client", "server", name, "error", err)
			errs = append(errs, fmt.Errorf("closing MCP server %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// PrefixedName returns the name a server tool is exposed under.
func PrefixedName(server, tool string) string {
	return server + PrefixSeparator + tool
}

// ensureDiscovered triggers tool discovery if it hasn't been done yet.
// Servers that fail to list are logged and skipped.
func (e *MCPExecutor) ensureDiscovered(ctx context.Context) {
	e.mu.RLock()
	if e.discovered {
		e.mu.RUnlock()
		return
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.discovered {
		return
	}

	names := make([]string, 0, len(e.clients))
	for name := range e.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		defs, err := e.clients[name].DiscoverTools(ctx)
		if err != nil {
			slog.Error("failed to discover tools from MCP server",
				"server", name,
				"error", err,
			)
			continue
		}

		for _, td := range defs {
			exposed := PrefixedName(name, td.Name)
			if _, exists := e.routes[exposed]; exists {
				slog.Warn("duplicate MCP tool name, using first provider",
					"tool", exposed,
					"server", name,
				)
				continue
			}
			e.routes[exposed] = route{server: name, tool: td.Name}
			td.Name = exposed
			e.defs = append(e.defs, td)
		}

		slog.Info("discovered MCP tools",
			"server", name,
			"count", len(defs),
		)
	}

	sort.Slice(e.defs, func(i, j int) bool { return e.defs[i].Name < e.defs[j].Name })
	e.discovered = true
}
