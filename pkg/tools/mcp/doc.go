// Package mcp connects the agentic loop to external MCP (Model Context
// Protocol) servers. It launches or dials the servers, discovers their
// tools and executes tool calls on behalf of the model.
//
// Servers are described in the Claude Desktop configuration format:
//
//	{"mcpServers": {"github": {"command": "npx", "args": ["-y", "@mcp/github"]}}}
//
// Entries that run "npx mcp-remote <url>" are reached directly over
// streamable HTTP; every other entry is started as a stdio subprocess.
// Tools are exposed to the model as "<server>_<tool>".
//
// The package wraps the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk) and implements
// tools.ToolExecutor.
package mcp
