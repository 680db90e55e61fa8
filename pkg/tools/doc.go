// Package tools defines the tool executor interface and types for the
// agentic loop. Executors advertise tool definitions to the model and run
// the calls it makes: MCP server tools (package mcp) and in-process Go
// functions (FuncExecutor).
//
// The package also provides name filtering used to restrict which tool
// servers are enabled.
package tools
