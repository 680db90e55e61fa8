package tools

import (
	"context"
	"encoding/json"
)

// ToolKind classifies how a tool is hosted and executed.
type ToolKind int

const (
	// ToolKindFunction is a tool implemented by an in-process Go function.
	ToolKindFunction ToolKind = iota

	// ToolKindMCP is a tool connected via the Model Context Protocol.
	// The engine calls the MCP server within the agentic loop.
	ToolKindMCP
)

func (k ToolKind) String() string {
	switch k {
	case ToolKindFunction:
		return "function"
	case ToolKindMCP:
		return "mcp"
	default:
		return "unknown"
	}
}

// ToolExecutor executes tool calls.
type ToolExecutor interface {
	// Kind returns the type of tools this executor handles.
	Kind() ToolKind

	// Definitions returns the tools this executor offers to the model.
	Definitions(ctx context.Context) ([]Definition, error)

	// CanExecute checks if this executor can handle the given tool name.
	CanExecute(toolName string) bool

	// Execute runs the tool and returns the result. Tool-level failures
	// are reported through ToolResult.IsError; a non-nil error means the
	// executor itself failed.
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
}

// Definition describes a tool offered to the model.
type Definition struct {
	Name        string
	Description string

	// Parameters is the JSON Schema of the tool's arguments.
	Parameters json.RawMessage
}

// ToolCall represents a model's request to invoke a tool.
type ToolCall struct {
	// ID is the unique call identifier (from the model, e.g., "call_abc123").
	ID string

	// Name is the tool function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	// CallID matches the originating ToolCall.ID.
	CallID string

	// Output is the tool output content (text).
	Output string

	// IsError indicates that the output is an error message.
	IsError bool
}
