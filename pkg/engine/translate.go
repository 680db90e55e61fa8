package engine

import (
	"encoding/json"
	"fmt"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/provider"
	"github.com/rhuss/alpha/pkg/tools"
)

// toolsToProvider converts tool definitions to the provider format.
func toolsToProvider(defs []tools.Definition) []provider.ProviderTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]provider.ProviderTool, len(defs))
	for i, d := range defs {
		params := d.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out[i] = provider.ProviderTool{
			Type: "function",
			Function: provider.ProviderFunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

// normalizeToolCall fills in a missing call id. Some backends (Ollama)
// omit it.
func normalizeToolCall(tc provider.ProviderToolCall, turn, idx int) provider.ProviderToolCall {
	if tc.ID == "" {
		tc.ID = fmt.Sprintf("call_%d_%d", turn, idx)
	}
	if tc.Type == "" {
		tc.Type = "function"
	}
	return tc
}

// toolCallEvent converts an assembled provider tool call to a ToolCall
// event. Arguments that are not valid JSON are kept as a JSON string.
func toolCallEvent(tc provider.ProviderToolCall) api.Event {
	args := json.RawMessage(tc.Function.Arguments)
	if !json.Valid(args) {
		args, _ = json.Marshal(tc.Function.Arguments)
	}
	return api.NewToolCall(api.ToolCall{
		ToolName:   tc.Function.Name,
		Args:       args,
		ToolCallID: tc.ID,
	})
}

func toolResultEvent(tc provider.ProviderToolCall, r tools.ToolResult) api.Event {
	return api.NewToolResult(api.ToolResponse{
		ToolName:   tc.Function.Name,
		Content:    r.Output,
		ToolCallID: tc.ID,
	})
}

// assistantToolCallMessage builds the assistant message carrying a turn's
// text and tool calls. It must precede the tool messages.
func assistantToolCallMessage(text string, calls []provider.ProviderToolCall) provider.ProviderMessage {
	msg := provider.ProviderMessage{Role: "assistant", ToolCalls: calls}
	if text != "" {
		msg.Content = text
	}
	return msg
}
