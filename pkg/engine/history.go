package engine

import (
	"encoding/json"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/provider"
)

// buildMessages assembles the provider conversation: the system prompt,
// the last window history messages, then the new user message. A negative
// window keeps all history.
func buildMessages(systemPrompt string, history []api.Message, window int, userMessage string) []provider.ProviderMessage {
	if window >= 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	var msgs []provider.ProviderMessage
	if systemPrompt != "" {
		msgs = append(msgs, provider.ProviderMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range history {
		msgs = append(msgs, messageToProvider(m)...)
	}
	return append(msgs, provider.ProviderMessage{Role: "user", Content: userMessage})
}

// messageToProvider translates one transcript message. A tool exchange
// becomes an assistant tool_calls message followed by one tool message per
// call; error messages are not sent.
func messageToProvider(m api.Message) []provider.ProviderMessage {
	switch m.Role {
	case api.RoleUser:
		return []provider.ProviderMessage{{Role: "user", Content: m.Content}}

	case api.RoleAssistant:
		if len(m.ToolCalls) == 0 {
			return []provider.ProviderMessage{{Role: "assistant", Content: m.Content}}
		}
		assistant := provider.ProviderMessage{Role: "assistant"}
		if m.Content != "" {
			assistant.Content = m.Content
		}
		results := make([]provider.ProviderMessage, 0, len(m.ToolCalls))
		for _, x := range m.ToolCalls {
			assistant.ToolCalls = append(assistant.ToolCalls, provider.ProviderToolCall{
				ID:   x.Call.ToolCallID,
				Type: "function",
				Function: provider.ProviderFunctionCall{
					Name:      x.Call.ToolName,
					Arguments: argumentsString(x.Call.Args),
				},
			})
			results = append(results, provider.ProviderMessage{
				Role:       "tool",
				Content:    x.Response.Content,
				ToolCallID: x.Call.ToolCallID,
				Name:       x.Call.ToolName,
			})
		}
		return append([]provider.ProviderMessage{assistant}, results...)

	default:
		return nil
	}
}

// argumentsString renders stored args as the JSON text providers expect.
// A JSON string holding the arguments is unwrapped.
func argumentsString(args json.RawMessage) string {
	if len(args) == 0 || string(args) == "null" {
		return "{}"
	}
	var s string
	if err := json.Unmarshal(args, &s); err == nil {
		return s
	}
	return string(args)
}
