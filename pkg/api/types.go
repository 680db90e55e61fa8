package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Transcript types
// ---------------------------------------------------------------------------

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleError:
		return true
	}
	return false
}

// ToolCall is a model's request to invoke a tool. Args is kept as raw JSON
// and never interpreted by the transcript layer.
type ToolCall struct {
	ToolName   string          `json:"tool_name"`
	Args       json.RawMessage `json:"args"`
	ToolCallID string          `json:"tool_call_id"`
}

// ToolResponse is the output of a tool, matched to its ToolCall by ToolCallID.
type ToolResponse struct {
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id"`
}

// ToolExchange is a resolved (call, response) pair. On the wire and in
// storage it is encoded as a two-element JSON array.
type ToolExchange struct {
	Call     ToolCall
	Response ToolResponse
}

// MarshalJSON encodes the pair as [call, response].
func (x ToolExchange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{x.Call, x.Response})
}

// UnmarshalJSON decodes a [call, response] array. A null response is
// accepted and leaves Response zero.
func (x *ToolExchange) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("tool exchange: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("tool exchange: expected 2 elements, got %d", len(pair))
	}
	var out ToolExchange
	if err := json.Unmarshal(pair[0], &out.Call); err != nil {
		return fmt.Errorf("tool exchange call: %w", err)
	}
	if string(pair[1]) != "null" {
		if err := json.Unmarshal(pair[1], &out.Response); err != nil {
			return fmt.Errorf("tool exchange response: %w", err)
		}
	}
	*x = out
	return nil
}

// Message is one rendered unit of the transcript: a user turn, an assistant
// text segment, a tool exchange, or an error.
type Message struct {
	ID           string         `json:"id"`
	Role         Role           `json:"role"`
	Content      string         `json:"content"`
	ToolCalls    []ToolExchange `json:"tool_calls"`
	ErrorDetails string         `json:"error_details,omitempty"`
}

// MarshalJSON ensures tool_calls is always an array, never null.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire Message
	w := wire(m)
	if w.ToolCalls == nil {
		w.ToolCalls = []ToolExchange{}
	}
	return json.Marshal(w)
}

// IsToolExchange reports whether m carries tool exchanges and no text.
func (m Message) IsToolExchange() bool {
	return len(m.ToolCalls) > 0 && m.Content == ""
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolExchange, len(m.ToolCalls))
		for i, x := range m.ToolCalls {
			out.ToolCalls[i] = x
			if x.Call.Args != nil {
				out.ToolCalls[i].Call.Args = append(json.RawMessage(nil), x.Call.Args...)
			}
		}
	}
	return out
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Clone()
	}
	return out
}

// Conversation is a model binding, an optional system prompt, and the
// ordered transcript.
type Conversation struct {
	ID               string    `json:"id"`
	Model            string    `json:"model"`
	SystemPromptFile string    `json:"system_prompt_file"`
	SystemPrompt     string    `json:"system_prompt"`
	Messages         []Message `json:"messages"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Clone returns a deep copy of c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = CloneMessages(c.Messages)
	return &out
}

// ConversationSummary describes a stored conversation without its messages.
type ConversationSummary struct {
	ID               string    `json:"id"`
	Model            string    `json:"model"`
	SystemPromptFile string    `json:"system_prompt_file"`
	MessageCount     int       `json:"message_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ---------------------------------------------------------------------------
// HTTP payloads
// ---------------------------------------------------------------------------

// ChatRequest sends one user message to the current conversation.
type ChatRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

// ChatResponse is the non-streaming reply to a ChatRequest. Response holds
// the assistant text of the exchange and ToolCalls every tool exchange in
// order. Messages is the full set of messages the exchange produced.
type ChatResponse struct {
	Response  string         `json:"response"`
	Model     string         `json:"model"`
	ToolCalls []ToolExchange `json:"tool_calls"`
	Messages  []Message      `json:"messages"`
}

// ModelRequest changes the model of the current conversation.
type ModelRequest struct {
	Model string `json:"model"`
}

// ModelInfo reports the model of the current conversation.
type ModelInfo struct {
	Model string `json:"model"`
}

// AvailableModel is one entry of the model listing.
type AvailableModel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// ModelList holds the models offered by the configured providers.
type ModelList struct {
	Object string           `json:"object"`
	Data   []AvailableModel `json:"data"`
}

// NewConversationRequest starts a fresh conversation. Prompt is a prompt file
// reference or "none".
type NewConversationRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// ConversationView is the conversation surface returned by the HTTP API.
// Messages may be limited to the most recent entries; TotalMessages always
// counts the whole transcript.
type ConversationView struct {
	ID               string    `json:"id"`
	Model            string    `json:"model"`
	SystemPromptFile string    `json:"system_prompt_file"`
	SystemPrompt     string    `json:"system_prompt"`
	Messages         []Message `json:"messages"`
	TotalMessages    int       `json:"total_messages"`
}

// ConversationList holds stored conversation summaries, most recent first.
type ConversationList struct {
	Object string                `json:"object"`
	Data   []ConversationSummary `json:"data"`
}

// PromptList holds the system prompt files available for new conversations.
type PromptList struct {
	Object string   `json:"object"`
	Data   []string `json:"data"`
}

// MessagesAdded is published whenever an exchange's messages have been
// persisted to a conversation.
type MessagesAdded struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// MessagesAddedType is the Type value of MessagesAdded notifications.
const MessagesAddedType = "messages_added"

// SocketRequest is a client message on the chat WebSocket. A non-empty
// Message starts an exchange; Type "abort" cancels the running one.
type SocketRequest struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// SocketAbort is the SocketRequest type that cancels the running exchange.
const SocketAbort = "abort"

// AbortResponse reports whether POST /chat/abort found a running exchange.
type AbortResponse struct {
	Aborted        bool   `json:"aborted"`
	ConversationID string `json:"conversation_id"`
}

// Health is the body of the health endpoints.
type Health struct {
	Status string `json:"status"`
	Model  string `json:"model,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ClearResponse is the reply to DELETE /conversation.
type ClearResponse struct {
	Status         string `json:"status"`
	Model          string `json:"model"`
	ConversationID string `json:"conversation_id"`
}
