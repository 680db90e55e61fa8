package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rhuss/alpha/pkg/api"
)

const (
	// DataPrefix starts every frame line.
	DataPrefix = "data: "

	// DoneSentinel is the payload of the final line of a stream.
	DoneSentinel = "[DONE]"
)

type textFrame struct {
	Type    api.EventType `json:"type"`
	Content string        `json:"content"`
}

type toolCallFrame struct {
	Type       api.EventType   `json:"type"`
	ToolName   string          `json:"tool_name"`
	Args       json.RawMessage `json:"args"`
	ToolCallID string          `json:"tool_call_id"`
}

type toolReturnFrame struct {
	Type       api.EventType `json:"type"`
	ToolName   string        `json:"tool_name"`
	Content    string        `json:"content"`
	ToolCallID string        `json:"tool_call_id"`
}

type doneFrame struct {
	Type api.EventType `json:"type"`
}

type errorFrame struct {
	Type  api.EventType `json:"type"`
	Error string        `json:"error"`
}

// Encode returns the JSON payload for ev.
func Encode(ev api.Event) ([]byte, error) {
	var v any
	switch ev.Type {
	case api.EventTextDelta:
		v = textFrame{Type: ev.Type, Content: ev.Content}
	case api.EventToolCall:
		if ev.Call == nil {
			return nil, fmt.Errorf("encode %s: missing call", ev.Type)
		}
		args := ev.Call.Args
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		v = toolCallFrame{Type: ev.Type, ToolName: ev.Call.ToolName, Args: args, ToolCallID: ev.Call.ToolCallID}
	case api.EventToolResult:
		if ev.Result == nil {
			return nil, fmt.Errorf("encode %s: missing result", ev.Type)
		}
		v = toolReturnFrame{Type: ev.Type, ToolName: ev.Result.ToolName, Content: ev.Result.Content, ToolCallID: ev.Result.ToolCallID}
	case api.EventCompletion:
		v = doneFrame{Type: ev.Type}
	case api.EventFailure:
		v = errorFrame{Type: ev.Type, Error: ev.Raw}
	default:
		return nil, fmt.Errorf("encode: %w: %q", api.ErrUnknownEvent, ev.Type)
	}
	return json.Marshal(v)
}

// inbound is the permissive shape used to decode any frame. Content and
// error may be strings or arbitrary JSON.
type inbound struct {
	Type       api.EventType   `json:"type"`
	Content    json.RawMessage `json:"content"`
	ToolName   string          `json:"tool_name"`
	Args       json.RawMessage `json:"args"`
	ToolCallID string          `json:"tool_call_id"`
	Error      json.RawMessage `json:"error"`
}

// Decode parses a frame payload into an Event. It returns an error
// wrapping api.ErrFrameParse for invalid JSON or a missing type, and
// api.ErrUnknownEvent for an unrecognized type.
func Decode(payload []byte) (api.Event, error) {
	var f inbound
	if err := json.Unmarshal(payload, &f); err != nil {
		return api.Event{}, fmt.Errorf("%w: %v", api.ErrFrameParse, err)
	}

	switch f.Type {
	case api.EventTextDelta:
		return api.NewTextDelta(rawText(f.Content)), nil
	case api.EventToolCall:
		args := f.Args
		if len(args) == 0 {
			args = json.RawMessage("null")
		}
		return api.NewToolCall(api.ToolCall{
			ToolName:   f.ToolName,
			Args:       append(json.RawMessage(nil), args...),
			ToolCallID: f.ToolCallID,
		}), nil
	case api.EventToolResult:
		return api.NewToolResult(api.ToolResponse{
			ToolName:   f.ToolName,
			Content:    rawText(f.Content),
			ToolCallID: f.ToolCallID,
		}), nil
	case api.EventCompletion:
		return api.NewCompletion(), nil
	case api.EventFailure:
		raw := rawText(f.Error)
		if raw == "" {
			raw = rawText(f.Content)
		}
		return api.NewFailure(raw), nil
	case "":
		return api.Event{}, fmt.Errorf("%w: missing type", api.ErrFrameParse)
	default:
		return api.Event{}, fmt.Errorf("%w: %q", api.ErrUnknownEvent, f.Type)
	}
}

// rawText returns a JSON string value unquoted, any other JSON value as
// its text, and "" for absent or null.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// ParseLine extracts the payload of a frame line. ok is false for lines
// that carry no frame: blank lines, SSE comments, and other SSE fields.
func ParseLine(line string) (payload string, ok bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	payload = strings.TrimPrefix(line, "data:")
	payload = strings.TrimPrefix(payload, " ")
	return payload, true
}
