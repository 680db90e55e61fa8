package api

// EventType identifies the kind of an Event. The values double as the
// `type` discriminant of streaming frames.
type EventType string

const (
	EventTextDelta  EventType = "text_delta"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_return"
	EventCompletion EventType = "done"
	EventFailure    EventType = "error"
)

// Event is one discrete unit of a generation stream. Exactly one of the
// payload fields is meaningful, selected by Type:
//
//	EventTextDelta   Content
//	EventToolCall    Call
//	EventToolResult  Result
//	EventCompletion  (none)
//	EventFailure     Raw
type Event struct {
	Type    EventType
	Content string
	Call    *ToolCall
	Result  *ToolResponse
	Raw     string
}

// NewTextDelta returns a text delta event.
func NewTextDelta(content string) Event {
	return Event{Type: EventTextDelta, Content: content}
}

// NewToolCall returns a tool call event.
func NewToolCall(call ToolCall) Event {
	return Event{Type: EventToolCall, Call: &call}
}

// NewToolResult returns a tool result event.
func NewToolResult(result ToolResponse) Event {
	return Event{Type: EventToolResult, Result: &result}
}

// NewCompletion returns the successful end-of-stream event.
func NewCompletion() Event {
	return Event{Type: EventCompletion}
}

// NewFailure returns a failure event carrying the raw diagnostic text.
func NewFailure(raw string) Event {
	return Event{Type: EventFailure, Raw: raw}
}

// IsTerminal reports whether the event ends a well-formed sequence.
func (e Event) IsTerminal() bool {
	return e.Type == EventCompletion || e.Type == EventFailure
}
