package transcript

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/classify"
	"github.com/rhuss/alpha/pkg/debug"
)

// StoppedMarker is appended to the open assistant message when its stream
// is cancelled.
const StoppedMarker = "\n\n[Response stopped by user]"

// eventKind is the kind of the last text or tool event folded.
type eventKind int

const (
	kindNone eventKind = iota
	kindText
	kindTool
)

func (k eventKind) String() string {
	switch k {
	case kindText:
		return "text"
	case kindTool:
		return "tool"
	default:
		return "none"
	}
}

// Option configures a Builder.
type Option func(*Builder)

// WithIDGenerator sets the function used to assign message ids.
func WithIDGenerator(fn func() string) Option {
	return func(b *Builder) { b.newID = fn }
}

// WithClassifier replaces the error classifier used for failure events.
func WithClassifier(fn func(string) string) Option {
	return func(b *Builder) { b.classify = fn }
}

// Builder folds one exchange's events into messages. It is not safe for
// concurrent use; a single consumer applies events in arrival order.
type Builder struct {
	messages []api.Message

	// current indexes the assistant message receiving text, or -1.
	current int
	acc     string
	pending *pendingCalls
	last    eventKind

	closed    bool
	discarded []api.ToolCall

	newID    func() string
	classify func(string) string
}

// New returns an empty Builder.
func New(opts ...Option) *Builder {
	b := &Builder{
		current:  -1,
		pending:  newPendingCalls(),
		newID:    api.NewMessageID,
		classify: classify.Classify,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Apply folds ev into the transcript. The returned error is informational:
// ErrUnmatchedToolResult, ErrUnknownEvent and ErrStreamClosed all leave the
// transcript unchanged and the Builder usable.
func (b *Builder) Apply(ev api.Event) error {
	if b.closed {
		debug.Log("transcript", "event after finalize discarded", "type", ev.Type)
		return api.ErrStreamClosed
	}

	switch ev.Type {
	case api.EventTextDelta:
		b.applyText(ev.Content)
	case api.EventToolCall:
		if ev.Call == nil {
			return fmt.Errorf("%w: tool_call without payload", api.ErrFrameParse)
		}
		b.applyToolCall(*ev.Call)
	case api.EventToolResult:
		if ev.Result == nil {
			return fmt.Errorf("%w: tool_return without payload", api.ErrFrameParse)
		}
		return b.applyToolResult(*ev.Result)
	case api.EventCompletion:
		debug.Log("transcript", "completion", "messages", len(b.messages), "pending", b.pending.len())
	case api.EventFailure:
		b.applyFailure(ev.Raw)
	default:
		debug.Log("transcript", "unknown event ignored", "type", ev.Type)
		return fmt.Errorf("%w: %q", api.ErrUnknownEvent, ev.Type)
	}
	return nil
}

func (b *Builder) applyText(content string) {
	if b.current < 0 || (b.last == kindTool && b.acc == "") {
		b.messages = append(b.messages, api.Message{
			ID:   b.newID(),
			Role: api.RoleAssistant,
		})
		b.current = len(b.messages) - 1
	}
	b.acc += content
	b.messages[b.current].Content = b.acc
	b.last = kindText
}

func (b *Builder) applyToolCall(call api.ToolCall) {
	// Only a tool call that directly follows non-empty text closes the
	// segment. Otherwise the accumulator and open message are left as is.
	if b.last == kindText && b.acc != "" {
		b.acc = ""
	}
	call.Args = normalizeArgs(call.Args)
	b.pending.insert(call)
	b.last = kindTool
}

// normalizeArgs returns args in the encoding json.Marshal gives them, which
// is what the stores write. Invalid JSON is kept as is.
func normalizeArgs(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return args
	}
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	return data
}

func (b *Builder) applyToolResult(result api.ToolResponse) error {
	call, ok := b.pending.remove(result.ToolCallID)
	if !ok {
		debug.Log("transcript", "tool result without pending call dropped",
			"call_id", result.ToolCallID, "tool", result.ToolName)
		return fmt.Errorf("%w: %q", api.ErrUnmatchedToolResult, result.ToolCallID)
	}

	msg := api.Message{
		ID:        b.newID(),
		Role:      api.RoleAssistant,
		ToolCalls: []api.ToolExchange{{Call: call, Response: result}},
	}

	if b.current >= 0 && b.acc != "" {
		b.messages = append(b.messages, api.Message{})
		copy(b.messages[b.current+1:], b.messages[b.current:])
		b.messages[b.current] = msg
		b.current++
		return nil
	}
	b.messages = append(b.messages, msg)
	return nil
}

func (b *Builder) applyFailure(raw string) {
	b.messages = append(b.messages, api.Message{
		ID:           b.newID(),
		Role:         api.RoleError,
		Content:      b.classify(raw),
		ErrorDetails: raw,
	})
}

// Cancel finalizes the transcript after a caller-initiated stop. A
// non-empty open assistant message gets StoppedMarker appended; pending
// tool calls are discarded. Later events are rejected with ErrStreamClosed.
// Cancel is idempotent.
func (b *Builder) Cancel() {
	if b.closed {
		return
	}
	if b.current >= 0 && b.messages[b.current].Content != "" {
		b.messages[b.current].Content += StoppedMarker
	}
	b.finalize()
}

// Close finalizes the transcript after the stream ended. Pending tool calls
// are discarded. Close is idempotent.
func (b *Builder) Close() {
	if b.closed {
		return
	}
	b.finalize()
}

func (b *Builder) finalize() {
	b.discarded = b.pending.drain()
	if len(b.discarded) > 0 {
		debug.Log("transcript", "unresolved tool calls discarded", "count", len(b.discarded))
	}
	b.current = -1
	b.closed = true
}

// Closed reports whether the transcript has been finalized.
func (b *Builder) Closed() bool { return b.closed }

// Messages returns a deep copy of the transcript so far.
func (b *Builder) Messages() []api.Message {
	return api.CloneMessages(b.messages)
}

// Len returns the number of messages in the transcript.
func (b *Builder) Len() int { return len(b.messages) }

// Pending returns the number of tool calls awaiting results.
func (b *Builder) Pending() int { return b.pending.len() }

// Discarded returns the tool calls that were still pending at finalize.
func (b *Builder) Discarded() []api.ToolCall {
	out := make([]api.ToolCall, len(b.discarded))
	copy(out, b.discarded)
	return out
}

// Text returns the concatenated content of assistant text messages.
func (b *Builder) Text() string {
	var sb strings.Builder
	for _, m := range b.messages {
		if m.Role == api.RoleAssistant {
			sb.WriteString(m.Content)
		}
	}
	return sb.String()
}

// Exchanges returns every tool exchange in transcript order.
func (b *Builder) Exchanges() []api.ToolExchange {
	var out []api.ToolExchange
	for _, m := range b.messages {
		out = append(out, m.Clone().ToolCalls...)
	}
	return out
}
