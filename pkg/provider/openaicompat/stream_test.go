package openaicompat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rhuss/alpha/pkg/provider"
)

// collectEvents runs ParseSSEStream and returns all events.
func collectEvents(t *testing.T, sseData string) []provider.ProviderEvent {
	t.Helper()
	ch := make(chan provider.ProviderEvent, 64)

	go func() {
		defer close(ch)
		ParseSSEStream(context.Background(), strings.NewReader(sseData), ch)
	}()

	var events []provider.ProviderEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []provider.ProviderEvent) string {
	parts := make([]string, len(events))
	for i, ev := range events {
		parts[i] = ev.Type.String()
	}
	return strings.Join(parts, ",")
}

func TestParseSSEStream_TextDeltas(t *testing.T) {
	sseData := `data: {"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}

data: {"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hello"},"finish_reason":null}]}

data: {"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":" world"},"finish_reason":null}]}

data: {"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

data: [DONE]
`
	events := collectEvents(t, sseData)

	if got, want := eventTypes(events), "text_delta,text_delta,done"; got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
	if events[0].Delta != "Hello" || events[1].Delta != " world" {
		t.Errorf("deltas = %q, %q", events[0].Delta, events[1].Delta)
	}
	if events[2].FinishReason != "stop" {
		t.Errorf("finish reason = %q, want stop", events[2].FinishReason)
	}
}

func TestParseSSEStream_ToolCalls(t *testing.T) {
	sseData := `data: {"choices":[{"index":0,"delta":{"content":"Let me check."},"finish_reason":null}]}

data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"time","arguments":""}}]},"finish_reason":null}]}

data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"weather","arguments":"{\"city\":"}}]},"finish_reason":null}]}

data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Paris\"}"}}]},"finish_reason":null}]}

data: {"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}

data: {"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":7,"total_tokens":19}}

data: [DONE]
`
	events := collectEvents(t, sseData)

	if got, want := eventTypes(events), "text_delta,tool_call_done,tool_call_done,done"; got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}

	first := events[1].ToolCall
	if first.ID != "call_a" || first.Function.Name != "weather" || first.Function.Arguments != `{"city":"Paris"}` {
		t.Errorf("first tool call = %+v", first)
	}
	second := events[2].ToolCall
	if second.ID != "call_b" || second.Function.Arguments != "{}" {
		t.Errorf("second tool call = %+v, want empty arguments normalized to {}", second)
	}

	done := events[3]
	if done.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", done.FinishReason)
	}
	if done.Usage == nil || done.Usage.InputTokens != 12 || done.Usage.OutputTokens != 7 || done.Usage.TotalTokens != 19 {
		t.Errorf("usage = %+v", done.Usage)
	}
}

func TestParseSSEStream_NoDoneSentinel(t *testing.T) {
	sseData := `data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"x","arguments":"{}"}}]},"finish_reason":null}]}
`
	events := collectEvents(t, sseData)
	if got, want := eventTypes(events), "tool_call_done,done"; got != want {
		t.Errorf("events = %s, want %s", got, want)
	}
}

func TestParseSSEStream_MalformedChunkSkipped(t *testing.T) {
	sseData := `data: {not json}

: keep-alive comment

data: {"choices":[{"index":0,"delta":{"content":"ok"},"finish_reason":null}]}

data: [DONE]
`
	events := collectEvents(t, sseData)
	if got, want := eventTypes(events), "text_delta,done"; got != want {
		t.Errorf("events = %s, want %s", got, want)
	}
}

func TestParseSSEStream_ErrorChunk(t *testing.T) {
	sseData := `data: {"choices":[{"index":0,"delta":{"content":"partial"},"finish_reason":null}]}

data: {"error":{"message":"Rate limit exceeded","type":"rate_limit"}}

data: {"choices":[{"index":0,"delta":{"content":"never"},"finish_reason":null}]}
`
	events := collectEvents(t, sseData)
	if got, want := eventTypes(events), "text_delta,error"; got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
	err := events[1].Err
	if !errors.Is(err, ErrStreamFailed) {
		t.Errorf("error = %v, want ErrStreamFailed", err)
	}
	if !strings.Contains(err.Error(), "Rate limit exceeded") {
		t.Errorf("error %q does not carry the raw payload", err.Error())
	}
}

func TestParseSSEStream_NullErrorIgnored(t *testing.T) {
	sseData := `data: {"error":null,"choices":[{"index":0,"delta":{"content":"hi"},"finish_reason":"stop"}]}

data: [DONE]
`
	events := collectEvents(t, sseData)
	if got, want := eventTypes(events), "text_delta,done"; got != want {
		t.Errorf("events = %s, want %s", got, want)
	}
}

func TestParseSSEStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan provider.ProviderEvent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ParseSSEStream(ctx, strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\ndata: [DONE]\n"), ch)
	}()
	<-done

	select {
	case ev := <-ch:
		t.Errorf("unexpected event after cancellation: %+v", ev)
	default:
	}
}
