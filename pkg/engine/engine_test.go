package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/provider"
	"github.com/rhuss/alpha/pkg/tools"
	"github.com/rhuss/alpha/pkg/transcript"
)

// scriptedProvider replays one event script per turn and records requests.
type scriptedProvider struct {
	mu       sync.Mutex
	turns    [][]provider.ProviderEvent
	requests []provider.ProviderRequest
	streamFn func(ctx context.Context, req *provider.ProviderRequest) (<-chan provider.ProviderEvent, error)
}

func (p *scriptedProvider) Name() string { return "mock" }

func (p *scriptedProvider) Stream(ctx context.Context, req *provider.ProviderRequest) (<-chan provider.ProviderEvent, error) {
	p.mu.Lock()
	cp := *req
	cp.Messages = append([]provider.ProviderMessage(nil), req.Messages...)
	p.requests = append(p.requests, cp)
	turn := len(p.requests) - 1
	p.mu.Unlock()

	if p.streamFn != nil {
		return p.streamFn(ctx, req)
	}
	if turn >= len(p.turns) {
		return nil, errors.New("no more scripted turns")
	}
	ch := make(chan provider.ProviderEvent, len(p.turns[turn]))
	for _, ev := range p.turns[turn] {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) ListModels(context.Context) ([]provider.ModelInfo, error) { return nil, nil }
func (p *scriptedProvider) Close() error                                             { return nil }

type staticResolver struct {
	p   provider.Provider
	err error
}

func (r staticResolver) Resolve(model string) (provider.Provider, string, error) {
	if r.err != nil {
		return nil, "", r.err
	}
	_, m, err := provider.ParseModel(model)
	return r.p, m, err
}

func delta(s string) provider.ProviderEvent {
	return provider.ProviderEvent{Type: provider.ProviderEventTextDelta, Delta: s}
}

func toolCall(id, name, args string) provider.ProviderEvent {
	return provider.ProviderEvent{
		Type: provider.ProviderEventToolCallDone,
		ToolCall: &provider.ProviderToolCall{
			ID:       id,
			Type:     "function",
			Function: provider.ProviderFunctionCall{Name: name, Arguments: args},
		},
	}
}

func done() provider.ProviderEvent {
	return provider.ProviderEvent{Type: provider.ProviderEventDone, Usage: &provider.Usage{InputTokens: 3, OutputTokens: 2}}
}

func newEngine(t *testing.T, p provider.Provider, cfg Config) *Engine {
	t.Helper()
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "mock:test-model"
	}
	e, err := New(staticResolver{p: p}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func collect(ch <-chan api.Event) []api.Event {
	var evs []api.Event
	for ev := range ch {
		evs = append(evs, ev)
	}
	return evs
}

func types(evs []api.Event) string {
	parts := make([]string, len(evs))
	for i, ev := range evs {
		parts[i] = string(ev.Type)
	}
	return strings.Join(parts, ",")
}

func weatherTool() *tools.FuncExecutor {
	exec := tools.NewFuncExecutor()
	exec.Register(tools.Definition{Name: "weather", Description: "Current weather"},
		func(_ context.Context, args json.RawMessage) (string, error) {
			var in struct {
				City string `json:"city"`
			}
			_ = json.Unmarshal(args, &in)
			return "sunny in " + in.City, nil
		})
	return exec
}

func TestNewRequiresResolver(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("expected error for nil resolver")
	}
}

func TestStreamTextOnly(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.ProviderEvent{{delta("Hello"), delta(" world"), done()}}}
	e := newEngine(t, p, Config{})

	evs := collect(e.Stream(context.Background(), Request{Message: "hi"}))
	if got, want := types(evs), "text_delta,text_delta,done"; got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
	if p.requests[0].Model != "test-model" {
		t.Errorf("provider model = %q, want test-model", p.requests[0].Model)
	}
	if !p.requests[0].Stream {
		t.Error("request not streaming")
	}
}

func TestStreamToolLoop(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.ProviderEvent{
		{delta("Let me check."), toolCall("call_1", "weather", `{"city":"Paris"}`), done()},
		{delta("It is sunny."), done()},
	}}
	e := newEngine(t, p, Config{Executors: []tools.ToolExecutor{weatherTool()}})

	evs := collect(e.Stream(context.Background(), Request{Message: "weather?"}))
	if got, want := types(evs), "text_delta,tool_call,tool_return,text_delta,done"; got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}

	call := evs[1].Call
	if call.ToolName != "weather" || call.ToolCallID != "call_1" || string(call.Args) != `{"city":"Paris"}` {
		t.Errorf("tool call = %+v", call)
	}
	result := evs[2].Result
	if result.ToolCallID != "call_1" || result.Content != "sunny in Paris" {
		t.Errorf("tool result = %+v", result)
	}

	if len(p.requests) != 2 {
		t.Fatalf("provider called %d times, want 2", len(p.requests))
	}
	if len(p.requests[0].Tools) != 1 || p.requests[0].Tools[0].Function.Name != "weather" {
		t.Errorf("tools offered = %+v", p.requests[0].Tools)
	}

	second := p.requests[1].Messages
	n := len(second)
	assistant, tool := second[n-2], second[n-1]
	if assistant.Role != "assistant" || len(assistant.ToolCalls) != 1 || assistant.Content != "Let me check." {
		t.Errorf("assistant message = %+v", assistant)
	}
	if tool.Role != "tool" || tool.ToolCallID != "call_1" || tool.Content != "sunny in Paris" {
		t.Errorf("tool message = %+v", tool)
	}
}

func TestStreamFoldsIntoTranscript(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.ProviderEvent{
		{delta("Let me check."), toolCall("call_1", "weather", `{"city":"Oslo"}`), done()},
		{delta("Rainy."), done()},
	}}
	e := newEngine(t, p, Config{Executors: []tools.ToolExecutor{weatherTool()}})

	b := transcript.New()
	if err := transcript.Fold(context.Background(), e.Source(context.Background(), Request{Message: "?"}), b); err != nil {
		t.Fatalf("Fold: %v", err)
	}

	msgs := b.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Content != "Let me check." || !msgs[1].IsToolExchange() || msgs[2].Content != "Rainy." {
		t.Errorf("transcript = %+v", msgs)
	}
}

func TestStreamToolFailureBecomesResult(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.ProviderEvent{
		{toolCall("call_1", "unknown_tool", `{}`), done()},
		{delta("Sorry."), done()},
	}}
	e := newEngine(t, p, Config{Executors: []tools.ToolExecutor{weatherTool()}})

	evs := collect(e.Stream(context.Background(), Request{Message: "?"}))
	if got, want := types(evs), "tool_call,tool_return,text_delta,done"; got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
	if !strings.Contains(evs[1].Result.Content, "no executor found") {
		t.Errorf("result content = %q", evs[1].Result.Content)
	}
}

func TestStreamMissingCallIDGenerated(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.ProviderEvent{
		{toolCall("", "weather", `not json`), done()},
		{done()},
	}}
	e := newEngine(t, p, Config{Executors: []tools.ToolExecutor{weatherTool()}})

	evs := collect(e.Stream(context.Background(), Request{Message: "?"}))
	if len(evs) < 2 {
		t.Fatalf("events = %s", types(evs))
	}
	if evs[0].Call.ToolCallID == "" || evs[0].Call.ToolCallID != evs[1].Result.ToolCallID {
		t.Errorf("call id %q, result id %q", evs[0].Call.ToolCallID, evs[1].Result.ToolCallID)
	}
	if string(evs[0].Call.Args) != `"not json"` {
		t.Errorf("invalid args kept as %s, want JSON string", evs[0].Call.Args)
	}
}

func TestStreamProviderErrors(t *testing.T) {
	tests := []struct {
		name  string
		p     *scriptedProvider
		want  string
		inRaw string
	}{
		{
			name:  "stream start fails",
			p:     &scriptedProvider{},
			want:  "error",
			inRaw: "no more scripted turns",
		},
		{
			name: "error event mid-turn",
			p: &scriptedProvider{turns: [][]provider.ProviderEvent{{
				delta("partial"),
				{Type: provider.ProviderEventError, Err: errors.New(`{"error":{"message":"Rate limit exceeded"}}`)},
			}}},
			want:  "text_delta,error",
			inRaw: "Rate limit exceeded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, tt.p, Config{})
			evs := collect(e.Stream(context.Background(), Request{Message: "hi"}))
			if got := types(evs); got != tt.want {
				t.Fatalf("events = %s, want %s", got, tt.want)
			}
			if raw := evs[len(evs)-1].Raw; !strings.Contains(raw, tt.inRaw) {
				t.Errorf("failure raw = %q, want it to contain %q", raw, tt.inRaw)
			}
		})
	}
}

func TestStreamResolveError(t *testing.T) {
	e, err := New(staticResolver{err: provider.ErrUnknownProvider}, Config{DefaultModel: "nope:x"})
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(e.Stream(context.Background(), Request{Message: "hi"}))
	if got := types(evs); got != "error" {
		t.Errorf("events = %s, want error", got)
	}
}

func TestStreamMaxTurns(t *testing.T) {
	loop := []provider.ProviderEvent{toolCall("c", "weather", `{}`), done()}
	p := &scriptedProvider{turns: [][]provider.ProviderEvent{loop, loop, loop}}
	e := newEngine(t, p, Config{MaxTurns: 2, Executors: []tools.ToolExecutor{weatherTool()}})

	evs := collect(e.Stream(context.Background(), Request{Message: "?"}))
	if got, want := types(evs), "tool_call,tool_return,tool_call,tool_return,error"; got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
	if !strings.Contains(evs[len(evs)-1].Raw, "maximum number of turns (2)") {
		t.Errorf("failure = %q", evs[len(evs)-1].Raw)
	}
}

func TestStreamCancellationHasNoTerminalEvent(t *testing.T) {
	p := &scriptedProvider{
		streamFn: func(ctx context.Context, _ *provider.ProviderRequest) (<-chan provider.ProviderEvent, error) {
			ch := make(chan provider.ProviderEvent)
			go func() {
				defer close(ch)
				for {
					select {
					case ch <- delta("x"):
						time.Sleep(time.Millisecond)
					case <-ctx.Done():
						return
					}
				}
			}()
			return ch, nil
		},
	}
	e := newEngine(t, p, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	out := e.Stream(ctx, Request{Message: "go"})

	// Read a few deltas, then stop.
	for i := 0; i < 3; i++ {
		if ev := <-out; ev.Type != api.EventTextDelta {
			t.Fatalf("event %d = %s, want text_delta", i, ev.Type)
		}
	}
	cancel()

	for ev := range out {
		if ev.IsTerminal() {
			t.Fatalf("terminal event %s after cancellation", ev.Type)
		}
	}
}
