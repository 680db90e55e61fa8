package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/alpha/pkg/provider"
	"github.com/rhuss/alpha/pkg/provider/openaicompat"
)

func newProvider(t *testing.T, delay time.Duration) provider.Provider {
	t.Helper()
	srv := httptest.NewServer(NewHandler(delay))
	t.Cleanup(srv.Close)
	p, err := openaicompat.New(provider.Config{Name: "mock", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

type turn struct {
	text   string
	calls  []*provider.ProviderToolCall
	finish string
	err    error
}

func run(t *testing.T, ctx context.Context, p provider.Provider, req *provider.ProviderRequest) turn {
	t.Helper()
	ch, err := p.Stream(ctx, req)
	if err != nil {
		return turn{err: err}
	}
	var tr turn
	var sb strings.Builder
	for ev := range ch {
		switch ev.Type {
		case provider.ProviderEventTextDelta:
			sb.WriteString(ev.Delta)
		case provider.ProviderEventToolCallDone:
			tr.calls = append(tr.calls, ev.ToolCall)
		case provider.ProviderEventDone:
			tr.finish = ev.FinishReason
		case provider.ProviderEventError:
			tr.err = ev.Err
		}
	}
	tr.text = sb.String()
	return tr
}

func userRequest(text string, tools ...string) *provider.ProviderRequest {
	req := &provider.ProviderRequest{
		Model:    "mock-model",
		Messages: []provider.ProviderMessage{{Role: "user", Content: text}},
	}
	for _, name := range tools {
		req.Tools = append(req.Tools, provider.ProviderTool{
			Type:     "function",
			Function: provider.ProviderFunctionDef{Name: name, Parameters: json.RawMessage(`{"type":"object"}`)},
		})
	}
	return req
}

func TestStreamScenarios(t *testing.T) {
	p := newProvider(t, time.Millisecond)

	t.Run("echo", func(t *testing.T) {
		got := run(t, context.Background(), p, userRequest("hello there"))
		if got.err != nil || got.text != "You said: hello there" || got.finish != "stop" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("weather without tools", func(t *testing.T) {
		got := run(t, context.Background(), p, userRequest("weather in Berlin?"))
		if len(got.calls) != 0 || !strings.HasPrefix(got.text, "You said:") {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("tool call", func(t *testing.T) {
		got := run(t, context.Background(), p, userRequest("weather in Berlin?", "search", "mcp_get_weather"))
		if got.err != nil {
			t.Fatalf("error: %v", got.err)
		}
		if got.text != "Let me check." || got.finish != "tool_calls" {
			t.Errorf("text %q finish %q", got.text, got.finish)
		}
		if len(got.calls) != 1 {
			t.Fatalf("calls = %d, want 1", len(got.calls))
		}
		c := got.calls[0]
		if c.ID != "call_mock_1" || c.Function.Name != "mcp_get_weather" || c.Function.Arguments != `{"city":"Berlin"}` {
			t.Errorf("call = %+v", c)
		}
	})

	t.Run("tool result", func(t *testing.T) {
		req := userRequest("weather in Berlin?", "get_weather")
		req.Messages = append(req.Messages,
			provider.ProviderMessage{Role: "assistant", ToolCalls: []provider.ProviderToolCall{{
				ID: "call_mock_1", Type: "function",
				Function: provider.ProviderFunctionCall{Name: "get_weather", Arguments: `{"city":"Berlin"}`},
			}}},
			provider.ProviderMessage{Role: "tool", ToolCallID: "call_mock_1", Content: "sunny"},
		)
		got := run(t, context.Background(), p, req)
		if got.text != "The tool returned: sunny" || len(got.calls) != 0 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("mid-stream error", func(t *testing.T) {
		got := run(t, context.Background(), p, userRequest("please fail"))
		if got.text != "Starting an answer" {
			t.Errorf("text = %q", got.text)
		}
		if !errors.Is(got.err, openaicompat.ErrStreamFailed) {
			t.Errorf("err = %v, want stream error", got.err)
		}
		if !strings.Contains(got.err.Error(), "failed mid-stream") {
			t.Errorf("err = %v", got.err)
		}
	})

	t.Run("dropped connection", func(t *testing.T) {
		got := run(t, context.Background(), p, userRequest("drop it"))
		if got.err == nil {
			t.Errorf("expected error, got %+v", got)
		}
	})

	t.Run("overloaded", func(t *testing.T) {
		got := run(t, context.Background(), p, userRequest("you are overloaded"))
		var he *openaicompat.HTTPError
		if !errors.As(got.err, &he) || he.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("err = %v, want HTTP 503", got.err)
		}
	})
}

func TestSlowStreamCancel(t *testing.T) {
	p := newProvider(t, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.Stream(ctx, userRequest("go slow"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var got strings.Builder
	for ev := range ch {
		if ev.Type == provider.ProviderEventTextDelta {
			got.WriteString(ev.Delta)
			cancel()
		}
	}
	cancel()
	if got.String() == "" || got.String() == "This answer takes a while to arrive in full." {
		t.Errorf("text after cancel = %q, want a prefix", got.String())
	}
}

func TestNonStreaming(t *testing.T) {
	srv := httptest.NewServer(NewHandler(0))
	defer srv.Close()

	body := `{"model":"m","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}],"stream":false}`
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got completion
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Model != "m" || len(got.Choices) != 1 || got.Choices[0].Message.Content != "You said: hi" {
		t.Errorf("got %+v", got)
	}
}

func TestModels(t *testing.T) {
	p := newProvider(t, 0)
	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0].ID != mockModel {
		t.Errorf("models = %+v", models)
	}
}

func TestWords(t *testing.T) {
	got := words("a bc  d")
	want := []string{"a ", "bc ", " ", "d"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("words = %q, want %q", got, want)
	}
}
