package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/chat"
	"github.com/rhuss/alpha/pkg/client"
	"github.com/rhuss/alpha/pkg/engine"
	"github.com/rhuss/alpha/pkg/storage/memory"
	"github.com/rhuss/alpha/pkg/transcript"
	transporthttp "github.com/rhuss/alpha/pkg/transport/http"
)

const testModel = "ollama:qwen2.5:14b"

// replay serves the same events for every exchange.
type replay []api.Event

func (r replay) Source(context.Context, engine.Request) transcript.Source {
	return transcript.FromEvents(r...)
}

type models struct{}

func (models) Validate(model string) error {
	if !strings.Contains(model, ":") {
		return fmt.Errorf("model %q must have the form provider:model", model)
	}
	return nil
}

func toolScript() replay {
	return replay{
		api.NewTextDelta("Let me look. "),
		api.NewToolCall(api.ToolCall{ToolCallID: "c1", ToolName: "search", Args: json.RawMessage(`{"q":"go"}`)}),
		api.NewToolResult(api.ToolResponse{ToolCallID: "c1", ToolName: "search", Content: "gopher"}),
		api.NewTextDelta("Found a gopher."),
		api.NewCompletion(),
	}
}

func newServer(t *testing.T, src chat.EventSource) (*client.Client, *chat.Manager) {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "coder.md"), []byte("You write Go."), 0o644); err != nil {
		t.Fatal(err)
	}
	mgr, err := chat.NewManager(memory.New(0), src, models{}, chat.NewPrompts(dir), chat.Options{DefaultModel: testModel})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	a := transporthttp.NewAdapter(mgr, transporthttp.DefaultConfig())
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return client.New(srv.URL + "/api/v1"), mgr
}

// shape renders messages without their ids, which differ between a local
// fold and the stored transcript.
func shape(msgs []api.Message) string {
	var parts []string
	for _, m := range msgs {
		if m.IsToolExchange() {
			for _, x := range m.ToolCalls {
				parts = append(parts, fmt.Sprintf("[%s %s=%s]", x.Call.ToolCallID, x.Call.ToolName, x.Response.Content))
			}
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:%q", m.Role, m.Content))
	}
	return strings.Join(parts, " ")
}

func TestChat(t *testing.T) {
	c, _ := newServer(t, toolScript())

	resp, err := c.Chat(context.Background(), "find a gopher")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Response != "Let me look. Found a gopher." {
		t.Errorf("response = %q", resp.Response)
	}
	if resp.Model != testModel {
		t.Errorf("model = %q, want %q", resp.Model, testModel)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Response.Content != "gopher" {
		t.Errorf("tool_calls = %+v", resp.ToolCalls)
	}
}

func TestChatStreamFoldsLikeServer(t *testing.T) {
	c, _ := newServer(t, toolScript())
	ctx := context.Background()

	src, err := c.ChatStream(ctx, "find a gopher")
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	defer src.Close()

	b := transcript.New()
	if err := transcript.Fold(ctx, src, b); err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if src.Skipped() != 0 {
		t.Errorf("skipped %d frames", src.Skipped())
	}

	view, err := c.Conversation(ctx, 0)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if len(view.Messages) == 0 || view.Messages[0].Role != api.RoleUser {
		t.Fatalf("stored = %s, want user message first", shape(view.Messages))
	}
	if got, want := shape(b.Messages()), shape(view.Messages[1:]); got != want {
		t.Errorf("local fold = %s\nstored    = %s", got, want)
	}
}

func TestChatStreamRejected(t *testing.T) {
	c, _ := newServer(t, toolScript())

	_, err := c.ChatStream(context.Background(), "")
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("ChatStream error = %v, want *api.APIError", err)
	}
	if apiErr.Type != api.ErrorTypeInvalidRequest {
		t.Errorf("error type = %q, want %q", apiErr.Type, api.ErrorTypeInvalidRequest)
	}
}

func TestModelEndpoints(t *testing.T) {
	c, _ := newServer(t, toolScript())
	ctx := context.Background()

	model, err := c.Model(ctx)
	if err != nil || model != testModel {
		t.Fatalf("Model() = %q, %v", model, err)
	}

	model, err = c.SetModel(ctx, "openai:gpt-4o")
	if err != nil || model != "openai:gpt-4o" {
		t.Fatalf("SetModel() = %q, %v", model, err)
	}

	_, err = c.SetModel(ctx, "gpt-4o")
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeInvalidRequest {
		t.Errorf("SetModel(invalid) error = %v, want invalid_request", err)
	}
}

func TestConversationLifecycle(t *testing.T) {
	c, _ := newServer(t, replay{api.NewTextDelta("Hi"), api.NewCompletion()})
	ctx := context.Background()

	first, err := c.Conversation(ctx, 0)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if _, err := c.Chat(ctx, "hello"); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	view, err := c.NewConversation(ctx, "groq:llama-3.3-70b", "coder")
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	if view.ID == first.ID || view.Model != "groq:llama-3.3-70b" || view.SystemPromptFile != "coder.md" {
		t.Errorf("new conversation = %+v", view)
	}

	list, err := c.Conversations(ctx, 10)
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Conversations() = %d, want 2", len(list))
	}

	loaded, err := c.LoadConversation(ctx, first.ID)
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if loaded.ID != first.ID || loaded.TotalMessages != 2 {
		t.Errorf("loaded = %s with %d messages, want %s with 2", loaded.ID, loaded.TotalMessages, first.ID)
	}

	cleared, err := c.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if cleared.ConversationID == first.ID || cleared.Status != "conversation cleared" {
		t.Errorf("Clear() = %+v", cleared)
	}

	_, err = c.LoadConversation(ctx, "6f1c2b1e-0000-4000-8000-000000000000")
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeNotFound {
		t.Errorf("LoadConversation(unknown) error = %v, want not_found", err)
	}
}

func TestPromptsAndHealth(t *testing.T) {
	c, _ := newServer(t, toolScript())
	ctx := context.Background()

	prompts, err := c.Prompts(ctx)
	if err != nil {
		t.Fatalf("Prompts: %v", err)
	}
	if len(prompts) != 1 || prompts[0] != "coder.md" {
		t.Errorf("Prompts() = %v", prompts)
	}

	h, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "healthy" || h.Model != testModel {
		t.Errorf("Health() = %+v", h)
	}
}

func TestAbortWithoutStream(t *testing.T) {
	c, _ := newServer(t, toolScript())

	resp, err := c.Abort(context.Background())
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if resp.Aborted || resp.ConversationID == "" {
		t.Errorf("Abort() = %+v, want not aborted with current id", resp)
	}
}

func TestSocketChat(t *testing.T) {
	c, _ := newServer(t, toolScript())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sock, err := c.DialChat(ctx)
	if err != nil {
		t.Fatalf("DialChat: %v", err)
	}
	defer sock.Close()

	for i := 0; i < 2; i++ {
		if err := sock.Send("find a gopher"); err != nil {
			t.Fatalf("Send: %v", err)
		}
		b := transcript.New()
		if err := transcript.Fold(ctx, sock, b); err != nil {
			t.Fatalf("Fold exchange %d: %v", i, err)
		}
		if got := b.Text(); got != "Let me look. Found a gopher." {
			t.Errorf("exchange %d text = %q", i, got)
		}
	}
}

func TestEvents(t *testing.T) {
	c, _ := newServer(t, replay{api.NewTextDelta("Hi"), api.NewCompletion()})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := c.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}

	// The subscription is registered asynchronously after the upgrade.
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := c.Chat(ctx, "hello"); err != nil {
			t.Fatalf("Chat: %v", err)
		}
		select {
		case ev := <-events:
			if ev.Type != api.MessagesAddedType || len(ev.Messages) == 0 {
				t.Errorf("event = %+v", ev)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("no messages_added event received")
		}
	}
}

func TestBearerToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"ollama:llama3"}`)
	}))
	defer srv.Close()

	c := client.New(srv.URL+"/api/v1/", client.WithToken("sk-test"))
	if c.BaseURL() != srv.URL+"/api/v1" {
		t.Errorf("BaseURL() = %q, want trailing slash trimmed", c.BaseURL())
	}
	if _, err := c.Model(context.Background()); err != nil {
		t.Fatalf("Model: %v", err)
	}
	if got != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer sk-test")
	}
}

func TestNonAPIErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := client.New(srv.URL).Models(context.Background())
	if err == nil || !strings.Contains(err.Error(), "HTTP 502") {
		t.Errorf("Models() error = %v, want HTTP 502", err)
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := client.New(url).Model(context.Background())
	var te *api.TransportError
	if !errors.As(err, &te) {
		t.Errorf("Model() error = %v, want *api.TransportError", err)
	}
}
