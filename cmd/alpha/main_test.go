package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/chat"
	"github.com/rhuss/alpha/pkg/engine"
	"github.com/rhuss/alpha/pkg/storage/memory"
	"github.com/rhuss/alpha/pkg/transcript"
	transporthttp "github.com/rhuss/alpha/pkg/transport/http"
)

type replay []api.Event

func (r replay) Source(context.Context, engine.Request) transcript.Source {
	return transcript.FromEvents(r...)
}

type anyModel struct{}

func (anyModel) Validate(model string) error {
	if !strings.Contains(model, ":") {
		return fmt.Errorf("model %q must have the form provider:model", model)
	}
	return nil
}

func startServer(t *testing.T) string {
	t.Helper()
	src := replay{
		api.NewTextDelta("Looking it up. "),
		api.NewToolCall(api.ToolCall{ToolCallID: "c1", ToolName: "weather", Args: json.RawMessage(`{"city":"Oslo"}`)}),
		api.NewToolResult(api.ToolResponse{ToolCallID: "c1", ToolName: "weather", Content: "rain, 7C"}),
		api.NewTextDelta("Bring an umbrella."),
		api.NewCompletion(),
	}
	mgr, err := chat.NewManager(memory.New(0), src, anyModel{}, nil, chat.Options{DefaultModel: "ollama:qwen2.5:14b"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	srv := httptest.NewServer(transporthttp.NewAdapter(mgr, transporthttp.DefaultConfig()).Handler())
	t.Cleanup(srv.Close)
	return srv.URL + "/api/v1"
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands(t *testing.T) {
	base := startServer(t)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"model", []string{"model"}, []string{"Current model: ollama:qwen2.5:14b"}},
		{"stream chat", []string{"chat", "weather in Oslo?"}, []string{
			"Looking it up.",
			`[tool] weather {"city":"Oslo"}`,
			"  -> rain, 7C",
			"Bring an umbrella.",
		}},
		{"non-streaming chat", []string{"chat", "--no-stream", "again"}, []string{"[tool] weather", "Bring an umbrella."}},
		{"history", []string{"history", "--limit", "10"}, []string{
			"=== Conversation History (8 messages) ===",
			"USER: weather in Oslo?",
			"TOOL: weather",
			"ASSISTANT: Bring an umbrella.",
		}},
		{"set-model", []string{"set-model", "groq:llama-3.3-70b"}, []string{"Model changed to: groq:llama-3.3-70b"}},
		{"new", []string{"new", "--model", "openai:gpt-4o"}, []string{"New conversation", "model openai:gpt-4o, prompt none"}},
		{"conversations", []string{"conversations"}, []string{"ID", "openai:gpt-4o", "groq:llama-3.3-70b"}},
		{"clear", []string{"clear"}, []string{"Conversation cleared. Current model: openai:gpt-4o"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			noStream = false
			out, err := execute(t, append(tt.args, "--base-url", base)...)
			if err != nil {
				t.Fatalf("%v: %v\n%s", tt.args, err, out)
			}
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestCommandErrors(t *testing.T) {
	base := startServer(t)

	if _, err := execute(t, "set-model", "gpt-4o", "--base-url", base); err == nil {
		t.Error("set-model without provider: expected error")
	}
	if _, err := execute(t, "load", "not-a-uuid", "--base-url", base); err == nil {
		t.Error("load invalid id: expected error")
	}
	if _, err := execute(t, "chat"); err == nil {
		t.Error("chat without message: expected usage error")
	}
}

func TestPrintTranscript(t *testing.T) {
	var out bytes.Buffer
	printTranscript(&out, []api.Message{
		{Role: api.RoleUser, Content: "hi"},
		{Role: api.RoleAssistant, Content: "Partial" + transcript.StoppedMarker},
		{Role: api.RoleError, Content: "Connection failed"},
	})

	got := out.String()
	if strings.Contains(got, "hi\n") {
		t.Errorf("user message printed:\n%s", got)
	}
	if !strings.Contains(got, "[Response stopped by user]") {
		t.Errorf("stop marker missing:\n%s", got)
	}
	if !strings.Contains(got, "Error: Connection failed") {
		t.Errorf("error message missing:\n%s", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
