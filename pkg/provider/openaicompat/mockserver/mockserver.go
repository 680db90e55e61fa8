// Package mockserver implements a deterministic OpenAI-compatible Chat
// Completions backend. The reply is picked from the last message of the
// request:
//
//	contains "weather" (tools offered)  streamed tool call
//	last message is a tool result       text quoting the result
//	contains "fail"                     text, then a mid-stream error chunk
//	contains "drop"                     text, then the connection is cut
//	contains "overloaded"               HTTP 503 before any frame
//	contains "slow"                     one word per slow delay
//	otherwise                           "You said: <message>"
package mockserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/alpha/pkg/debug"
	"github.com/rhuss/alpha/pkg/provider/openaicompat"
)

const mockModel = "mock-model"

type backend struct {
	slowDelay time.Duration
}

// NewHandler returns the backend serving /v1/chat/completions, /v1/models
// and /healthz.
func NewHandler(slowDelay time.Duration) http.Handler {
	b := &backend{slowDelay: slowDelay}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", b.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// reply is what one request answers with.
type reply struct {
	words    []string
	toolCall *openaicompat.ChatToolCall
	// failAfter ends the stream after the words, with an error chunk or,
	// if drop is set, by cutting the connection.
	failAfter bool
	drop      bool
	slow      bool
	status    int
}

func classify(req *openaicompat.ChatCompletionRequest) reply {
	if len(req.Messages) == 0 {
		return reply{words: words("Hello!")}
	}
	last := req.Messages[len(req.Messages)-1]
	text := contentText(last.Content)

	if last.Role == "tool" {
		return reply{words: words("The tool returned: " + text)}
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "weather") && len(req.Tools) > 0:
		return reply{
			words: words("Let me check."),
			toolCall: &openaicompat.ChatToolCall{
				ID:   "call_mock_1",
				Type: "function",
				Function: openaicompat.ChatFunctionCall{
					Name:      pickTool(req.Tools, "weather"),
					Arguments: `{"city":"Berlin"}`,
				},
			},
		}
	case strings.Contains(lower, "overloaded"):
		return reply{status: http.StatusServiceUnavailable}
	case strings.Contains(lower, "drop"):
		return reply{words: words("Starting an answer"), failAfter: true, drop: true}
	case strings.Contains(lower, "fail"):
		return reply{words: words("Starting an answer"), failAfter: true}
	case strings.Contains(lower, "slow"):
		return reply{words: words("This answer takes a while to arrive in full."), slow: true}
	}
	return reply{words: words("You said: " + text)}
}

func (b *backend) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openaicompat.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request: "+err.Error())
		return
	}
	if req.Model == "" {
		req.Model = mockModel
	}

	rep := classify(&req)
	debug.Log("providers", "mock request", "model", req.Model, "messages", len(req.Messages), "stream", req.Stream)

	if rep.status != 0 {
		writeError(w, rep.status, "server_error", "the mock backend is overloaded")
		return
	}
	if !req.Stream {
		writeCompletion(w, req.Model, rep)
		return
	}
	b.stream(w, r, req.Model, rep)
}

func (b *backend) stream(w http.ResponseWriter, r *http.Request, model string, rep reply) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "server_error", "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	send := func(v any) {
		data, _ := json.Marshal(v)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	send(chunk(model, openaicompat.ChatChunkDelta{Role: "assistant"}, nil))
	for _, word := range rep.words {
		if rep.slow {
			select {
			case <-time.After(b.slowDelay):
			case <-r.Context().Done():
				slog.Info("client went away mid-stream")
				return
			}
		}
		send(chunk(model, openaicompat.ChatChunkDelta{Content: &word}, nil))
	}

	if rep.failAfter {
		if rep.drop {
			// Aborts the response without a terminating chunk.
			panic(http.ErrAbortHandler)
		}
		var e openaicompat.ChatErrorResponse
		e.Error.Message = "mock backend failed mid-stream"
		e.Error.Type = "server_error"
		send(e)
		return
	}

	finish := "stop"
	if tc := rep.toolCall; tc != nil {
		finish = "tool_calls"
		// Arguments arrive in two fragments.
		half := len(tc.Function.Arguments) / 2
		send(chunk(model, openaicompat.ChatChunkDelta{ToolCalls: []openaicompat.ChatChunkToolCall{{
			Index: 0, ID: tc.ID, Type: tc.Type,
			Function: openaicompat.ChatChunkFunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments[:half]},
		}}}, nil))
		send(chunk(model, openaicompat.ChatChunkDelta{ToolCalls: []openaicompat.ChatChunkToolCall{{
			Index:    0,
			Function: openaicompat.ChatChunkFunctionCall{Arguments: tc.Function.Arguments[half:]},
		}}}, nil))
	}

	send(chunk(model, openaicompat.ChatChunkDelta{}, &finish))
	send(openaicompat.ChatCompletionChunk{
		ID:      "chatcmpl-mock",
		Object:  "chat.completion.chunk",
		Model:   model,
		Choices: []openaicompat.ChatChunkChoice{},
		Usage:   &openaicompat.ChatUsage{PromptTokens: 10, CompletionTokens: len(rep.words), TotalTokens: 10 + len(rep.words)},
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func chunk(model string, delta openaicompat.ChatChunkDelta, finish *string) openaicompat.ChatCompletionChunk {
	return openaicompat.ChatCompletionChunk{
		ID:     "chatcmpl-mock",
		Object: "chat.completion.chunk",
		Model:  model,
		Choices: []openaicompat.ChatChunkChoice{
			{Index: 0, Delta: delta, FinishReason: finish},
		},
	}
}

// completion is the non-streaming response body.
type completion struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Model   string                 `json:"model"`
	Choices []completionChoice     `json:"choices"`
	Usage   openaicompat.ChatUsage `json:"usage"`
}

type completionChoice struct {
	Index        int                      `json:"index"`
	Message      openaicompat.ChatMessage `json:"message"`
	FinishReason string                   `json:"finish_reason"`
}

func writeCompletion(w http.ResponseWriter, model string, rep reply) {
	msg := openaicompat.ChatMessage{Role: "assistant", Content: strings.Join(rep.words, "")}
	finish := "stop"
	if rep.toolCall != nil {
		msg.ToolCalls = []openaicompat.ChatToolCall{*rep.toolCall}
		finish = "tool_calls"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(completion{
		ID:      "chatcmpl-mock",
		Object:  "chat.completion",
		Model:   model,
		Choices: []completionChoice{{Message: msg, FinishReason: finish}},
		Usage:   openaicompat.ChatUsage{PromptTokens: 10, CompletionTokens: len(rep.words), TotalTokens: 10 + len(rep.words)},
	})
}

func writeError(w http.ResponseWriter, status int, typ, message string) {
	var e openaicompat.ChatErrorResponse
	e.Error.Message = message
	e.Error.Type = typ
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e)
}

func handleModels(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(openaicompat.ChatModelsResponse{
		Object: "list",
		Data: []openaicompat.ChatModel{
			{ID: mockModel, Object: "model", OwnedBy: "alpha-mock"},
		},
	})
}

// words splits s into stream tokens, each word keeping its trailing space.
func words(s string) []string {
	var out []string
	for _, f := range strings.SplitAfter(s, " ") {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func pickTool(tools []openaicompat.ChatTool, hint string) string {
	for _, t := range tools {
		if strings.Contains(t.Function.Name, hint) {
			return t.Function.Name
		}
	}
	return tools[0].Function.Name
}

// contentText returns the text of a message content, which is either a
// string or an array of typed parts.
func contentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, part := range v {
			if m, ok := part.(map[string]any); ok {
				if t, ok := m["text"].(string); ok {
					sb.WriteString(t)
				}
			}
		}
		return sb.String()
	}
	return ""
}
