package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/rhuss/alpha/pkg/debug"
	"github.com/rhuss/alpha/pkg/provider"
)

// ToolCallBuffer tracks incremental tool call assembly across SSE chunks
// for a single tool call index.
type ToolCallBuffer struct {
	ID   string
	Name string
	Args strings.Builder
}

// ErrStreamFailed marks an error chunk sent by the backend mid-stream.
var ErrStreamFailed = errors.New("backend stream error")

// StreamError carries the raw error payload of a mid-stream error chunk.
type StreamError struct {
	Payload string
}

func (e *StreamError) Error() string { return e.Payload }

func (e *StreamError) Unwrap() error { return ErrStreamFailed }

// turnState accumulates what a turn reports before its terminal event.
type turnState struct {
	toolCalls    map[int]*ToolCallBuffer
	finishReason string
	usage        *provider.Usage
}

// ParseSSEStream reads Chat Completions SSE chunks from body and sends
// translated events on ch. Text deltas are forwarded as they arrive; tool
// calls are assembled and sent complete when the choice finishes. Exactly
// one Done or Error event ends the turn, unless ctx is cancelled, in which
// case nothing more is sent. The channel is NOT closed by this function.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	\n
//	data: [DONE]\n
//
// Malformed chunks are logged and skipped.
func ParseSSEStream(ctx context.Context, body io.Reader, ch chan<- provider.ProviderEvent) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	st := &turnState{toolCalls: make(map[int]*ToolCallBuffer)}

	send := func(ev provider.ProviderEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		if payload == "[DONE]" {
			finishTurn(st, send)
			return
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Warn("skipping malformed SSE chunk",
				"error", err.Error(),
				"data", debug.Truncate(payload, 200),
			)
			continue
		}
		debug.Trace("providers", "chunk", "data", payload)

		if len(chunk.Error) > 0 && string(chunk.Error) != "null" {
			send(provider.ProviderEvent{
				Type: provider.ProviderEventError,
				Err:  &StreamError{Payload: payload},
			})
			return
		}

		if !translateChunk(&chunk, st, send) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return
		}
		send(provider.ProviderEvent{
			Type: provider.ProviderEventError,
			Err:  MapNetworkError(err),
		})
		return
	}

	// Body ended without the [DONE] sentinel.
	finishTurn(st, send)
}

// translateChunk applies one chunk to the turn state, sending text deltas
// immediately. It reports false if sending was interrupted.
func translateChunk(chunk *ChatCompletionChunk, st *turnState, send func(provider.ProviderEvent) bool) bool {
	if chunk.Usage != nil {
		st.usage = &provider.Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
			TotalTokens:  chunk.Usage.TotalTokens,
		}
	}
	if len(chunk.Choices) == 0 {
		return true
	}

	choice := chunk.Choices[0]
	delta := choice.Delta

	for _, tc := range delta.ToolCalls {
		buf, exists := st.toolCalls[tc.Index]
		if !exists {
			buf = &ToolCallBuffer{}
			st.toolCalls[tc.Index] = buf
		}
		if tc.ID != "" {
			buf.ID = tc.ID
		}
		if tc.Function.Name != "" {
			buf.Name += tc.Function.Name
		}
		buf.Args.WriteString(tc.Function.Arguments)
	}

	if delta.Content != nil && *delta.Content != "" {
		if !send(provider.ProviderEvent{Type: provider.ProviderEventTextDelta, Delta: *delta.Content}) {
			return false
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		st.finishReason = *choice.FinishReason
		return flushToolCalls(st.toolCalls, send)
	}
	return true
}

// flushToolCalls sends a ProviderEventToolCallDone for each buffered tool
// call in index order and clears the buffer.
func flushToolCalls(toolCalls map[int]*ToolCallBuffer, send func(provider.ProviderEvent) bool) bool {
	indexes := make([]int, 0, len(toolCalls))
	for idx := range toolCalls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		buf := toolCalls[idx]
		args := buf.Args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		ok := send(provider.ProviderEvent{
			Type: provider.ProviderEventToolCallDone,
			ToolCall: &provider.ProviderToolCall{
				ID:   buf.ID,
				Type: "function",
				Function: provider.ProviderFunctionCall{
					Name:      buf.Name,
					Arguments: args,
				},
			},
		})
		delete(toolCalls, idx)
		if !ok {
			return false
		}
	}
	return true
}

func finishTurn(st *turnState, send func(provider.ProviderEvent) bool) {
	if !flushToolCalls(st.toolCalls, send) {
		return
	}
	send(provider.ProviderEvent{
		Type:         provider.ProviderEventDone,
		FinishReason: st.finishReason,
		Usage:        st.usage,
	})
}
