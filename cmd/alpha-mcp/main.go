// Command alpha-mcp exposes an alpha server to MCP clients over stdio.
//
// Tools:
//
//	chat          send a message, optionally in a new conversation
//	conversation  show conversation metadata and recent turns
//
// The server is located with ALPHA_API_URL (default
// http://localhost:8000/api/v1); ALPHA_TOKEN is sent as bearer token.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/client"
	"github.com/rhuss/alpha/pkg/debug"
)

const (
	chatTimeout         = 120 * time.Second
	conversationTimeout = 30 * time.Second

	// Tool responses longer than maxToolResponse runes are cut to
	// maxToolResponse-3 runes plus "...".
	maxToolResponse = 500
)

func main() {
	// stdout carries the MCP protocol; logs go to stderr.
	debug.Init("", "")

	var opts []client.Option
	if tok := os.Getenv("ALPHA_TOKEN"); tok != "" {
		opts = append(opts, client.WithToken(tok))
	}
	c := client.New(os.Getenv("ALPHA_API_URL"), opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("alpha-mcp starting", "api", c.BaseURL())
	if err := newServer(c).Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("alpha-mcp failed", "error", err)
		os.Exit(1)
	}
}

// ChatInput is the input of the chat tool.
type ChatInput struct {
	Message         string `json:"message" jsonschema:"Message to send to the AI"`
	NewConversation bool   `json:"new_conversation,omitempty" jsonschema:"Start a new conversation"`
	Model           string `json:"model,omitempty" jsonschema:"Model to use, e.g. groq:llama-3.3-70b"`
	SystemPrompt    string `json:"system_prompt,omitempty" jsonschema:"System prompt file, e.g. two.md"`
}

// ConversationInput is the input of the conversation tool.
type ConversationInput struct {
	Turns int `json:"turns,omitempty" jsonschema:"Number of recent turns to include, 0 for metadata only"`
}

func newServer(c *client.Client) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "alpha-chat", Version: "v1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name: "chat",
		Description: "Send a message to the alpha server and get the response. " +
			"With new_conversation, a fresh conversation is started with the given model and system prompt. " +
			"Tool calls and their responses are included in the output.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ChatInput) (*mcp.CallToolResult, any, error) {
		return textResult(chatTool(ctx, c, in)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "conversation",
		Description: "Get the current conversation metadata and optionally its most recent turns.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ConversationInput) (*mcp.CallToolResult, any, error) {
		return textResult(conversationTool(ctx, c, in)), nil, nil
	})

	return server
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: strings.HasPrefix(text, "[ERROR]"),
	}
}

func chatTool(ctx context.Context, c *client.Client, in ChatInput) string {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	if in.NewConversation {
		if in.Model == "" {
			return "[ERROR] Model is required when starting a new conversation"
		}
		prompt := in.SystemPrompt
		if prompt == "" {
			prompt = "none"
		}
		if _, err := c.NewConversation(ctx, in.Model, prompt); err != nil {
			return formatError("Failed to start conversation", err, chatTimeout)
		}
	}

	resp, err := c.Chat(ctx, in.Message)
	if err != nil {
		return formatError("Chat failed", err, chatTimeout)
	}
	return formatChat(resp)
}

func conversationTool(ctx context.Context, c *client.Client, in ConversationInput) string {
	ctx, cancel := context.WithTimeout(ctx, conversationTimeout)
	defer cancel()

	limit := 50
	if in.Turns*5 > limit {
		limit = in.Turns * 5
	}
	view, err := c.Conversation(ctx, limit)
	if err != nil {
		return formatError("Failed to get conversation", err, conversationTimeout)
	}
	return formatConversation(view, in.Turns)
}

func formatError(what string, err error, timeout time.Duration) string {
	var apiErr *api.APIError
	var te *api.TransportError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("[ERROR] Request timed out after %d seconds", int(timeout.Seconds()))
	case errors.As(err, &apiErr):
		return fmt.Sprintf("[ERROR] %s: %s", what, apiErr.Message)
	case errors.As(err, &te):
		return fmt.Sprintf("[ERROR] Connection failed: %v", te.Err)
	default:
		return fmt.Sprintf("[ERROR] Unexpected error: %v", err)
	}
}

func formatChat(resp *api.ChatResponse) string {
	var lines []string
	for _, x := range resp.ToolCalls {
		lines = append(lines,
			"[TOOL CALL] "+x.Call.ToolName,
			"[TOOL RESPONSE] "+truncateToolResponse(x.Response.Content),
			"",
		)
	}
	if resp.Response == "" {
		lines = append(lines, "[No response]")
	} else {
		lines = append(lines, resp.Response)
	}
	return strings.Join(lines, "\n")
}

// formatConversation renders the metadata and, for turns > 0, the last
// turns messages, a turn starting at a user message.
func formatConversation(view *api.ConversationView, turns int) string {
	prompt := view.SystemPromptFile
	if prompt == "" {
		prompt = "none"
	}
	lines := []string{
		"Conversation: " + view.ID,
		"Model: " + view.Model,
		"System Prompt: " + prompt,
		fmt.Sprintf("Total Messages: %d", view.TotalMessages),
	}

	if turns > 0 && len(view.Messages) > 0 {
		lines = append(lines, "")

		start, seen := 0, 0
		for i := len(view.Messages) - 1; i >= 0; i-- {
			if view.Messages[i].Role == api.RoleUser {
				seen++
				if seen > turns {
					start = i + 1
					break
				}
			}
		}
		for _, m := range view.Messages[start:] {
			lines = append(lines, formatMessage(m)...)
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func formatMessage(m api.Message) []string {
	switch m.Role {
	case api.RoleUser:
		return []string{"[USER] " + m.Content}
	case api.RoleError:
		return []string{"[ERROR] " + m.Content}
	}

	var lines []string
	for _, x := range m.ToolCalls {
		lines = append(lines, "[TOOL CALL] "+x.Call.ToolName)
		lines = append(lines, "[TOOL RESPONSE] "+truncateToolResponse(x.Response.Content))
	}
	if m.Content != "" || len(m.ToolCalls) == 0 {
		lines = append(lines, "[ASSISTANT] "+m.Content)
	}
	return lines
}

func truncateToolResponse(s string) string {
	r := []rune(s)
	if len(r) <= maxToolResponse {
		return s
	}
	return string(r[:maxToolResponse-3]) + "..."
}
