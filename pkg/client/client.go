// Package client is a Go client for the alpha HTTP API.
//
// Request/response endpoints return the decoded api types. Streaming chat
// returns a transcript.Source, so callers fold frames with the same
// Builder the server uses:
//
//	src, err := c.ChatStream(ctx, "hello")
//	if err != nil { ... }
//	defer src.Close()
//	b := transcript.New()
//	err = transcript.Fold(ctx, src, b)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rhuss/alpha/pkg/api"
)

// DefaultBaseURL is the API root of a local server.
const DefaultBaseURL = "http://localhost:8000/api/v1"

// Client calls the alpha API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the HTTP client. Streaming requests rely on the
// context for cancellation, so the client should not set a Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New returns a Client for the API rooted at baseURL, e.g.
// "http://localhost:8000/api/v1".
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Chat sends message and waits for the complete exchange.
func (c *Client) Chat(ctx context.Context, message string) (*api.ChatResponse, error) {
	var out api.ChatResponse
	err := c.do(ctx, http.MethodPost, "/chat", api.ChatRequest{Message: message}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ChatStream sends message and returns the frame stream. The caller must
// Close it.
func (c *Client) ChatStream(ctx context.Context, message string) (*Stream, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/chat", api.ChatRequest{Message: message, Stream: true})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &api.TransportError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return newStream(resp.Body), nil
}

// Abort stops the in-flight exchange of the current conversation.
func (c *Client) Abort(ctx context.Context) (*api.AbortResponse, error) {
	var out api.AbortResponse
	if err := c.do(ctx, http.MethodPost, "/chat/abort", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Model returns the model of the current conversation.
func (c *Client) Model(ctx context.Context) (string, error) {
	var out api.ModelInfo
	if err := c.do(ctx, http.MethodGet, "/model", nil, &out); err != nil {
		return "", err
	}
	return out.Model, nil
}

// SetModel switches the current conversation to model.
func (c *Client) SetModel(ctx context.Context, model string) (string, error) {
	var out api.ModelInfo
	if err := c.do(ctx, http.MethodPost, "/model", api.ModelRequest{Model: model}, &out); err != nil {
		return "", err
	}
	return out.Model, nil
}

// Models lists the models the server can route to.
func (c *Client) Models(ctx context.Context) ([]api.AvailableModel, error) {
	var out api.ModelList
	if err := c.do(ctx, http.MethodGet, "/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Conversation returns the current conversation with its most recent
// limit messages. A limit of 0 uses the server default.
func (c *Client) Conversation(ctx context.Context, limit int) (*api.ConversationView, error) {
	var out api.ConversationView
	if err := c.do(ctx, http.MethodGet, "/conversation"+limitQuery(limit), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Clear empties the current conversation.
func (c *Client) Clear(ctx context.Context) (*api.ClearResponse, error) {
	var out api.ClearResponse
	if err := c.do(ctx, http.MethodDelete, "/conversation", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NewConversation starts a conversation and makes it current. Empty
// model or prompt use the server defaults.
func (c *Client) NewConversation(ctx context.Context, model, prompt string) (*api.ConversationView, error) {
	var out api.ConversationView
	err := c.do(ctx, http.MethodPost, "/conversation/new", api.NewConversationRequest{Model: model, Prompt: prompt}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Conversations lists stored conversations, most recently updated first.
func (c *Client) Conversations(ctx context.Context, limit int) ([]api.ConversationSummary, error) {
	var out api.ConversationList
	if err := c.do(ctx, http.MethodGet, "/conversations"+limitQuery(limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// LoadConversation makes the stored conversation id current.
func (c *Client) LoadConversation(ctx context.Context, id string) (*api.ConversationView, error) {
	var out api.ConversationView
	if err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(id)+"/load", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Prompts lists the system prompt files available on the server.
func (c *Client) Prompts(ctx context.Context) ([]string, error) {
	var out api.PromptList
	if err := c.do(ctx, http.MethodGet, "/prompts", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Health queries the server health endpoint, which lives outside the
// API prefix.
func (c *Client) Health(ctx context.Context) (*api.Health, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	u.Path = "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &api.TransportError{Err: err}
	}
	defer resp.Body.Close()

	var out api.Health
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &out, fmt.Errorf("server unhealthy (HTTP %d): %s", resp.StatusCode, out.Error)
	}
	return &out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &api.TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError converts an error response into an *api.APIError. Bodies
// that are not API errors are reported with their status.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var er api.ErrorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Error != nil {
		return er.Error
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return "?limit=" + strconv.Itoa(limit)
}
