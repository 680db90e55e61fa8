package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/chat"
	"github.com/rhuss/alpha/pkg/debug"
	"github.com/rhuss/alpha/pkg/observability"
	"github.com/rhuss/alpha/pkg/storage"
	"github.com/rhuss/alpha/pkg/transcript"
	"github.com/rhuss/alpha/pkg/transport"
)

const (
	defaultHistoryLimit      = 10
	defaultConversationLimit = 20
	healthCheckTimeout       = 2 * time.Second
)

// ModelLister reports the models offered by the configured providers.
// *provider.Registry implements it.
type ModelLister interface {
	ListModels(ctx context.Context) []api.AvailableModel
}

// HealthChecker verifies a backend dependency. storage.Store implements it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Adapter serves the chat API over HTTP, SSE and WebSocket.
type Adapter struct {
	chat       *chat.Manager
	models     ModelLister
	health     HealthChecker
	middleware []transport.Middleware
	mux        *http.ServeMux
	config     Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	// Prefix is prepended to every API route.
	Prefix string

	// MaxBodySize bounds JSON request bodies.
	MaxBodySize int64

	// MetricsPath serves the Prometheus registry. Empty disables it.
	MetricsPath string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Prefix:      "/api/v1",
		MaxBodySize: 1 << 20, // 1 MB
		MetricsPath: "/metrics",
	}
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithModels sets the source of GET /models.
func WithModels(m ModelLister) Option {
	return func(a *Adapter) { a.models = m }
}

// WithHealthCheck adds a dependency check to the health endpoints.
func WithHealthCheck(h HealthChecker) Option {
	return func(a *Adapter) { a.health = h }
}

// WithMiddleware adds HTTP middleware around every route. The first
// middleware runs first.
func WithMiddleware(mw ...transport.Middleware) Option {
	return func(a *Adapter) { a.middleware = append(a.middleware, mw...) }
}

// NewAdapter creates an HTTP adapter serving mgr.
func NewAdapter(mgr *chat.Manager, cfg Config, opts ...Option) *Adapter {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}
	cfg.Prefix = strings.TrimSuffix(cfg.Prefix, "/")

	a := &Adapter{
		chat:   mgr,
		mux:    http.NewServeMux(),
		config: cfg,
	}
	for _, opt := range opts {
		opt(a)
	}

	p := cfg.Prefix
	a.mux.HandleFunc("POST "+p+"/chat", a.handleChat)
	a.mux.HandleFunc("GET "+p+"/chat/ws", a.handleChatSocket)
	a.mux.HandleFunc("POST "+p+"/chat/abort", a.handleAbort)
	a.mux.HandleFunc("GET "+p+"/model", a.handleGetModel)
	a.mux.HandleFunc("POST "+p+"/model", a.handleSetModel)
	a.mux.HandleFunc("GET "+p+"/models", a.handleListModels)
	a.mux.HandleFunc("GET "+p+"/conversation", a.handleGetConversation)
	a.mux.HandleFunc("DELETE "+p+"/conversation", a.handleClearConversation)
	a.mux.HandleFunc("POST "+p+"/conversation/new", a.handleNewConversation)
	a.mux.HandleFunc("GET "+p+"/conversation/events", a.handleConversationEvents)
	a.mux.HandleFunc("GET "+p+"/conversations", a.handleListConversations)
	a.mux.HandleFunc("POST "+p+"/conversations/{id}/load", a.handleLoadConversation)
	a.mux.HandleFunc("GET "+p+"/prompts", a.handleListPrompts)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	a.mux.HandleFunc("GET /health", a.handleHealth)
	if cfg.MetricsPath != "" {
		a.mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}

	return a
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest.
func (a *Adapter) Handler() http.Handler {
	// Metrics sit directly on the mux so the matched pattern is visible.
	return transport.Chain(a.middleware...)(observability.MetricsMiddleware(a.mux))
}

// handleChat handles POST {prefix}/chat.
func (a *Adapter) handleChat(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if !a.decode(w, r, &req) {
		return
	}

	if req.Stream {
		a.handleStreamingChat(w, r, req.Message)
		return
	}

	ex, err := a.chat.Send(r.Context(), req.Message, nil)
	if err != nil && ex == nil {
		transport.WriteError(w, err)
		return
	}
	if err != nil {
		// The failure was folded into the transcript and stored.
		debug.Log("transport", "exchange ended with transport error", "error", err)
	}

	toolCalls := ex.ToolCalls
	if toolCalls == nil {
		toolCalls = []api.ToolExchange{}
	}
	transport.WriteJSON(w, http.StatusOK, api.ChatResponse{
		Response:  ex.Text,
		Model:     ex.Model,
		ToolCalls: toolCalls,
		Messages:  ex.Messages,
	})
}

// handleStreamingChat streams the exchange as SSE frames. Errors that
// occur before the first frame are returned as JSON.
func (a *Adapter) handleStreamingChat(w http.ResponseWriter, r *http.Request, message string) {
	defer observability.TrackStream()()

	sw := newSSEWriter(w)
	_, err := a.chat.Send(r.Context(), message, sw.WriteEvent)

	var te *api.TransportError
	switch {
	case err == nil:
	case errors.Is(err, transcript.ErrConsumerGone):
		debug.Log("transport", "client stopped reading the stream", "error", err)
		return
	case !sw.started():
		transport.WriteError(w, err)
		return
	case errors.As(err, &te):
		// Fold records the failure without emitting it.
		debug.Log("transport", "stream ended with transport error", "error", err)
		_ = sw.WriteEvent(api.NewFailure(te.Err.Error()))
	default:
		slog.Warn("stream ended with error", "error", err)
		_ = sw.WriteEvent(api.NewFailure(transport.ToAPIError(err).Message))
	}

	if err := sw.Done(); err != nil {
		debug.Log("transport", "writing [DONE] failed", "error", err)
	}
}

// handleAbort handles POST {prefix}/chat/abort.
func (a *Adapter) handleAbort(w http.ResponseWriter, r *http.Request) {
	id, aborted := a.chat.Abort(r.Context())
	if id == "" {
		conv, err := a.chat.Current(r.Context())
		if err != nil {
			transport.WriteError(w, err)
			return
		}
		id = conv.ID
	}
	transport.WriteJSON(w, http.StatusOK, api.AbortResponse{Aborted: aborted, ConversationID: id})
}

// handleGetModel handles GET {prefix}/model.
func (a *Adapter) handleGetModel(w http.ResponseWriter, r *http.Request) {
	conv, err := a.chat.Current(r.Context())
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, api.ModelInfo{Model: conv.Model})
}

// handleSetModel handles POST {prefix}/model.
func (a *Adapter) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var req api.ModelRequest
	if !a.decode(w, r, &req) {
		return
	}
	conv, err := a.chat.SetModel(r.Context(), req.Model)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, api.ModelInfo{Model: conv.Model})
}

// handleListModels handles GET {prefix}/models.
func (a *Adapter) handleListModels(w http.ResponseWriter, r *http.Request) {
	list := api.ModelList{Object: "list", Data: []api.AvailableModel{}}
	if a.models != nil {
		if models := a.models.ListModels(r.Context()); models != nil {
			list.Data = models
		}
	}
	transport.WriteJSON(w, http.StatusOK, list)
}

// handleGetConversation handles GET {prefix}/conversation?limit=N.
func (a *Adapter) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	limit, apiErr := parseLimit(r, defaultHistoryLimit)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}
	view, err := a.chat.View(r.Context(), limit)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, view)
}

// handleClearConversation handles DELETE {prefix}/conversation.
func (a *Adapter) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := a.chat.Clear(r.Context())
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, api.ClearResponse{
		Status:         "conversation cleared",
		Model:          conv.Model,
		ConversationID: conv.ID,
	})
}

// handleNewConversation handles POST {prefix}/conversation/new.
func (a *Adapter) handleNewConversation(w http.ResponseWriter, r *http.Request) {
	var req api.NewConversationRequest
	if !a.decode(w, r, &req) {
		return
	}
	if _, err := a.chat.NewConversation(r.Context(), req.Model, req.Prompt); err != nil {
		transport.WriteError(w, err)
		return
	}
	a.writeView(w, r, http.StatusCreated)
}

// handleListConversations handles GET {prefix}/conversations?limit=N.
func (a *Adapter) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, apiErr := parseLimit(r, defaultConversationLimit)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}
	summaries, err := a.chat.Conversations(r.Context(), limit)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	if summaries == nil {
		summaries = []api.ConversationSummary{}
	}
	transport.WriteJSON(w, http.StatusOK, api.ConversationList{Object: "list", Data: summaries})
}

// handleLoadConversation handles POST {prefix}/conversations/{id}/load.
func (a *Adapter) handleLoadConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.chat.Switch(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			transport.WriteAPIError(w, api.NewNotFoundError("conversation "+id+" not found"))
			return
		}
		transport.WriteError(w, err)
		return
	}
	a.writeView(w, r, http.StatusOK)
}

// handleListPrompts handles GET {prefix}/prompts.
func (a *Adapter) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	names, err := a.chat.Prompts().List()
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, api.PromptList{Object: "list", Data: names})
}

// handleHealth handles GET /healthz and GET /health.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := api.Health{Status: "healthy"}
	if a.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := a.health.HealthCheck(ctx); err != nil {
			h.Status = "unhealthy"
			h.Error = err.Error()
			transport.WriteJSON(w, http.StatusServiceUnavailable, h)
			return
		}
	}
	if conv, err := a.chat.Current(r.Context()); err == nil {
		h.Model = conv.Model
	}
	transport.WriteJSON(w, http.StatusOK, h)
}

func (a *Adapter) writeView(w http.ResponseWriter, r *http.Request, status int) {
	view, err := a.chat.View(r.Context(), 0)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	transport.WriteJSON(w, status, view)
}

// decode reads a JSON body into v. It writes the error response and
// returns false on failure.
func (a *Adapter) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

// parseLimit reads the limit query parameter. Zero means no limit.
func parseLimit(r *http.Request, def int) (int, *api.APIError) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, api.NewInvalidRequestError("limit", "limit must be a non-negative integer")
	}
	return n, nil
}
