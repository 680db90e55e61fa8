package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/debug"
	"github.com/rhuss/alpha/pkg/engine"
	"github.com/rhuss/alpha/pkg/observability"
	"github.com/rhuss/alpha/pkg/storage"
	"github.com/rhuss/alpha/pkg/transcript"
)

// EventSource starts an exchange. *engine.Engine implements it.
type EventSource interface {
	Source(ctx context.Context, req engine.Request) transcript.Source
}

// ModelValidator checks "provider:model" strings. *provider.Registry
// implements it.
type ModelValidator interface {
	Validate(model string) error
}

// Options configures a Manager.
type Options struct {
	// DefaultModel is used for conversations created without a model.
	DefaultModel string

	// DefaultPrompt is the prompt for the conversation created when a
	// tenant has none yet. Empty means no prompt.
	DefaultPrompt string

	// HubBuffer is the per-subscriber notification buffer (default 16).
	HubBuffer int
}

// Exchange is the outcome of one Send.
type Exchange struct {
	ConversationID string
	Model          string

	// Messages holds the user message followed by the folded transcript.
	Messages []api.Message

	// Text is the assistant text of the exchange.
	Text string

	// ToolCalls lists the resolved tool exchanges in transcript order.
	ToolCalls []api.ToolExchange

	// Stopped is set when the exchange was aborted.
	Stopped bool
}

// Manager tracks the current conversation of each tenant and runs
// exchanges on it.
type Manager struct {
	store    storage.Store
	source   EventSource
	models   ModelValidator
	prompts  *Prompts
	hub      *Hub
	inflight *inflight
	opts     Options

	mu      sync.Mutex
	current map[string]string // tenant -> conversation id
}

// NewManager creates a Manager. store, source and models are required;
// a nil prompts catalog only allows conversations without a prompt.
func NewManager(store storage.Store, source EventSource, models ModelValidator, prompts *Prompts, opts Options) (*Manager, error) {
	if store == nil || source == nil || models == nil {
		return nil, fmt.Errorf("chat: store, source and model validator are required")
	}
	if opts.DefaultModel == "" {
		return nil, fmt.Errorf("chat: default model is required")
	}
	if opts.HubBuffer <= 0 {
		opts.HubBuffer = 16
	}
	return &Manager{
		store:    store,
		source:   source,
		models:   models,
		prompts:  prompts,
		hub:      NewHub(),
		inflight: newInflight(),
		opts:     opts,
		current:  make(map[string]string),
	}, nil
}

// Hub returns the notification hub.
func (m *Manager) Hub() *Hub { return m.hub }

// Prompts returns the prompt catalog.
func (m *Manager) Prompts() *Prompts { return m.prompts }

// Subscribe registers for the messages_added notifications of the
// caller's tenant.
func (m *Manager) Subscribe(ctx context.Context) (<-chan api.MessagesAdded, func()) {
	return m.hub.Subscribe(storage.GetTenant(ctx), m.opts.HubBuffer)
}

// Current returns the tenant's current conversation. On first use it is
// the most recently updated stored conversation, or a new one with the
// default model when the store is empty.
func (m *Manager) Current(ctx context.Context) (*api.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked(ctx)
}

func (m *Manager) currentLocked(ctx context.Context) (*api.Conversation, error) {
	tenant := storage.GetTenant(ctx)
	if id, ok := m.current[tenant]; ok {
		conv, err := m.store.GetConversation(ctx, id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		slog.Warn("current conversation vanished from store", "conversation", id)
		delete(m.current, tenant)
	}

	conv, err := m.store.LatestConversation(ctx)
	switch {
	case err == nil:
		debug.Log("storage", "resumed conversation", "conversation", conv.ID, "messages", len(conv.Messages))
	case errors.Is(err, storage.ErrNotFound):
		conv, err = m.createLocked(ctx, m.opts.DefaultModel, m.opts.DefaultPrompt)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	m.current[tenant] = conv.ID
	return conv, nil
}

// NewConversation creates a conversation and makes it current. An empty
// model uses the default model; prompt is a catalog name or NoPrompt.
func (m *Manager) NewConversation(ctx context.Context, model, prompt string) (*api.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if model == "" {
		model = m.opts.DefaultModel
	}
	conv, err := m.createLocked(ctx, model, prompt)
	if err != nil {
		return nil, err
	}
	m.current[storage.GetTenant(ctx)] = conv.ID
	return conv, nil
}

func (m *Manager) createLocked(ctx context.Context, model, prompt string) (*api.Conversation, error) {
	if err := m.models.Validate(model); err != nil {
		return nil, api.NewInvalidRequestError("model", err.Error())
	}
	file, text, err := m.prompts.Load(prompt)
	if err != nil {
		if errors.Is(err, ErrPromptNotFound) {
			return nil, api.NewInvalidRequestError("prompt", err.Error())
		}
		return nil, err
	}
	return m.insertLocked(ctx, &api.Conversation{
		ID:               api.NewConversationID(),
		Model:            model,
		SystemPromptFile: file,
		SystemPrompt:     text,
	})
}

func (m *Manager) insertLocked(ctx context.Context, conv *api.Conversation) (*api.Conversation, error) {
	if err := m.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	slog.Info("conversation created", "conversation", conv.ID, "model", conv.Model, "prompt", conv.SystemPromptFile)
	return conv, nil
}

// Clear starts a new conversation with the current model and system
// prompt. The prompt text is carried over as captured, not re-read.
func (m *Manager) Clear(ctx context.Context) (*api.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.currentLocked(ctx)
	if err != nil {
		return nil, err
	}
	if m.inflight.active(cur.ID) {
		return nil, fmt.Errorf("conversation %s: %w", cur.ID, api.ErrStreamInProgress)
	}
	conv, err := m.insertLocked(ctx, &api.Conversation{
		ID:               api.NewConversationID(),
		Model:            cur.Model,
		SystemPromptFile: cur.SystemPromptFile,
		SystemPrompt:     cur.SystemPrompt,
	})
	if err != nil {
		return nil, err
	}
	m.current[storage.GetTenant(ctx)] = conv.ID
	return conv, nil
}

// Switch makes the stored conversation id current.
func (m *Manager) Switch(ctx context.Context, id string) (*api.Conversation, error) {
	if !api.ValidateConversationID(id) {
		return nil, api.NewInvalidRequestError("id", fmt.Sprintf("invalid conversation id %q", id))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	m.current[storage.GetTenant(ctx)] = conv.ID
	return conv, nil
}

// SetModel changes the model of the current conversation.
func (m *Manager) SetModel(ctx context.Context, model string) (*api.Conversation, error) {
	if err := m.models.Validate(model); err != nil {
		return nil, api.NewInvalidRequestError("model", err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, err := m.currentLocked(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.store.UpdateModel(ctx, conv.ID, model); err != nil {
		return nil, err
	}
	conv.Model = model
	return conv, nil
}

// Conversations lists stored conversations, most recently updated first.
func (m *Manager) Conversations(ctx context.Context, limit int) ([]api.ConversationSummary, error) {
	return m.store.ListConversations(ctx, limit)
}

// View returns the current conversation with at most its last limit
// messages. A limit of zero or less returns every message.
func (m *Manager) View(ctx context.Context, limit int) (*api.ConversationView, error) {
	conv, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	msgs := conv.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	if msgs == nil {
		msgs = []api.Message{}
	}
	return &api.ConversationView{
		ID:               conv.ID,
		Model:            conv.Model,
		SystemPromptFile: conv.SystemPromptFile,
		SystemPrompt:     conv.SystemPrompt,
		Messages:         msgs,
		TotalMessages:    len(conv.Messages),
	}, nil
}

// Send runs one exchange on the current conversation. emit, when not nil,
// receives every event before it is folded; an emit error stops the
// exchange like an abort. The user message is stored before the exchange
// starts and the folded messages after it ends, also when ctx is cancelled.
//
// A cancelled exchange returns its Exchange with Stopped set and a nil
// error. After an emit error the Exchange is also Stopped and the error
// wraps transcript.ErrConsumerGone. A transport failure returns the
// Exchange together with the error.
func (m *Manager) Send(ctx context.Context, message string, emit func(api.Event) error) (*Exchange, error) {
	if strings.TrimSpace(message) == "" {
		return nil, api.NewInvalidRequestError("message", "message must not be empty")
	}

	conv, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	release, ok := m.inflight.start(conv.ID, cancel)
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conv.ID, api.ErrStreamInProgress)
	}
	defer release()

	user := api.Message{ID: api.NewMessageID(), Role: api.RoleUser, Content: message}
	if err := m.store.AppendMessages(ctx, conv.ID, user); err != nil {
		return nil, fmt.Errorf("storing user message: %w", err)
	}

	src := m.source.Source(streamCtx, engine.Request{
		Model:        conv.Model,
		SystemPrompt: conv.SystemPrompt,
		History:      conv.Messages,
		Message:      message,
	})
	if emit != nil {
		src = transcript.Tee(src, emit)
	}

	b := transcript.New()
	foldErr := transcript.Fold(streamCtx, src, b)
	gone := errors.Is(foldErr, transcript.ErrConsumerGone)
	stopped := gone || errors.Is(foldErr, context.Canceled)
	observability.StreamOutcomesTotal.WithLabelValues(outcome(foldErr, b)).Inc()

	msgs := b.Messages()
	for _, msg := range msgs {
		observability.TranscriptMessagesTotal.WithLabelValues(string(msg.Role)).Inc()
	}

	// The request context may already be cancelled by an abort or a
	// disconnect; the transcript is stored regardless.
	persistCtx := context.WithoutCancel(ctx)
	if len(msgs) > 0 {
		if err := m.store.AppendMessages(persistCtx, conv.ID, msgs...); err != nil {
			return nil, fmt.Errorf("storing transcript: %w", err)
		}
	}

	all := append([]api.Message{user}, msgs...)
	m.hub.Publish(storage.GetTenant(ctx), api.MessagesAdded{
		Type:           api.MessagesAddedType,
		ConversationID: conv.ID,
		Messages:       api.CloneMessages(all),
	})
	debug.Log("engine", "exchange finished",
		"conversation", conv.ID, "messages", len(msgs), "stopped", stopped, "error", foldErr)

	ex := &Exchange{
		ConversationID: conv.ID,
		Model:          conv.Model,
		Messages:       all,
		Text:           b.Text(),
		ToolCalls:      b.Exchanges(),
		Stopped:        stopped,
	}
	if stopped && !gone {
		return ex, nil
	}
	return ex, foldErr
}

// Abort cancels the running exchange of the tenant's current
// conversation. It returns the conversation id and whether an exchange
// was running.
func (m *Manager) Abort(ctx context.Context) (string, bool) {
	m.mu.Lock()
	id, ok := m.current[storage.GetTenant(ctx)]
	m.mu.Unlock()
	if !ok {
		return "", false
	}
	return id, m.AbortConversation(id)
}

// AbortConversation cancels the running exchange of conversation id.
func (m *Manager) AbortConversation(id string) bool {
	aborted := m.inflight.cancel(id)
	if aborted {
		slog.Info("exchange aborted", "conversation", id)
	}
	return aborted
}

func outcome(err error, b *transcript.Builder) string {
	var te *api.TransportError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, transcript.ErrConsumerGone):
		return "cancelled"
	case errors.As(err, &te):
		return "transport_error"
	case err != nil:
		return "failed"
	}
	msgs := b.Messages()
	if n := len(msgs); n > 0 && msgs[n-1].Role == api.RoleError {
		return "failed"
	}
	return "completed"
}
