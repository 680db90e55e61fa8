package engine

import (
	"context"
	"fmt"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/provider"
	"github.com/rhuss/alpha/pkg/transcript"
)

// Resolver maps a "provider:model" string to a provider and the
// provider-local model name. *provider.Registry implements it.
type Resolver interface {
	Resolve(model string) (provider.Provider, string, error)
}

// Request is one exchange: a new user message on top of a conversation.
type Request struct {
	// Model is the "provider:model" string. Empty uses Config.DefaultModel.
	Model string

	// SystemPrompt is sent first when non-empty.
	SystemPrompt string

	// History holds the prior messages of the conversation, oldest first,
	// excluding Message.
	History []api.Message

	// Message is the user's new message.
	Message string
}

// Engine runs chat exchanges against providers resolved per request.
type Engine struct {
	resolver Resolver
	cfg      Config
}

// New creates a new Engine. The resolver must not be nil.
func New(resolver Resolver, cfg Config) (*Engine, error) {
	if resolver == nil {
		return nil, fmt.Errorf("engine: resolver must not be nil")
	}
	return &Engine{resolver: resolver, cfg: cfg}, nil
}

// Stream starts an exchange and returns its events. The channel is closed
// after the terminal event, or without one once ctx is cancelled. The
// caller must drain the channel or cancel ctx.
func (e *Engine) Stream(ctx context.Context, req Request) <-chan api.Event {
	out := make(chan api.Event, 16)
	go func() {
		defer close(out)
		e.run(ctx, req, &emitter{ctx: ctx, out: out})
	}()
	return out
}

// Source is Stream adapted to transcript.Source.
func (e *Engine) Source(ctx context.Context, req Request) transcript.Source {
	return transcript.FromChannel(e.Stream(ctx, req))
}

// emitter sends events unless the exchange was cancelled.
type emitter struct {
	ctx context.Context
	out chan<- api.Event
}

func (em *emitter) send(ev api.Event) bool {
	if em.ctx.Err() != nil {
		return false
	}
	select {
	case em.out <- ev:
		return true
	case <-em.ctx.Done():
		return false
	}
}
