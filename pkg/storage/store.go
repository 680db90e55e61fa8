package storage

import (
	"context"

	"github.com/rhuss/alpha/pkg/api"
)

// Store persists conversations. Every method is scoped to the tenant of
// ctx (see SetTenant). Implementations must be safe for concurrent use.
type Store interface {
	// CreateConversation stores a new conversation header and any messages
	// it already holds. CreatedAt and UpdatedAt are set by the store when
	// zero. It returns ErrConflict if the ID is taken.
	CreateConversation(ctx context.Context, conv *api.Conversation) error

	// AppendMessages appends msgs to the conversation log in order, as a
	// single atomic write, and advances UpdatedAt. It returns ErrNotFound
	// for an unknown conversation.
	AppendMessages(ctx context.Context, id string, msgs ...api.Message) error

	// GetConversation loads a conversation with its full message log.
	GetConversation(ctx context.Context, id string) (*api.Conversation, error)

	// LatestConversation loads the most recently updated conversation. It
	// returns ErrNotFound when there is none.
	LatestConversation(ctx context.Context) (*api.Conversation, error)

	// ListConversations returns summaries, most recently updated first.
	// A limit of zero or less returns all.
	ListConversations(ctx context.Context, limit int) ([]api.ConversationSummary, error)

	// UpdateModel changes the model of a conversation.
	UpdateModel(ctx context.Context, id, model string) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
