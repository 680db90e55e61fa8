package provider

import (
	"context"
)

// Provider abstracts a model backend reachable through a streaming chat
// protocol. Each adapter handles its own wire format internally.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "ollama").
	Name() string

	// Stream performs one streaming inference turn. The returned channel
	// receives ProviderEvent values and is closed by the provider when the
	// turn completes, fails, or ctx is cancelled.
	Stream(ctx context.Context, req *ProviderRequest) (<-chan ProviderEvent, error)

	// ListModels returns the models the backend serves.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Close releases provider resources (HTTP clients, connections).
	Close() error
}
