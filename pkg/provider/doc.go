// Package provider defines the protocol-agnostic interface for model
// backends and the registry that resolves "provider:model" strings to a
// configured backend. Adapters (see openaicompat) translate the shared
// types (ProviderRequest, ProviderEvent) to their wire protocol, keeping
// protocol details invisible to the engine.
package provider
