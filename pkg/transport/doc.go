// Package transport holds the HTTP plumbing shared by the alpha API
// adapters: error envelopes and the status mapping for api.APIError, and
// the request middleware chain (panic recovery, X-Request-ID assignment
// and structured request logging via log/slog).
//
// Routing and the chat endpoints live in pkg/transport/http.
package transport
