package auth

import (
	"log/slog"
	"net/http"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/debug"
	"github.com/rhuss/alpha/pkg/storage"
	"github.com/rhuss/alpha/pkg/transport"
)

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/health", "/metrics"}

// Middleware authenticates every request outside bypassEndpoints with
// chain, stores the identity in the context and scopes storage to its
// tenant. CORS preflight requests pass through unauthenticated.
func Middleware(chain *Chain, bypassEndpoints []string) transport.Middleware {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			res := chain.Authenticate(r.Context(), r)
			if res.Decision != Yes || res.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", res.Err,
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="alpha"`)
				transport.WriteAPIError(w, api.NewUnauthorizedError("authentication required"))
				return
			}
			if res.Identity.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
				return
			}

			debug.Log("auth", "authenticated",
				"subject", res.Identity.Subject,
				"tenant", res.Identity.Tenant,
				"path", r.URL.Path,
			)

			ctx := SetIdentity(r.Context(), res.Identity)
			if res.Identity.Tenant != "" {
				ctx = storage.SetTenant(ctx, res.Identity.Tenant)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
