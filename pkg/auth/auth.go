package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Decision is the vote of an Authenticator.
type Decision int

const (
	// Abstain means the authenticator found no credentials it handles.
	// The chain continues.
	Abstain Decision = iota

	// Yes means the credentials are valid. The chain stops.
	Yes

	// No means credentials are present but invalid. The chain stops and
	// the request is rejected.
	No
)

func (d Decision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "abstain"
	}
}

// Result carries the outcome of an authentication attempt.
type Result struct {
	Decision Decision
	Identity *Identity // set when Decision is Yes
	Err      error     // set when Decision is No
}

// Identity is an authenticated caller.
type Identity struct {
	// Subject identifies the caller and must not be empty.
	Subject string

	// Tenant scopes the caller's conversations. Empty shares the default
	// tenant.
	Tenant string

	Scopes []string
}

// Anonymous is the identity admitted when every authenticator abstains
// and the chain allows anonymous access.
var Anonymous = Identity{Subject: "anonymous"}

// Authenticator examines request credentials and votes.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

// ErrUnauthenticated is returned when no authenticator accepted the request.
var ErrUnauthenticated = errors.New("authentication required")

// Chain evaluates authenticators in order.
type Chain struct {
	Authenticators []Authenticator

	// AllowAnonymous admits requests on which every authenticator
	// abstained.
	AllowAnonymous bool
}

// Authenticate runs the chain and stops on the first Yes or No.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, authn := range c.Authenticators {
		if res := authn.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}
	if c.AllowAnonymous {
		id := Anonymous
		return Result{Decision: Yes, Identity: &id}
	}
	return Result{Decision: No, Err: ErrUnauthenticated}
}

// AccessTokenParam is the query parameter accepted as a credential on
// WebSocket upgrades, where browsers cannot set headers.
const AccessTokenParam = "access_token"

// Credential returns the token presented with r: a Bearer Authorization
// header, an X-API-Key header, or the access_token query parameter on a
// WebSocket upgrade. present is false when r carries none of them.
func Credential(r *http.Request) (token string, present bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, rest, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		return strings.TrimSpace(rest), true
	}
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k, true
	}
	if isUpgrade(r) {
		if q := r.URL.Query(); q.Has(AccessTokenParam) {
			return q.Get(AccessTokenParam), true
		}
	}
	return "", false
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
