// Package apikey authenticates requests against a static set of API keys.
// Keys are kept as SHA-256 hashes and compared in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/rhuss/alpha/pkg/auth"
)

// Key is the configuration of one API key.
type Key struct {
	Key     string `yaml:"key"`
	KeyFile string `yaml:"key_file"`
	Subject string `yaml:"subject"`
	Tenant  string `yaml:"tenant"`
}

type entry struct {
	hash     [32]byte
	identity auth.Identity
}

// Authenticator validates API keys.
type Authenticator struct {
	keys []entry
}

// New creates an authenticator for keys. Empty keys are ignored; a key
// without a subject authenticates as "apikey".
func New(keys []Key) *Authenticator {
	a := &Authenticator{}
	for _, k := range keys {
		if k.Key == "" {
			continue
		}
		subject := k.Subject
		if subject == "" {
			subject = "apikey"
		}
		a.keys = append(a.keys, entry{
			hash:     sha256.Sum256([]byte(k.Key)),
			identity: auth.Identity{Subject: subject, Tenant: k.Tenant},
		})
	}
	return a
}

// Authenticate abstains without a credential and votes No on an unknown
// or empty key.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	token, ok := auth.Credential(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if token == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	h := sha256.Sum256([]byte(token))
	for _, e := range a.keys {
		if subtle.ConstantTimeCompare(h[:], e.hash[:]) == 1 {
			id := e.identity
			return auth.Result{Decision: auth.Yes, Identity: &id}
		}
	}
	return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
}
