// Package jwt authenticates requests carrying HMAC-signed JWT bearer
// tokens.
//
// Tokens are verified with a shared secret (HS256, HS384 or HS512). The
// subject, tenant and scopes are read from configurable claims.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/alpha/pkg/auth"
	"github.com/rhuss/alpha/pkg/debug"
)

// Config holds the JWT authenticator configuration.
type Config struct {
	// Secret is the HMAC signing key.
	Secret string `yaml:"secret"`

	// SecretFile reads Secret from a file.
	SecretFile string `yaml:"secret_file"`

	// Issuer is the expected iss claim. Empty skips the check.
	Issuer string `yaml:"issuer"`

	// Audience is the expected aud claim. Empty skips the check.
	Audience string `yaml:"audience"`

	// UserClaim holds the subject. Default "sub".
	UserClaim string `yaml:"user_claim"`

	// TenantClaim holds the tenant. Default "tenant_id".
	TenantClaim string `yaml:"tenant_claim"`

	// ScopesClaim holds the scopes, as a space-separated string or an
	// array. Default "scope".
	ScopesClaim string `yaml:"scopes_claim"`
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
}

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	config Config
	key    []byte
	parser *jwtlib.Parser
}

// New creates a JWT authenticator. The secret must not be empty.
func New(cfg Config) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret is required")
	}
	cfg.applyDefaults()

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwtlib.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}

	return &Authenticator{
		config: cfg,
		key:    []byte(cfg.Secret),
		parser: jwtlib.NewParser(opts...),
	}, nil
}

// Authenticate abstains without a credential, votes No on a token that
// does not verify and Yes with the identity from its claims otherwise.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	tokenStr, ok := auth.Credential(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if tokenStr == "" {
		return auth.Result{Decision: auth.No, Err: errors.New("empty bearer token")}
	}

	claims := jwtlib.MapClaims{}
	token, err := a.parser.ParseWithClaims(tokenStr, claims, func(*jwtlib.Token) (any, error) {
		return a.key, nil
	})
	if err != nil || !token.Valid {
		debug.Log("auth", "JWT validation failed", "error", err)
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("invalid JWT: %w", err)}
	}

	subject := claimString(claims, a.config.UserClaim)
	if subject == "" {
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("JWT missing %q claim", a.config.UserClaim)}
	}

	return auth.Result{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject: subject,
			Tenant:  claimString(claims, a.config.TenantClaim),
			Scopes:  extractScopes(claims, a.config.ScopesClaim),
		},
	}
}

func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// extractScopes reads a space-separated string or a string array.
func extractScopes(claims jwtlib.MapClaims, key string) []string {
	switch v := claims[key].(type) {
	case string:
		if parts := strings.Fields(v); len(parts) > 0 {
			return parts
		}
	case []any:
		var scopes []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	}
	return nil
}
