package jwt

import (
	"context"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/alpha/pkg/auth"
)

const testSecret = "s3cr3t-signing-key"

func sign(t *testing.T, method jwtlib.SigningMethod, secret string, claims jwtlib.MapClaims) string {
	t.Helper()
	s, err := jwtlib.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return s
}

func validClaims() jwtlib.MapClaims {
	return jwtlib.MapClaims{
		"sub":       "user-123",
		"iss":       "https://auth.example.com",
		"aud":       "alpha",
		"tenant_id": "org-1",
		"scope":     "chat read",
		"exp":       time.Now().Add(time.Hour).Unix(),
		"iat":       time.Now().Unix(),
	}
}

func newTestAuthenticator(t *testing.T, override func(*Config)) *Authenticator {
	t.Helper()
	cfg := Config{Secret: testSecret, Issuer: "https://auth.example.com", Audience: "alpha"}
	if override != nil {
		override(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func authenticate(a *Authenticator, token string) auth.Result {
	r := httptest.NewRequest("GET", "/api/v1/model", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	return a.Authenticate(context.Background(), r)
}

func TestValidToken(t *testing.T) {
	a := newTestAuthenticator(t, nil)

	res := authenticate(a, sign(t, jwtlib.SigningMethodHS256, testSecret, validClaims()))
	if res.Decision != auth.Yes {
		t.Fatalf("Decision = %v, want Yes; err=%v", res.Decision, res.Err)
	}
	if res.Identity.Subject != "user-123" {
		t.Errorf("Subject = %q", res.Identity.Subject)
	}
	if res.Identity.Tenant != "org-1" {
		t.Errorf("Tenant = %q", res.Identity.Tenant)
	}
	if !slices.Equal(res.Identity.Scopes, []string{"chat", "read"}) {
		t.Errorf("Scopes = %v", res.Identity.Scopes)
	}
}

func TestRejectedTokens(t *testing.T) {
	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{"wrong secret", func(t *testing.T) string {
			return sign(t, jwtlib.SigningMethodHS256, "other-secret", validClaims())
		}},
		{"expired", func(t *testing.T) string {
			c := validClaims()
			c["exp"] = time.Now().Add(-time.Minute).Unix()
			return sign(t, jwtlib.SigningMethodHS256, testSecret, c)
		}},
		{"missing exp", func(t *testing.T) string {
			c := validClaims()
			delete(c, "exp")
			return sign(t, jwtlib.SigningMethodHS256, testSecret, c)
		}},
		{"wrong issuer", func(t *testing.T) string {
			c := validClaims()
			c["iss"] = "https://evil.example.com"
			return sign(t, jwtlib.SigningMethodHS256, testSecret, c)
		}},
		{"wrong audience", func(t *testing.T) string {
			c := validClaims()
			c["aud"] = "someone-else"
			return sign(t, jwtlib.SigningMethodHS256, testSecret, c)
		}},
		{"missing subject", func(t *testing.T) string {
			c := validClaims()
			delete(c, "sub")
			return sign(t, jwtlib.SigningMethodHS256, testSecret, c)
		}},
		{"unsigned", func(t *testing.T) string {
			s, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, validClaims()).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
			if err != nil {
				t.Fatal(err)
			}
			return s
		}},
		{"garbage", func(*testing.T) string { return "not.a.jwt" }},
	}

	a := newTestAuthenticator(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := authenticate(a, tt.token(t))
			if res.Decision != auth.No {
				t.Errorf("Decision = %v, want No", res.Decision)
			}
			if res.Err == nil {
				t.Error("Err is nil")
			}
		})
	}
}

func TestHS512Accepted(t *testing.T) {
	a := newTestAuthenticator(t, nil)
	res := authenticate(a, sign(t, jwtlib.SigningMethodHS512, testSecret, validClaims()))
	if res.Decision != auth.Yes {
		t.Errorf("Decision = %v, want Yes; err=%v", res.Decision, res.Err)
	}
}

func TestCustomClaims(t *testing.T) {
	a := newTestAuthenticator(t, func(c *Config) {
		c.UserClaim = "email"
		c.TenantClaim = "org"
		c.ScopesClaim = "permissions"
	})
	c := validClaims()
	c["email"] = "alice@example.com"
	c["org"] = "acme"
	c["permissions"] = []any{"chat", 42, "admin"}

	res := authenticate(a, sign(t, jwtlib.SigningMethodHS256, testSecret, c))
	if res.Decision != auth.Yes {
		t.Fatalf("Decision = %v; err=%v", res.Decision, res.Err)
	}
	if res.Identity.Subject != "alice@example.com" || res.Identity.Tenant != "acme" {
		t.Errorf("identity = %+v", res.Identity)
	}
	if !slices.Equal(res.Identity.Scopes, []string{"chat", "admin"}) {
		t.Errorf("Scopes = %v", res.Identity.Scopes)
	}
}

func TestNoCredentialsAbstains(t *testing.T) {
	a := newTestAuthenticator(t, nil)
	res := a.Authenticate(context.Background(), httptest.NewRequest("GET", "/", nil))
	if res.Decision != auth.Abstain {
		t.Errorf("Decision = %v, want Abstain", res.Decision)
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty secret")
	}
}
