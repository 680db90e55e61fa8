package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// stubAuthn returns a fixed result and counts its calls.
type stubAuthn struct {
	result Result
	calls  int
}

func (s *stubAuthn) Authenticate(context.Context, *http.Request) Result {
	s.calls++
	return s.result
}

func TestChain(t *testing.T) {
	yes := Result{Decision: Yes, Identity: &Identity{Subject: "alice"}}
	no := Result{Decision: No, Err: ErrUnauthenticated}
	abstain := Result{Decision: Abstain}

	tests := []struct {
		name      string
		results   []Result
		anonymous bool
		want      Decision
		subject   string
		laterRuns bool
	}{
		{"first yes stops", []Result{yes, no}, false, Yes, "alice", false},
		{"first no stops", []Result{no, yes}, false, No, "", false},
		{"abstain then yes", []Result{abstain, yes}, false, Yes, "alice", true},
		{"all abstain rejects", []Result{abstain, abstain}, false, No, "", true},
		{"all abstain anonymous", []Result{abstain}, true, Yes, "anonymous", true},
		{"empty chain rejects", nil, false, No, "", true},
		{"empty chain anonymous", nil, true, Yes, "anonymous", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stubs []*stubAuthn
			chain := &Chain{AllowAnonymous: tt.anonymous}
			for _, r := range tt.results {
				s := &stubAuthn{result: r}
				stubs = append(stubs, s)
				chain.Authenticators = append(chain.Authenticators, s)
			}

			res := chain.Authenticate(context.Background(), httptest.NewRequest("GET", "/", nil))
			if res.Decision != tt.want {
				t.Fatalf("Decision = %v, want %v", res.Decision, tt.want)
			}
			if tt.want == Yes && res.Identity.Subject != tt.subject {
				t.Errorf("Subject = %q, want %q", res.Identity.Subject, tt.subject)
			}
			if tt.want == No && !tt.laterRuns && res.Err == nil {
				t.Error("Err is nil")
			}
			if len(stubs) > 1 && !tt.laterRuns && stubs[1].calls != 0 {
				t.Error("chain continued after a decisive vote")
			}
		})
	}
}

func TestChainDefaultRejectError(t *testing.T) {
	res := (&Chain{}).Authenticate(context.Background(), httptest.NewRequest("GET", "/", nil))
	if !errors.Is(res.Err, ErrUnauthenticated) {
		t.Errorf("Err = %v, want ErrUnauthenticated", res.Err)
	}
}

func TestAnonymousIsCopied(t *testing.T) {
	chain := &Chain{AllowAnonymous: true}
	res := chain.Authenticate(context.Background(), httptest.NewRequest("GET", "/", nil))
	res.Identity.Tenant = "mutated"
	if Anonymous.Tenant != "" {
		t.Error("anonymous identity shared between results")
	}
}

func TestCredential(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		headers     map[string]string
		wantToken   string
		wantPresent bool
	}{
		{"bearer", "/", map[string]string{"Authorization": "Bearer abc"}, "abc", true},
		{"bearer lowercase scheme", "/", map[string]string{"Authorization": "bearer abc"}, "abc", true},
		{"empty bearer", "/", map[string]string{"Authorization": "Bearer "}, "", true},
		{"basic", "/", map[string]string{"Authorization": "Basic abc"}, "", false},
		{"api key header", "/", map[string]string{"X-API-Key": "k1"}, "k1", true},
		{"query on upgrade", "/ws?access_token=t1", map[string]string{"Upgrade": "websocket"}, "t1", true},
		{"query without upgrade", "/ws?access_token=t1", nil, "", false},
		{"none", "/", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			token, present := Credential(r)
			if token != tt.wantToken || present != tt.wantPresent {
				t.Errorf("Credential() = (%q, %v), want (%q, %v)", token, present, tt.wantToken, tt.wantPresent)
			}
		})
	}
}

func TestIdentityContext(t *testing.T) {
	if IdentityFromContext(context.Background()) != nil {
		t.Error("expected nil identity in empty context")
	}
	id := &Identity{Subject: "bob", Tenant: "org-2"}
	got := IdentityFromContext(SetIdentity(context.Background(), id))
	if got != id {
		t.Errorf("IdentityFromContext = %+v, want %+v", got, id)
	}
}
