package integration

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/client"
)

func TestHealthEndpoint(t *testing.T) {
	// Health bypasses authentication.
	h, err := client.New(testEnv.APIURL()).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "healthy" {
		t.Errorf("status = %q, want healthy", h.Status)
	}
}

func TestHealthzNoAuth(t *testing.T) {
	resp, err := http.Get(testEnv.AlphaServer.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 without auth, got %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"no key", ""},
		{"wrong key", "not-a-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []client.Option
			if tt.key != "" {
				opts = append(opts, client.WithToken(tt.key))
			}
			_, err := client.New(testEnv.APIURL(), opts...).Model(context.Background())
			var apiErr *api.APIError
			if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeUnauthorized {
				t.Errorf("err = %v, want unauthorized", err)
			}
		})
	}
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	alice := newClient(t, keyAlice)
	bob := newClient(t, keyBob)

	if _, err := alice.Chat(ctx, "secret plans"); err != nil {
		t.Fatalf("alice Chat: %v", err)
	}
	aliceView, err := alice.Conversation(ctx, 0)
	if err != nil {
		t.Fatalf("alice Conversation: %v", err)
	}

	// Bob's current conversation is his own.
	bobView, err := bob.Conversation(ctx, 0)
	if err != nil {
		t.Fatalf("bob Conversation: %v", err)
	}
	if bobView.ID == aliceView.ID || bobView.TotalMessages != 0 {
		t.Errorf("bob sees %+v", bobView)
	}

	// Alice's conversation is invisible to bob.
	_, err = bob.LoadConversation(ctx, aliceView.ID)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeNotFound {
		t.Errorf("bob loading alice's conversation: err = %v, want not_found", err)
	}
	list, err := bob.Conversations(ctx, 0)
	if err != nil {
		t.Fatalf("bob Conversations: %v", err)
	}
	for _, s := range list {
		if s.ID == aliceView.ID {
			t.Errorf("alice's conversation listed for bob")
		}
	}
}
