package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rhuss/alpha/pkg/auth/apikey"
	"github.com/rhuss/alpha/pkg/config"
	"github.com/rhuss/alpha/pkg/transport"
)

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		backend string
	}{
		{"memory", config.StorageConfig{Type: "memory"}, "memory"},
		{"sqlite", config.StorageConfig{Type: "sqlite", SQLite: config.PathConfig{Path: filepath.Join(dir, "alpha.db")}}, "sqlite"},
		{"bolt", config.StorageConfig{Type: "bolt", Bolt: config.PathConfig{Path: filepath.Join(dir, "alpha.bolt")}}, "bolt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, backend, err := openStore(ctx, tt.cfg)
			if err != nil {
				t.Fatalf("openStore: %v", err)
			}
			defer store.Close()

			if backend != tt.backend {
				t.Errorf("backend = %q, want %q", backend, tt.backend)
			}
			if err := store.HealthCheck(ctx); err != nil {
				t.Errorf("HealthCheck: %v", err)
			}
		})
	}

	if _, _, err := openStore(context.Background(), config.StorageConfig{Type: "redis"}); err == nil {
		t.Error("openStore(redis) expected error")
	}
}

func TestBuildAuthChain(t *testing.T) {
	chain, err := buildAuthChain(config.AuthConfig{Type: "none"})
	if err != nil || chain != nil {
		t.Errorf("none: chain = %v, err = %v, want nil, nil", chain, err)
	}

	if _, err := buildAuthChain(config.AuthConfig{Type: "jwt"}); err == nil {
		t.Error("jwt without secret: expected error")
	}

	chain, err = buildAuthChain(config.AuthConfig{Type: "apikey", APIKeys: []apikey.Key{{Key: "sk-1", Subject: "ops"}}})
	if err != nil || chain == nil {
		t.Fatalf("apikey: chain = %v, err = %v", chain, err)
	}
}

func TestMiddlewareProtectsAPI(t *testing.T) {
	cfg := config.Defaults()
	cfg.Auth.Type = "apikey"
	cfg.Auth.APIKeys = []apikey.Key{{Key: "sk-1", Subject: "ops"}}

	mw, err := buildMiddleware(&cfg)
	if err != nil {
		t.Fatalf("buildMiddleware: %v", err)
	}
	h := transport.Chain(mw...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		path   string
		key    string
		status int
	}{
		{"/api/v1/model", "", http.StatusUnauthorized},
		{"/api/v1/model", "sk-1", http.StatusNoContent},
		{"/health", "", http.StatusNoContent},
		{"/metrics", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.key != "" {
			req.Header.Set("Authorization", "Bearer "+tt.key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.status {
			t.Errorf("GET %s (key %q) = %d, want %d", tt.path, tt.key, rec.Code, tt.status)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("GET %s: CORS header missing", tt.path)
		}
	}
}
