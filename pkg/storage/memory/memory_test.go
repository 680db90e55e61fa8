package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/storage"
	"github.com/rhuss/alpha/pkg/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return New(0) })
}

func TestEvictsLeastRecentlyUpdated(t *testing.T) {
	s := New(2)
	ctx := context.Background()

	a := &api.Conversation{ID: "a", Model: "m:x"}
	b := &api.Conversation{ID: "b", Model: "m:x"}
	c := &api.Conversation{ID: "c", Model: "m:x"}

	for _, conv := range []*api.Conversation{a, b} {
		if err := s.CreateConversation(ctx, conv); err != nil {
			t.Fatal(err)
		}
	}
	// Touch a so that b becomes the eviction candidate.
	if err := s.AppendMessages(ctx, "a", api.Message{ID: "1", Role: api.RoleUser}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateConversation(ctx, c); err != nil {
		t.Fatal(err)
	}

	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if _, err := s.GetConversation(ctx, "b"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("b should have been evicted, got %v", err)
	}
	if _, err := s.GetConversation(ctx, "a"); err != nil {
		t.Errorf("a should survive: %v", err)
	}
}

func TestCreateRequiresID(t *testing.T) {
	if err := New(0).CreateConversation(context.Background(), &api.Conversation{}); err == nil {
		t.Error("expected error for empty id")
	}
}
