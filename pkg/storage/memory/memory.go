// Package memory provides an in-memory conversation store for tests and
// lightweight deployments. Conversations are lost when the process
// restarts. Optional eviction of the least recently updated conversation
// limits memory usage.
package memory

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/storage"
)

// entry holds a stored conversation and its metadata.
type entry struct {
	conv     *api.Conversation
	tenantID string
	lruElem  *list.Element
}

// Store is an in-memory storage.Store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lruList *list.List // front = most recently updated
	maxSize int        // 0 = unlimited
	now     func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit; otherwise the least recently updated conversation is
// evicted when the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateConversation stores a copy of conv.
func (s *Store) CreateConversation(ctx context.Context, conv *api.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("conversation id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[conv.ID]; exists {
		return storage.ErrConflict
	}
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	c := conv.Clone()
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	conv.CreatedAt, conv.UpdatedAt = c.CreatedAt, c.UpdatedAt

	s.entries[c.ID] = &entry{
		conv:     c,
		tenantID: storage.GetTenant(ctx),
		lruElem:  s.lruList.PushFront(c.ID),
	}
	return nil
}

// AppendMessages appends copies of msgs to the conversation.
func (s *Store) AppendMessages(ctx context.Context, id string, msgs ...api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(ctx, id)
	if !ok {
		return storage.ErrNotFound
	}
	e.conv.Messages = append(e.conv.Messages, api.CloneMessages(msgs)...)
	s.touch(e)
	return nil
}

// GetConversation returns a deep copy of the conversation.
func (s *Store) GetConversation(ctx context.Context, id string) (*api.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.lookup(ctx, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e.conv.Clone(), nil
}

// LatestConversation returns the most recently updated conversation of
// the caller's tenant.
func (s *Store) LatestConversation(ctx context.Context) (*api.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant := storage.GetTenant(ctx)
	for el := s.lruList.Front(); el != nil; el = el.Next() {
		e := s.entries[el.Value.(string)]
		if e.tenantID == tenant {
			return e.conv.Clone(), nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListConversations returns summaries, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]api.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant := storage.GetTenant(ctx)
	out := []api.ConversationSummary{}
	for el := s.lruList.Front(); el != nil; el = el.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		e := s.entries[el.Value.(string)]
		if e.tenantID != tenant {
			continue
		}
		out = append(out, api.ConversationSummary{
			ID:               e.conv.ID,
			Model:            e.conv.Model,
			SystemPromptFile: e.conv.SystemPromptFile,
			MessageCount:     len(e.conv.Messages),
			CreatedAt:        e.conv.CreatedAt,
			UpdatedAt:        e.conv.UpdatedAt,
		})
	}
	return out, nil
}

// UpdateModel changes the model of a conversation.
func (s *Store) UpdateModel(ctx context.Context, id, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(ctx, id)
	if !ok {
		return storage.ErrNotFound
	}
	e.conv.Model = model
	s.touch(e)
	return nil
}

// HealthCheck always succeeds.
func (s *Store) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Len returns the number of stored conversations across all tenants.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// lookup must be called with the lock held.
func (s *Store) lookup(ctx context.Context, id string) (*entry, bool) {
	e, ok := s.entries[id]
	if !ok || e.tenantID != storage.GetTenant(ctx) {
		return nil, false
	}
	return e, true
}

// touch marks e as most recently updated. The lock must be held.
func (s *Store) touch(e *entry) {
	e.conv.UpdatedAt = s.now()
	s.lruList.MoveToFront(e.lruElem)
}

// evictOldest removes the least recently updated conversation. The lock
// must be held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
}
