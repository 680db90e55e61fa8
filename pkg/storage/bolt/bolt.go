// Package bolt provides a storage.Store on a single bbolt file. Headers
// live in the "conversations" bucket; each conversation's messages live in
// a nested bucket under "messages", keyed by bucket sequence.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/storage"
)

var (
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
)

// header is the stored form of a conversation without its messages.
type header struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id,omitempty"`
	Model            string    `json:"model"`
	SystemPromptFile string    `json:"system_prompt_file,omitempty"`
	SystemPrompt     string    `json:"system_prompt,omitempty"`
	MessageCount     int       `json:"message_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Store is a bbolt-backed storage.Store.
type Store struct {
	db *bolt.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketConversations, bucketMessages} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateConversation stores the header and any initial messages.
func (s *Store) CreateConversation(ctx context.Context, conv *api.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		convs := tx.Bucket(bucketConversations)
		if convs.Get([]byte(conv.ID)) != nil {
			return storage.ErrConflict
		}
		h := header{
			ID:               conv.ID,
			TenantID:         storage.GetTenant(ctx),
			Model:            conv.Model,
			SystemPromptFile: conv.SystemPromptFile,
			SystemPrompt:     conv.SystemPrompt,
			CreatedAt:        conv.CreatedAt,
			UpdatedAt:        conv.UpdatedAt,
		}
		msgs, err := tx.Bucket(bucketMessages).CreateBucket([]byte(conv.ID))
		if err != nil {
			return fmt.Errorf("creating message bucket: %w", err)
		}
		if err := putMessages(msgs, conv.Messages); err != nil {
			return err
		}
		h.MessageCount = len(conv.Messages)
		return putHeader(convs, h)
	})
}

// AppendMessages appends msgs in one transaction.
func (s *Store) AppendMessages(ctx context.Context, id string, msgs ...api.Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		convs := tx.Bucket(bucketConversations)
		h, ok, err := getHeader(ctx, convs, id)
		if err != nil {
			return err
		}
		if !ok {
			return storage.ErrNotFound
		}
		b := tx.Bucket(bucketMessages).Bucket([]byte(id))
		if b == nil {
			return fmt.Errorf("message bucket missing for %s", id)
		}
		if err := putMessages(b, msgs); err != nil {
			return err
		}
		h.MessageCount += len(msgs)
		h.UpdatedAt = time.Now().UTC()
		return putHeader(convs, h)
	})
}

// GetConversation loads a conversation and its messages in order.
func (s *Store) GetConversation(ctx context.Context, id string) (*api.Conversation, error) {
	var conv *api.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		h, ok, err := getHeader(ctx, tx.Bucket(bucketConversations), id)
		if err != nil {
			return err
		}
		if !ok {
			return storage.ErrNotFound
		}
		conv, err = loadConversation(tx, h)
		return err
	})
	return conv, err
}

// LatestConversation loads the most recently updated conversation.
func (s *Store) LatestConversation(ctx context.Context) (*api.Conversation, error) {
	var conv *api.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		headers, err := tenantHeaders(ctx, tx)
		if err != nil {
			return err
		}
		if len(headers) == 0 {
			return storage.ErrNotFound
		}
		conv, err = loadConversation(tx, headers[0])
		return err
	})
	return conv, err
}

// ListConversations returns summaries, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]api.ConversationSummary, error) {
	out := []api.ConversationSummary{}
	err := s.db.View(func(tx *bolt.Tx) error {
		headers, err := tenantHeaders(ctx, tx)
		if err != nil {
			return err
		}
		if limit > 0 && len(headers) > limit {
			headers = headers[:limit]
		}
		for _, h := range headers {
			out = append(out, api.ConversationSummary{
				ID:               h.ID,
				Model:            h.Model,
				SystemPromptFile: h.SystemPromptFile,
				MessageCount:     h.MessageCount,
				CreatedAt:        h.CreatedAt,
				UpdatedAt:        h.UpdatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateModel changes the model of a conversation.
func (s *Store) UpdateModel(ctx context.Context, id, model string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		convs := tx.Bucket(bucketConversations)
		h, ok, err := getHeader(ctx, convs, id)
		if err != nil {
			return err
		}
		if !ok {
			return storage.ErrNotFound
		}
		h.Model = model
		h.UpdatedAt = time.Now().UTC()
		return putHeader(convs, h)
	})
}

// HealthCheck runs a read transaction.
func (s *Store) HealthCheck(context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func getHeader(ctx context.Context, convs *bolt.Bucket, id string) (header, bool, error) {
	v := convs.Get([]byte(id))
	if v == nil {
		return header{}, false, nil
	}
	var h header
	if err := json.Unmarshal(v, &h); err != nil {
		return header{}, false, fmt.Errorf("decoding conversation %s: %w", id, err)
	}
	if h.TenantID != storage.GetTenant(ctx) {
		return header{}, false, nil
	}
	return h, true, nil
}

func putHeader(convs *bolt.Bucket, h header) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}
	return convs.Put([]byte(h.ID), data)
}

// tenantHeaders returns the caller's headers, most recently updated first.
func tenantHeaders(ctx context.Context, tx *bolt.Tx) ([]header, error) {
	tenant := storage.GetTenant(ctx)
	var out []header
	err := tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
		var h header
		if err := json.Unmarshal(v, &h); err != nil {
			return fmt.Errorf("decoding conversation %s: %w", k, err)
		}
		if h.TenantID == tenant {
			out = append(out, h)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, err
}

func putMessages(b *bolt.Bucket, msgs []api.Message) error {
	for _, m := range msgs {
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encoding message: %w", err)
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}
	}
	return nil
}

func loadConversation(tx *bolt.Tx, h header) (*api.Conversation, error) {
	conv := &api.Conversation{
		ID:               h.ID,
		Model:            h.Model,
		SystemPromptFile: h.SystemPromptFile,
		SystemPrompt:     h.SystemPrompt,
		CreatedAt:        h.CreatedAt,
		UpdatedAt:        h.UpdatedAt,
	}
	b := tx.Bucket(bucketMessages).Bucket([]byte(h.ID))
	if b == nil {
		return conv, nil
	}
	err := b.ForEach(func(_, v []byte) error {
		var m api.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return fmt.Errorf("decoding message: %w", err)
		}
		if len(m.ToolCalls) == 0 {
			m.ToolCalls = nil
		}
		conv.Messages = append(conv.Messages, m)
		return nil
	})
	return conv, err
}

// seqKey encodes seq big-endian so cursor order is insertion order.
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
