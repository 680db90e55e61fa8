// Package sqlite provides a storage.Store on a single SQLite file using the
// pure-Go modernc.org/sqlite driver. It is the default backend for the
// single-user chat server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL DEFAULT '',
  model TEXT NOT NULL,
  system_prompt_file TEXT NOT NULL DEFAULT '',
  system_prompt TEXT NOT NULL DEFAULT '',
  message_count INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_tenant_updated ON conversations(tenant_id, updated_at);
CREATE TABLE IF NOT EXISTS messages (
  conversation_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  id TEXT NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL DEFAULT '',
  tool_calls TEXT NOT NULL DEFAULT '[]',
  error_details TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (conversation_id, seq)
);`

// Store is a SQLite-backed storage.Store. Timestamps are stored as Unix
// nanoseconds.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

func dsn(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// CreateConversation inserts the header and any initial messages.
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

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO conversations (id, tenant_id, model, system_prompt_file, system_prompt, message_count, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
			conv.ID, storage.GetTenant(ctx), conv.Model, conv.SystemPromptFile, conv.SystemPrompt,
			len(conv.Messages), nanos(conv.CreatedAt), nanos(conv.UpdatedAt))
		if err != nil {
			return fmt.Errorf("inserting conversation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrConflict
		}
		return insertMessages(ctx, tx, conv.ID, 0, conv.Messages)
	})
}

// AppendMessages appends msgs after the last stored sequence number.
func (s *Store) AppendMessages(ctx context.Context, id string, msgs ...api.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRowContext(ctx,
			`SELECT message_count FROM conversations WHERE id = ? AND tenant_id = ?`,
			id, storage.GetTenant(ctx)).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("querying conversation: %w", err)
		}

		if err := insertMessages(ctx, tx, id, count, msgs); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET message_count = ?, updated_at = ? WHERE id = ?`,
			count+len(msgs), nanos(time.Now()), id)
		if err != nil {
			return fmt.Errorf("updating conversation: %w", err)
		}
		return nil
	})
}

func insertMessages(ctx context.Context, tx *sql.Tx, convID string, firstSeq int, msgs []api.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO messages (conversation_id, seq, id, role, content, tool_calls, error_details)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range msgs {
		toolCalls, err := storage.MarshalToolCalls(m.ToolCalls)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, convID, firstSeq+i, m.ID, string(m.Role), m.Content, string(toolCalls), m.ErrorDetails); err != nil {
			return fmt.Errorf("inserting message %d: %w", firstSeq+i, err)
		}
	}
	return nil
}

// GetConversation loads a conversation and its messages in order.
func (s *Store) GetConversation(ctx context.Context, id string) (*api.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, model, system_prompt_file, system_prompt, created_at, updated_at
FROM conversations WHERE id = ? AND tenant_id = ?`, id, storage.GetTenant(ctx))
	return s.load(ctx, row)
}

// LatestConversation loads the most recently updated conversation.
func (s *Store) LatestConversation(ctx context.Context) (*api.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, model, system_prompt_file, system_prompt, created_at, updated_at
FROM conversations WHERE tenant_id = ?
ORDER BY updated_at DESC LIMIT 1`, storage.GetTenant(ctx))
	return s.load(ctx, row)
}

func (s *Store) load(ctx context.Context, row *sql.Row) (*api.Conversation, error) {
	var (
		c                api.Conversation
		created, updated int64
	)
	err := row.Scan(&c.ID, &c.Model, &c.SystemPromptFile, &c.SystemPrompt, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updated)

	rows, err := s.db.QueryContext(ctx, `
SELECT id, role, content, tool_calls, error_details
FROM messages WHERE conversation_id = ? ORDER BY seq`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m         api.Message
			role      string
			toolCalls string
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &toolCalls, &m.ErrorDetails); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = api.Role(role)
		if m.ToolCalls, err = storage.UnmarshalToolCalls([]byte(toolCalls)); err != nil {
			return nil, err
		}
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}
	return &c, nil
}

// ListConversations returns summaries, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]api.ConversationSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, model, system_prompt_file, message_count, created_at, updated_at
FROM conversations WHERE tenant_id = ?
ORDER BY updated_at DESC LIMIT ?`, storage.GetTenant(ctx), limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	out := []api.ConversationSummary{}
	for rows.Next() {
		var (
			sum              api.ConversationSummary
			created, updated int64
		)
		if err := rows.Scan(&sum.ID, &sum.Model, &sum.SystemPromptFile, &sum.MessageCount, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		sum.CreatedAt = fromNanos(created)
		sum.UpdatedAt = fromNanos(updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// UpdateModel changes the model of a conversation.
func (s *Store) UpdateModel(ctx context.Context, id, model string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET model = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		model, nanos(time.Now()), id, storage.GetTenant(ctx))
	if err != nil {
		return fmt.Errorf("updating model: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
