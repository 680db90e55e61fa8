// Package postgres provides a PostgreSQL implementation of storage.Store.
// It uses pgx/v5 for connection pooling. Messages live in their own table
// keyed by (conversation_id, seq) so an append never rewrites history.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/storage"
)

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// New connects to PostgreSQL. If MigrateOnStart is set, schema migrations
// are applied before returning.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}
	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

// now matches TIMESTAMPTZ precision so values read back compare equal.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// CreateConversation inserts the header and any initial messages.
func (s *Store) CreateConversation(ctx context.Context, conv *api.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	ts := now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = ts
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = ts
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversations (
				id, tenant_id, model, system_prompt_file, system_prompt,
				message_count, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			conv.ID, storage.GetTenant(ctx), conv.Model, conv.SystemPromptFile, conv.SystemPrompt,
			len(conv.Messages), conv.CreatedAt, conv.UpdatedAt,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return storage.ErrConflict
			}
			return fmt.Errorf("inserting conversation: %w", err)
		}
		return insertMessages(ctx, tx, conv.ID, 0, conv.Messages)
	})
}

// AppendMessages reserves a range of sequence numbers by bumping
// message_count, which also row-locks the conversation for the
// transaction.
func (s *Store) AppendMessages(ctx context.Context, id string, msgs ...api.Message) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var count int
		err := tx.QueryRow(ctx, `
			UPDATE conversations
			SET message_count = message_count + $1, updated_at = $2
			WHERE id = $3 AND tenant_id = $4
			RETURNING message_count
		`, len(msgs), now(), id, storage.GetTenant(ctx)).Scan(&count)
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("updating conversation: %w", err)
		}
		return insertMessages(ctx, tx, id, count-len(msgs), msgs)
	})
}

func insertMessages(ctx context.Context, tx pgx.Tx, convID string, firstSeq int, msgs []api.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, m := range msgs {
		toolCalls, err := storage.MarshalToolCalls(m.ToolCalls)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO messages (conversation_id, seq, id, role, content, tool_calls, error_details)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, convID, firstSeq+i, m.ID, string(m.Role), m.Content, string(toolCalls), nullString(m.ErrorDetails))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting messages: %w", err)
	}
	return nil
}

// GetConversation loads a conversation and its messages in order.
func (s *Store) GetConversation(ctx context.Context, id string) (*api.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, model, system_prompt_file, system_prompt, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND tenant_id = $2
	`, id, storage.GetTenant(ctx))
	return s.load(ctx, row)
}

// LatestConversation loads the most recently updated conversation.
func (s *Store) LatestConversation(ctx context.Context) (*api.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, model, system_prompt_file, system_prompt, created_at, updated_at
		FROM conversations
		WHERE tenant_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, storage.GetTenant(ctx))
	return s.load(ctx, row)
}

func (s *Store) load(ctx context.Context, row pgx.Row) (*api.Conversation, error) {
	var c api.Conversation
	err := row.Scan(&c.ID, &c.Model, &c.SystemPromptFile, &c.SystemPrompt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, tool_calls, error_details
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq
	`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}
	c.Messages = msgs
	return &c, nil
}

func scanMessage(row pgx.CollectableRow) (api.Message, error) {
	var (
		m            api.Message
		role         string
		toolCalls    []byte
		errorDetails *string
	)
	if err := row.Scan(&m.ID, &role, &m.Content, &toolCalls, &errorDetails); err != nil {
		return m, err
	}
	m.Role = api.Role(role)
	if errorDetails != nil {
		m.ErrorDetails = *errorDetails
	}
	calls, err := storage.UnmarshalToolCalls(toolCalls)
	if err != nil {
		return m, err
	}
	m.ToolCalls = calls
	return m, nil
}

// ListConversations returns summaries, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]api.ConversationSummary, error) {
	query := `
		SELECT id, model, system_prompt_file, message_count, created_at, updated_at
		FROM conversations
		WHERE tenant_id = $1
		ORDER BY updated_at DESC
	`
	args := []any{storage.GetTenant(ctx)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.ConversationSummary, error) {
		var sum api.ConversationSummary
		err := row.Scan(&sum.ID, &sum.Model, &sum.SystemPromptFile, &sum.MessageCount, &sum.CreatedAt, &sum.UpdatedAt)
		sum.CreatedAt = sum.CreatedAt.UTC()
		sum.UpdatedAt = sum.UpdatedAt.UTC()
		return sum, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading conversations: %w", err)
	}
	if out == nil {
		out = []api.ConversationSummary{}
	}
	return out, nil
}

// UpdateModel changes the model of a conversation.
func (s *Store) UpdateModel(ctx context.Context, id, model string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE conversations SET model = $1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4
	`, model, now(), id, storage.GetTenant(ctx))
	if err != nil {
		return fmt.Errorf("updating model: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// nullString maps "" to NULL for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isDuplicateKey reports a unique violation (SQLSTATE 23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
