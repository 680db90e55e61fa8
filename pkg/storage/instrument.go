package storage

import (
	"context"
	"time"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/debug"
	"github.com/rhuss/alpha/pkg/observability"
)

// Instrument wraps s so that every operation is counted in
// alpha_storage_operations_total under the given backend label.
func Instrument(backend string, s Store) Store {
	return &instrumented{backend: backend, next: s}
}

type instrumented struct {
	backend string
	next    Store
}

func (s *instrumented) record(op string, start time.Time, err error) {
	observability.StorageOperationsTotal.WithLabelValues(s.backend, op, observability.Status(err)).Inc()
	debug.Log("storage", op, "backend", s.backend, "duration", time.Since(start), "error", err)
}

func (s *instrumented) CreateConversation(ctx context.Context, conv *api.Conversation) error {
	start := time.Now()
	err := s.next.CreateConversation(ctx, conv)
	s.record("create", start, err)
	return err
}

func (s *instrumented) AppendMessages(ctx context.Context, id string, msgs ...api.Message) error {
	start := time.Now()
	err := s.next.AppendMessages(ctx, id, msgs...)
	s.record("append", start, err)
	return err
}

func (s *instrumented) GetConversation(ctx context.Context, id string) (*api.Conversation, error) {
	start := time.Now()
	c, err := s.next.GetConversation(ctx, id)
	s.record("get", start, err)
	return c, err
}

func (s *instrumented) LatestConversation(ctx context.Context) (*api.Conversation, error) {
	start := time.Now()
	c, err := s.next.LatestConversation(ctx)
	s.record("latest", start, err)
	return c, err
}

func (s *instrumented) ListConversations(ctx context.Context, limit int) ([]api.ConversationSummary, error) {
	start := time.Now()
	out, err := s.next.ListConversations(ctx, limit)
	s.record("list", start, err)
	return out, err
}

func (s *instrumented) UpdateModel(ctx context.Context, id, model string) error {
	start := time.Now()
	err := s.next.UpdateModel(ctx, id, model)
	s.record("update_model", start, err)
	return err
}

func (s *instrumented) HealthCheck(ctx context.Context) error {
	return s.next.HealthCheck(ctx)
}

func (s *instrumented) Close() error {
	return s.next.Close()
}
