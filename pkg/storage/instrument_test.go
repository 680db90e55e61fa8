package storage_test

import (
	"context"
	"errors"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/observability"
	"github.com/rhuss/alpha/pkg/storage"
	"github.com/rhuss/alpha/pkg/storage/memory"
)

func counterValue(t *testing.T, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := observability.StorageOperationsTotal.WithLabelValues(labels...).Write(&m); err != nil {
		t.Fatalf("reading counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestInstrumentCountsOperations(t *testing.T) {
	s := storage.Instrument("test-memory", memory.New(0))
	ctx := context.Background()

	createBefore := counterValue(t, "test-memory", "create", "success")
	getErrBefore := counterValue(t, "test-memory", "get", "error")

	if err := s.CreateConversation(ctx, &api.Conversation{ID: "c1", Model: "m:x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetConversation(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}

	if got := counterValue(t, "test-memory", "create", "success") - createBefore; got != 1 {
		t.Errorf("create success delta = %v, want 1", got)
	}
	if got := counterValue(t, "test-memory", "get", "error") - getErrBefore; got != 1 {
		t.Errorf("get error delta = %v, want 1", got)
	}
}
