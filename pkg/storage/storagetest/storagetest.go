// Package storagetest provides the conformance suite shared by every
// storage.Store adapter.
package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/storage"
	"github.com/rhuss/alpha/pkg/transcript"
)

// Factory returns an empty store. The store is closed by the suite.
type Factory func(t *testing.T) storage.Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateConflict", testCreateConflict},
		{"NotFound", testNotFound},
		{"AppendReplaysVerbatim", testAppendReplaysVerbatim},
		{"AppendPreservesOrder", testAppendPreservesOrder},
		{"ReloadMatchesLiveTranscript", testReloadMatchesLive},
		{"LatestConversation", testLatest},
		{"ListConversations", testList},
		{"UpdateModel", testUpdateModel},
		{"TenantIsolation", testTenantIsolation},
		{"ReturnsCopies", testReturnsCopies},
		{"ConcurrentAppends", testConcurrentAppends},
		{"HealthCheck", testHealthCheck},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func newConversation(model string) *api.Conversation {
	return &api.Conversation{
		ID:               api.NewConversationID(),
		Model:            model,
		SystemPromptFile: "assistant.md",
		SystemPrompt:     "You are helpful.",
	}
}

func mustCreate(t *testing.T, s storage.Store, ctx context.Context, c *api.Conversation) {
	t.Helper()
	if err := s.CreateConversation(ctx, c); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

// sampleExchange covers every message shape.
func sampleExchange() []api.Message {
	return []api.Message{
		{ID: api.NewMessageID(), Role: api.RoleUser, Content: "What's the weather in Paris?"},
		{ID: api.NewMessageID(), Role: api.RoleAssistant, ToolCalls: []api.ToolExchange{{
			Call:     api.ToolCall{ToolName: "weather_forecast", Args: json.RawMessage(`{"city":"Paris","days":[1,2]}`), ToolCallID: "call_1"},
			Response: api.ToolResponse{ToolName: "weather_forecast", Content: "sunny, 24°C <hot>", ToolCallID: "call_1"},
		}}},
		{ID: api.NewMessageID(), Role: api.RoleAssistant, Content: "It is sunny.\n\nEnjoy!"},
		{ID: api.NewMessageID(), Role: api.RoleError, Content: "Rate limit exceeded", ErrorDetails: `{"error":{"message":"Rate limit exceeded"}}`},
	}
}

func testCreateAndGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := newConversation("ollama:qwen2.5:14b")
	mustCreate(t, s, ctx, c)

	if c.CreatedAt.IsZero() || c.UpdatedAt.IsZero() {
		t.Error("timestamps not set on create")
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.ID != c.ID || got.Model != c.Model || got.SystemPromptFile != c.SystemPromptFile || got.SystemPrompt != c.SystemPrompt {
		t.Errorf("got %+v, want %+v", got, c)
	}
	if len(got.Messages) != 0 {
		t.Errorf("new conversation has %d messages", len(got.Messages))
	}
}

func testCreateConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := newConversation("m:a")
	mustCreate(t, s, ctx, c)
	if err := s.CreateConversation(ctx, c); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate create error = %v, want ErrConflict", err)
	}
}

func testNotFound(t *testing.T, s storage.Store) {
	ctx := context.Background()
	id := api.NewConversationID()

	if _, err := s.GetConversation(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetConversation error = %v, want ErrNotFound", err)
	}
	if err := s.AppendMessages(ctx, id, api.Message{ID: "x", Role: api.RoleUser}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AppendMessages error = %v, want ErrNotFound", err)
	}
	if err := s.UpdateModel(ctx, id, "m:b"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateModel error = %v, want ErrNotFound", err)
	}
	if _, err := s.LatestConversation(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LatestConversation on empty store error = %v, want ErrNotFound", err)
	}
}

func testAppendReplaysVerbatim(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := newConversation("m:a")
	mustCreate(t, s, ctx, c)

	msgs := sampleExchange()
	if err := s.AppendMessages(ctx, c.ID, msgs...); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if a, b := mustJSON(t, got.Messages), mustJSON(t, msgs); a != b {
		t.Errorf("replay differs:\n got  %s\n want %s", a, b)
	}
}

func testAppendPreservesOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := newConversation("m:a")
	mustCreate(t, s, ctx, c)

	var want []api.Message
	for i := 0; i < 5; i++ {
		batch := []api.Message{
			{ID: fmt.Sprintf("u%d", i), Role: api.RoleUser, Content: fmt.Sprintf("q%d", i)},
			{ID: fmt.Sprintf("a%d", i), Role: api.RoleAssistant, Content: fmt.Sprintf("r%d", i)},
		}
		if err := s.AppendMessages(ctx, c.ID, batch...); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		want = append(want, batch...)
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got.Messages), len(want))
	}
	for i := range want {
		if got.Messages[i].ID != want[i].ID {
			t.Errorf("message %d = %s, want %s", i, got.Messages[i].ID, want[i].ID)
		}
	}
}

func testReloadMatchesLive(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := newConversation("m:a")
	mustCreate(t, s, ctx, c)

	b := transcript.New()
	src := transcript.FromEvents(
		api.NewTextDelta("Let me look "),
		api.NewTextDelta("that up."),
		api.NewToolCall(api.ToolCall{ToolName: "search", Args: json.RawMessage(`{"q": "go", "limit": 5}`), ToolCallID: "1"}),
		api.NewToolCall(api.ToolCall{ToolName: "fetch", Args: json.RawMessage(`{ }`), ToolCallID: "2"}),
		api.NewToolResult(api.ToolResponse{ToolName: "fetch", Content: "page", ToolCallID: "2"}),
		api.NewTextDelta("Found it."),
		api.NewToolResult(api.ToolResponse{ToolName: "search", Content: "results", ToolCallID: "1"}),
		api.NewFailure(`{"error":{"message":"quota"}}`),
		api.NewCompletion(),
	)
	if err := transcript.Fold(ctx, src, b); err != nil {
		t.Fatalf("Fold: %v", err)
	}
	live := b.Messages()

	if err := s.AppendMessages(ctx, c.ID, live...); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Messages, live) {
		t.Errorf("reload differs from live transcript:\n got  %s\n live %s", mustJSON(t, got.Messages), mustJSON(t, live))
	}
}

func testLatest(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := newConversation("m:a")
	b := newConversation("m:b")
	mustCreate(t, s, ctx, a)
	time.Sleep(5 * time.Millisecond)
	mustCreate(t, s, ctx, b)

	got, err := s.LatestConversation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != b.ID {
		t.Errorf("latest = %s, want the newer conversation %s", got.ID, b.ID)
	}

	time.Sleep(5 * time.Millisecond)
	if err := s.AppendMessages(ctx, a.ID, api.Message{ID: "m1", Role: api.RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	got, err = s.LatestConversation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != a.ID {
		t.Errorf("latest = %s, want the updated conversation %s", got.ID, a.ID)
	}
	if len(got.Messages) != 1 {
		t.Errorf("latest carries %d messages, want 1", len(got.Messages))
	}
}

func testList(t *testing.T, s storage.Store) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		c := newConversation(fmt.Sprintf("m:%d", i))
		mustCreate(t, s, ctx, c)
		ids = append(ids, c.ID)
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.AppendMessages(ctx, ids[0], sampleExchange()...); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListConversations(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("listed %d, want 3", len(all))
	}
	if all[0].ID != ids[0] || all[1].ID != ids[2] || all[2].ID != ids[1] {
		t.Errorf("order = %s %s %s, want most recently updated first", all[0].ID, all[1].ID, all[2].ID)
	}
	if all[0].MessageCount != 4 {
		t.Errorf("message count = %d, want 4", all[0].MessageCount)
	}
	if all[0].Model != "m:0" || all[0].SystemPromptFile != "assistant.md" {
		t.Errorf("summary = %+v", all[0])
	}

	limited, err := s.ListConversations(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limit 2 returned %d", len(limited))
	}
}

func testUpdateModel(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := newConversation("m:a")
	mustCreate(t, s, ctx, c)

	if err := s.UpdateModel(ctx, c.ID, "openai:gpt-4o"); err != nil {
		t.Fatalf("UpdateModel: %v", err)
	}
	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Model != "openai:gpt-4o" {
		t.Errorf("model = %q", got.Model)
	}
}

func testTenantIsolation(t *testing.T, s storage.Store) {
	alice := storage.SetTenant(context.Background(), "alice")
	bob := storage.SetTenant(context.Background(), "bob")

	c := newConversation("m:a")
	mustCreate(t, s, alice, c)

	if _, err := s.GetConversation(bob, c.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("other tenant Get error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetConversation(context.Background(), c.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("no tenant Get error = %v, want ErrNotFound", err)
	}
	if err := s.AppendMessages(bob, c.ID, api.Message{ID: "x", Role: api.RoleUser}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("other tenant Append error = %v, want ErrNotFound", err)
	}
	if _, err := s.LatestConversation(bob); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("other tenant Latest error = %v, want ErrNotFound", err)
	}
	list, err := s.ListConversations(bob, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("other tenant sees %d conversations", len(list))
	}

	if _, err := s.GetConversation(alice, c.ID); err != nil {
		t.Errorf("owner Get: %v", err)
	}
}

func testReturnsCopies(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := newConversation("m:a")
	mustCreate(t, s, ctx, c)
	if err := s.AppendMessages(ctx, c.ID, sampleExchange()...); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.Messages[0].Content = "mutated"
	got.Messages[1].ToolCalls[0].Call.Args[0] = '['

	again, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Messages[0].Content == "mutated" || again.Messages[1].ToolCalls[0].Call.Args[0] != '{' {
		t.Error("store returned aliased messages")
	}
}

func testConcurrentAppends(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const n = 4
	ids := make([]string, n)
	for i := range ids {
		c := newConversation("m:a")
		mustCreate(t, s, ctx, c)
		ids[i] = c.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, n*5)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if err := s.AppendMessages(ctx, id, api.Message{ID: fmt.Sprintf("%s-%d", id, j), Role: api.RoleUser, Content: "x"}); err != nil {
					errs <- err
				}
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent append: %v", err)
	}

	for _, id := range ids {
		got, err := s.GetConversation(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Messages) != 5 {
			t.Errorf("conversation %s has %d messages, want 5", id, len(got.Messages))
		}
	}
}

func testHealthCheck(t *testing.T, s storage.Store) {
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}
