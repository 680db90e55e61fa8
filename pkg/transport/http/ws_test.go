package http

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/stream"
	"github.com/rhuss/alpha/pkg/transcript"
)

func dialSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(url, "http://", "ws://", 1)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("websocket dial failed status=%d err=%v", status, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readSocketFrames reads text messages up to and including [DONE].
func readSocketFrames(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var out []string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read frame: %v (after %q)", err, out)
		}
		out = append(out, string(data))
		if string(data) == stream.DoneSentinel {
			return out
		}
	}
}

func TestChatSocket(t *testing.T) {
	srv := newTestServer(t, toolExchange(), nil)
	conn := dialSocket(t, srv.URL+"/api/v1/chat/ws")

	if err := conn.WriteJSON(api.SocketRequest{Message: "What does it say?"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frames := readSocketFrames(t, conn)
	if len(frames) != 6 {
		t.Fatalf("frames = %q, want 5 events and [DONE]", frames)
	}

	b := transcript.New()
	for _, f := range frames[:len(frames)-1] {
		ev, err := stream.Decode([]byte(f))
		if err != nil {
			t.Fatalf("Decode(%q): %v", f, err)
		}
		_ = b.Apply(ev)
	}
	b.Close()
	if got := b.Text(); got != "Checking. It says hello." {
		t.Errorf("folded text = %q", got)
	}

	// A second exchange on the same socket.
	if err := conn.WriteJSON(api.SocketRequest{Message: "Again"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frames := readSocketFrames(t, conn); len(frames) != 6 {
		t.Errorf("second exchange frames = %d, want 6", len(frames))
	}
}

func TestChatSocketEmptyMessage(t *testing.T) {
	srv := newTestServer(t, toolExchange(), nil)
	conn := dialSocket(t, srv.URL+"/api/v1/chat/ws")

	if err := conn.WriteJSON(api.SocketRequest{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frames := readSocketFrames(t, conn)
	if len(frames) != 2 {
		t.Fatalf("frames = %q, want error and [DONE]", frames)
	}
	ev, err := stream.Decode([]byte(frames[0]))
	if err != nil || ev.Type != api.EventFailure {
		t.Errorf("first frame = %q (%v), want error frame", frames[0], err)
	}
}

func TestChatSocketAbort(t *testing.T) {
	src := newBlockingSource()
	srv := newTestServer(t, src, nil)
	conn := dialSocket(t, srv.URL+"/api/v1/chat/ws")

	if err := conn.WriteJSON(api.SocketRequest{Message: "Tell me a story"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-src.started:
	case <-time.After(5 * time.Second):
		t.Fatal("exchange did not start")
	}
	if err := conn.WriteJSON(api.SocketRequest{Type: api.SocketAbort}); err != nil {
		t.Fatalf("write abort: %v", err)
	}

	frames := readSocketFrames(t, conn)
	if len(frames) != 2 {
		t.Fatalf("frames = %q, want text and [DONE]", frames)
	}

	view := decodeBody[api.ConversationView](t, doRequest(t, "GET", srv.URL+"/api/v1/conversation", nil))
	last := view.Messages[len(view.Messages)-1]
	if last.Content != "Partial answer"+transcript.StoppedMarker {
		t.Errorf("last message = %q, want stopped marker", last.Content)
	}
}

func TestConversationEventsFeed(t *testing.T) {
	srv := newTestServer(t, &scriptedSource{events: []api.Event{api.NewTextDelta("Hi there"), api.NewCompletion()}}, nil)
	feed := dialSocket(t, srv.URL+"/api/v1/conversation/events")

	// The subscription is registered after the upgrade completes.
	time.Sleep(50 * time.Millisecond)

	resp := doRequest(t, "POST", srv.URL+"/api/v1/chat", api.ChatRequest{Message: "Hello"})
	wantStatus(t, resp, 200)

	_ = feed.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev api.MessagesAdded
	if err := feed.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != api.MessagesAddedType || ev.ConversationID == "" {
		t.Errorf("event = %+v", ev)
	}
	if len(ev.Messages) != 2 || ev.Messages[0].Role != api.RoleUser || ev.Messages[1].Content != "Hi there" {
		t.Errorf("messages = %+v", ev.Messages)
	}
}
