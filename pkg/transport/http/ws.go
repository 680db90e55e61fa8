package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/debug"
	"github.com/rhuss/alpha/pkg/observability"
	"github.com/rhuss/alpha/pkg/stream"
	"github.com/rhuss/alpha/pkg/transcript"
	"github.com/rhuss/alpha/pkg/transport"
)

const socketWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// socketConn serializes writes to a WebSocket connection. gorilla/websocket
// allows one concurrent writer.
type socketConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *socketConn) writeText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *socketConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	return c.conn.WriteJSON(v)
}

// writeEvent sends the payload of one frame as a text message.
func (c *socketConn) writeEvent(ev api.Event) error {
	data, err := stream.Encode(ev)
	if err != nil {
		return err
	}
	if err := c.writeText(data); err != nil {
		return err
	}
	observability.StreamFramesTotal.WithLabelValues(string(ev.Type), "sent").Inc()
	return nil
}

func (c *socketConn) writeDone() error {
	return c.writeText([]byte(stream.DoneSentinel))
}

// handleChatSocket handles GET {prefix}/chat/ws. Each {message} starts an
// exchange whose frames are sent as text messages followed by [DONE].
// {type: "abort"} stops the running exchange; closing the socket does too.
func (a *Adapter) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		debug.Log("transport", "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	defer observability.TrackStream()()

	ctx, cancel := context.WithCancel(r.Context())
	sc := &socketConn{conn: conn}
	var wg sync.WaitGroup

	for {
		var req api.SocketRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				debug.Log("transport", "websocket read ended", "error", err)
			}
			break
		}

		switch {
		case req.Type == api.SocketAbort:
			id, aborted := a.chat.Abort(ctx)
			debug.Log("transport", "websocket abort", "conversation", id, "aborted", aborted)
		case req.Message != "":
			wg.Add(1)
			go func(message string) {
				defer wg.Done()
				a.runSocketExchange(ctx, sc, message)
			}(req.Message)
		default:
			_ = sc.writeEvent(api.NewFailure("message must not be empty"))
			_ = sc.writeDone()
		}
	}

	// A disconnect stops the running exchange; its transcript is still
	// stored by the manager.
	cancel()
	wg.Wait()
}

func (a *Adapter) runSocketExchange(ctx context.Context, sc *socketConn, message string) {
	_, err := a.chat.Send(ctx, message, sc.writeEvent)

	var te *api.TransportError
	switch {
	case err == nil:
	case errors.Is(err, transcript.ErrConsumerGone):
		debug.Log("transport", "websocket write failed", "error", err)
		return
	case errors.As(err, &te):
		debug.Log("transport", "websocket exchange failed", "error", err)
		_ = sc.writeEvent(api.NewFailure(te.Err.Error()))
	default:
		apiErr := transport.ToAPIError(err)
		slog.Warn("websocket exchange rejected", "error", apiErr.Message)
		_ = sc.writeEvent(api.NewFailure(apiErr.Message))
	}
	if err := sc.writeDone(); err != nil {
		debug.Log("transport", "websocket write failed", "error", err)
	}
}

// handleConversationEvents handles GET {prefix}/conversation/events, a
// WebSocket feed of messages_added notifications for the caller's tenant.
func (a *Adapter) handleConversationEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Log("transport", "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	defer observability.TrackStream()()

	events, unsubscribe := a.chat.Subscribe(r.Context())
	defer unsubscribe()

	// The feed is server to client only; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sc := &socketConn{conn: conn}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := sc.writeJSON(ev); err != nil {
				debug.Log("transport", "events feed write failed", "error", err)
				return
			}
		}
	}
}
