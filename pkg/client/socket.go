package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/debug"
	"github.com/rhuss/alpha/pkg/stream"
)

const dialTimeout = 10 * time.Second

// Socket is a chat WebSocket. Each Send starts an exchange whose events
// are read with Next until io.EOF. It implements transcript.Source.
type Socket struct {
	conn *websocket.Conn

	wmu  sync.Mutex
	done bool
}

// DialChat opens the chat WebSocket.
func (c *Client) DialChat(ctx context.Context) (*Socket, error) {
	conn, err := c.dial(ctx, "/chat/ws")
	if err != nil {
		return nil, err
	}
	return &Socket{conn: conn}, nil
}

// Send starts an exchange for message.
func (s *Socket) Send(message string) error {
	s.done = false
	return s.write(api.SocketRequest{Message: message})
}

// Abort stops the running exchange. Its remaining frames, if any, and
// [DONE] are still delivered.
func (s *Socket) Abort() error {
	return s.write(api.SocketRequest{Type: api.SocketAbort})
}

func (s *Socket) write(req api.SocketRequest) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	if err := s.conn.WriteJSON(req); err != nil {
		return &api.TransportError{Err: err}
	}
	return nil
}

// Next returns the next event of the current exchange and io.EOF after
// its [DONE]. Cancelling ctx interrupts a blocked read; the socket is
// unusable afterwards.
func (s *Socket) Next(ctx context.Context) (api.Event, error) {
	if s.done {
		return api.Event{}, io.EOF
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return api.Event{}, ctxErr
			}
			return api.Event{}, &api.TransportError{Err: err}
		}
		if string(data) == stream.DoneSentinel {
			s.done = true
			return api.Event{}, io.EOF
		}
		ev, err := stream.Decode(data)
		if err != nil {
			if !errors.Is(err, api.ErrUnknownEvent) {
				slog.Warn("skipping malformed socket frame", "error", err.Error(), "data", debug.Truncate(string(data), 200))
			}
			continue
		}
		return ev, nil
	}
}

// Close closes the connection, which stops any running exchange.
func (s *Socket) Close() error {
	s.wmu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.wmu.Unlock()
	return s.conn.Close()
}

// Events subscribes to the conversation update feed. The channel is
// closed when ctx is cancelled or the connection drops.
func (c *Client) Events(ctx context.Context) (<-chan api.MessagesAdded, error) {
	conn, err := c.dial(ctx, "/conversation/events")
	if err != nil {
		return nil, err
	}

	out := make(chan api.MessagesAdded)
	go func() {
		defer close(out)
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				debug.Log("transport", "events feed closed", "error", err)
				return
			}
			var ev api.MessagesAdded
			if err := json.Unmarshal(data, &ev); err != nil {
				slog.Warn("skipping malformed conversation event", "error", err.Error())
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) dial(ctx context.Context, path string) (*websocket.Conn, error) {
	u := c.baseURL + path
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout, Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusSwitchingProtocols {
				return nil, decodeError(resp)
			}
		}
		return nil, &api.TransportError{Err: fmt.Errorf("dial %s: %w", path, err)}
	}
	return conn, nil
}
