package client

import (
	"context"
	"io"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/stream"
)

// Stream is the SSE frame stream of one exchange. It implements
// transcript.Source.
type Stream struct {
	body   io.ReadCloser
	reader *stream.Reader
}

func newStream(body io.ReadCloser) *Stream {
	return &Stream{body: body, reader: stream.NewReader(body)}
}

// Next returns the next event, io.EOF after [DONE].
func (s *Stream) Next(ctx context.Context) (api.Event, error) {
	return s.reader.Next(ctx)
}

// Skipped returns the number of malformed or unknown frames skipped.
func (s *Stream) Skipped() int { return s.reader.Skipped() }

// Close releases the connection. Closing before [DONE] abandons the
// response; the server stops the exchange when it notices.
func (s *Stream) Close() error { return s.body.Close() }
