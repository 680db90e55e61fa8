package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/debug"
	"github.com/rhuss/alpha/pkg/observability"
)

// maxFrameSize bounds a single frame line. Tool results can be large;
// longer lines are discarded and counted as skipped.
const maxFrameSize = 4 << 20

// Reader decodes events from a frame stream. It implements
// transcript.Source. Malformed and oversized frames are logged and skipped;
// frames of unknown type are ignored.
type Reader struct {
	br      *bufio.Reader
	line    []byte
	done    bool
	skipped int
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event. It returns io.EOF after the [DONE]
// sentinel or at the end of the input, and a *api.TransportError if
// reading fails. Cancellation is checked between lines.
func (r *Reader) Next(ctx context.Context) (api.Event, error) {
	if r.done {
		return api.Event{}, io.EOF
	}
	for {
		line, oversized, err := r.readLine()
		if err != nil {
			r.done = true
			if errors.Is(err, io.EOF) {
				return api.Event{}, io.EOF
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return api.Event{}, ctxErr
			}
			return api.Event{}, &api.TransportError{Err: err}
		}
		if err := ctx.Err(); err != nil {
			return api.Event{}, err
		}
		if oversized {
			r.skipped++
			slog.Warn("skipping oversized stream frame", "limit", maxFrameSize)
			observability.StreamFramesSkippedTotal.WithLabelValues("oversized").Inc()
			continue
		}

		payload, ok := ParseLine(string(line))
		if !ok {
			continue
		}
		if payload == DoneSentinel {
			r.done = true
			return api.Event{}, io.EOF
		}

		ev, err := Decode([]byte(payload))
		if err != nil {
			r.skipped++
			reason := "malformed"
			if errors.Is(err, api.ErrUnknownEvent) {
				reason = "unknown"
				debug.Log("streaming", "ignoring frame of unknown type", "error", err)
			} else {
				slog.Warn("skipping malformed stream frame",
					"error", err.Error(),
					"data", debug.Truncate(payload, 200),
				)
			}
			observability.StreamFramesSkippedTotal.WithLabelValues(reason).Inc()
			continue
		}

		observability.StreamFramesTotal.WithLabelValues(string(ev.Type), "received").Inc()
		debug.Trace("streaming", "frame received", "type", ev.Type, "data", payload)
		return ev, nil
	}
}

// readLine returns the next line without its line ending. A line longer
// than maxFrameSize is consumed to its end and reported as oversized. A
// final line without a line ending is returned before io.EOF.
func (r *Reader) readLine() ([]byte, bool, error) {
	r.line = r.line[:0]
	oversized := false
	for {
		chunk, isPrefix, err := r.br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && (len(r.line) > 0 || oversized) {
				return r.line, oversized, nil
			}
			return nil, false, err
		}
		if !oversized {
			if len(r.line)+len(chunk) > maxFrameSize {
				oversized = true
				r.line = r.line[:0]
			} else {
				r.line = append(r.line, chunk...)
			}
		}
		if !isPrefix {
			return r.line, oversized, nil
		}
	}
}

// Skipped returns the number of frames skipped so far.
func (r *Reader) Skipped() int { return r.skipped }
