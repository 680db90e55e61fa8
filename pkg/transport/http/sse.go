package http

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/stream"
)

// writerState tracks the state of an sseWriter.
type writerState int

const (
	writerIdle      writerState = iota // no frame written yet
	writerStreaming                    // at least one frame written
	writerCompleted                    // [DONE] written
)

// errWriterCompleted is returned for frames after the [DONE] sentinel.
var errWriterCompleted = errors.New("cannot write frame: stream is completed")

// sseWriter writes events as "data: {json}" frames and ends the stream
// with "data: [DONE]". Every frame is flushed immediately.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state writerState
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *sseWriter) startLocked() {
	if s.state != writerIdle {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.state = writerStreaming
}

// WriteEvent sends ev as one frame.
func (s *sseWriter) WriteEvent(ev api.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errWriterCompleted
	}
	s.startLocked()

	if err := stream.WriteFrame(s.w, ev); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// Done writes the [DONE] sentinel. Later calls are no-ops.
func (s *sseWriter) Done() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return nil
	}
	s.startLocked()
	s.state = writerCompleted

	if err := stream.WriteDone(s.w); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush [DONE]: %w", err)
	}
	return nil
}

// started reports whether the SSE response has begun.
func (s *sseWriter) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != writerIdle
}
