package stream

import (
	"fmt"
	"io"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/observability"
)

// WriteFrame writes ev as one frame followed by a blank line.
func WriteFrame(w io.Writer, ev api.Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s%s\n\n", DataPrefix, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	observability.StreamFramesTotal.WithLabelValues(string(ev.Type), "sent").Inc()
	return nil
}

// WriteDone writes the end-of-stream sentinel.
func WriteDone(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s%s\n\n", DataPrefix, DoneSentinel); err != nil {
		return fmt.Errorf("write done: %w", err)
	}
	return nil
}
