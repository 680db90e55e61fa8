package transcript

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/debug"
)

// Source yields the events of one exchange in order. Next blocks until an
// event is available and returns io.EOF once the sequence has ended.
type Source interface {
	Next(ctx context.Context) (api.Event, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (api.Event, error)

// Next calls f.
func (f SourceFunc) Next(ctx context.Context) (api.Event, error) { return f(ctx) }

// ErrConsumerGone reports that the consumer behind a Tee stopped accepting
// events.
var ErrConsumerGone = errors.New("event consumer gone")

// Fold drains src into b and finalizes it.
//
// Cancellation of ctx cancels the transcript and returns ctx.Err(). An
// ErrConsumerGone error also cancels it: the event returned with the error
// is folded first and the error is returned as is. Any other source error
// except io.EOF and ErrFrameParse ends the fold: it is recorded as one error
// message and returned as a *api.TransportError. Frame parse errors and
// rejected events are skipped.
func Fold(ctx context.Context, src Source, b *Builder) error {
	for {
		ev, err := src.Next(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			b.Cancel()
			return ctxErr
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			b.Close()
			return nil
		case errors.Is(err, api.ErrFrameParse):
			debug.Log("transcript", "frame skipped", "error", err)
			continue
		case errors.Is(err, ErrConsumerGone):
			if ev.Type != "" {
				if aerr := b.Apply(ev); aerr != nil {
					debug.Log("transcript", "event rejected", "type", ev.Type, "error", aerr)
				}
			}
			b.Cancel()
			return err
		default:
			var te *api.TransportError
			if !errors.As(err, &te) {
				te = &api.TransportError{Err: err}
			}
			_ = b.Apply(api.NewFailure(te.Err.Error()))
			b.Close()
			return te
		}

		if err := b.Apply(ev); err != nil {
			debug.Log("transcript", "event rejected", "type", ev.Type, "error", err)
		}
	}
}

// FromChannel returns a Source reading from ch. A closed channel ends the
// sequence.
func FromChannel(ch <-chan api.Event) Source {
	return SourceFunc(func(ctx context.Context) (api.Event, error) {
		select {
		case <-ctx.Done():
			return api.Event{}, ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return api.Event{}, io.EOF
			}
			return ev, nil
		}
	})
}

// FromEvents returns a Source yielding evs.
func FromEvents(evs ...api.Event) Source {
	i := 0
	return SourceFunc(func(ctx context.Context) (api.Event, error) {
		if err := ctx.Err(); err != nil {
			return api.Event{}, err
		}
		if i >= len(evs) {
			return api.Event{}, io.EOF
		}
		ev := evs[i]
		i++
		return ev, nil
	})
}

// Tee returns a Source that passes every event read from src to fn before
// returning it. An error from fn is returned together with the event,
// wrapped in ErrConsumerGone.
func Tee(src Source, fn func(api.Event) error) Source {
	return SourceFunc(func(ctx context.Context) (api.Event, error) {
		ev, err := src.Next(ctx)
		if err != nil {
			return ev, err
		}
		if err := fn(ev); err != nil {
			return ev, fmt.Errorf("%w: %w", ErrConsumerGone, err)
		}
		return ev, nil
	})
}
