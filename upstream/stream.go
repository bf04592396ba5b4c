// Package upstream adapts the external generative API to the internal event
// vocabulary. Each generation opens exactly one streaming call; faults are
// converted into in-band error events, never propagated as faults.
package upstream

import (
	"context"
	"io"

	"visionrelay/core"
)

// Generator opens a streaming generation call for a prompt. The returned
// stream is lazy, single-pass and non-restartable. Upstream failures surface
// as an in-band error event followed by done; Generate itself never reports
// them.
type Generator interface {
	Generate(ctx context.Context, prompt string) *Stream
}

// Stream delivers normalized events one at a time. Recv returns io.EOF after
// the terminal event has been consumed.
type Stream struct {
	ch chan core.Event
}

func newStream() *Stream {
	return &Stream{ch: make(chan core.Event)}
}

// Recv blocks for the next event.
func (s *Stream) Recv() (core.Event, error) {
	ev, ok := <-s.ch
	if !ok {
		return core.Event{}, io.EOF
	}
	return ev, nil
}

// send delivers one event to the consumer, giving up when the request context
// ends. Returns false when the consumer is gone.
func (s *Stream) send(ctx context.Context, ev core.Event) bool {
	select {
	case s.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish closes the event channel; Recv returns io.EOF afterwards.
func (s *Stream) finish() {
	close(s.ch)
}
