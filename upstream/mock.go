package upstream

import (
	"context"
	"time"

	"visionrelay/core"
	"visionrelay/media"
)

// placeholderPNG is a 1x1 PNG used by the mock providers, already base64
// encoded the way partial payloads travel on the wire.
const placeholderPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

// MockPartial is one scripted partial event.
type MockPartial struct {
	Index int
	Image string
}

// MockGenerator emits a scripted event sequence without touching any API.
// It backs local development when no API key is configured, and tests.
type MockGenerator struct {
	// Partials are emitted in slice order, which need not be index order.
	Partials []MockPartial
	// FailWith, when non-empty, replaces the completed event with an error.
	FailWith string
	// Delay paces the events to make streaming visible during development.
	Delay time.Duration
}

// NewMockGenerator scripts count in-order partials with placeholder images.
func NewMockGenerator(count int) *MockGenerator {
	if count < 1 {
		count = 3
	}
	partials := make([]MockPartial, count)
	for i := range partials {
		partials[i] = MockPartial{Index: i, Image: placeholderPNG}
	}
	return &MockGenerator{Partials: partials, Delay: 300 * time.Millisecond}
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string) *Stream {
	s := newStream()
	go m.run(ctx, s)
	return s
}

func (m *MockGenerator) run(ctx context.Context, s *Stream) {
	defer s.finish()

	acc := core.NewAccumulator()
	for _, p := range m.Partials {
		if m.Delay > 0 {
			select {
			case <-time.After(m.Delay):
			case <-ctx.Done():
				return
			}
		}
		acc.Observe(p.Index, p.Image)
		if !s.send(ctx, core.Event{Type: core.EventPartial, Index: p.Index, Image: p.Image}) {
			return
		}
	}

	if m.FailWith != "" {
		if !s.send(ctx, core.Event{Type: core.EventError, Message: m.FailWith}) {
			return
		}
		s.send(ctx, core.Event{Type: core.EventDone})
		return
	}

	best, ok := acc.Best()
	if !ok {
		if !s.send(ctx, core.Event{Type: core.EventError, Message: "mock produced no partial images"}) {
			return
		}
		s.send(ctx, core.Event{Type: core.EventDone})
		return
	}
	if !s.send(ctx, core.Event{Type: core.EventCompleted, Image: best}) {
		return
	}
	s.send(ctx, core.Event{Type: core.EventDone})
}

// MockAnalyzer returns canned analysis text, mirroring the mock fallback used
// when no API is configured.
type MockAnalyzer struct{}

func (MockAnalyzer) DescribeImage(ctx context.Context, data []byte, mime string) (string, error) {
	return "A placeholder description of the uploaded image.", nil
}

func (MockAnalyzer) DescribeVideo(ctx context.Context, frames [][]byte, transcript media.Transcript) (string, error) {
	if transcript.Usable() {
		return "A placeholder analysis of the uploaded video, including its audio.", nil
	}
	return "A placeholder analysis of the uploaded video.", nil
}

// MockTranscriber stands in for speech-to-text when no API is configured.
type MockTranscriber struct{}

func (MockTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	return "Placeholder transcript.", nil
}
