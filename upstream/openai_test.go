package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"visionrelay/config"
	"visionrelay/core"
)

func newTestGenerator(t *testing.T, upstreamURL string) *OpenAIGenerator {
	t.Helper()
	cfg := &config.Config{
		APIKey:        "sk-test",
		BaseURL:       upstreamURL,
		ImageModel:    "gpt-4.1",
		PartialImages: 3,
	}
	return NewOpenAIGenerator(cfg, zap.NewNop())
}

// sseHandler writes scripted SSE records the way the upstream endpoint does.
func sseHandler(t *testing.T, records ...string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, true, req["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		for _, rec := range records {
			fmt.Fprintf(w, "data: %s\n\n", rec)
		}
	}
}

func collect(t *testing.T, s *Stream) []core.Event {
	t.Helper()
	var events []core.Event
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestGenerateOutOfOrderPartials(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		`{"type":"response.image_generation_call.partial_image","partial_image_index":1,"partial_image_b64":"A"}`,
		`{"type":"response.image_generation_call.partial_image","partial_image_index":0,"partial_image_b64":"B"}`,
		`{"type":"response.image_generation_call.partial_image","partial_image_index":2,"partial_image_b64":"C"}`,
		`{"type":"response.image_generation_call.completed"}`,
	))
	defer srv.Close()

	gen := newTestGenerator(t, srv.URL)
	events := collect(t, gen.Generate(context.Background(), "a red circle"))

	require.Len(t, events, 5)
	assert.Equal(t, core.Event{Type: core.EventPartial, Index: 1, Image: "A"}, events[0])
	assert.Equal(t, core.Event{Type: core.EventPartial, Index: 0, Image: "B"}, events[1])
	assert.Equal(t, core.Event{Type: core.EventPartial, Index: 2, Image: "C"}, events[2])
	assert.Equal(t, core.Event{Type: core.EventCompleted, Image: "C"}, events[3],
		"completed must carry the highest-indexed partial")
	assert.Equal(t, core.Event{Type: core.EventDone}, events[4])
}

func TestGenerateHighestIndexWinsEvenWhenLast(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		`{"type":"response.image_generation_call.partial_image","partial_image_index":2,"partial_image_b64":"HIGH"}`,
		`{"type":"response.image_generation_call.partial_image","partial_image_index":0,"partial_image_b64":"LOW"}`,
		`{"type":"response.completed"}`,
	))
	defer srv.Close()

	gen := newTestGenerator(t, srv.URL)
	events := collect(t, gen.Generate(context.Background(), "p"))

	completed := events[len(events)-2]
	assert.Equal(t, core.EventCompleted, completed.Type)
	assert.Equal(t, "HIGH", completed.Image)
}

func TestGenerateUpstreamFinalPayloadWins(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		`{"type":"response.image_generation_call.partial_image","partial_image_index":0,"partial_image_b64":"PARTIAL"}`,
		`{"type":"response.image_generation_call.completed","result":"FINAL"}`,
	))
	defer srv.Close()

	gen := newTestGenerator(t, srv.URL)
	events := collect(t, gen.Generate(context.Background(), "p"))

	completed := events[len(events)-2]
	assert.Equal(t, "FINAL", completed.Image, "an explicit final payload overrides the best partial")
}

func TestGenerateUpstreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		`{"type":"response.image_generation_call.partial_image","partial_image_index":0,"partial_image_b64":"A"}`,
		`{"type":"response.failed","error":{"message":"billing hard limit reached"}}`,
	))
	defer srv.Close()

	gen := newTestGenerator(t, srv.URL)
	events := collect(t, gen.Generate(context.Background(), "p"))

	require.Len(t, events, 3)
	assert.Equal(t, core.EventError, events[1].Type)
	assert.Equal(t, "billing hard limit reached", events[1].Message)
	assert.Equal(t, core.EventDone, events[2].Type, "error must still be followed by done")
}

func TestGenerateHTTPErrorBecomesInBandError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	gen := newTestGenerator(t, srv.URL)
	events := collect(t, gen.Generate(context.Background(), "p"))

	require.Len(t, events, 2)
	assert.Equal(t, core.EventError, events[0].Type)
	assert.Contains(t, events[0].Message, "rate limited")
	assert.Equal(t, core.EventDone, events[1].Type)
}

func TestGenerateTruncatedStreamClosesWithError(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		`{"type":"response.image_generation_call.partial_image","partial_image_index":0,"partial_image_b64":"A"}`,
	))
	defer srv.Close()

	gen := newTestGenerator(t, srv.URL)
	events := collect(t, gen.Generate(context.Background(), "p"))

	require.Len(t, events, 3)
	assert.Equal(t, core.EventPartial, events[0].Type)
	assert.Equal(t, core.EventError, events[1].Type)
	assert.Equal(t, core.EventDone, events[2].Type,
		"a session that never completes must still terminate")
}

func TestGenerateMalformedRecordSkipped(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		`{not json`,
		`{"type":"response.image_generation_call.partial_image","partial_image_index":0,"partial_image_b64":"A"}`,
		`{"type":"response.completed"}`,
	))
	defer srv.Close()

	gen := newTestGenerator(t, srv.URL)
	events := collect(t, gen.Generate(context.Background(), "p"))

	require.Len(t, events, 3)
	assert.Equal(t, core.EventPartial, events[0].Type)
	assert.Equal(t, core.EventCompleted, events[1].Type)
}

func TestMockGeneratorSequence(t *testing.T) {
	gen := &MockGenerator{Partials: []MockPartial{{Index: 1, Image: "A"}, {Index: 0, Image: "B"}, {Index: 2, Image: "C"}}}
	events := collect(t, gen.Generate(context.Background(), "p"))

	require.Len(t, events, 5)
	assert.Equal(t, core.EventCompleted, events[3].Type)
	assert.Equal(t, "C", events[3].Image)
	assert.Equal(t, core.EventDone, events[4].Type)
}

func TestMockGeneratorFailure(t *testing.T) {
	gen := &MockGenerator{FailWith: "scripted failure"}
	events := collect(t, gen.Generate(context.Background(), "p"))

	require.Len(t, events, 2)
	assert.Equal(t, core.EventError, events[0].Type)
	assert.Equal(t, "scripted failure", events[0].Message)
	assert.Equal(t, core.EventDone, events[1].Type)
}

func TestGenerateHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := &MockGenerator{Partials: []MockPartial{{Index: 0, Image: "A"}}, Delay: 0}
	s := gen.Generate(ctx, "p")

	// The producer bails out once the context is done; the stream must still
	// terminate rather than block the consumer forever.
	for {
		_, err := s.Recv()
		if err == io.EOF {
			return
		}
	}
}
