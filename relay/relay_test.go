package relay

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"visionrelay/core"
)

// sliceSource replays a fixed event sequence.
type sliceSource struct {
	events []core.Event
	pos    int
}

func (s *sliceSource) Recv() (core.Event, error) {
	if s.pos >= len(s.events) {
		return core.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func decodeRecords(t *testing.T, body string) []core.Event {
	t.Helper()
	var events []core.Event
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, DataPrefix) {
			continue
		}
		var ev core.Event
		require.NoError(t, json.Unmarshal([]byte(line[len(DataPrefix):]), &ev))
		events = append(events, ev)
	}
	return events
}

func TestStreamPreservesOrderAndHeaders(t *testing.T) {
	store := core.NewStore(core.StoreOptions{})
	defer store.Close()
	r := New(store, zap.NewNop())

	source := &sliceSource{events: []core.Event{
		{Type: core.EventPartial, Index: 1, Image: b64("A")},
		{Type: core.EventPartial, Index: 0, Image: b64("B")},
		{Type: core.EventPartial, Index: 2, Image: b64("C")},
		{Type: core.EventCompleted, Image: b64("C")},
		{Type: core.EventDone},
	}}

	rec := httptest.NewRecorder()
	r.Stream(rec, "a red circle", source)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	events := decodeRecords(t, rec.Body.String())
	require.Len(t, events, 5)
	assert.Equal(t, []int{1, 0, 2}, []int{events[0].Index, events[1].Index, events[2].Index},
		"arrival order must be preserved on the wire")
	assert.Equal(t, core.EventCompleted, events[3].Type)
	assert.Equal(t, core.EventDone, events[4].Type)
}

func TestStreamStoresArtifactBeforeForwarding(t *testing.T) {
	store := core.NewStore(core.StoreOptions{})
	defer store.Close()
	r := New(store, zap.NewNop())

	final := b64("final image bytes")
	source := &sliceSource{events: []core.Event{
		{Type: core.EventCompleted, Image: final},
		{Type: core.EventDone},
	}}

	rec := httptest.NewRecorder()
	r.Stream(rec, "a red circle", source)

	events := decodeRecords(t, rec.Body.String())
	require.Len(t, events, 2)
	completed := events[0]
	require.NotEmpty(t, completed.SessionID, "forwarded completed event must carry the session id")

	art, ok := store.Get(completed.SessionID)
	require.True(t, ok, "artifact must be retrievable under the issued id")
	assert.Equal(t, []byte("final image bytes"), art.Data)
	assert.Equal(t, "image/png", art.ContentType)
	assert.Equal(t, "a red circle", art.Name)
}

func TestStreamInvalidFinalPayloadStillForwards(t *testing.T) {
	store := core.NewStore(core.StoreOptions{})
	defer store.Close()
	r := New(store, zap.NewNop())

	source := &sliceSource{events: []core.Event{
		{Type: core.EventCompleted, Image: "%%% not base64 %%%"},
		{Type: core.EventDone},
	}}

	rec := httptest.NewRecorder()
	r.Stream(rec, "p", source)

	events := decodeRecords(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, core.EventCompleted, events[0].Type)
	assert.Empty(t, events[0].SessionID, "no session id without a stored artifact")
	assert.Equal(t, 0, store.Len())
}

func TestStreamForwardsErrorInBand(t *testing.T) {
	store := core.NewStore(core.StoreOptions{})
	defer store.Close()
	r := New(store, zap.NewNop())

	source := &sliceSource{events: []core.Event{
		{Type: core.EventPartial, Index: 0, Image: b64("A")},
		{Type: core.EventError, Message: "quota exceeded"},
		{Type: core.EventDone},
	}}

	rec := httptest.NewRecorder()
	r.Stream(rec, "p", source)

	assert.Equal(t, 200, rec.Code, "headers are committed before events flow")
	events := decodeRecords(t, rec.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, core.EventError, events[1].Type)
	assert.Equal(t, "quota exceeded", events[1].Message)
	assert.Equal(t, 0, store.Len(), "errored sessions store nothing")
}

func TestEncodeWireFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	enc := NewEncoder(rec)

	require.NoError(t, enc.Write(core.Event{Type: core.EventPartial, Index: 0, Image: "abc"}))
	require.NoError(t, enc.Write(core.Event{Type: core.EventDone}))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, `data: {"type":"partial","index":0,"image":"abc"}`+"\n\n"),
		"each record is the data prefix, compact JSON and a blank-line terminator, got %q", body)
	assert.True(t, strings.HasSuffix(body, "\n\n"))
	assert.Equal(t, 2, strings.Count(body, "data: "))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	events := []core.Event{
		{Type: core.EventPartial, Index: 2, Image: b64("payload")},
		{Type: core.EventCompleted, Image: b64("final"), SessionID: "id-1"},
		{Type: core.EventError, Message: "boom"},
		{Type: core.EventDone},
	}

	rec := httptest.NewRecorder()
	enc := NewEncoder(rec)
	for _, ev := range events {
		require.NoError(t, enc.Write(ev))
	}

	assert.Equal(t, events, decodeRecords(t, rec.Body.String()))
}
