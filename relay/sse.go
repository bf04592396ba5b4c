// Package relay serializes internal events onto an HTTP response in the SSE
// wire format and owns the session side effects of a completed generation.
package relay

import (
	"encoding/json"
	"fmt"
	"net/http"

	"visionrelay/core"
)

// DataPrefix is the SSE record prefix shared with consumers.
const DataPrefix = "data: "

// Encoder writes events as SSE records: the data prefix, compact JSON and a
// blank-line terminator, flushed immediately so partial progress reaches the
// client without buffering delay.
type Encoder struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewEncoder commits the SSE response headers and returns the encoder. It
// must be called before any body byte is written.
func NewEncoder(w http.ResponseWriter) *Encoder {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "Cache-Control")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	return &Encoder{w: w, flusher: flusher}
}

// Write serializes one event and flushes it.
func (e *Encoder) Write(ev core.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "%s%s\n\n", DataPrefix, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
