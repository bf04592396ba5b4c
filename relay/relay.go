package relay

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"visionrelay/core"
)

// EventSource is the consuming side of an upstream stream.
type EventSource interface {
	Recv() (core.Event, error)
}

// Relay forwards normalized events onto an SSE response in the exact order
// received. On completion it stores the final artifact and embeds the freshly
// allocated session id in the forwarded event, so a later request can fetch
// the result after the stream is long gone.
type Relay struct {
	store *core.Store
	log   *zap.Logger
}

func New(store *core.Store, log *zap.Logger) *Relay {
	return &Relay{store: store, log: log}
}

// Stream drains events onto w. prompt is recorded as the artifact's origin
// metadata. Returns once the source reports end of stream or the client
// stops accepting writes.
func (r *Relay) Stream(w http.ResponseWriter, prompt string, source EventSource) {
	enc := NewEncoder(w)

	for {
		ev, err := source.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Warn("event source failed", zap.Error(err))
			}
			return
		}

		if ev.Type == core.EventCompleted {
			ev = r.storeArtifact(prompt, ev)
		}

		if err := enc.Write(ev); err != nil {
			r.log.Debug("client went away mid-stream", zap.Error(err))
			return
		}
	}
}

// storeArtifact persists the final image under a new session id and returns
// the event with that id embedded. The store write happens before the event
// is forwarded, so a client acting on the id immediately will find it.
func (r *Relay) storeArtifact(prompt string, ev core.Event) core.Event {
	data, err := base64.StdEncoding.DecodeString(ev.Image)
	if err != nil {
		// Forward the event anyway; the client can still render nothing
		// gracefully, it just gets no download affordance.
		r.log.Warn("final image payload is not valid base64", zap.Error(err))
		return ev
	}

	id := core.NewID()
	r.store.Put(id, core.Artifact{
		Data:        data,
		ContentType: "image/png",
		Name:        prompt,
		CreatedAt:   time.Now(),
	})
	ev.SessionID = id

	r.log.Info("generation completed",
		zap.String("session_id", id),
		zap.Int("bytes", len(data)))
	return ev
}
