// Package client consumes the relay's SSE stream and folds it into
// renderable state. The transport delivers arbitrarily-sized byte chunks that
// do not align with event boundaries, so the reducer owns the reassembly
// discipline as well as the state machine.
package client

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"visionrelay/core"
	"visionrelay/relay"
)

// State is the reducer's position in the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// DefaultTotalStages matches the default partial count plus the final render.
const DefaultTotalStages = 4

// Reducer reassembles SSE records from raw transport chunks and folds each
// event into UI state. It runs on a single goroutine; the triggering control
// stays disabled while Busy reports true, so no concurrent sessions mutate
// one reducer.
type Reducer struct {
	state  State
	buffer string

	// TotalStages is the fixed stage count shown to the user.
	TotalStages int
	// Stage is the most recently reached progress stage, 1-based.
	Stage int
	// Image holds the decoded bytes of the most recently rendered image.
	Image []byte
	// SessionID is set by the completed event and gates the download
	// affordance.
	SessionID string
	// Err carries the last surfaced error message.
	Err string

	log *zap.Logger
}

func NewReducer(totalStages int, log *zap.Logger) *Reducer {
	if totalStages < 1 {
		totalStages = DefaultTotalStages
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reducer{TotalStages: totalStages, log: log}
}

// State returns the current lifecycle position.
func (r *Reducer) CurrentState() State {
	return r.state
}

// Busy reports whether a session is in flight. The triggering control must
// stay disabled while true.
func (r *Reducer) Busy() bool {
	return r.state == StateRequesting || r.state == StateStreaming
}

// Start moves idle to requesting and clears the previous session's display
// state. Re-entrant submission while busy is refused.
func (r *Reducer) Start() bool {
	if r.Busy() {
		return false
	}
	r.state = StateRequesting
	r.buffer = ""
	r.Stage = 0
	r.Image = nil
	r.SessionID = ""
	r.Err = ""
	return true
}

// Feed appends one transport chunk, consumes every complete line in the
// buffer and applies the events found. The trailing fragment, which may be an
// incomplete line or half an event record, is retained for the next chunk.
// Returns the events applied, in order.
func (r *Reducer) Feed(chunk []byte) []core.Event {
	if len(chunk) > 0 && r.state == StateRequesting {
		// First byte of the response body observed.
		r.state = StateStreaming
	}

	r.buffer += string(chunk)

	lines := strings.Split(r.buffer, "\n")
	r.buffer = lines[len(lines)-1]

	var applied []core.Event
	for _, line := range lines[:len(lines)-1] {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, relay.DataPrefix) {
			continue
		}
		payload := strings.TrimSpace(line[len(relay.DataPrefix):])
		if payload == "" {
			continue
		}

		var ev core.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			// One malformed record must never abort the session.
			r.log.Debug("discarding malformed stream record", zap.Error(err))
			continue
		}
		r.apply(ev)
		applied = append(applied, ev)
	}
	return applied
}

func (r *Reducer) apply(ev core.Event) {
	switch ev.Type {
	case core.EventPartial:
		r.Stage = ev.Index + 1
		if r.Stage > r.TotalStages {
			r.Stage = r.TotalStages
		}
		r.decodeImage(ev.Image)

	case core.EventCompleted:
		r.Stage = r.TotalStages
		r.decodeImage(ev.Image)
		if ev.SessionID != "" {
			r.SessionID = ev.SessionID
		}
		r.state = StateCompleted

	case core.EventDone:
		r.state = StateIdle

	case core.EventError:
		// Terminal: surface the message and reset the display entirely, as if
		// done had arrived, but clearing any partial artifact too.
		r.Err = ev.Message
		r.Stage = 0
		r.Image = nil
		r.SessionID = ""
		r.state = StateErrored
	}
}

// decodeImage renders the inline payload. A decode failure is reported but
// does not change state.
func (r *Reducer) decodeImage(image string) {
	if image == "" {
		return
	}
	data, err := base64.StdEncoding.DecodeString(image)
	if err != nil {
		r.log.Debug("invalid image payload", zap.Error(err))
		return
	}
	r.Image = data
}

// CanDownload reports whether the download affordance should show.
func (r *Reducer) CanDownload() bool {
	return r.SessionID != ""
}

// Fail resets the reducer after a transport-level failure, leaving the UI
// re-enterable.
func (r *Reducer) Fail(msg string) {
	r.apply(core.Event{Type: core.EventError, Message: msg})
}
