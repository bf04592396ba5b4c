package core

import "encoding/json"

// EventType discriminates the records flowing from the upstream adapter,
// through the relay, down to the consuming client.
type EventType string

const (
	EventPartial   EventType = "partial"
	EventCompleted EventType = "completed"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is the unit exchanged between the upstream adapter and the relay, and
// again between the relay and the client across the SSE boundary. Only the
// fields relevant to the event type are serialized.
type Event struct {
	Type      EventType `json:"type"`
	Index     int       `json:"index,omitempty"`
	Image     string    `json:"image,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// MarshalJSON emits the per-type wire shape. A plain struct marshal would
// either drop index 0 (omitempty) or leak zero-valued fields into terminal
// events, so each variant is serialized explicitly.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventPartial:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Index int       `json:"index"`
			Image string    `json:"image"`
		}{e.Type, e.Index, e.Image})
	case EventCompleted:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			Image     string    `json:"image"`
			SessionID string    `json:"sessionId,omitempty"`
		}{e.Type, e.Image, e.SessionID})
	case EventError:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
		}{e.Type, e.Message})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}

// Accumulator retains the highest-indexed partial payload observed so far.
// Upstream partial events are not guaranteed to arrive in increasing index
// order, and the final artifact is derived from the numerically highest
// partial when the upstream does not supply a final payload itself.
type Accumulator struct {
	bestIndex int
	bestImage string
}

func NewAccumulator() *Accumulator {
	return &Accumulator{bestIndex: -1}
}

// Observe folds one partial into the accumulator.
func (a *Accumulator) Observe(index int, image string) {
	if index > a.bestIndex {
		a.bestIndex = index
		a.bestImage = image
	}
}

// Best returns the retained payload. The second return is false until at
// least one partial has been observed.
func (a *Accumulator) Best() (string, bool) {
	return a.bestImage, a.bestIndex >= 0
}

// BestIndex returns the highest index observed, or -1.
func (a *Accumulator) BestIndex() int {
	return a.bestIndex
}
