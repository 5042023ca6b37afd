package events

import "time"

// EventType identifies a stage transition or outcome of a compile run.
type EventType string

const (
	EventProtocolParsed    EventType = "protocol.parsed"
	EventProtocolValidated EventType = "protocol.validated"
	EventProtocolRejected  EventType = "protocol.rejected"
	EventProtocolRendered  EventType = "protocol.rendered"
	EventProtocolMerged    EventType = "protocol.merged"
	EventProtocolCompiled  EventType = "protocol.compiled"
	EventRenderFailed      EventType = "protocol.render_failed"
	EventMergeFailed       EventType = "protocol.merge_failed"
)

// Event represents a single compile event.
type Event struct {
	Type      EventType     `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Job       string        `json:"job,omitempty"`
	Data      any           `json:"data,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// NewEvent creates a new Event with the current timestamp.
func NewEvent(typ EventType, job string, data any) Event {
	return Event{
		Type:      typ,
		Timestamp: time.Now(),
		Job:       job,
		Data:      data,
	}
}
