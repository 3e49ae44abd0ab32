package recorder

import (
	"time"

	"github.com/ai-and-i/recorder/internal/session"
)

// EventType names a recorder event.
type EventType string

const (
	EventSessionStarted    EventType = "session_started"
	EventSessionStopped    EventType = "session_stopped"
	EventSegment           EventType = "segment"
	EventDeviceSwap        EventType = "device_swap"
	EventSourceUnavailable EventType = "source_unavailable"
	EventSourceHealth      EventType = "source_health"
	EventError             EventType = "error"
)

// Event is published on the recorder bus. Payload carries segment audio for
// EventSegment and is not serialized.
type Event struct {
	Type      EventType             `json:"type"`
	SessionID string                `json:"sessionId"`
	Stream    session.Stream        `json:"stream,omitempty"`
	Segment   *session.AudioSegment `json:"segment,omitempty"`
	Payload   []byte                `json:"-"`
	Swap      *session.DeviceSwap   `json:"swap,omitempty"`
	Health    string                `json:"health,omitempty"`
	Error     string                `json:"error,omitempty"`
	At        time.Time             `json:"at"`
}
