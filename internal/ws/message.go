package ws

import (
	"time"

	"pirwatch/internal/history"
	"pirwatch/internal/pipeline"
)

// Message types
const (
	TypeFrame = "frame"
	TypeEvent = "event"
)

// FrameMessage is one rendered loop iteration
type FrameMessage struct {
	Type        string               `json:"type"` // "frame"
	Seq         uint64               `json:"seq"`
	Timestamp   time.Time            `json:"timestamp"`
	FrameWidth  int                  `json:"frame_width"`
	FrameHeight int                  `json:"frame_height"`
	Frame       string               `json:"frame,omitempty"` // Base64 encoded JPEG frame
	Detections  []pipeline.Detection `json:"detections"`
	Status      pipeline.Status      `json:"status"`
}

// EventMessage relays a detection loop event
type EventMessage struct {
	Type      string          `json:"type"` // "event"
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Message   string          `json:"message,omitempty"`
	Record    *history.Record `json:"record,omitempty"`
}

// NewEventMessage wraps a bus event
func NewEventMessage(ev pipeline.Event) *EventMessage {
	return &EventMessage{
		Type:      TypeEvent,
		Event:     string(ev.Type),
		Timestamp: ev.Timestamp,
		Message:   ev.Message,
		Record:    ev.Record,
	}
}
