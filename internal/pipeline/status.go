package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Status is the per-iteration summary shown on the display and served by
// the status endpoint.
type Status struct {
	Running                       bool      `json:"running"`
	CameraType                    string    `json:"camera_type"`
	MotionSensor                  bool      `json:"motion_sensor"`
	DetectionActive               bool      `json:"detection_active"`
	ActiveRemainingSeconds        float64   `json:"active_remaining_seconds"`
	Collecting                    bool      `json:"collecting"`
	FramesCollected               int       `json:"frames_collected"`
	FramesRequired                int       `json:"frames_required"`
	EventProcessed                bool      `json:"event_processed"`
	Message                       string    `json:"message"`
	Detections                    []string  `json:"detections"`
	NotificationCooldownRemaining float64   `json:"notification_cooldown_remaining"`
	LastError                     string    `json:"last_error,omitempty"`
	UpdatedAt                     time.Time `json:"updated_at"`
}

// Status messages.
const (
	MessageMonitoring        = "👀 Monitoring..."
	MessageEventProcessed    = "✅ Event processed, awaiting next PIR trigger."
	MessagePersonDetected    = "👤 PERSON DETECTED!"
	MessagePetDetected       = "🐾 Pet detected (dog/cat) - No security concern"
	MessagePersonLost        = "👤 Person momentarily lost, continuing frame collection..."
	MessageNothingOfInterest = "👁️ Motion detected, no objects of interest found"

	MessageAlertSent     = "👤 PERSON DETECTED! GIF sent."
	MessageAlertDisabled = "👤 PERSON DETECTED! GIF created (Notifications disabled)."
	MessageAlertCooldown = "👤 PERSON DETECTED! GIF created (Notification cooldown)."
	MessageAlertFailed   = "👤 PERSON DETECTED! GIF created (Send failed)."
	MessageExportFailed  = "👤 PERSON DETECTED! Error creating GIF."
)

// Alert captions.
const (
	CaptionSent         = "🚨 Intrusion Alert: Person Detected!"
	CaptionDisabled     = "Intrusion Alert: Person Detected (Notification Disabled)"
	CaptionCooldown     = "Intrusion Alert: Person Detected (Cooldown)"
	CaptionSendFailed   = "Intrusion Alert: Person Detected (Send Failed)"
	CaptionExportFailed = "Intrusion Alert: Person Detected (Export Failed)"
)

// frameMessage builds the status line for a classified frame inside an
// open window.
func frameMessage(out Outcome, detections []Detection, required int) string {
	var msg string
	switch out.Sighting {
	case SightingPerson:
		msg = MessagePersonDetected
	case SightingPet:
		msg = MessagePetDetected
	case SightingOther:
		msg = "👁️ Detected: " + strings.Join(Classes(detections), ", ")
	default:
		if out.Kind == OutcomeCollecting {
			msg = MessagePersonLost
		} else {
			msg = MessageNothingOfInterest
		}
	}
	if out.Kind == OutcomeCollecting {
		msg += fmt.Sprintf(" (Collecting frame %d/%d)", out.Count, required)
	}
	return msg
}
