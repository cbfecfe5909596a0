package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/samber/lo"
)

// Classes the detection loop reacts to.
const (
	ClassPerson = "person"
	ClassDog    = "dog"
	ClassCat    = "cat"
)

// Frame represents a captured camera frame
type Frame struct {
	Seq       uint64      // Frame sequence number
	Timestamp time.Time   // Capture timestamp
	Image     image.Image // Decoded frame
	JPEG      []byte      // Encoded bytes as delivered by the camera, if any
}

// EncodeJPEG returns the frame as JPEG, reusing the camera bytes when present.
func (f *Frame) EncodeJPEG(quality int) ([]byte, error) {
	if len(f.JPEG) > 0 {
		return f.JPEG, nil
	}
	if f.Image == nil {
		return nil, fmt.Errorf("frame %d has no image", f.Seq)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame %d: %w", f.Seq, err)
	}
	return buf.Bytes(), nil
}

// BBox is a bounding box in pixel coordinates
type BBox struct {
	X1 int `json:"x1"` // Left
	Y1 int `json:"y1"` // Top
	X2 int `json:"x2"` // Right
	Y2 int `json:"y2"` // Bottom
}

// Detection represents a single object detection result
type Detection struct {
	Class      string  `json:"class"`      // Detection class (person, dog, ...)
	Confidence float64 `json:"confidence"` // Detection confidence [0-1]
	BBox       BBox    `json:"bbox"`
}

// EventFrame is one accumulated frame together with the detections
// produced for it.
type EventFrame struct {
	Frame      *Frame
	Detections []Detection
}

// DetectionEvent is one confirmed person sighting of exactly N frames.
type DetectionEvent struct {
	StartedAt   time.Time
	FinalizedAt time.Time
	Frames      []EventFrame
}

// Sighting summarises what a classifier result means for the loop.
type Sighting int

const (
	SightingNone   Sighting = iota // nothing above threshold
	SightingPerson                 // at least one person
	SightingPet                    // dog or cat without any person
	SightingOther                  // other classes only
)

func (s Sighting) String() string {
	switch s {
	case SightingPerson:
		return "person"
	case SightingPet:
		return "pet"
	case SightingOther:
		return "other"
	default:
		return "none"
	}
}

// Summarize classifies a detection set.
func Summarize(detections []Detection) Sighting {
	if len(detections) == 0 {
		return SightingNone
	}
	if lo.ContainsBy(detections, func(d Detection) bool { return d.Class == ClassPerson }) {
		return SightingPerson
	}
	if lo.ContainsBy(detections, func(d Detection) bool { return d.Class == ClassDog || d.Class == ClassCat }) {
		return SightingPet
	}
	return SightingOther
}

// Classes returns the distinct class names of detections in encounter order.
func Classes(detections []Detection) []string {
	return lo.Uniq(lo.Map(detections, func(d Detection, _ int) string { return d.Class }))
}

// FilterByConfidence drops detections below threshold.
func FilterByConfidence(detections []Detection, threshold float64) []Detection {
	return lo.Filter(detections, func(d Detection, _ int) bool { return d.Confidence >= threshold })
}
