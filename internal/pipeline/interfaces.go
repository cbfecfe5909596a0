package pipeline

import (
	"context"
	"time"
)

// Sensor reports whether the PIR sensor currently senses motion.
type Sensor interface {
	Read() (bool, error)
}

// Camera opens a frame source.
type Camera interface {
	// Open acquires the device. The returned handle is owned by the caller
	// and must be closed.
	Open(ctx context.Context) (CameraHandle, error)

	// Type names the source that was opened (e.g. "Raspberry Pi Camera")
	Type() string
}

// CameraHandle reads frames from an opened camera.
type CameraHandle interface {
	ReadFrame(ctx context.Context) (*Frame, error)
	Close() error
}

// Classifier is the object-detection model, treated as a black box.
type Classifier interface {
	// Classify returns detections at or above threshold
	Classify(ctx context.Context, frame *Frame, threshold float64) ([]Detection, error)
}

// Exporter renders an event's frames to files.
type Exporter interface {
	// ExportStills writes up to max annotated frames and returns their paths
	ExportStills(frames []EventFrame, max int) ([]string, error)

	// ExportAnimation writes all frames as one animation and returns its path
	ExportAnimation(frames []EventFrame) (string, error)
}

// Notifier delivers alerts to the remote chat endpoint.
type Notifier interface {
	// IsEnabled reports the notifications feature flag
	IsEnabled() bool

	SendAnimation(ctx context.Context, caption, animationPath string) error
}

// View is what the display layer renders for one loop iteration.
type View struct {
	Frame      *Frame
	Detections []Detection
	Status     Status
}

// Display renders frames and the status summary.
type Display interface {
	Render(view View)
}

// InferenceSample is one profiling observation of a classified frame.
type InferenceSample struct {
	Timestamp      time.Time
	InferenceTime  time.Duration // classifier call duration
	FrameInterval  time.Duration // time since the previous classified frame
	PersonDetected bool
	NumDetections  int
	SleepInterval  time.Duration
}

// Profiler records inference samples.
type Profiler interface {
	Record(sample InferenceSample)
}

// EnergyMeter integrates power draw over loop iterations.
type EnergyMeter interface {
	Update(pirActive, cameraActive, detectionActive bool)
}
