package ws

import (
	"bytes"
	"encoding/base64"
	"image/jpeg"
	"log"
	"sync"

	"pirwatch/internal/media"
	"pirwatch/internal/pipeline"
)

const displayQuality = 80

// FrameSink receives every rendered JPEG.
type FrameSink interface {
	Publish(frame []byte)
}

// Display renders loop iterations for viewers: frames are annotated,
// kept as the latest snapshot, and pushed to the hub and any sinks. It
// implements pipeline.Display.
type Display struct {
	hub   *DetectionHub
	sinks []FrameSink

	mu     sync.RWMutex
	latest []byte
	status pipeline.Status
}

// NewDisplay creates a display. hub may be nil.
func NewDisplay(hub *DetectionHub, sinks ...FrameSink) *Display {
	return &Display{hub: hub, sinks: sinks}
}

func (d *Display) Render(view pipeline.View) {
	d.mu.Lock()
	d.status = view.Status
	d.mu.Unlock()

	if view.Frame == nil {
		return
	}

	data, err := d.encode(view)
	if err != nil {
		log.Printf("[Display] Failed to encode frame %d: %v", view.Frame.Seq, err)
		return
	}

	d.mu.Lock()
	d.latest = data
	d.mu.Unlock()

	for _, sink := range d.sinks {
		sink.Publish(data)
	}

	if d.hub == nil || !d.hub.HasClients() {
		return
	}
	msg := &FrameMessage{
		Type:       TypeFrame,
		Seq:        view.Frame.Seq,
		Timestamp:  view.Frame.Timestamp,
		Frame:      base64.StdEncoding.EncodeToString(data),
		Detections: view.Detections,
		Status:     view.Status,
	}
	if view.Frame.Image != nil {
		b := view.Frame.Image.Bounds()
		msg.FrameWidth, msg.FrameHeight = b.Dx(), b.Dy()
	}
	if msg.Detections == nil {
		msg.Detections = []pipeline.Detection{}
	}
	d.hub.BroadcastJSON(msg)
}

// encode returns the frame JPEG, annotated when there are detections.
func (d *Display) encode(view pipeline.View) ([]byte, error) {
	if len(view.Detections) == 0 || view.Frame.Image == nil {
		return view.Frame.EncodeJPEG(displayQuality)
	}
	var buf bytes.Buffer
	annotated := media.Annotate(view.Frame.Image, view.Detections)
	if err := jpeg.Encode(&buf, annotated, &jpeg.Options{Quality: displayQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LatestFrame returns the last rendered JPEG.
func (d *Display) LatestFrame() ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest, d.latest != nil
}

// LastStatus returns the status of the last rendered iteration.
func (d *Display) LastStatus() pipeline.Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}
