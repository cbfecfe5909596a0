package media

import (
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"pirwatch/internal/clock"
	"pirwatch/internal/pipeline"
)

// DefaultFrameDelay is the animation frame duration.
const DefaultFrameDelay = 150 * time.Millisecond

const jpegQuality = 90

var errNoFrames = errors.New("no frames to export")

// Exporter writes annotated event media into a directory. It implements
// pipeline.Exporter.
type Exporter struct {
	dir        string
	clock      clock.Clock
	frameDelay time.Duration
}

// NewExporter creates the media directory if needed.
func NewExporter(dir string, clk clock.Clock, frameDelay time.Duration) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if frameDelay <= 0 {
		frameDelay = DefaultFrameDelay
	}
	return &Exporter{dir: dir, clock: clk, frameDelay: frameDelay}, nil
}

// Dir returns the media directory.
func (e *Exporter) Dir() string {
	return e.dir
}

// ExportStills writes the first max frames, each annotated with its own
// detections, as event_<mmdd_HHMMSS>_frame_<n>.jpg.
func (e *Exporter) ExportStills(frames []pipeline.EventFrame, max int) ([]string, error) {
	if len(frames) == 0 {
		return nil, errNoFrames
	}
	if max > len(frames) {
		max = len(frames)
	}

	prefix := e.clock.Now().Format("0102_150405")
	paths := make([]string, 0, max)
	for i, ef := range frames[:max] {
		if ef.Frame == nil || ef.Frame.Image == nil {
			return paths, fmt.Errorf("frame %d has no image", i+1)
		}
		path := filepath.Join(e.dir, fmt.Sprintf("event_%s_frame_%d.jpg", prefix, i+1))
		if err := writeJPEG(path, Annotate(ef.Frame.Image, ef.Detections)); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// ExportAnimation writes every frame, annotated, as a looping GIF named
// gif_<YYYYmmdd_HHMMSS>.gif.
func (e *Exporter) ExportAnimation(frames []pipeline.EventFrame) (string, error) {
	if len(frames) == 0 {
		return "", errNoFrames
	}

	delay := int(e.frameDelay / (10 * time.Millisecond))
	anim := &gif.GIF{LoopCount: 0}
	for i, ef := range frames {
		if ef.Frame == nil || ef.Frame.Image == nil {
			return "", fmt.Errorf("frame %d has no image", i+1)
		}
		annotated := Annotate(ef.Frame.Image, ef.Detections)
		bounds := annotated.Bounds()
		paletted := image.NewPaletted(bounds, palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, bounds, annotated, bounds.Min)

		anim.Image = append(anim.Image, paletted)
		anim.Delay = append(anim.Delay, delay)
	}

	path := filepath.Join(e.dir, fmt.Sprintf("gif_%s.gif", e.clock.Now().Format("20060102_150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create animation: %w", err)
	}
	if err := gif.EncodeAll(f, anim); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to encode animation: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write animation: %w", err)
	}
	return path, nil
}

func writeJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create still: %w", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to encode still: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write still: %w", err)
	}
	return nil
}
