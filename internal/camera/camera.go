// Package camera captures still frames from a Raspberry Pi camera, a
// V4L2 device or a network stream by shelling out to rpicam-still or
// ffmpeg.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"pirwatch/internal/clock"
	"pirwatch/internal/pipeline"
)

// PiCameraSource selects the Raspberry Pi camera module.
const PiCameraSource = "picamera"

// Type names reported in the status summary.
const (
	TypePiCamera      = "Raspberry Pi Camera"
	TypeUSBCamera     = "USB Camera"
	TypeNetworkCamera = "Network Camera"
)

// Runner executes a capture command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Config configures the capture chain.
type Config struct {
	Sources        []string // tried in order until one captures a frame
	Width          int
	Height         int
	FFmpegPath     string
	RpicamPath     string
	CaptureTimeout time.Duration
	ReleaseGrace   time.Duration // wait after Close before the device is reused
	Runner         Runner
	Clock          clock.Clock
}

// Camera opens the first working source. It implements pipeline.Camera.
type Camera struct {
	cfg Config

	mu     sync.RWMutex
	source string
}

// New creates a camera with defaults applied.
func New(cfg Config) *Camera {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.RpicamPath == "" {
		cfg.RpicamPath = "rpicam-still"
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 5 * time.Second
	}
	if cfg.ReleaseGrace <= 0 {
		cfg.ReleaseGrace = 500 * time.Millisecond
	}
	if cfg.Runner == nil {
		cfg.Runner = execRunner
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	return &Camera{cfg: cfg}
}

// TypeName describes a source for display.
func TypeName(source string) string {
	switch {
	case source == PiCameraSource:
		return TypePiCamera
	case isNetworkSource(source):
		return TypeNetworkCamera
	default:
		return TypeUSBCamera
	}
}

// Type names the opened source, or the preferred one before Open.
func (c *Camera) Type() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.source != "" {
		return TypeName(c.source)
	}
	if len(c.cfg.Sources) > 0 {
		return TypeName(c.cfg.Sources[0])
	}
	return "None"
}

// Source returns the source chosen by the last successful Open.
func (c *Camera) Source() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// Open probes each source with a test capture and returns a handle on
// the first one that works.
func (c *Camera) Open(ctx context.Context) (pipeline.CameraHandle, error) {
	var errs []error
	for _, source := range c.cfg.Sources {
		if !deviceAccessible(source) {
			errs = append(errs, fmt.Errorf("camera device %s is not accessible", source))
			continue
		}
		// The probe capture turns the camera on.
		if _, err := c.capture(ctx, source); err != nil {
			log.Printf("[Camera] %s unavailable: %v", TypeName(source), err)
			errs = append(errs, fmt.Errorf("%s: %w", source, err))
			continue
		}

		c.mu.Lock()
		c.source = source
		c.mu.Unlock()

		log.Printf("[Camera] Using %s (%s)", TypeName(source), source)
		return &handle{cam: c, source: source}, nil
	}

	if len(errs) == 0 {
		return nil, errors.New("no camera sources configured")
	}
	return nil, fmt.Errorf("no camera available: %w", errors.Join(errs...))
}

// capture takes one JPEG frame from source.
func (c *Camera) capture(ctx context.Context, source string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CaptureTimeout)
	defer cancel()

	name, args := c.command(source)
	data, err := c.cfg.Runner(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s returned no image data", name)
	}
	return data, nil
}

func (c *Camera) command(source string) (string, []string) {
	w, h := strconv.Itoa(c.cfg.Width), strconv.Itoa(c.cfg.Height)

	if source == PiCameraSource {
		args := []string{"-n", "-t", "1", "--encoding", "jpg", "-o", "-"}
		if c.cfg.Width > 0 && c.cfg.Height > 0 {
			args = append(args, "--width", w, "--height", h)
		}
		return c.cfg.RpicamPath, args
	}

	if isNetworkSource(source) {
		args := []string{"-y", "-loglevel", "error"}
		if strings.HasPrefix(source, "rtsp://") {
			args = append(args, "-rtsp_transport", "tcp")
		}
		args = append(args, "-i", source, "-vframes", "1", "-f", "mjpeg", "-q:v", "2", "-")
		return c.cfg.FFmpegPath, args
	}

	args := []string{"-loglevel", "error", "-f", "v4l2"}
	if c.cfg.Width > 0 && c.cfg.Height > 0 {
		args = append(args, "-video_size", w+"x"+h)
	}
	args = append(args, "-i", source, "-vframes", "1", "-f", "mjpeg", "-q:v", "2", "-")
	return c.cfg.FFmpegPath, args
}

// handle reads frames from an opened source.
type handle struct {
	cam    *Camera
	source string

	mu     sync.Mutex
	seq    uint64
	closed bool
}

func (h *handle) ReadFrame(ctx context.Context) (*pipeline.Frame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("camera %s is closed", h.source)
	}

	data, err := h.cam.capture(ctx, h.source)
	if err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	h.seq++
	return &pipeline.Frame{
		Seq:       h.seq,
		Timestamp: h.cam.cfg.Clock.Now(),
		Image:     img,
		JPEG:      data,
	}, nil
}

// Close releases the source and waits for the grace period so that a
// following Open finds the device free.
func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.cam.cfg.Clock.Sleep(h.cam.cfg.ReleaseGrace)
	log.Printf("[Camera] Released %s", h.source)
	return nil
}

// execRunner runs the command and returns stdout.
func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w (stderr: %s)", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// isNetworkSource checks if source is an HTTP/RTSP URL
func isNetworkSource(source string) bool {
	return strings.HasPrefix(source, "http://") ||
		strings.HasPrefix(source, "https://") ||
		strings.HasPrefix(source, "rtsp://")
}

// deviceAccessible checks that a local device exists and can be opened.
// Network sources and the Pi camera are verified by the probe capture.
func deviceAccessible(source string) bool {
	if source == PiCameraSource || isNetworkSource(source) {
		return true
	}

	file, err := os.OpenFile(source, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}
