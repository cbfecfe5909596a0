package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pirwatch/internal/clock"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []call
	output map[string][]byte
	errs   map[string]error
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name: name, args: args})
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return f.output[name], nil
}

func fakeDevice(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video0")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

func TestOpenFallsBackToUSB(t *testing.T) {
	device := fakeDevice(t)
	runner := &fakeRunner{
		output: map[string][]byte{"ffmpeg": testJPEG(t)},
		errs:   map[string]error{"rpicam-still": errors.New("no cameras available")},
	}
	clk := clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	cam := New(Config{
		Sources: []string{PiCameraSource, device},
		Width:   640,
		Height:  480,
		Runner:  runner.run,
		Clock:   clk,
	})
	assert.Equal(t, TypePiCamera, cam.Type())

	h, err := cam.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TypeUSBCamera, cam.Type())
	assert.Equal(t, device, cam.Source())

	require.Len(t, runner.calls, 2)
	assert.Equal(t, "rpicam-still", runner.calls[0].name)
	assert.Equal(t, []string{"-n", "-t", "1", "--encoding", "jpg", "-o", "-", "--width", "640", "--height", "480"}, runner.calls[0].args)
	assert.Equal(t, []string{"-loglevel", "error", "-f", "v4l2", "-video_size", "640x480", "-i", device, "-vframes", "1", "-f", "mjpeg", "-q:v", "2", "-"}, runner.calls[1].args)

	f1, err := h.ReadFrame(context.Background())
	require.NoError(t, err)
	f2, err := h.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f1.Seq)
	assert.Equal(t, uint64(2), f2.Seq)
	assert.Equal(t, image.Rect(0, 0, 8, 6), f1.Image.Bounds())
	assert.Equal(t, clk.Now(), f1.Timestamp)
	assert.NotEmpty(t, f1.JPEG)

	require.NoError(t, h.Close())
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, clk.Sleeps())
	require.NoError(t, h.Close(), "second close is a no-op")
	assert.Len(t, clk.Sleeps(), 1)

	_, err = h.ReadFrame(context.Background())
	assert.ErrorContains(t, err, "closed")
}

func TestOpenNoCamera(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{"rpicam-still": errors.New("no cameras available")}}
	cam := New(Config{
		Sources: []string{PiCameraSource, filepath.Join(t.TempDir(), "video9")},
		Runner:  runner.run,
	})

	_, err := cam.Open(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "no camera available")
	assert.ErrorContains(t, err, "not accessible")
	assert.Len(t, runner.calls, 1, "inaccessible device is not probed")

	_, err = New(Config{Runner: runner.run}).Open(context.Background())
	assert.EqualError(t, err, "no camera sources configured")
}

func TestNetworkSource(t *testing.T) {
	runner := &fakeRunner{output: map[string][]byte{"/usr/bin/ffmpeg": testJPEG(t)}}
	cam := New(Config{
		Sources:    []string{"rtsp://cam.local/stream"},
		FFmpegPath: "/usr/bin/ffmpeg",
		Runner:     runner.run,
		Clock:      clock.NewMockClock(time.Now()),
	})

	_, err := cam.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TypeNetworkCamera, cam.Type())
	assert.Equal(t, []string{"-y", "-loglevel", "error", "-rtsp_transport", "tcp", "-i", "rtsp://cam.local/stream", "-vframes", "1", "-f", "mjpeg", "-q:v", "2", "-"}, runner.calls[0].args)
}

func TestReadFrameErrors(t *testing.T) {
	runner := &fakeRunner{output: map[string][]byte{"rpicam-still": testJPEG(t)}}
	cam := New(Config{Sources: []string{PiCameraSource}, Runner: runner.run, Clock: clock.NewMockClock(time.Now())})

	h, err := cam.Open(context.Background())
	require.NoError(t, err)

	runner.output["rpicam-still"] = []byte("not a jpeg")
	_, err = h.ReadFrame(context.Background())
	assert.ErrorContains(t, err, "failed to decode frame")

	runner.output["rpicam-still"] = nil
	_, err = h.ReadFrame(context.Background())
	assert.ErrorContains(t, err, "returned no image data")
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, TypePiCamera, TypeName("picamera"))
	assert.Equal(t, TypeUSBCamera, TypeName("/dev/video0"))
	assert.Equal(t, TypeNetworkCamera, TypeName("http://10.0.0.5:8080/video"))
	assert.Equal(t, "None", New(Config{}).Type())
}
