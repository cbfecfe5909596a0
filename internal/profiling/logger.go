// Package profiling logs per-inference timing and host load to CSV and
// keeps a rolling summary for the API.
package profiling

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"gonum.org/v1/gonum/stat"

	"pirwatch/internal/pipeline"
)

// Header is the first row of the profiling CSV.
var Header = []string{
	"timestamp", "inference_time", "fps",
	"cpu_percent", "ram_percent", "temperature",
	"person_detected", "num_detections", "sleep_interval",
}

const (
	timestampLayout = "2006-01-02 15:04:05"
	defaultWindow   = 500
)

// Summary describes the recent inference samples.
type Summary struct {
	Samples         int         `json:"samples"`
	PersonFrames    int         `json:"person_frames"`
	MeanInferenceMs float64     `json:"mean_inference_ms"`
	StdInferenceMs  float64     `json:"std_inference_ms"`
	P95InferenceMs  float64     `json:"p95_inference_ms"`
	MeanFPS         float64     `json:"mean_fps"`
	Host            HostMetrics `json:"host"`
}

type point struct {
	inferenceMs float64
	fps         float64
	person      bool
}

// Logger appends one CSV row per classified frame. It implements
// pipeline.Profiler.
type Logger struct {
	host   *HostSampler
	window int

	mu       sync.Mutex
	file     *os.File
	writer   *csv.Writer
	points   []point
	lastHost HostMetrics
}

// NewLogger opens (or creates) the CSV at path. The header is written
// when the file is new or empty. host may be nil.
func NewLogger(path string, host *HostSampler) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profiling directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open profiling log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat profiling log: %w", err)
	}

	l := &Logger{
		host:   host,
		window: defaultWindow,
		file:   f,
		writer: csv.NewWriter(f),
	}
	if info.Size() == 0 {
		if err := l.writeRow(Header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return l, nil
}

// Record writes the sample. Write failures are logged, never returned,
// so profiling cannot stall the detection loop.
func (l *Logger) Record(s pipeline.InferenceSample) {
	var host HostMetrics
	if l.host != nil {
		host = l.host.Sample()
	}

	interval := s.FrameInterval
	if interval <= 0 {
		interval = s.InferenceTime
	}
	fps := 0.0
	if interval > 0 {
		fps = 1 / interval.Seconds()
	}

	temperature := ""
	if host.Temperature != nil {
		temperature = strconv.FormatFloat(*host.Temperature, 'f', 1, 64)
	}

	row := []string{
		s.Timestamp.Format(timestampLayout),
		strconv.FormatFloat(s.InferenceTime.Seconds(), 'f', 4, 64),
		strconv.FormatFloat(fps, 'f', 2, 64),
		strconv.FormatFloat(host.CPUPercent, 'f', 1, 64),
		strconv.FormatFloat(host.RAMPercent, 'f', 1, 64),
		temperature,
		strconv.FormatBool(s.PersonDetected),
		strconv.Itoa(s.NumDetections),
		strconv.FormatFloat(s.SleepInterval.Seconds(), 'f', 3, 64),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastHost = host
	l.points = append(l.points, point{
		inferenceMs: float64(s.InferenceTime.Microseconds()) / 1000,
		fps:         fps,
		person:      s.PersonDetected,
	})
	if len(l.points) > l.window {
		l.points = l.points[len(l.points)-l.window:]
	}

	if err := l.writeRow(row); err != nil {
		log.Printf("[Profiling] %v", err)
	}
}

func (l *Logger) writeRow(row []string) error {
	if l.writer == nil {
		return fmt.Errorf("profiling log is closed")
	}
	if err := l.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write profiling row: %w", err)
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush profiling log: %w", err)
	}
	return nil
}

// Summary computes statistics over the retained samples.
func (l *Logger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	sum := Summary{Samples: len(l.points), Host: l.lastHost}
	if len(l.points) == 0 {
		return sum
	}

	inference := make([]float64, len(l.points))
	fps := make([]float64, len(l.points))
	for i, p := range l.points {
		inference[i] = p.inferenceMs
		fps[i] = p.fps
		if p.person {
			sum.PersonFrames++
		}
	}

	sum.MeanInferenceMs, sum.StdInferenceMs = stat.MeanStdDev(inference, nil)
	if len(inference) < 2 {
		sum.StdInferenceMs = 0
	}
	sum.MeanFPS = stat.Mean(fps, nil)

	sort.Float64s(inference)
	sum.P95InferenceMs = stat.Quantile(0.95, stat.Empirical, inference, nil)
	return sum
}

// inferenceSeries returns the retained inference times in ms, oldest first.
func (l *Logger) inferenceSeries() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]float64, len(l.points))
	for i, p := range l.points {
		out[i] = p.inferenceMs
	}
	return out
}

// Close flushes and closes the CSV.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	l.writer.Flush()
	err := l.file.Close()
	l.file = nil
	l.writer = nil
	return err
}
