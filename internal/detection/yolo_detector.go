// Package detection provides classifier clients for a YOLO object
// detection service reachable over HTTP or gRPC.
package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"pirwatch/internal/pipeline"
)

// JPEGQuality is used when a frame carries no camera JPEG.
const JPEGQuality = 90

// YOLODetection represents a single YOLO detection result
type YOLODetection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
}

// YOLOResult represents YOLO detection response
type YOLOResult struct {
	Detections      []YOLODetection `json:"detections"`
	Count           int             `json:"count"`
	InferenceTimeMs float64         `json:"inference_time_ms"`
	Device          string          `json:"device"`
}

// YOLOHealthResponse represents health check response
type YOLOHealthResponse struct {
	Status       string `json:"status"`
	Device       string `json:"device"`
	GPUAvailable bool   `json:"gpu_available"`
	ModelLoaded  bool   `json:"model_loaded"`
}

// YOLODetector classifies frames through the HTTP detection service.
// It implements pipeline.Classifier.
type YOLODetector struct {
	endpoint string
	client   *http.Client
}

// NewYOLODetector creates a detector for endpoint (e.g. http://localhost:8081).
func NewYOLODetector(endpoint string, timeout time.Duration) *YOLODetector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &YOLODetector{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// Health returns the service health report.
func (yd *YOLODetector) Health(ctx context.Context) (*YOLOHealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, yd.endpoint+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := yd.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check YOLO health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("YOLO health check returned status %d", resp.StatusCode)
	}

	var health YOLOHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &health, nil
}

// Classify posts the frame to /detect and returns detections at or
// above threshold.
func (yd *YOLODetector) Classify(ctx context.Context, frame *pipeline.Frame, threshold float64) ([]pipeline.Detection, error) {
	imageData, err := frame.EncodeJPEG(JPEGQuality)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(imageData); err != nil {
		return nil, err
	}
	if err := w.WriteField("conf_threshold", fmt.Sprintf("%.3f", threshold)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, yd.endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := yd.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("YOLO request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("YOLO detection failed (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result YOLOResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	return toDetections(result.Detections, threshold), nil
}

// toDetections converts service results, dropping those below threshold.
func toDetections(in []YOLODetection, threshold float64) []pipeline.Detection {
	kept := lo.Filter(in, func(d YOLODetection, _ int) bool { return d.Confidence >= threshold })
	return lo.Map(kept, func(d YOLODetection, _ int) pipeline.Detection {
		det := pipeline.Detection{Class: d.Class, Confidence: d.Confidence}
		if len(d.BBox) >= 4 {
			det.BBox = pipeline.BBox{
				X1: int(math.Round(d.BBox[0])),
				Y1: int(math.Round(d.BBox[1])),
				X2: int(math.Round(d.BBox[2])),
				Y2: int(math.Round(d.BBox[3])),
			}
		}
		return det
	})
}
