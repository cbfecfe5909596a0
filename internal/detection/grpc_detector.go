package detection

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"pirwatch/internal/pipeline"
)

// DetectMethod is the unary RPC served by the detection service. Request
// and response are google.protobuf.Struct messages.
const DetectMethod = "/pirwatch.detection.v1.DetectionService/Detect"

// GRPCDetectorConfig holds configuration for the gRPC detector
type GRPCDetectorConfig struct {
	Endpoint    string
	Timeout     time.Duration
	DialOptions []grpc.DialOption // appended to the defaults
}

// GRPCDetector classifies frames over gRPC. It implements
// pipeline.Classifier.
type GRPCDetector struct {
	endpoint string
	timeout  time.Duration
	conn     *grpc.ClientConn
}

// NewGRPCDetector creates a client. The connection is established lazily
// on the first call.
func NewGRPCDetector(cfg GRPCDetectorConfig) (*GRPCDetector, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	// Keepalive detects a dead detection service quickly.
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create detection client: %w", err)
	}

	log.Printf("[GRPCDetector] Using %s", cfg.Endpoint)
	return &GRPCDetector{endpoint: cfg.Endpoint, timeout: cfg.Timeout, conn: conn}, nil
}

// Classify sends the frame and returns detections at or above threshold.
func (gd *GRPCDetector) Classify(ctx context.Context, frame *pipeline.Frame, threshold float64) ([]pipeline.Detection, error) {
	imageData, err := frame.EncodeJPEG(JPEGQuality)
	if err != nil {
		return nil, err
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"image":          base64.StdEncoding.EncodeToString(imageData),
		"conf_threshold": threshold,
		"frame_seq":      float64(frame.Seq),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, gd.timeout)
	defer cancel()

	reply := &structpb.Struct{}
	if err := gd.conn.Invoke(ctx, DetectMethod, req, reply); err != nil {
		return nil, fmt.Errorf("detect RPC failed: %w", err)
	}

	var result YOLOResult
	if err := decodeStruct(reply, &result); err != nil {
		return nil, err
	}
	return toDetections(result.Detections, threshold), nil
}

// decodeStruct maps a Struct onto a JSON-tagged Go value.
func decodeStruct(s *structpb.Struct, v interface{}) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Close shuts down the gRPC connection
func (gd *GRPCDetector) Close() error {
	if gd.conn == nil {
		return nil
	}
	return gd.conn.Close()
}
