package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"pirwatch/internal/pipeline"
)

// SystemStatus is the overall appliance state.
type SystemStatus struct {
	DetectionRunning     bool            `json:"detection_running"`
	NotificationsEnabled bool            `json:"notifications_enabled"`
	UptimeSeconds        int             `json:"uptime_seconds"`
	SensorType           string          `json:"sensor_type"`
	ClassifierType       string          `json:"classifier_type"`
	Detection            pipeline.Status `json:"detection"`
}

// NotificationState reports the alert feature flag.
type NotificationState interface {
	IsEnabled() bool
}

// SystemImplementation starts and stops the detection loop and reports
// the system status.
type SystemImplementation struct {
	session        *pipeline.Session
	bus            *pipeline.EventBus
	notifications  NotificationState
	sensorType     string
	classifierType string
	startTime      time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSystemService creates the detection controller. bus and notifications
// may be nil.
func NewSystemService(session *pipeline.Session, bus *pipeline.EventBus, notifications NotificationState, sensorType, classifierType string) *SystemImplementation {
	return &SystemImplementation{
		session:        session,
		bus:            bus,
		notifications:  notifications,
		sensorType:     sensorType,
		classifierType: classifierType,
		startTime:      time.Now(),
	}
}

// StartDetection starts the detection loop in the background. Starting a
// running loop is a no-op. The loop outlives ctx; use StopDetection.
func (s *SystemImplementation) StartDetection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return &InternalError{Message: "previous detection loop is still shutting down"}
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running = true

	go func() {
		defer close(done)
		err := s.session.Run(runCtx)

		s.mu.Lock()
		if s.done == done {
			s.running = false
		}
		s.mu.Unlock()

		if err != nil {
			log.Printf("[SystemService] Detection stopped with error: %v", err)
			if s.bus != nil {
				s.bus.Publish(pipeline.Event{
					Type:      pipeline.EventError,
					Timestamp: time.Now(),
					Message:   err.Error(),
				})
			}
		}
	}()

	log.Printf("[SystemService] Detection started")
	return nil
}

// StopDetection cancels the loop and waits for the iteration in progress
// to complete, or for ctx to expire.
func (s *SystemImplementation) StopDetection(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		log.Printf("[SystemService] Detection stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for detection loop: %w", ctx.Err())
	}
}

// IsDetectionRunning reports whether the loop goroutine is active.
func (s *SystemImplementation) IsDetectionRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns the latest detection summary.
func (s *SystemImplementation) Status() pipeline.Status {
	st := s.session.Status()
	st.Running = s.IsDetectionRunning()
	st.LastError = s.session.LastError()
	return st
}

// SystemStatus returns the overall appliance state.
func (s *SystemImplementation) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	enabled := false
	if s.notifications != nil {
		enabled = s.notifications.IsEnabled()
	}
	return &SystemStatus{
		DetectionRunning:     s.IsDetectionRunning(),
		NotificationsEnabled: enabled,
		UptimeSeconds:        int(time.Since(s.startTime).Seconds()),
		SensorType:           s.sensorType,
		ClassifierType:       s.classifierType,
		Detection:            s.Status(),
	}, nil
}
