package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pirwatch/internal/clock"
	"pirwatch/internal/history"
)

// Collaborators wires a Session to its devices and outputs.
// Display, Profiler, Energy, Notifier and Bus are optional.
type Collaborators struct {
	Clock      clock.Clock
	Sensor     Sensor
	Camera     Camera
	Classifier Classifier
	Exporter   Exporter
	Notifier   Notifier
	Display    Display
	Profiler   Profiler
	Energy     EnergyMeter
	Ledger     *history.Ledger
	Throttle   *Throttle
	Bus        *EventBus
}

// Session is one run of the detection loop: PIR gate, classification,
// event accumulation and alert delivery. Step is strictly sequential and
// must only be called from the goroutine running the loop.
type Session struct {
	opts Options
	Collaborators

	gate *MotionGate
	acc  *Accumulator

	lastDetections   []Detection
	lastClassifiedAt time.Time

	mu         sync.RWMutex
	status     Status
	running    bool
	lastError  string
	stepFailed bool // an error was recorded during the current Step
}

// NewSession validates collaborators and options and creates a session.
func NewSession(c Collaborators, opts Options) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	switch {
	case c.Sensor == nil:
		return nil, errors.New("sensor is required")
	case c.Camera == nil:
		return nil, errors.New("camera is required")
	case c.Classifier == nil:
		return nil, errors.New("classifier is required")
	case c.Exporter == nil:
		return nil, errors.New("exporter is required")
	case c.Ledger == nil:
		return nil, errors.New("history ledger is required")
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Throttle == nil {
		c.Throttle = NewThrottle(opts.NotificationCooldown)
	}

	s := &Session{
		opts:          opts,
		Collaborators: c,
		acc:           NewAccumulator(opts.EventFrames),
	}
	s.gate = NewMotionGate(opts.ActiveDuration, s.onGateSignal)
	s.status = Status{
		CameraType:     c.Camera.Type(),
		FramesRequired: opts.EventFrames,
		Message:        MessageMonitoring,
		Detections:     []string{},
	}
	return s, nil
}

// Run opens the camera and loops until ctx is cancelled or a camera read
// fails. Cancellation is observed between iterations only; an iteration
// in progress, including an alert send, completes first.
func (s *Session) Run(ctx context.Context) error {
	s.clearLastError()

	handle, err := s.Camera.Open(ctx)
	if err != nil {
		camErr := &CameraReadError{Err: err}
		s.setLastError(camErr)
		return camErr
	}
	defer func() {
		if err := handle.Close(); err != nil {
			log.Printf("[Session] Failed to release camera: %v", err)
		}
	}()

	s.resetEventState()
	s.setRunning(true)
	defer s.setRunning(false)

	log.Printf("[Session] Detection loop started (camera: %s)", s.Camera.Type())

	iterCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			log.Printf("[Session] Detection loop stopped")
			return nil
		}
		if err := s.Step(iterCtx, handle); err != nil {
			log.Printf("[Session] Detection loop aborted: %v", err)
			s.setLastError(err)
			return err
		}
		s.Clock.Sleep(s.opts.LoopInterval)
	}
}

// Step runs one loop iteration against an opened camera. Only a
// *CameraReadError is returned; all other failures are absorbed.
func (s *Session) Step(ctx context.Context, handle CameraHandle) error {
	s.mu.Lock()
	s.stepFailed = false
	s.mu.Unlock()

	motion, err := s.Sensor.Read()
	if err != nil {
		log.Printf("[Session] %v: %v", ErrSensorRead, err)
		s.setLastError(fmt.Errorf("%w: %v", ErrSensorRead, err))
		motion = false
	}
	s.gate.OnSensorReading(motion, s.Clock.Now())

	frame, err := handle.ReadFrame(ctx)
	if err != nil {
		return &CameraReadError{Err: err}
	}

	now := s.Clock.Now()
	active := s.gate.IsActive(now)
	classified := false
	var (
		message    string
		detections []Detection
	)

	switch {
	case !active:
		s.acc.Reset()
		s.lastDetections = nil
		message = MessageMonitoring

	case s.acc.Processed():
		message = MessageEventProcessed
		detections = s.lastDetections

	default:
		detections = s.classify(ctx, frame)
		classified = true

		out := s.acc.OnFrame(frame, detections, s.Clock.Now())
		message = frameMessage(out, detections, s.opts.EventFrames)
		if out.Started {
			log.Printf("[Session] Person detected, collecting %d frames", s.opts.EventFrames)
			s.publish(Event{Type: EventPersonDetected, Message: message})
		}
		if out.Kind == OutcomeFinalized {
			message = s.finalize(ctx, out.Event)
		}
	}

	if s.Energy != nil {
		s.Energy.Update(motion, true, classified)
	}

	st := s.buildStatus(motion, active, message, detections)
	if s.Display != nil {
		s.Display.Render(View{Frame: frame, Detections: detections, Status: st})
	}
	s.publish(Event{Type: EventStatus, Message: message, Status: &st})
	return nil
}

// classify runs the classifier, treating a failure as an empty result.
func (s *Session) classify(ctx context.Context, frame *Frame) []Detection {
	start := s.Clock.Now()
	detections, err := s.Classifier.Classify(ctx, frame, s.opts.ConfidenceThreshold)
	end := s.Clock.Now()
	if err != nil {
		s.recordError(fmt.Errorf("%w: %v", ErrClassifier, err))
		detections = nil
	}
	detections = FilterByConfidence(detections, s.opts.ConfidenceThreshold)
	s.lastDetections = detections

	if s.Profiler != nil {
		var interval time.Duration
		if !s.lastClassifiedAt.IsZero() {
			interval = end.Sub(s.lastClassifiedAt)
		}
		s.Profiler.Record(InferenceSample{
			Timestamp:      end,
			InferenceTime:  end.Sub(start),
			FrameInterval:  interval,
			PersonDetected: Summarize(detections) == SightingPerson,
			NumDetections:  len(detections),
			SleepInterval:  s.opts.LoopInterval,
		})
	}
	s.lastClassifiedAt = end
	return detections
}

// finalize exports a completed event, delivers the alert and records the
// outcome. It returns the status message for the iteration.
func (s *Session) finalize(ctx context.Context, event *DetectionEvent) string {
	log.Printf("[Session] Event complete with %d frames, exporting media", len(event.Frames))

	stills, err := s.Exporter.ExportStills(event.Frames, s.opts.StillFrames)
	if err != nil {
		s.recordError(fmt.Errorf("%w: stills: %v", ErrExport, err))
	}

	animationPath, err := s.Exporter.ExportAnimation(event.Frames)
	if err != nil {
		s.recordError(fmt.Errorf("%w: animation: %v", ErrExport, err))
		animationPath = ""
	}

	outcome, caption, message := s.deliver(ctx, animationPath)

	rec := history.NewRecord(s.Clock.Now(), caption, outcome, animationPath, stills)
	if err := s.Ledger.Add(ctx, rec); err != nil {
		s.recordError(fmt.Errorf("%w: %v", ErrPersistence, err))
	}

	log.Printf("[Session] Event recorded: %s (%s)", rec.ID, outcome)
	s.publish(Event{Type: EventFinalized, Message: caption, Record: &rec})
	return message
}

// deliver chooses the alert outcome for an exported event and sends it
// when allowed. The throttle advances only on a successful send.
func (s *Session) deliver(ctx context.Context, animationPath string) (history.Outcome, string, string) {
	now := s.Clock.Now()
	switch {
	case animationPath == "":
		return history.OutcomeExportFailed, CaptionExportFailed, MessageExportFailed
	case s.Notifier == nil || !s.Notifier.IsEnabled():
		return history.OutcomeDisabled, CaptionDisabled, MessageAlertDisabled
	case !s.Throttle.CanSend(now):
		log.Printf("[Session] Alert suppressed, cooldown %s remaining", s.Throttle.Remaining(now).Round(time.Second))
		return history.OutcomeCooldown, CaptionCooldown, MessageAlertCooldown
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.NotifyTimeout)
	defer cancel()

	if err := s.Notifier.SendAnimation(sendCtx, CaptionSent, animationPath); err != nil {
		s.recordError(fmt.Errorf("%w: %v", ErrRemoteSend, err))
		return history.OutcomeSendFailed, CaptionSendFailed, MessageAlertFailed
	}

	s.Throttle.MarkSent(s.Clock.Now())
	log.Printf("[Session] Alert sent: %s", animationPath)
	return history.OutcomeSent, CaptionSent, MessageAlertSent
}

func (s *Session) onGateSignal(sig GateSignal) {
	switch sig.Kind {
	case SignalMotionDetected:
		if !sig.Opened {
			return
		}
		log.Printf("[Session] Motion detected, detection window open for %s", s.opts.ActiveDuration)
		s.publish(Event{Type: EventMotionDetected, Timestamp: sig.At, Message: "motion detected"})
	case SignalWindowClosed:
		if discarded := s.acc.Count(); discarded > 0 {
			log.Printf("[Session] Detection window closed, discarding %d collected frames", discarded)
		} else {
			log.Printf("[Session] Detection window closed")
		}
		s.publish(Event{Type: EventWindowClosed, Timestamp: sig.At, Message: "window closed"})
	}
}

func (s *Session) buildStatus(motion, active bool, message string, detections []Detection) Status {
	now := s.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// A clean iteration clears the error left by an earlier one.
	if !s.stepFailed {
		s.lastError = ""
	}

	s.status = Status{
		Running:                       s.running,
		CameraType:                    s.Camera.Type(),
		MotionSensor:                  motion,
		DetectionActive:               active,
		ActiveRemainingSeconds:        s.gate.Remaining(now).Seconds(),
		Collecting:                    s.acc.Collecting(),
		FramesCollected:               s.acc.Count(),
		FramesRequired:                s.opts.EventFrames,
		EventProcessed:                s.acc.Processed(),
		Message:                       message,
		Detections:                    Classes(detections),
		NotificationCooldownRemaining: s.Throttle.Remaining(now).Seconds(),
		LastError:                     s.lastError,
		UpdatedAt:                     now,
	}
	return s.status
}

// resetEventState discards any window and event left from a previous run.
func (s *Session) resetEventState() {
	s.gate = NewMotionGate(s.opts.ActiveDuration, s.onGateSignal)
	s.acc.Reset()
	s.lastDetections = nil
	s.lastClassifiedAt = time.Time{}
}

func (s *Session) recordError(err error) {
	log.Printf("[Session] %v", err)
	s.setLastError(err)
	s.publish(Event{Type: EventError, Message: err.Error()})
}

func (s *Session) publish(ev Event) {
	if s.Bus == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.Clock.Now()
	}
	s.Bus.Publish(ev)
}

func (s *Session) setRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.status.Running = running
	s.mu.Unlock()
}

func (s *Session) setLastError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.stepFailed = true
	s.mu.Unlock()
}

func (s *Session) clearLastError() {
	s.mu.Lock()
	s.lastError = ""
	s.mu.Unlock()
}

// Status returns the summary of the latest iteration.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Detections = append([]string{}, s.status.Detections...)
	return st
}

// Running reports whether the loop is executing.
func (s *Session) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastError returns the error recorded by the latest iteration, or the
// fatal error that ended the last run. It is empty after a clean iteration.
func (s *Session) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Options returns the session options.
func (s *Session) Options() Options {
	return s.opts
}
