package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pirwatch/internal/clock"
	"pirwatch/internal/history"
)

type fakeSensor struct {
	motion bool
	err    error
}

func (s *fakeSensor) Read() (bool, error) { return s.motion, s.err }

type fakeHandle struct {
	seq       uint64
	failAt    uint64
	closed    bool
	closeErr  error
	readCalls int
}

func (h *fakeHandle) ReadFrame(ctx context.Context) (*Frame, error) {
	h.readCalls++
	h.seq++
	if h.failAt != 0 && h.seq >= h.failAt {
		return nil, errors.New("device unplugged")
	}
	return &Frame{Seq: h.seq}, nil
}

func (h *fakeHandle) Close() error {
	h.closed = true
	return h.closeErr
}

type fakeCamera struct {
	handle  *fakeHandle
	openErr error
}

func (c *fakeCamera) Open(ctx context.Context) (CameraHandle, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.handle, nil
}

func (c *fakeCamera) Type() string { return "Test Camera" }

type fakeClassifier struct {
	detections []Detection
	err        error
	calls      int
}

func (c *fakeClassifier) Classify(ctx context.Context, frame *Frame, threshold float64) ([]Detection, error) {
	c.calls++
	return c.detections, c.err
}

type fakeExporter struct {
	stillsErr error
	animErr   error
	frames    []int
}

func (e *fakeExporter) ExportStills(frames []EventFrame, max int) ([]string, error) {
	if e.stillsErr != nil {
		return nil, e.stillsErr
	}
	n := min(max, len(frames))
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("still_%d.jpg", i+1)
	}
	return paths, nil
}

func (e *fakeExporter) ExportAnimation(frames []EventFrame) (string, error) {
	e.frames = append(e.frames, len(frames))
	if e.animErr != nil {
		return "", e.animErr
	}
	return "event.gif", nil
}

type fakeNotifier struct {
	enabled     bool
	err         error
	captions    []string
	hadDeadline bool
}

func (n *fakeNotifier) IsEnabled() bool { return n.enabled }

func (n *fakeNotifier) SendAnimation(ctx context.Context, caption, path string) error {
	n.captions = append(n.captions, caption)
	_, n.hadDeadline = ctx.Deadline()
	return n.err
}

type memoryStore struct {
	saveErr error
	saves   int
}

func (m *memoryStore) LoadHistory(ctx context.Context) ([]history.Record, error) {
	return nil, nil
}

func (m *memoryStore) SaveHistory(ctx context.Context, records []history.Record) error {
	m.saves++
	return m.saveErr
}

type recordingDisplay struct {
	views    []View
	onRender func(View)
}

func (d *recordingDisplay) Render(v View) {
	d.views = append(d.views, v)
	if d.onRender != nil {
		d.onRender(v)
	}
}

func (d *recordingDisplay) last() View {
	return d.views[len(d.views)-1]
}

type recordingProfiler struct {
	samples []InferenceSample
}

func (p *recordingProfiler) Record(s InferenceSample) { p.samples = append(p.samples, s) }

type recordingEnergy struct {
	detecting int
	updates   int
}

func (e *recordingEnergy) Update(pir, camera, detecting bool) {
	e.updates++
	if detecting {
		e.detecting++
	}
}

type harness struct {
	clk        *clock.MockClock
	sensor     *fakeSensor
	camera     *fakeCamera
	classifier *fakeClassifier
	exporter   *fakeExporter
	notifier   *fakeNotifier
	store      *memoryStore
	ledger     *history.Ledger
	display    *recordingDisplay
	profiler   *recordingProfiler
	energy     *recordingEnergy
	throttle   *Throttle
	events     []Event
	session    *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clk:        clock.NewMockClock(t0),
		sensor:     &fakeSensor{},
		camera:     &fakeCamera{handle: &fakeHandle{}},
		classifier: &fakeClassifier{},
		exporter:   &fakeExporter{},
		notifier:   &fakeNotifier{enabled: true},
		store:      &memoryStore{},
		display:    &recordingDisplay{},
		profiler:   &recordingProfiler{},
		energy:     &recordingEnergy{},
	}
	opts := DefaultOptions()
	h.ledger = history.NewLedger(context.Background(), opts.MaxHistory, h.store)
	h.throttle = NewThrottle(opts.NotificationCooldown)

	bus := NewEventBus()
	bus.Subscribe(func(e Event) {
		if e.Type != EventStatus {
			h.events = append(h.events, e)
		}
	})

	s, err := NewSession(Collaborators{
		Clock:      h.clk,
		Sensor:     h.sensor,
		Camera:     h.camera,
		Classifier: h.classifier,
		Exporter:   h.exporter,
		Notifier:   h.notifier,
		Display:    h.display,
		Profiler:   h.profiler,
		Energy:     h.energy,
		Ledger:     h.ledger,
		Throttle:   h.throttle,
		Bus:        bus,
	}, opts)
	require.NoError(t, err)
	h.session = s
	return h
}

func (h *harness) step(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.Step(context.Background(), h.camera.handle))
	h.clk.Advance(50 * time.Millisecond)
}

// personEvent triggers the PIR once and feeds frames with a person until
// the event is finalized.
func (h *harness) personEvent(t *testing.T) {
	t.Helper()
	h.classifier.detections = person
	h.sensor.motion = true
	h.step(t)
	h.sensor.motion = false
	for i := 1; i < h.session.Options().EventFrames; i++ {
		h.step(t)
	}
}

func (h *harness) closeWindow(t *testing.T) {
	t.Helper()
	h.clk.Advance(h.session.Options().ActiveDuration)
	h.step(t)
}

func (h *harness) eventTypes() []EventType {
	types := make([]EventType, len(h.events))
	for i, e := range h.events {
		types[i] = e.Type
	}
	return types
}

func TestSessionNoDetectionWithoutMotion(t *testing.T) {
	h := newHarness(t)
	h.classifier.detections = person

	for i := 0; i < 50; i++ {
		h.step(t)
	}

	assert.Zero(t, h.classifier.calls)
	assert.Zero(t, h.ledger.Len())
	assert.Equal(t, MessageMonitoring, h.display.last().Status.Message)
	assert.Empty(t, h.display.last().Detections)
}

func TestSessionEventSent(t *testing.T) {
	h := newHarness(t)

	h.sensor.motion = true
	h.classifier.detections = person
	h.step(t)
	assert.Equal(t, MessagePersonDetected+" (Collecting frame 1/10)", h.display.last().Status.Message)
	h.sensor.motion = false
	for i := 1; i < 10; i++ {
		h.step(t)
	}

	require.Equal(t, 1, h.ledger.Len())
	rec := h.ledger.Records()[0]
	assert.Equal(t, history.OutcomeSent, rec.Outcome)
	assert.Equal(t, CaptionSent, rec.Caption)
	assert.Equal(t, "event.gif", rec.AnimationPath)
	assert.Equal(t, []string{"still_1.jpg", "still_2.jpg", "still_3.jpg", "still_4.jpg"}, rec.AllImagePaths)
	assert.Equal(t, "still_1.jpg", rec.RepresentativeImagePath)
	assert.Equal(t, []int{10}, h.exporter.frames)

	assert.Equal(t, []string{CaptionSent}, h.notifier.captions)
	assert.True(t, h.notifier.hadDeadline)
	last, ok := h.throttle.LastSentAt()
	require.True(t, ok)
	assert.Equal(t, t0.Add(450*time.Millisecond), last)

	assert.Equal(t, MessageAlertSent, h.display.last().Status.Message)
	assert.Equal(t, 1, h.store.saves)
	assert.Equal(t, []EventType{EventMotionDetected, EventPersonDetected, EventFinalized}, h.eventTypes())
	assert.Equal(t, rec.ID, h.events[2].Record.ID)
	assert.Len(t, h.profiler.samples, 10)
	assert.Equal(t, 10, h.energy.detecting)
}

func TestSessionOneEventPerWindow(t *testing.T) {
	h := newHarness(t)
	h.personEvent(t)
	require.Equal(t, 10, h.classifier.calls)

	// keep re-triggering inside the window; the classifier stays idle
	h.sensor.motion = true
	for i := 0; i < 20; i++ {
		h.step(t)
	}

	assert.Equal(t, 10, h.classifier.calls)
	assert.Equal(t, 1, h.ledger.Len())
	st := h.display.last().Status
	assert.Equal(t, MessageEventProcessed, st.Message)
	assert.True(t, st.EventProcessed)
	assert.Equal(t, []string{ClassPerson}, st.Detections)
}

func TestSessionCooldownBetweenEvents(t *testing.T) {
	h := newHarness(t)

	h.personEvent(t)
	h.closeWindow(t)

	h.personEvent(t)
	h.closeWindow(t)

	require.Equal(t, 2, h.ledger.Len())
	assert.Equal(t, history.OutcomeCooldown, h.ledger.Records()[0].Outcome)
	assert.Equal(t, CaptionCooldown, h.ledger.Records()[0].Caption)
	assert.Len(t, h.notifier.captions, 1)

	h.clk.Advance(time.Minute)
	h.personEvent(t)

	require.Equal(t, 3, h.ledger.Len())
	assert.Equal(t, history.OutcomeSent, h.ledger.Records()[0].Outcome)
	assert.Len(t, h.notifier.captions, 2)
}

func TestSessionNotificationsDisabled(t *testing.T) {
	h := newHarness(t)
	h.notifier.enabled = false

	h.personEvent(t)

	require.Equal(t, 1, h.ledger.Len())
	assert.Equal(t, history.OutcomeDisabled, h.ledger.Records()[0].Outcome)
	assert.Equal(t, CaptionDisabled, h.ledger.Records()[0].Caption)
	assert.Equal(t, MessageAlertDisabled, h.display.last().Status.Message)
	assert.Empty(t, h.notifier.captions)
	_, sent := h.throttle.LastSentAt()
	assert.False(t, sent)
}

func TestSessionSendFailureKeepsCooldown(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("telegram API error 502: Bad Gateway")

	h.personEvent(t)

	require.Equal(t, 1, h.ledger.Len())
	assert.Equal(t, history.OutcomeSendFailed, h.ledger.Records()[0].Outcome)
	assert.Equal(t, CaptionSendFailed, h.ledger.Records()[0].Caption)
	_, sent := h.throttle.LastSentAt()
	assert.False(t, sent)
	assert.Contains(t, h.session.LastError(), "remote send failed")
	assert.Contains(t, h.eventTypes(), EventError)

	// the next event is not held back by the failed attempt
	h.notifier.err = nil
	h.closeWindow(t)
	h.personEvent(t)
	assert.Equal(t, history.OutcomeSent, h.ledger.Records()[0].Outcome)
}

func TestSessionExportFailure(t *testing.T) {
	h := newHarness(t)
	h.exporter.animErr = errors.New("disk full")

	h.personEvent(t)

	require.Equal(t, 1, h.ledger.Len())
	rec := h.ledger.Records()[0]
	assert.Equal(t, history.OutcomeExportFailed, rec.Outcome)
	assert.Equal(t, CaptionExportFailed, rec.Caption)
	assert.Empty(t, rec.AnimationPath)
	assert.Len(t, rec.AllImagePaths, 4)
	assert.Empty(t, h.notifier.captions)
	assert.Equal(t, MessageExportFailed, h.display.last().Status.Message)
}

func TestSessionStillsFailureStillSends(t *testing.T) {
	h := newHarness(t)
	h.exporter.stillsErr = errors.New("encode failed")

	h.personEvent(t)

	rec := h.ledger.Records()[0]
	assert.Equal(t, history.OutcomeSent, rec.Outcome)
	assert.Empty(t, rec.AllImagePaths)
	assert.Empty(t, rec.RepresentativeImagePath)
}

func TestSessionPersistenceFailureKeepsRecord(t *testing.T) {
	h := newHarness(t)
	h.store.saveErr = errors.New("read-only filesystem")

	h.personEvent(t)

	assert.Equal(t, 1, h.ledger.Len())
	assert.Contains(t, h.session.LastError(), "persistence failed")
}

func TestSessionWindowCloseDiscardsPartialEvent(t *testing.T) {
	h := newHarness(t)
	h.classifier.detections = person
	h.sensor.motion = true
	h.step(t)
	h.sensor.motion = false
	for i := 0; i < 4; i++ {
		h.step(t)
	}
	assert.Equal(t, 5, h.display.last().Status.FramesCollected)

	h.closeWindow(t)

	st := h.session.Status()
	assert.False(t, st.DetectionActive)
	assert.False(t, st.Collecting)
	assert.Zero(t, st.FramesCollected)
	assert.Equal(t, MessageMonitoring, st.Message)
	assert.Zero(t, h.ledger.Len())
	assert.Equal(t, EventWindowClosed, h.events[len(h.events)-1].Type)
	assert.Empty(t, h.exporter.frames)
}

func TestSessionFrameMessages(t *testing.T) {
	h := newHarness(t)
	h.sensor.motion = true

	h.classifier.detections = dog
	h.step(t)
	assert.Equal(t, MessagePetDetected, h.display.last().Status.Message)

	h.classifier.detections = chair
	h.step(t)
	assert.Equal(t, "👁️ Detected: chair", h.display.last().Status.Message)

	h.classifier.detections = nil
	h.step(t)
	assert.Equal(t, MessageNothingOfInterest, h.display.last().Status.Message)

	h.classifier.detections = person
	h.step(t)
	h.classifier.detections = nil
	h.step(t)
	assert.Equal(t, MessagePersonLost+" (Collecting frame 2/10)", h.display.last().Status.Message)

	h.classifier.detections = dog
	h.step(t)
	assert.Equal(t, MessagePetDetected+" (Collecting frame 3/10)", h.display.last().Status.Message)
}

func TestSessionClassifierErrorAbsorbed(t *testing.T) {
	h := newHarness(t)
	h.sensor.motion = true
	h.classifier.detections = person
	h.classifier.err = errors.New("model crashed")

	for i := 0; i < 15; i++ {
		h.step(t)
	}

	assert.Equal(t, 15, h.classifier.calls)
	assert.Zero(t, h.ledger.Len())
	assert.Equal(t, MessageNothingOfInterest, h.display.last().Status.Message)
	assert.Contains(t, h.session.LastError(), "classifier failed")
}

func TestSessionLowConfidenceIgnored(t *testing.T) {
	h := newHarness(t)
	h.sensor.motion = true
	h.classifier.detections = []Detection{{Class: ClassPerson, Confidence: 0.3}}

	for i := 0; i < 12; i++ {
		h.step(t)
	}
	assert.Zero(t, h.ledger.Len())
}

func TestSessionSensorErrorAbsorbed(t *testing.T) {
	h := newHarness(t)
	h.sensor.motion = true
	h.sensor.err = errors.New("gpio busy")

	h.step(t)

	assert.False(t, h.display.last().Status.DetectionActive)
	assert.Zero(t, h.classifier.calls)
	assert.Contains(t, h.session.LastError(), "sensor read failed")
}

func TestSessionLastErrorClearedByCleanStep(t *testing.T) {
	h := newHarness(t)
	h.sensor.err = errors.New("gpio busy")
	h.step(t)
	require.Contains(t, h.session.LastError(), "sensor read failed")
	assert.Contains(t, h.display.last().Status.LastError, "sensor read failed")

	h.sensor.err = nil
	h.step(t)
	assert.Empty(t, h.session.LastError())
	assert.Empty(t, h.display.last().Status.LastError)
}

func TestSessionCameraErrorIsFatal(t *testing.T) {
	h := newHarness(t)
	h.camera.handle.failAt = 1

	err := h.session.Step(context.Background(), h.camera.handle)

	var camErr *CameraReadError
	require.ErrorAs(t, err, &camErr)
	assert.EqualError(t, camErr.Unwrap(), "device unplugged")
	assert.Empty(t, h.display.views)
}

func TestSessionRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runningDuringLoop bool
	h.display.onRender = func(View) {
		runningDuringLoop = h.session.Running()
		if len(h.display.views) == 3 {
			cancel()
		}
	}

	require.NoError(t, h.session.Run(ctx))

	assert.True(t, runningDuringLoop)
	assert.False(t, h.session.Running())
	assert.True(t, h.camera.handle.closed)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond}, h.clk.Sleeps())
}

func TestSessionRunCameraFailure(t *testing.T) {
	h := newHarness(t)
	h.camera.handle.failAt = 4

	err := h.session.Run(context.Background())

	var camErr *CameraReadError
	require.ErrorAs(t, err, &camErr)
	assert.True(t, h.camera.handle.closed)
	assert.Len(t, h.display.views, 3)
	assert.False(t, h.session.Running())
	assert.Contains(t, h.session.LastError(), "camera read failed")
}

func TestSessionRunOpenFailure(t *testing.T) {
	h := newHarness(t)
	h.camera.openErr = errors.New("no camera found")

	err := h.session.Run(context.Background())

	var camErr *CameraReadError
	require.ErrorAs(t, err, &camErr)
	assert.Zero(t, h.camera.handle.readCalls)
}

func TestSessionRunResetsEventState(t *testing.T) {
	h := newHarness(t)
	h.personEvent(t)
	require.True(t, h.session.Status().EventProcessed)

	ctx, cancel := context.WithCancel(context.Background())
	h.sensor.motion = true
	h.display.onRender = func(View) { cancel() }
	require.NoError(t, h.session.Run(ctx))

	// a fresh run collects a new event even though the previous window
	// had already been processed
	assert.Equal(t, 11, h.classifier.calls)
	assert.True(t, h.session.Status().Collecting)
}

func TestNewSessionValidation(t *testing.T) {
	_, err := NewSession(Collaborators{}, DefaultOptions())
	assert.EqualError(t, err, "sensor is required")

	opts := DefaultOptions()
	opts.EventFrames = 0
	_, err = NewSession(Collaborators{}, opts)
	assert.ErrorContains(t, err, "invalid options")
}
