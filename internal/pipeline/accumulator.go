package pipeline

import "time"

// OutcomeKind is the state reported by Accumulator.OnFrame.
type OutcomeKind int

const (
	OutcomeIdle OutcomeKind = iota
	OutcomeCollecting
	OutcomeFinalized
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCollecting:
		return "collecting"
	case OutcomeFinalized:
		return "finalized"
	default:
		return "idle"
	}
}

// Outcome is the result of feeding one classified frame.
type Outcome struct {
	Kind     OutcomeKind
	Count    int             // frames held by the event after this frame
	Sighting Sighting        // what this frame's detections contained
	Started  bool            // this frame opened the event
	Event    *DetectionEvent // set when Kind is OutcomeFinalized
}

// Accumulator collects a fixed number of frames once a person is
// confirmed inside a motion window.
//
// While collecting, every frame is appended even when the person is not
// re-detected in it, so a brief drop-out does not split one sighting into
// several events. Once an event is finalized the window is marked
// processed and no further event starts until Reset.
type Accumulator struct {
	size       int
	frames     []EventFrame
	collecting bool
	processed  bool
	startedAt  time.Time
}

// NewAccumulator creates an accumulator finalizing at size frames.
func NewAccumulator(size int) *Accumulator {
	if size <= 0 {
		size = DefaultOptions().EventFrames
	}
	return &Accumulator{size: size}
}

// OnFrame feeds one frame and its detections.
func (a *Accumulator) OnFrame(frame *Frame, detections []Detection, now time.Time) Outcome {
	sighting := Summarize(detections)
	if a.processed {
		return Outcome{Kind: OutcomeIdle, Sighting: sighting}
	}

	started := false
	if sighting == SightingPerson && !a.collecting {
		a.collecting = true
		a.frames = make([]EventFrame, 0, a.size)
		a.startedAt = now
		started = true
	}
	if !a.collecting {
		return Outcome{Kind: OutcomeIdle, Sighting: sighting}
	}

	a.frames = append(a.frames, EventFrame{Frame: frame, Detections: detections})
	if len(a.frames) < a.size {
		return Outcome{Kind: OutcomeCollecting, Count: len(a.frames), Sighting: sighting, Started: started}
	}

	event := &DetectionEvent{
		StartedAt:   a.startedAt,
		FinalizedAt: now,
		Frames:      a.frames,
	}
	a.processed = true
	a.collecting = false
	a.frames = nil

	return Outcome{
		Kind:     OutcomeFinalized,
		Count:    len(event.Frames),
		Sighting: sighting,
		Started:  started,
		Event:    event,
	}
}

// Reset returns to Idle for a new window and reports how many frames of
// an unfinished event were discarded.
func (a *Accumulator) Reset() int {
	discarded := len(a.frames)
	a.frames = nil
	a.collecting = false
	a.processed = false
	a.startedAt = time.Time{}
	return discarded
}

// Collecting reports whether an event is in progress.
func (a *Accumulator) Collecting() bool { return a.collecting }

// Processed reports whether the current window already produced an event.
func (a *Accumulator) Processed() bool { return a.processed }

// Count returns the number of frames held by the event in progress.
func (a *Accumulator) Count() int { return len(a.frames) }

// Size returns the event length.
func (a *Accumulator) Size() int { return a.size }
