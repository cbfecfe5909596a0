package pipeline

import "time"

// GateSignalKind identifies an observational signal of the motion gate.
type GateSignalKind int

const (
	SignalMotionDetected GateSignalKind = iota
	SignalWindowClosed
)

// GateSignal is emitted by MotionGate. Opened is set when a motion
// reading opened a new window rather than extending the current one.
type GateSignal struct {
	Kind   GateSignalKind
	At     time.Time
	Opened bool
}

// MotionGate turns raw PIR readings into a time-boxed detection window.
// A reading while the window is open moves its expiry to now+duration;
// windows never stack.
type MotionGate struct {
	duration    time.Duration
	triggeredAt time.Time
	active      bool
	onSignal    func(GateSignal)
}

// NewMotionGate creates a gate. onSignal may be nil.
func NewMotionGate(duration time.Duration, onSignal func(GateSignal)) *MotionGate {
	if duration <= 0 {
		duration = DefaultOptions().ActiveDuration
	}
	return &MotionGate{
		duration: duration,
		onSignal: onSignal,
	}
}

// OnSensorReading feeds one raw sensor value.
func (g *MotionGate) OnSensorReading(rawActive bool, now time.Time) {
	if !rawActive {
		return
	}
	opened := !g.active
	g.triggeredAt = now
	g.active = true
	g.emit(GateSignal{Kind: SignalMotionDetected, At: now, Opened: opened})
}

// IsActive reports whether the window is open at now, closing it once
// the duration has elapsed.
func (g *MotionGate) IsActive(now time.Time) bool {
	if !g.active {
		return false
	}
	if now.Sub(g.triggeredAt) < g.duration {
		return true
	}
	g.active = false
	g.emit(GateSignal{Kind: SignalWindowClosed, At: now})
	return false
}

// Remaining returns the time left in the window, zero when closed.
func (g *MotionGate) Remaining(now time.Time) time.Duration {
	if !g.active {
		return 0
	}
	left := g.duration - now.Sub(g.triggeredAt)
	if left < 0 {
		return 0
	}
	return left
}

// Expiry returns when the current window closes.
func (g *MotionGate) Expiry() time.Time {
	return g.triggeredAt.Add(g.duration)
}

// Duration returns the window length.
func (g *MotionGate) Duration() time.Duration {
	return g.duration
}

func (g *MotionGate) emit(sig GateSignal) {
	if g.onSignal != nil {
		g.onSignal(sig)
	}
}
