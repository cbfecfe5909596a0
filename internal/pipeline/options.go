package pipeline

import (
	"fmt"
	"time"
)

// Options holds the fixed tuning of the detection loop.
type Options struct {
	ActiveDuration       time.Duration // detection window after a PIR trigger
	NotificationCooldown time.Duration // minimum gap between sent alerts
	EventFrames          int           // frames per event (animation length)
	StillFrames          int           // stills exported per event
	MaxHistory           int           // ledger capacity
	ConfidenceThreshold  float64       // classifier threshold
	LoopInterval         time.Duration // sleep between iterations
	NotifyTimeout        time.Duration // upper bound of one remote send
}

// DefaultOptions returns the appliance defaults.
func DefaultOptions() Options {
	return Options{
		ActiveDuration:       10 * time.Second,
		NotificationCooldown: 60 * time.Second,
		EventFrames:          10,
		StillFrames:          4,
		MaxHistory:           5,
		ConfidenceThreshold:  0.50,
		LoopInterval:         50 * time.Millisecond,
		NotifyTimeout:        20 * time.Second,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.ActiveDuration <= 0 {
		return fmt.Errorf("active duration must be positive, got %s", o.ActiveDuration)
	}
	if o.NotificationCooldown < 0 {
		return fmt.Errorf("notification cooldown cannot be negative")
	}
	if o.EventFrames <= 0 {
		return fmt.Errorf("event frames must be positive, got %d", o.EventFrames)
	}
	if o.StillFrames < 0 || o.StillFrames > o.EventFrames {
		return fmt.Errorf("still frames must be between 0 and %d, got %d", o.EventFrames, o.StillFrames)
	}
	if o.MaxHistory <= 0 {
		return fmt.Errorf("max history must be positive, got %d", o.MaxHistory)
	}
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0 and 1, got %.2f", o.ConfidenceThreshold)
	}
	if o.LoopInterval < 0 {
		return fmt.Errorf("loop interval cannot be negative")
	}
	return nil
}
