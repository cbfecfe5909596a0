package sensor

import (
	"time"

	"pirwatch/internal/clock"
)

// MockSensor simulates a PIR for development without hardware: motion
// is reported for the first Pulse of every Interval.
type MockSensor struct {
	clock    clock.Clock
	start    time.Time
	Interval time.Duration
	Pulse    time.Duration
}

// NewMockSensor creates a mock that fires every interval for 2 seconds.
func NewMockSensor(clk clock.Clock, interval time.Duration) *MockSensor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &MockSensor{
		clock:    clk,
		start:    clk.Now(),
		Interval: interval,
		Pulse:    2 * time.Second,
	}
}

func (m *MockSensor) Read() (bool, error) {
	elapsed := m.clock.Since(m.start)
	if elapsed < 0 {
		return false, nil
	}
	return elapsed%m.Interval < m.Pulse, nil
}

// Close is a no-op.
func (m *MockSensor) Close() error { return nil }
