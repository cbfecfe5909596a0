// Package energy estimates the power draw of the appliance from the
// state of its components on each loop iteration.
package energy

import (
	"fmt"
	"sync"
	"time"

	"pirwatch/internal/clock"
)

// Power model in watts.
const (
	CameraPower       = 0.3
	PIRPower          = 0.07
	CPUPowerIdle      = 0.35
	CPUPowerDetection = 5.0
)

// Stats summarises the energy consumed since the last reset.
type Stats struct {
	TotalEnergyJoules   float64       `json:"total_energy"`
	TotalTime           time.Duration `json:"-"`
	TotalSeconds        float64       `json:"total_time"`
	DetectionActiveTime time.Duration `json:"-"`
	DetectionSeconds    float64       `json:"detection_active_time"`
	AveragePowerWatts   float64       `json:"average_power"`
}

// Monitor integrates power over time. Safe for concurrent use.
type Monitor struct {
	clock      clock.Clock
	mu         sync.Mutex
	startTime  time.Time
	lastUpdate time.Time
	total      float64
	detecting  time.Duration
}

// NewMonitor creates a monitor starting at clk.Now().
func NewMonitor(clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	m := &Monitor{clock: clk}
	m.Reset()
	return m
}

// Reset clears the accumulated statistics.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	m.startTime = now
	m.lastUpdate = now
	m.total = 0
	m.detecting = 0
}

// Update adds the energy used since the previous update at the power
// implied by the given component states.
func (m *Monitor) Update(pirActive, cameraActive, detectionActive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	delta := now.Sub(m.lastUpdate)
	m.lastUpdate = now
	if delta <= 0 {
		return
	}

	power := 0.0
	if cameraActive {
		power += CameraPower
	}
	if pirActive {
		power += PIRPower
	}
	if detectionActive {
		power += CPUPowerDetection
		m.detecting += delta
	} else {
		power += CPUPowerIdle
	}

	m.total += power * delta.Seconds()
}

// Stats returns the current statistics.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.clock.Now().Sub(m.startTime)
	st := Stats{
		TotalEnergyJoules:   m.total,
		TotalTime:           total,
		TotalSeconds:        total.Seconds(),
		DetectionActiveTime: m.detecting,
		DetectionSeconds:    m.detecting.Seconds(),
	}
	if total > 0 {
		st.AveragePowerWatts = m.total / total.Seconds()
	}
	return st
}

// Summary renders the statistics for chat replies.
func (m *Monitor) Summary() string {
	st := m.Stats()
	return fmt.Sprintf(
		"🔋 Total energy: %.2f J (%.4f Wh)\n"+
			"⏱️ Running time: %s\n"+
			"🧠 Detection active: %s\n"+
			"📈 Average power: %.2f W",
		st.TotalEnergyJoules, st.TotalEnergyJoules/3600,
		st.TotalTime.Round(time.Second),
		st.DetectionActiveTime.Round(time.Second),
		st.AveragePowerWatts,
	)
}
