package energy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pirwatch/internal/clock"
)

func TestMonitorIntegratesPower(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	m := NewMonitor(clk)

	clk.Advance(10 * time.Second)
	m.Update(false, true, false) // camera + idle CPU

	clk.Advance(2 * time.Second)
	m.Update(true, true, true) // camera + PIR + detection

	st := m.Stats()
	assert.InDelta(t, 10*(CameraPower+CPUPowerIdle)+2*(CameraPower+PIRPower+CPUPowerDetection), st.TotalEnergyJoules, 1e-9)
	assert.Equal(t, 12*time.Second, st.TotalTime)
	assert.Equal(t, 2*time.Second, st.DetectionActiveTime)
	assert.InDelta(t, st.TotalEnergyJoules/12, st.AveragePowerWatts, 1e-9)
	assert.Contains(t, m.Summary(), "Average power")
}

func TestMonitorReset(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	m := NewMonitor(clk)

	clk.Advance(time.Minute)
	m.Update(true, true, true)
	m.Reset()

	st := m.Stats()
	assert.Zero(t, st.TotalEnergyJoules)
	assert.Zero(t, st.AveragePowerWatts)
	assert.Zero(t, st.DetectionActiveTime)
}
