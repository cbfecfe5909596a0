package profiling

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// HostMetrics is one reading of the host load.
type HostMetrics struct {
	CPUPercent  float64  `json:"cpu_percent"`
	RAMPercent  float64  `json:"ram_percent"`
	Temperature *float64 `json:"temperature"` // °C, nil when the zone is unreadable
}

// HostSampler reads CPU, memory and temperature from procfs and sysfs.
// CPU usage is measured between consecutive calls to Sample.
type HostSampler struct {
	procRoot    string
	thermalPath string

	mu        sync.Mutex
	prevIdle  uint64
	prevTotal uint64
}

// NewHostSampler creates a sampler. procRoot is normally "/proc".
func NewHostSampler(procRoot, thermalPath string) *HostSampler {
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &HostSampler{procRoot: procRoot, thermalPath: thermalPath}
}

// Sample returns the current metrics. Unreadable sources yield zero values.
func (h *HostSampler) Sample() HostMetrics {
	var m HostMetrics

	if cpu, err := h.cpuPercent(); err == nil {
		m.CPUPercent = cpu
	}
	if ram, err := h.ramPercent(); err == nil {
		m.RAMPercent = ram
	}
	if temp, err := h.temperature(); err == nil {
		m.Temperature = &temp
	}
	return m
}

func (h *HostSampler) cpuPercent() (float64, error) {
	f, err := os.Open(filepath.Join(h.procRoot, "stat"))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, fmt.Errorf("empty stat file")
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, fmt.Errorf("unexpected stat line %q", scanner.Text())
	}

	var idle, total uint64
	for i, field := range fields[1:] {
		v, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid stat value %q: %w", field, err)
		}
		total += v
		// idle and iowait
		if i == 3 || i == 4 {
			idle += v
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	dIdle, dTotal := idle-h.prevIdle, total-h.prevTotal
	if total < h.prevTotal || idle < h.prevIdle {
		dIdle, dTotal = idle, total
	}
	h.prevIdle, h.prevTotal = idle, total

	if dTotal == 0 {
		return 0, nil
	}
	return (1 - float64(dIdle)/float64(dTotal)) * 100, nil
}

func (h *HostSampler) ramPercent() (float64, error) {
	f, err := os.Open(filepath.Join(h.procRoot, "meminfo"))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total, available float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, fmt.Errorf("MemTotal not found")
	}
	return (total - available) / total * 100, nil
}

func (h *HostSampler) temperature() (float64, error) {
	if h.thermalPath == "" {
		return 0, fmt.Errorf("no thermal zone configured")
	}
	data, err := os.ReadFile(h.thermalPath)
	if err != nil {
		return 0, err
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid thermal reading: %w", err)
	}
	return milli / 1000, nil
}
