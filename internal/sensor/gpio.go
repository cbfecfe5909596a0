// Package sensor provides PIR motion sensor drivers.
package sensor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultGPIOBase is the sysfs GPIO root.
const DefaultGPIOBase = "/sys/class/gpio"

// GPIOSensor reads a PIR output wired to a GPIO pin through sysfs.
type GPIOSensor struct {
	base     string
	pin      int
	exported bool
}

// OpenGPIO exports pin (BCM numbering) and configures it as an input.
func OpenGPIO(base string, pin int) (*GPIOSensor, error) {
	if base == "" {
		base = DefaultGPIOBase
	}
	if pin < 0 {
		return nil, fmt.Errorf("invalid GPIO pin %d", pin)
	}

	s := &GPIOSensor{base: base, pin: pin}
	if _, err := os.Stat(s.pinDir()); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(filepath.Join(base, "export"), []byte(strconv.Itoa(pin)), 0o200); err != nil {
			return nil, fmt.Errorf("failed to export GPIO %d: %w", pin, err)
		}
		s.exported = true
		// udev needs a moment to fix permissions on the new pin.
		time.Sleep(100 * time.Millisecond)
	}

	if err := os.WriteFile(filepath.Join(s.pinDir(), "direction"), []byte("in"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to set GPIO %d direction: %w", pin, err)
	}
	return s, nil
}

func (s *GPIOSensor) pinDir() string {
	return filepath.Join(s.base, "gpio"+strconv.Itoa(s.pin))
}

// Read returns true while the PIR output is high.
func (s *GPIOSensor) Read() (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.pinDir(), "value"))
	if err != nil {
		return false, fmt.Errorf("failed to read GPIO %d: %w", s.pin, err)
	}
	switch strings.TrimSpace(string(data)) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected GPIO %d value %q", s.pin, strings.TrimSpace(string(data)))
	}
}

// Close unexports the pin if OpenGPIO exported it.
func (s *GPIOSensor) Close() error {
	if !s.exported {
		return nil
	}
	if err := os.WriteFile(filepath.Join(s.base, "unexport"), []byte(strconv.Itoa(s.pin)), 0o200); err != nil {
		return fmt.Errorf("failed to unexport GPIO %d: %w", s.pin, err)
	}
	s.exported = false
	return nil
}
