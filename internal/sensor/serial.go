package sensor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// ErrSerialClosed is returned by Read after the serial link has ended.
var ErrSerialClosed = errors.New("serial sensor closed")

// SerialSensor tracks the PIR state reported by a microcontroller bridge
// that writes one line per state change: "1"/"0", "MOTION"/"CLEAR" or
// "HIGH"/"LOW".
type SerialSensor struct {
	port io.ReadCloser

	mu     sync.Mutex
	active bool
	err    error
	done   chan struct{}
}

// OpenSerial opens the serial device at path (8N1) and starts reading.
func OpenSerial(path string, baud int) (*SerialSensor, error) {
	if baud <= 0 {
		baud = 115200
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return NewSerialSensor(port), nil
}

// NewSerialSensor starts reading state lines from port.
func NewSerialSensor(port io.ReadCloser) *SerialSensor {
	s := &SerialSensor{port: port, done: make(chan struct{})}
	go s.readLoop()
	return s
}

func (s *SerialSensor) readLoop() {
	defer close(s.done)

	scanner := bufio.NewScanner(s.port)
	for scanner.Scan() {
		line := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		switch line {
		case "1", "MOTION", "HIGH":
			s.set(true)
		case "0", "CLEAR", "LOW":
			s.set(false)
		case "":
		default:
			log.Printf("[Sensor] Ignoring serial line %q", line)
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	s.active = false
	s.err = fmt.Errorf("%w: %v", ErrSerialClosed, err)
	s.mu.Unlock()
}

func (s *SerialSensor) set(active bool) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
}

// Read returns the last reported state.
func (s *SerialSensor) Read() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.active, nil
}

// Close closes the port and waits for the reader to exit.
func (s *SerialSensor) Close() error {
	err := s.port.Close()
	<-s.done
	return err
}
