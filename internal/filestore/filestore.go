// Package filestore persists history and runtime configuration as JSON
// files in a data directory.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"pirwatch/internal/history"
)

const (
	HistoryFile = "previous_detections.json"
	ConfigFile  = "config.json"
)

// Store keeps previous_detections.json and config.json in one directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates the data directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// LoadHistory reads the history file. A missing file is an empty history.
func (s *Store) LoadHistory(ctx context.Context) ([]history.Record, error) {
	data, err := s.read(HistoryFile)
	if err != nil || data == nil {
		return nil, err
	}
	var records []history.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", HistoryFile, err)
	}
	return records, nil
}

// SaveHistory overwrites the history file.
func (s *Store) SaveHistory(ctx context.Context, records []history.Record) error {
	if records == nil {
		records = []history.Record{}
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	return s.write(HistoryFile, data)
}

// LoadConfig returns the raw config file, nil when absent.
func (s *Store) LoadConfig(ctx context.Context) ([]byte, error) {
	return s.read(ConfigFile)
}

// SaveConfig overwrites the config file.
func (s *Store) SaveConfig(ctx context.Context, data []byte) error {
	if !json.Valid(data) {
		return errors.New("config is not valid JSON")
	}
	return s.write(ConfigFile, data)
}

func (s *Store) read(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// write replaces name atomically through a temp file in the same directory.
func (s *Store) write(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
