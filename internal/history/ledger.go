// Package history keeps the bounded, newest-first list of finalized
// detection events and persists it after every change.
package history

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// DefaultCapacity is the number of events kept when no capacity is given.
const DefaultCapacity = 5

// Store persists the ledger contents.
type Store interface {
	LoadHistory(ctx context.Context) ([]Record, error)
	SaveHistory(ctx context.Context, records []Record) error
}

// Ledger is a bounded list of records ordered newest-first.
// The detection loop is its only writer; HTTP handlers and bot commands
// read it concurrently.
type Ledger struct {
	mu       sync.RWMutex
	capacity int
	records  []Record
	store    Store
}

// NewLedger creates a ledger and loads any persisted records. A load
// failure is logged and the ledger starts empty.
func NewLedger(ctx context.Context, capacity int, store Store) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Ledger{
		capacity: capacity,
		records:  make([]Record, 0, capacity+1),
		store:    store,
	}

	if store == nil {
		return l
	}

	records, err := store.LoadHistory(ctx)
	if err != nil {
		log.Printf("[History] Failed to load history, starting empty: %v", err)
		return l
	}
	if len(records) > capacity {
		records = records[:capacity]
	}
	l.records = append(l.records, records...)
	log.Printf("[History] Loaded %d records", len(l.records))
	return l
}

// Add inserts rec at the front, evicts the oldest record when over
// capacity and persists the result. The in-memory list is updated even
// when persisting fails; the persistence error is returned for logging.
func (l *Ledger) Add(ctx context.Context, rec Record) error {
	l.mu.Lock()
	l.records = append(l.records, Record{})
	copy(l.records[1:], l.records)
	l.records[0] = rec
	if len(l.records) > l.capacity {
		l.records = l.records[:l.capacity]
	}
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	if err := l.store.SaveHistory(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to persist history: %w", err)
	}
	return nil
}

// Records returns a copy of the ledger, newest first.
func (l *Ledger) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

// Latest returns up to n newest records.
func (l *Ledger) Latest(n int) []Record {
	records := l.Records()
	if n > 0 && n < len(records) {
		records = records[:n]
	}
	return records
}

// Len returns the number of records held.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *Ledger) snapshotLocked() []Record {
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}
