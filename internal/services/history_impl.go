package services

import (
	"context"
	"time"

	"pirwatch/internal/history"
)

// EventArchive is the long-term event table, when one is configured.
type EventArchive interface {
	ListArchivedEvents(ctx context.Context, since *time.Time, limit int) ([]history.Record, error)
}

// HistoryList is the response of the history endpoints.
type HistoryList struct {
	Events []history.Record `json:"events"`
	Count  int              `json:"count"`
}

// HistoryImplementation serves the recent-event ledger and the archive.
type HistoryImplementation struct {
	ledger  *history.Ledger
	archive EventArchive
}

// NewHistoryService creates the history service. archive may be nil.
func NewHistoryService(ledger *history.Ledger, archive EventArchive) *HistoryImplementation {
	return &HistoryImplementation{ledger: ledger, archive: archive}
}

// Latest returns up to n records, newest first. n <= 0 returns all.
func (h *HistoryImplementation) Latest(n int) []history.Record {
	if n <= 0 {
		return h.ledger.Records()
	}
	return h.ledger.Latest(n)
}

// List returns the ledger contents.
func (h *HistoryImplementation) List(ctx context.Context, limit int) (*HistoryList, error) {
	events := h.Latest(limit)
	return &HistoryList{Events: events, Count: len(events)}, nil
}

// Archived lists archived events newer than since.
func (h *HistoryImplementation) Archived(ctx context.Context, since *time.Time, limit int) (*HistoryList, error) {
	if h.archive == nil {
		return nil, &NotFoundError{Message: "event archive requires the sqlite storage backend"}
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	events, err := h.archive.ListArchivedEvents(ctx, since, limit)
	if err != nil {
		return nil, &InternalError{Message: err.Error()}
	}
	return &HistoryList{Events: events, Count: len(events)}, nil
}
