package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the on-disk format of Record.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Outcome describes what happened to the alert of a finalized event.
type Outcome string

const (
	OutcomeSent         Outcome = "sent"
	OutcomeDisabled     Outcome = "disabled"
	OutcomeCooldown     Outcome = "cooldown"
	OutcomeSendFailed   Outcome = "send_failed"
	OutcomeExportFailed Outcome = "export_failed"
)

// Record is a persisted summary of one finalized detection event
type Record struct {
	ID                      string
	Timestamp               time.Time
	Caption                 string
	Outcome                 Outcome
	AnimationPath           string
	RepresentativeImagePath string
	AllImagePaths           []string
}

// NewRecord creates a record with a fresh id. The first still, if any,
// becomes the representative image.
func NewRecord(ts time.Time, caption string, outcome Outcome, animationPath string, stills []string) Record {
	rec := Record{
		ID:            uuid.NewString(),
		Timestamp:     ts,
		Caption:       caption,
		Outcome:       outcome,
		AnimationPath: animationPath,
		AllImagePaths: append([]string(nil), stills...),
	}
	if len(stills) > 0 {
		rec.RepresentativeImagePath = stills[0]
	}
	return rec
}

type recordJSON struct {
	ID                    string   `json:"id,omitempty"`
	Timestamp             string   `json:"timestamp"`
	Caption               string   `json:"caption"`
	Outcome               Outcome  `json:"outcome,omitempty"`
	GIFPath               *string  `json:"gif_path"`
	RepresentativeJPGPath *string  `json:"representative_jpg_path"`
	AllJPGPaths           []string `json:"all_jpg_paths"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// MarshalJSON writes the record with the history file keys.
func (r Record) MarshalJSON() ([]byte, error) {
	paths := r.AllImagePaths
	if paths == nil {
		paths = []string{}
	}
	return json.Marshal(recordJSON{
		ID:                    r.ID,
		Timestamp:             r.Timestamp.Format(TimestampLayout),
		Caption:               r.Caption,
		Outcome:               r.Outcome,
		GIFPath:               optional(r.AnimationPath),
		RepresentativeJPGPath: optional(r.RepresentativeImagePath),
		AllJPGPaths:           paths,
	})
}

// UnmarshalJSON reads records written by MarshalJSON. Timestamps are
// interpreted in the local zone, as they were written.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var ts time.Time
	if raw.Timestamp != "" {
		parsed, err := time.ParseInLocation(TimestampLayout, raw.Timestamp, time.Local)
		if err != nil {
			return fmt.Errorf("invalid history timestamp %q: %w", raw.Timestamp, err)
		}
		ts = parsed
	}

	*r = Record{
		ID:                      raw.ID,
		Timestamp:               ts,
		Caption:                 raw.Caption,
		Outcome:                 raw.Outcome,
		AnimationPath:           deref(raw.GIFPath),
		RepresentativeImagePath: deref(raw.RepresentativeJPGPath),
		AllImagePaths:           raw.AllJPGPaths,
	}
	return nil
}
