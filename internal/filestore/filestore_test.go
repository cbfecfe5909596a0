package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pirwatch/internal/history"
)

func TestHistoryFile(t *testing.T) {
	ctx := context.Background()
	s, err := New(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	records, err := s.LoadHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	rec := history.Record{
		ID:                      "a",
		Timestamp:               time.Date(2025, 6, 1, 8, 30, 0, 0, time.Local),
		Caption:                 "Intrusion Alert: Person Detected (Cooldown)",
		Outcome:                 history.OutcomeCooldown,
		AnimationPath:           "media/gif_20250601_083000.gif",
		RepresentativeImagePath: "media/event_0601_083000_frame_1.jpg",
		AllImagePaths:           []string{"media/event_0601_083000_frame_1.jpg"},
	}
	require.NoError(t, s.SaveHistory(ctx, []history.Record{rec}))

	raw, err := os.ReadFile(filepath.Join(s.Dir(), HistoryFile))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"timestamp": "2025-06-01 08:30:00"`)
	assert.Contains(t, string(raw), `"gif_path": "media/gif_20250601_083000.gif"`)

	records, err = s.LoadHistory(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
	assert.True(t, rec.Timestamp.Equal(records[0].Timestamp))
	assert.Equal(t, rec.AllImagePaths, records[0].AllImagePaths)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestCorruptHistory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, HistoryFile), []byte("{not json"), 0o644))
	s, err := New(dir)
	require.NoError(t, err)

	_, err = s.LoadHistory(context.Background())
	assert.ErrorContains(t, err, "failed to decode")

	// the ledger starts empty on a load failure
	l := history.NewLedger(context.Background(), 5, s)
	assert.Zero(t, l.Len())
}

func TestConfigFile(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	data, err := s.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	assert.Error(t, s.SaveConfig(ctx, []byte("nope")))
	require.NoError(t, s.SaveConfig(ctx, []byte(`{"telegram_bot_token":"x"}`)))

	data, err = s.LoadConfig(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"telegram_bot_token":"x"}`, string(data))
}
