package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pirwatch/internal/history"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func testRecord(id string, sec int) history.Record {
	return history.Record{
		ID:                      id,
		Timestamp:               time.Date(2025, 6, 1, 12, 0, sec, 0, time.Local),
		Caption:                 "🚨 Intrusion Alert: Person Detected!",
		Outcome:                 history.OutcomeSent,
		AnimationPath:           "media/gif_" + id + ".gif",
		RepresentativeImagePath: "media/" + id + "_1.jpg",
		AllImagePaths:           []string{"media/" + id + "_1.jpg", "media/" + id + "_2.jpg"},
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	empty, err := db.LoadHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	exportFailed := history.Record{
		ID:        "c",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 3, 0, time.Local),
		Caption:   "Intrusion Alert: Person Detected (Export Failed)",
		Outcome:   history.OutcomeExportFailed,
	}
	records := []history.Record{exportFailed, testRecord("b", 2), testRecord("a", 1)}
	require.NoError(t, db.SaveHistory(ctx, records))

	got, err := db.LoadHistory(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(records, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}

	// a later save replaces the whole list
	require.NoError(t, db.SaveHistory(ctx, records[:1]))
	got, err = db.LoadHistory(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)
	assert.Empty(t, got[0].AnimationPath)
}

func TestHistoryBacksLedger(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	ledger := history.NewLedger(ctx, 2, db)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, ledger.Add(ctx, testRecord(id, 0)))
	}

	reloaded := history.NewLedger(ctx, 2, db)
	ids := []string{}
	for _, r := range reloaded.Records() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"c", "b"}, ids)
}

func TestArchive(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.ArchiveEvent(ctx, testRecord(id, i)))
	}
	require.NoError(t, db.ArchiveEvent(ctx, testRecord("a", 0)), "duplicate archive is ignored")

	all, err := db.ListArchivedEvents(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	since := time.Date(2025, 6, 1, 12, 0, 1, 0, time.Local)
	recent, err := db.ListArchivedEvents(ctx, &since, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "c", recent[0].ID)

	n, err := db.DeleteArchivedBefore(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConfigBlob(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	data, err := db.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, db.SaveConfig(ctx, []byte(`{"telegram_chat_id":"1"}`)))
	require.NoError(t, db.SaveConfig(ctx, []byte(`{"telegram_chat_id":"2"}`)))

	data, err = db.LoadConfig(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"telegram_chat_id":"2"}`, string(data))
}
