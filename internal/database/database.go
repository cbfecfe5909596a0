package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"pirwatch/internal/history"
)

// telegramConfigKey is the app_config row holding the runtime settings blob.
const telegramConfigKey = "telegram_config"

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS detection_history (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			caption TEXT NOT NULL,
			outcome TEXT,
			gif_path TEXT,
			representative_jpg_path TEXT,
			all_jpg_paths TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS event_archive (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			caption TEXT NOT NULL,
			outcome TEXT,
			gif_path TEXT,
			representative_jpg_path TEXT,
			all_jpg_paths TEXT,
			archived_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_position ON detection_history(position)`,
		`CREATE INDEX IF NOT EXISTS idx_archive_time ON event_archive(timestamp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Printf("[Database] Migrations completed")
	return nil
}

// LoadHistory returns the detection history, newest first.
func (d *Database) LoadHistory(ctx context.Context) ([]history.Record, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, timestamp, caption, outcome, gif_path,
		representative_jpg_path, all_jpg_paths
		FROM detection_history ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var records []history.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return records, nil
}

// SaveHistory replaces the stored history with records in one transaction.
func (d *Database) SaveHistory(ctx context.Context, records []history.Record) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM detection_history"); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	query := `INSERT INTO detection_history
		(id, position, timestamp, caption, outcome, gif_path, representative_jpg_path, all_jpg_paths)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	for i, rec := range records {
		paths, err := json.Marshal(nonNil(rec.AllImagePaths))
		if err != nil {
			return fmt.Errorf("failed to marshal image paths: %w", err)
		}
		_, err = tx.ExecContext(ctx, query, rec.ID, i, rec.Timestamp.Format(history.TimestampLayout),
			rec.Caption, string(rec.Outcome), nullString(rec.AnimationPath),
			nullString(rec.RepresentativeImagePath), string(paths))
		if err != nil {
			return fmt.Errorf("failed to save history record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}

// ArchiveEvent keeps a finalized event beyond the bounded history.
func (d *Database) ArchiveEvent(ctx context.Context, rec history.Record) error {
	paths, err := json.Marshal(nonNil(rec.AllImagePaths))
	if err != nil {
		return fmt.Errorf("failed to marshal image paths: %w", err)
	}

	query := `INSERT INTO event_archive
		(id, timestamp, caption, outcome, gif_path, representative_jpg_path, all_jpg_paths)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	_, err = d.db.ExecContext(ctx, query, rec.ID, rec.Timestamp.Format(history.TimestampLayout),
		rec.Caption, string(rec.Outcome), nullString(rec.AnimationPath),
		nullString(rec.RepresentativeImagePath), string(paths))
	if err != nil {
		return fmt.Errorf("failed to archive event: %w", err)
	}
	return nil
}

// ListArchivedEvents returns archived events, newest first.
func (d *Database) ListArchivedEvents(ctx context.Context, since *time.Time, limit int) ([]history.Record, error) {
	query := `SELECT id, timestamp, caption, outcome, gif_path, representative_jpg_path, all_jpg_paths
		FROM event_archive WHERE 1=1`
	args := []interface{}{}

	if since != nil {
		query += " AND timestamp >= ?"
		args = append(args, since.Format(history.TimestampLayout))
	}

	query += " ORDER BY timestamp DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived events: %w", err)
	}
	defer rows.Close()

	var records []history.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteArchivedBefore deletes archived events older than before
func (d *Database) DeleteArchivedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM event_archive WHERE timestamp < ?",
		before.Format(history.TimestampLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return result.RowsAffected()
}

// LoadConfig returns the runtime configuration blob, nil when unset.
func (d *Database) LoadConfig(ctx context.Context) ([]byte, error) {
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM app_config WHERE key = ?", telegramConfigKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	return []byte(value), nil
}

// SaveConfig stores the runtime configuration blob
func (d *Database) SaveConfig(ctx context.Context, data []byte) error {
	query := `INSERT INTO app_config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`

	_, err := d.db.ExecContext(ctx, query, telegramConfigKey, string(data))
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (history.Record, error) {
	var (
		rec                       history.Record
		ts                        string
		outcome, gifPath, repPath sql.NullString
		pathsJSON                 sql.NullString
	)
	if err := row.Scan(&rec.ID, &ts, &rec.Caption, &outcome, &gifPath, &repPath, &pathsJSON); err != nil {
		return rec, fmt.Errorf("failed to scan history record: %w", err)
	}

	parsed, err := time.ParseInLocation(history.TimestampLayout, ts, time.Local)
	if err != nil {
		return rec, fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}
	rec.Timestamp = parsed
	rec.Outcome = history.Outcome(outcome.String)
	rec.AnimationPath = gifPath.String
	rec.RepresentativeImagePath = repPath.String

	if pathsJSON.Valid && pathsJSON.String != "" {
		if err := json.Unmarshal([]byte(pathsJSON.String), &rec.AllImagePaths); err != nil {
			return rec, fmt.Errorf("failed to unmarshal image paths: %w", err)
		}
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(paths []string) []string {
	if paths == nil {
		return []string{}
	}
	return paths
}
