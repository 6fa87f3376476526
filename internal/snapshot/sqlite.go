package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quantumlife/cadence/internal/core"
)

// SQLiteStore persists the snapshot in SQLite so the diff baseline
// survives restarts. Replace runs inside one transaction: the previous
// event set is dropped and the new one inserted, so a reader never
// observes a half-replaced snapshot.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens or creates the snapshot database at path.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't handle concurrent writes well
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// NewSQLiteStore wraps an existing connection (used by tests with an
// in-memory database).
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshot_meta (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			captured_at TEXT NOT NULL,
			busy        TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS snapshot_events (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			start_at   TEXT NOT NULL,
			end_at     TEXT NOT NULL,
			source     TEXT NOT NULL,
			category   TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Load returns the stored snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (*core.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT captured_at, busy FROM snapshot_meta WHERE id = 1`)

	var capturedAt, busyJSON string
	if err := row.Scan(&capturedAt, &busyJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("load snapshot meta: %w", err)
	}

	captured, err := time.Parse(time.RFC3339Nano, capturedAt)
	if err != nil {
		return nil, fmt.Errorf("parse captured_at: %w", err)
	}

	var busy []core.Interval
	if err := json.Unmarshal([]byte(busyJSON), &busy); err != nil {
		return nil, fmt.Errorf("unmarshal busy timeline: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, start_at, end_at, source, category, updated_at
		FROM snapshot_events
	`)
	if err != nil {
		return nil, fmt.Errorf("query snapshot events: %w", err)
	}
	defer rows.Close()

	var events []core.CalendarEvent
	for rows.Next() {
		var e core.CalendarEvent
		var start, end, updated string
		if err := rows.Scan(&e.ID, &e.Title, &start, &end, &e.Source, &e.Category, &updated); err != nil {
			return nil, fmt.Errorf("scan snapshot event: %w", err)
		}
		if e.Start, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return nil, fmt.Errorf("parse event start: %w", err)
		}
		if e.End, err = time.Parse(time.RFC3339Nano, end); err != nil {
			return nil, fmt.Errorf("parse event end: %w", err)
		}
		if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, fmt.Errorf("parse event updated_at: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot events: %w", err)
	}

	snap := core.NewSnapshot(events, busy, captured)
	return snap, nil
}

// Replace swaps in a new snapshot in a single transaction.
func (s *SQLiteStore) Replace(ctx context.Context, snap *core.Snapshot) error {
	busyJSON, err := json.Marshal(snap.Busy)
	if err != nil {
		return fmt.Errorf("marshal busy timeline: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}

	apply := func() error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_events`); err != nil {
			return fmt.Errorf("clear snapshot events: %w", err)
		}
		for _, e := range snap.SortedEvents() {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO snapshot_events (id, title, start_at, end_at, source, category, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`,
				e.ID,
				e.Title,
				e.Start.Format(time.RFC3339Nano),
				e.End.Format(time.RFC3339Nano),
				string(e.Source),
				string(e.Category),
				e.UpdatedAt.Format(time.RFC3339Nano),
			)
			if err != nil {
				return fmt.Errorf("insert snapshot event %s: %w", e.ID, err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_meta (id, captured_at, busy) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET captured_at = excluded.captured_at, busy = excluded.busy
		`, snap.CapturedAt.Format(time.RFC3339Nano), string(busyJSON))
		if err != nil {
			return fmt.Errorf("upsert snapshot meta: %w", err)
		}
		return nil
	}

	if err := apply(); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Clear removes the stored snapshot.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_events`); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear snapshot events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_meta`); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear snapshot meta: %w", err)
	}
	return tx.Commit()
}
