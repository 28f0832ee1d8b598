package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteArchive stores transcripts in a SQLite database.
type SQLiteArchive struct {
	db *sql.DB
}

// Record is an archived transcript as read back from the database.
type Record struct {
	ID        string
	CreatedAt time.Time
	Entries   []Entry
}

// NewSQLiteArchive opens (or creates) a SQLite database and runs migrations.
func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("notes archive: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("notes archive: wal: %w", err)
	}

	a := &SQLiteArchive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *SQLiteArchive) migrate() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			id         TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			archived_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transcript_entries (
			transcript_id TEXT NOT NULL REFERENCES transcripts(id),
			seq       INTEGER NOT NULL,
			actor     TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			content   TEXT NOT NULL,
			PRIMARY KEY (transcript_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at);
	`)
	if err != nil {
		return fmt.Errorf("notes archive: migrate: %w", err)
	}
	return nil
}

// Archive writes the transcript in a single transaction. Archiving the
// same ledger twice replaces the earlier copy.
func (a *SQLiteArchive) Archive(ctx context.Context, n *Notes) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("notes archive: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_entries WHERE transcript_id = ?`, n.ID()); err != nil {
		return fmt.Errorf("notes archive: clear: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transcripts (id, created_at, archived_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET archived_at=excluded.archived_at
	`, n.ID(), n.CreatedAt().UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("notes archive: save: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transcript_entries (transcript_id, seq, actor, timestamp, content) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("notes archive: prepare: %w", err)
	}
	defer stmt.Close()

	for i, e := range n.ReadAll(time.Time{}) {
		if _, err := stmt.ExecContext(ctx, n.ID(), i, e.Actor, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Content); err != nil {
			return fmt.Errorf("notes archive: entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("notes archive: commit: %w", err)
	}
	return nil
}

// Load reads an archived transcript back.
func (a *SQLiteArchive) Load(ctx context.Context, id string) (*Record, error) {
	var created string
	err := a.db.QueryRowContext(ctx, `SELECT created_at FROM transcripts WHERE id = ?`, id).Scan(&created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("notes archive: load %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("notes archive: load: %w", err)
	}

	rec := &Record{ID: id}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)

	rows, err := a.db.QueryContext(ctx, `SELECT actor, timestamp, content FROM transcript_entries WHERE transcript_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("notes archive: entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.Actor, &ts, &e.Content); err != nil {
			return nil, fmt.Errorf("notes archive: scan: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		rec.Entries = append(rec.Entries, e)
	}
	return rec, rows.Err()
}

// Close closes the underlying database.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}
