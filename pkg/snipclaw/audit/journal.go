package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// JournalConfig configures the SQLite change journal.
type JournalConfig struct {
	// Path of the database file. Empty disables the journal.
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout_ms"`
}

// Entry is one journaled change.
type Entry struct {
	ID         int64
	RecordedAt time.Time
	Key        string
	Kind       string
	Author     string
	Message    string
	Files      []string
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS changes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at DATETIME NOT NULL,
	key         TEXT NOT NULL,
	kind        TEXT NOT NULL,
	author      TEXT NOT NULL,
	message     TEXT NOT NULL,
	files       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changes_key ON changes(key);
`

// Journal appends every change to a SQLite table.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens or creates the journal database.
func OpenJournal(cfg JournalConfig) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5000
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", cfg.Path, cfg.BusyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", cfg.Path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends c. Changes without files are skipped.
func (j *Journal) Record(ctx context.Context, c Change) error {
	if len(c.Files) == 0 {
		return nil
	}
	at := c.Time
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO changes (recorded_at, key, kind, author, message, files) VALUES (?, ?, ?, ?, ?, ?)`,
		at.UTC(), c.Key, c.Kind, c.Author, c.Message, strings.Join(c.Files, "\n"),
	)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// List returns the most recent entries first. An empty key lists every key;
// limit <= 0 means no limit.
func (j *Journal) List(ctx context.Context, key string, limit int) ([]Entry, error) {
	query := `SELECT id, recorded_at, key, kind, author, message, files FROM changes`
	var args []any
	if key != "" {
		query += ` WHERE key = ?`
		args = append(args, key)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e     Entry
			files string
		)
		if err := rows.Scan(&e.ID, &e.RecordedAt, &e.Key, &e.Kind, &e.Author, &e.Message, &files); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		if files != "" {
			e.Files = strings.Split(files, "\n")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
