// Package journal keeps an append-only record of snapshot activity in a
// local SQLite database. The journal is strictly an observer: writes that
// fail are logged and dropped so a broken journal can never interfere
// with snapshot capture or restore.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Event kinds recorded by the engine.
const (
	KindCreated     = "created"
	KindEvicted     = "evicted"
	KindRestored    = "restored"
	KindImported    = "imported"
	KindExported    = "exported"
	KindWatchFailed = "watch_failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	game TEXT NOT NULL,
	slot INTEGER NOT NULL,
	fingerprint TEXT NOT NULL,
	kind TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_game_created ON events(game, created_at);
`

// Entry is one recorded journal event.
type Entry struct {
	ID          string
	Game        string
	Slot        int
	Fingerprint string
	Kind        string
	Detail      string
	CreatedAt   time.Time
}

// Journal records engine events and serves them back for the history
// command. Record must never fail the caller.
type Journal interface {
	Record(game string, slot int, fingerprint, kind, detail string)
	Recent(game string, limit int) ([]Entry, error)
	Prune(maxAge time.Duration) error
	Close() error
}

// Nop is the journal used when journaling is disabled.
type Nop struct{}

func (Nop) Record(string, int, string, string, string) {}

func (Nop) Recent(string, int) ([]Entry, error) { return nil, nil }

func (Nop) Prune(time.Duration) error { return nil }

func (Nop) Close() error { return nil }

// SQLite is the file-backed journal.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the journal database at path.
func Open(path string, logger *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	return &SQLite{db: db, logger: logger}, nil
}

// Record appends one event. Failures are logged, never returned.
func (j *SQLite) Record(game string, slot int, fingerprint, kind, detail string) {
	_, err := j.db.Exec(
		`INSERT INTO events (id, game, slot, fingerprint, kind, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), game, slot, fingerprint, kind, detail, time.Now().Unix(),
	)
	if err != nil {
		j.logger.Warn("journal write dropped", "kind", kind, "game", game, "error", err)
	}
}

// Recent returns up to limit events for game, newest first.
func (j *SQLite) Recent(game string, limit int) ([]Entry, error) {
	rows, err := j.db.Query(
		`SELECT id, game, slot, fingerprint, kind, detail, created_at
		 FROM events WHERE game = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		game, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &e.Game, &e.Slot, &e.Fingerprint, &e.Kind, &e.Detail, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		e.CreatedAt = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal rows: %w", err)
	}
	return entries, nil
}

// Prune deletes events older than maxAge.
func (j *SQLite) Prune(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := j.db.Exec(`DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune journal: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		j.logger.Debug("journal pruned", "removed", n)
	}
	return nil
}

// Close closes the underlying database.
func (j *SQLite) Close() error {
	return j.db.Close()
}
