// Package journal persists the operator-relevant hub events in SQLite so the
// console can show history across restarts.
package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	seq        INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	node       TEXT NOT NULL DEFAULT '',
	user_id    TEXT NOT NULL DEFAULT '',
	to_user    TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL DEFAULT '',
	ts         INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_seq ON events(seq);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
`

// Store is the journal contract the console depends on.
type Store interface {
	Append(e Entry) (Entry, error)
	Recent(limit int) ([]Entry, error)
	RecentByKind(kind string, limit int) ([]Entry, error)
	Count() (int, error)
	Close() error
}

var _ Store = (*DB)(nil)

// DB wraps a sql.DB holding the events table.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	// Append reads MAX(seq) and inserts in one tx; a single writer connection
	// keeps concurrent appends from failing with SQLITE_BUSY on upgrade.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
