package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one journaled event.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Node      string    `json:"node,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	ToUser    string    `json:"toUser,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Timestamp uint32    `json:"ts"`
	CreatedAt time.Time `json:"createdAt"`
}

// Append stores e, assigning an id and creation time when missing.
func (db *DB) Append(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return Entry{}, fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var seq int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM events`).Scan(&seq); err != nil {
		return Entry{}, fmt.Errorf("journal: next seq: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO events (id, seq, kind, node, user_id, to_user, payload, ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, seq, e.Kind, e.Node, e.UserID, e.ToUser, e.Payload, e.Timestamp, e.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("journal: commit: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (db *DB) Recent(limit int) ([]Entry, error) {
	rows, err := db.conn.Query(`
		SELECT id, kind, node, user_id, to_user, payload, ts, created_at
		FROM events ORDER BY seq DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query recent: %w", err)
	}
	return scanEntries(rows)
}

// RecentByKind is Recent restricted to one event kind.
func (db *DB) RecentByKind(kind string, limit int) ([]Entry, error) {
	rows, err := db.conn.Query(`
		SELECT id, kind, node, user_id, to_user, payload, ts, created_at
		FROM events WHERE kind = ? ORDER BY seq DESC LIMIT ?
	`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query kind: %w", err)
	}
	return scanEntries(rows)
}

// Count returns the number of journaled events.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	out := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Node, &e.UserID, &e.ToUser, &e.Payload, &e.Timestamp, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
