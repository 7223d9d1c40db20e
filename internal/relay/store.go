package relay

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"
)

// eventStore is the server-authoritative, append-only event log: one
// SQLite table keyed by a monotonic server_seq, independent of the
// client-side replica schema in internal/store. Checkpoints handed back
// to clients are just server_seq rendered as a decimal string — opaque
// as far as the wire contract is concerned.
type eventStore struct {
	conn *sql.DB
}

func openEventStore(path string) (*eventStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("relay: create db dir: %w", err)
			}
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("relay: open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if path != ":memory:" {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("relay: enable WAL mode: %w", err)
		}
	}
	conn.Exec("PRAGMA busy_timeout=5000")

	if _, err := conn.Exec(eventStoreSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay: apply schema: %w", err)
	}
	return &eventStore{conn: conn}, nil
}

const eventStoreSchema = `
CREATE TABLE IF NOT EXISTS events (
	server_seq      INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	user_id         TEXT NOT NULL,
	device_id       TEXT NOT NULL,
	app_id          TEXT NOT NULL,
	ts              TEXT NOT NULL,
	type            TEXT NOT NULL,
	payload         JSON NOT NULL,
	payload_version INTEGER NOT NULL
);
`

func (s *eventStore) close() error { return s.conn.Close() }

// insert appends a batch within one transaction, deduping by id. A
// duplicate id is treated as an idempotent ack, not an error: the
// collaborator contract dedups by event id so a client replaying an
// unacknowledged push converges to exactly one stored event.
func (s *eventStore) insert(ctx context.Context, events []WireEvent) (acknowledged, rejected []string, err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("relay: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, evt := range events {
		if evt.ID == "" || evt.DeviceID == "" || evt.Type == "" {
			rejected = append(rejected, evt.ID)
			continue
		}
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO events (id, user_id, device_id, app_id, ts, type, payload, payload_version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			evt.ID, evt.UserID, evt.DeviceID, evt.AppID, evt.Timestamp, evt.Type, string(evt.Payload), evt.PayloadVersion)
		if err != nil {
			return nil, nil, fmt.Errorf("relay: insert event %s: %w", evt.ID, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, nil, fmt.Errorf("relay: rows affected: %w", err)
		}
		_ = rows // duplicate (rows==0) still acknowledges: the write already landed
		acknowledged = append(acknowledged, evt.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("relay: commit: %w", err)
	}
	return acknowledged, rejected, nil
}

// since returns events after the given opaque checkpoint, up to limit,
// plus the checkpoint to resume from and whether more pages remain.
func (s *eventStore) since(ctx context.Context, checkpoint string, limit int) ([]WireEvent, string, bool, error) {
	afterSeq := parseCheckpoint(checkpoint)

	rows, err := s.conn.QueryContext(ctx, `
		SELECT server_seq, id, user_id, device_id, app_id, ts, type, payload, payload_version
		FROM events WHERE server_seq > ? ORDER BY server_seq ASC LIMIT ?`, afterSeq, limit)
	if err != nil {
		return nil, "", false, fmt.Errorf("relay: query events: %w", err)
	}
	defer rows.Close()

	lastSeq := afterSeq
	var events []WireEvent
	for rows.Next() {
		var seq int64
		var payload string
		var evt WireEvent
		if err := rows.Scan(&seq, &evt.ID, &evt.UserID, &evt.DeviceID, &evt.AppID, &evt.Timestamp, &evt.Type, &payload, &evt.PayloadVersion); err != nil {
			return nil, "", false, fmt.Errorf("relay: scan event: %w", err)
		}
		evt.Payload = []byte(payload)
		events = append(events, evt)
		lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		return nil, "", false, fmt.Errorf("relay: rows iteration: %w", err)
	}

	hasMore := len(events) == limit
	return events, strconv.FormatInt(lastSeq, 10), hasMore, nil
}

// parseCheckpoint maps an opaque checkpoint to the server_seq to resume
// after. Anything that isn't one of this server's own checkpoints —
// notably the client's epoch sentinel sent before any checkpoint is
// known — means "from the beginning".
func parseCheckpoint(checkpoint string) int64 {
	n, err := strconv.ParseInt(checkpoint, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
