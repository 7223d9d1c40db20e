// Package eventlog is the append-only local event log: every mutation
// the local replica makes is recorded here before it is projected into the
// entity tables, and it is the source the sync client drains when pushing
// to the relay.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DequeueApp/dequeue-sync-core/internal/clock"
	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/store"
)

// Log records and retrieves domain.Event rows against the shared store
// connection. It issues its own statements rather than going through a
// higher-level repository, mirroring how the teacher's internal/sync package
// talks directly to *sql.DB/*sql.Tx.
type Log struct {
	conn  *sql.DB
	clock clock.Clock
}

// New returns a Log backed by db, timestamping new events with clk.
func New(db *store.DB, clk clock.Clock) *Log {
	if clk == nil {
		clk = clock.System{}
	}
	return &Log{conn: db.Conn(), clock: clk}
}

// Record appends a new event for entityID, stamping ID, Timestamp, and
// PayloadVersion if the caller left them zero. The caller supplies the
// already-encoded payload — eventlog is agnostic to payload shape.
func (l *Log) Record(ctx context.Context, evt domain.Event) (domain.Event, error) {
	if evt.ID == "" {
		evt.ID = store.NewEventID()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = l.clock.Now()
	}
	if evt.PayloadVersion == 0 {
		evt.PayloadVersion = domain.CurrentPayloadVersion
	}
	if evt.Payload == nil {
		evt.Payload = json.RawMessage("{}")
	}

	_, err := l.conn.ExecContext(ctx, `
		INSERT INTO events (id, type, payload, timestamp, entity_id, user_id, device_id, app_id, payload_version, is_synced, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL)`,
		evt.ID, evt.Type, string(evt.Payload), evt.Timestamp.UTC().Format(time.RFC3339Nano),
		evt.EntityID, evt.UserID, evt.DeviceID, evt.AppID, evt.PayloadVersion,
	)
	if err != nil {
		return domain.Event{}, fmt.Errorf("eventlog: record: %w", err)
	}
	return evt, nil
}

// FetchPending returns up to limit events not yet acknowledged by the relay,
// oldest first, for the push side of sync. limit <= 0 means no cap.
func (l *Log) FetchPending(ctx context.Context, limit int) ([]domain.Event, error) {
	query := `
		SELECT id, type, payload, timestamp, entity_id, user_id, device_id, app_id, payload_version, is_synced, synced_at
		FROM events
		WHERE is_synced = 0
		ORDER BY timestamp ASC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: fetch pending: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// MarkSynced flags the given event IDs as acknowledged, stamping SyncedAt.
// Unknown IDs are silently ignored — the relay may ack events this replica
// has since pruned or never had.
func (l *Log) MarkSynced(ctx context.Context, ids []string, syncedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventlog: mark synced: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE events SET is_synced = 1, synced_at = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("eventlog: mark synced: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, syncedAt.UTC().Format(time.RFC3339Nano), id); err != nil {
			return fmt.Errorf("eventlog: mark synced %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// HistoryFor returns every recorded event for entityID, oldest first,
// regardless of sync status — used for debugging and conflict display.
func (l *Log) HistoryFor(ctx context.Context, entityID string) ([]domain.Event, error) {
	rows, err := l.conn.QueryContext(ctx, `
		SELECT id, type, payload, timestamp, entity_id, user_id, device_id, app_id, payload_version, is_synced, synced_at
		FROM events
		WHERE entity_id = ?
		ORDER BY timestamp ASC, id ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: history for %s: %w", entityID, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Exists reports whether an event with the given ID has already been
// recorded in the local log. The projector does not call it: inbound
// events are not written to this log, and a redelivered relay batch is
// absorbed by the projector's LWW checks.
func (l *Log) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := l.conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM events WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("eventlog: exists %s: %w", id, err)
	}
	return n > 0, nil
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var (
			evt            domain.Event
			payload        string
			tsStr          string
			isSynced       int
			syncedAtStr    sql.NullString
		)
		if err := rows.Scan(&evt.ID, &evt.Type, &payload, &tsStr, &evt.EntityID, &evt.UserID,
			&evt.DeviceID, &evt.AppID, &evt.PayloadVersion, &isSynced, &syncedAtStr); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		evt.Payload = json.RawMessage(payload)
		evt.IsSynced = isSynced != 0

		ts, err := parseTimestamp(tsStr)
		if err != nil {
			return nil, fmt.Errorf("eventlog: parse timestamp %q: %w", tsStr, err)
		}
		evt.Timestamp = ts

		if syncedAtStr.Valid && syncedAtStr.String != "" {
			syncedAt, err := parseTimestamp(syncedAtStr.String)
			if err != nil {
				return nil, fmt.Errorf("eventlog: parse synced_at %q: %w", syncedAtStr.String, err)
			}
			evt.SyncedAt = &syncedAt
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// timeFormats lists the layouts observed across SQLite drivers and
// hand-written timestamps, tried in order — mirrors the teacher's
// parseTimestamp in internal/sync/engine.go.
var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
