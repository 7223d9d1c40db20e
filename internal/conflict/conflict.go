// Package conflict records LWW rejections as observational
// SyncConflict rows. Conflicts are never replayed back into projected
// state — they exist purely for display and debugging.
package conflict

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/DequeueApp/dequeue-sync-core/internal/clock"
	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/store"
)

// Recorder appends SyncConflict rows to the local replica.
type Recorder struct {
	conn  *sql.DB
	clock clock.Clock
}

// New returns a Recorder backed by db, stamping DetectedAt with clk.
func New(db *store.DB, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.System{}
	}
	return &Recorder{conn: db.Conn(), clock: clk}
}

// Record appends a conflict for an entity mutation the projector rejected
// under LWW. The caller supplies both timestamps being compared and the
// conflict kind (domain.ConflictUpdate, etc).
func (r *Recorder) Record(ctx context.Context, entityType domain.EntityKind, entityID string, localTS, remoteTS time.Time, kind string) (domain.SyncConflict, error) {
	c := domain.SyncConflict{
		ID:              store.NewID("cfl-"),
		EntityType:      string(entityType),
		EntityID:        entityID,
		LocalTimestamp:  localTS,
		RemoteTimestamp: remoteTS,
		ConflictType:    kind,
		Resolution:      domain.ResolutionKeptLocal,
		DetectedAt:      r.clock.Now(),
		IsResolved:      true,
	}

	_, err := r.conn.ExecContext(ctx, `
		INSERT INTO sync_conflicts (id, entity_type, entity_id, local_timestamp, remote_timestamp, conflict_type, resolution, detected_at, is_resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.EntityType, c.EntityID,
		c.LocalTimestamp.UTC().Format(time.RFC3339Nano),
		c.RemoteTimestamp.UTC().Format(time.RFC3339Nano),
		c.ConflictType, c.Resolution,
		c.DetectedAt.UTC().Format(time.RFC3339Nano),
		c.IsResolved,
	)
	if err != nil {
		return domain.SyncConflict{}, fmt.Errorf("conflict: record: %w", err)
	}
	return c, nil
}

// ForEntity returns every recorded conflict for entityID, oldest first.
func (r *Recorder) ForEntity(ctx context.Context, entityID string) ([]domain.SyncConflict, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, local_timestamp, remote_timestamp, conflict_type, resolution, detected_at, is_resolved
		FROM sync_conflicts
		WHERE entity_id = ?
		ORDER BY detected_at ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("conflict: for entity %s: %w", entityID, err)
	}
	defer rows.Close()

	var conflicts []domain.SyncConflict
	for rows.Next() {
		var c domain.SyncConflict
		var localTS, remoteTS, detectedAt string
		var isResolved int
		if err := rows.Scan(&c.ID, &c.EntityType, &c.EntityID, &localTS, &remoteTS,
			&c.ConflictType, &c.Resolution, &detectedAt, &isResolved); err != nil {
			return nil, fmt.Errorf("conflict: scan: %w", err)
		}
		c.IsResolved = isResolved != 0
		if c.LocalTimestamp, err = time.Parse(time.RFC3339Nano, localTS); err != nil {
			return nil, err
		}
		if c.RemoteTimestamp, err = time.Parse(time.RFC3339Nano, remoteTS); err != nil {
			return nil, err
		}
		if c.DetectedAt, err = time.Parse(time.RFC3339Nano, detectedAt); err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}
