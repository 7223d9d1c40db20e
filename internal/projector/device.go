package projector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/reconcile"
)

// applyDeviceEvent upserts a Device descriptor on device.seen. Devices
// don't go through LWW on creation (there's exactly one row per deviceId,
// enforced by a unique index) but do on lastSeenAt/name updates.
func (p *Projector) applyDeviceEvent(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	if evt.Type != domain.EventDeviceSeen {
		return nil
	}
	var payload domain.DeviceEventPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decode device payload: %w", err)
	}
	if payload.DeviceID == "" {
		return fmt.Errorf("device.seen event missing deviceId")
	}

	var id, lastSeenStr string
	err := p.conn.QueryRowContext(ctx, `SELECT id, last_seen_at FROM devices WHERE device_id = ?`, payload.DeviceID).Scan(&id, &lastSeenStr)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup device: %w", err)
	}

	if id == "" {
		id = "dev-" + payload.DeviceID
		if len(id) > 32 {
			id = id[:32]
		}
		_, err := p.conn.ExecContext(ctx, `
			INSERT INTO devices (id, device_id, name, platform, app_version, first_seen_at, last_seen_at, is_current_device, created_at, updated_at, is_deleted, sync_state, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, 0, ?, ?)`,
			id, payload.DeviceID, payload.Name, payload.Platform, payload.AppVersion,
			formatTime(evt.Timestamp), formatTime(evt.Timestamp), formatTime(evt.Timestamp), formatTime(evt.Timestamp),
			string(domain.SyncSynced), formatTime(p.clock.Now()),
		)
		if err != nil {
			return fmt.Errorf("insert device: %w", err)
		}
		p.notify(domain.KindDevice, id)
		return nil
	}

	lastSeen, err := parseTime(lastSeenStr)
	if err != nil {
		return err
	}
	if !evt.Timestamp.After(lastSeen) {
		return nil
	}
	_, err = p.conn.ExecContext(ctx, `UPDATE devices SET name=?, platform=?, app_version=?, last_seen_at=?, updated_at=? WHERE id=?`,
		payload.Name, payload.Platform, payload.AppVersion, formatTime(evt.Timestamp), formatTime(evt.Timestamp), id)
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	p.notify(domain.KindDevice, id)
	return nil
}
