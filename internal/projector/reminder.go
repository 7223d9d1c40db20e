package projector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/reconcile"
)

func (p *Projector) applyReminderEvent(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	switch evt.Type {
	case domain.EventReminderCreated, domain.EventReminderUpdated:
		return p.upsertReminder(ctx, cache, evt)
	case domain.EventReminderDeleted:
		return p.deleteReminder(ctx, cache, evt)
	case domain.EventReminderSnoozed:
		return p.setReminderStatus(ctx, cache, evt, domain.ReminderSnoozed)
	case domain.EventReminderFired:
		return p.setReminderStatus(ctx, cache, evt, domain.ReminderFired)
	case domain.EventReminderDismissed:
		return p.setReminderStatus(ctx, cache, evt, domain.ReminderDismissed)
	}
	return nil
}

// parentExists checks the referenced Stack/QueueTask/Arc is known locally.
// A reminder whose parent hasn't arrived yet is a non-fatal skip; the
// event is not retried once the page's checkpoint has been stored.
func (p *Projector) parentExists(ctx context.Context, cache *reconcile.Cache, parentType domain.ParentType, parentID string) (bool, error) {
	switch parentType {
	case domain.ParentStack:
		s, err := cache.Stack(ctx, parentID)
		return s != nil, err
	case domain.ParentTask:
		t, err := cache.Task(ctx, parentID)
		return t != nil, err
	case domain.ParentArc:
		a, err := cache.Arc(ctx, parentID)
		return a != nil, err
	default:
		return false, nil
	}
}

func (p *Projector) upsertReminder(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	var payload domain.ReminderEventPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decode reminder payload: %w", err)
	}
	id := payload.ID
	if id == "" {
		id = evt.EntityID
	}

	if ok, err := p.parentExists(ctx, cache, payload.ParentType, payload.ParentID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("reminder %s: parent %s/%s not found, skipping", id, payload.ParentType, payload.ParentID)
	}

	existing, err := cache.Reminder(ctx, id)
	if err != nil {
		return err
	}

	if existing == nil {
		createdAt := evt.Timestamp
		if payload.CreatedAt != nil {
			createdAt = *payload.CreatedAt
		}
		r := &domain.Reminder{
			Base: domain.Base{
				ID: id, CreatedAt: createdAt, UpdatedAt: evt.Timestamp,
				SyncState: domain.SyncSynced, LastSyncedAt: p.clock.Now(),
			},
			ParentID: payload.ParentID, ParentType: payload.ParentType,
			Status:   domain.ReminderStatus(orDefault(payload.Status, string(domain.ReminderScheduled))),
			RemindAt: payload.RemindAt,
		}
		if _, err := p.conn.ExecContext(ctx, `
			INSERT INTO reminders (id, parent_id, parent_type, status, remind_at, created_at, updated_at, is_deleted, sync_state, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			r.ID, r.ParentID, string(r.ParentType), string(r.Status), formatTime(r.RemindAt),
			formatTime(r.CreatedAt), formatTime(r.UpdatedAt), string(r.SyncState), formatTime(r.LastSyncedAt),
		); err != nil {
			return fmt.Errorf("insert reminder: %w", err)
		}
		cache.PutReminder(r)
		p.notify(domain.KindReminder, id)
		return nil
	}

	ok, err := p.lwwAllows(ctx, domain.KindReminder, id, existing.UpdatedAt, evt, domain.ConflictUpdate)
	if err != nil || !ok {
		return err
	}
	existing.ParentID, existing.ParentType = payload.ParentID, payload.ParentType
	if payload.Status != "" {
		existing.Status = domain.ReminderStatus(payload.Status)
	}
	existing.RemindAt = payload.RemindAt
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `
		UPDATE reminders SET parent_id=?, parent_type=?, status=?, remind_at=?, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		existing.ParentID, string(existing.ParentType), string(existing.Status), formatTime(existing.RemindAt),
		formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id,
	); err != nil {
		return fmt.Errorf("update reminder: %w", err)
	}
	cache.PutReminder(existing)
	p.notify(domain.KindReminder, id)
	return nil
}

func (p *Projector) deleteReminder(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	id := evt.EntityID
	if id == "" {
		var payload domain.EntityDeletedPayload
		json.Unmarshal(evt.Payload, &payload)
		id = payload.ID
	}
	existing, err := cache.Reminder(ctx, id)
	if err != nil || existing == nil {
		return err
	}
	ok, err := p.lwwAllows(ctx, domain.KindReminder, id, existing.UpdatedAt, evt, domain.ConflictDelete)
	if err != nil || !ok {
		return err
	}
	existing.IsDeleted = true
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `UPDATE reminders SET is_deleted=1, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id); err != nil {
		return fmt.Errorf("soft-delete reminder: %w", err)
	}
	cache.PutReminder(existing)
	p.notify(domain.KindReminder, id)
	return nil
}

func (p *Projector) setReminderStatus(ctx context.Context, cache *reconcile.Cache, evt domain.Event, status domain.ReminderStatus) error {
	id := evt.EntityID
	if id == "" {
		var payload domain.EntityStatusPayload
		json.Unmarshal(evt.Payload, &payload)
		id = payload.ID
	}
	existing, err := cache.Reminder(ctx, id)
	if err != nil || existing == nil {
		return err
	}
	ok, err := p.lwwAllows(ctx, domain.KindReminder, id, existing.UpdatedAt, evt, domain.ConflictStatusChange)
	if err != nil || !ok {
		return err
	}
	existing.Status = status
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `UPDATE reminders SET status=?, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		string(status), formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id); err != nil {
		return fmt.Errorf("set reminder status: %w", err)
	}
	cache.PutReminder(existing)
	p.notify(domain.KindReminder, id)
	return nil
}
