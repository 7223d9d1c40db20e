package projector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/reconcile"
)

func (p *Projector) applyStackEvent(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	switch evt.Type {
	case domain.EventStackCreated, domain.EventStackUpdated:
		return p.upsertStack(ctx, cache, evt)
	case domain.EventStackDeleted, domain.EventStackDiscarded:
		return p.deleteStack(ctx, cache, evt)
	case domain.EventStackActivated:
		return p.activateStack(ctx, cache, evt)
	case domain.EventStackDeactivated:
		return p.setStackActive(ctx, cache, evt, false)
	case domain.EventStackCompleted:
		return p.completeStack(ctx, cache, evt)
	case domain.EventStackArchived:
		return p.setStackStatus(ctx, cache, evt, domain.StackArchived)
	case domain.EventStackReordered:
		return p.reorderStacks(ctx, cache, evt)
	case domain.EventStackArcAssigned:
		return p.assignStackArc(ctx, cache, evt)
	}
	return nil
}

func (p *Projector) upsertStack(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	var payload domain.StackEventPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decode stack payload: %w", err)
	}
	id := payload.ID
	if id == "" {
		id = evt.EntityID
	}

	existing, err := cache.Stack(ctx, id)
	if err != nil {
		return err
	}

	if existing == nil {
		createdAt := evt.Timestamp
		if payload.CreatedAt != nil {
			createdAt = *payload.CreatedAt
		}
		s := &domain.Stack{
			Base: domain.Base{
				ID: id, CreatedAt: createdAt, UpdatedAt: evt.Timestamp,
				SyncState: domain.SyncSynced, LastSyncedAt: p.clock.Now(),
			},
			Title: payload.Title, Description: payload.Description,
			Status: domain.StackStatus(orDefault(payload.Status, string(domain.StackActive))),
			Priority: payload.Priority, SortOrder: payload.SortOrder,
			IsDraft: payload.IsDraft, IsActive: payload.IsActive,
			ActiveTaskID: payload.ActiveTaskID, ArcID: payload.ArcID,
		}
		if _, err := p.conn.ExecContext(ctx, `
			INSERT INTO stacks (id, title, description, status, priority, sort_order, is_draft, is_active, active_task_id, arc_id, created_at, updated_at, is_deleted, sync_state, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			s.ID, s.Title, s.Description, string(s.Status), s.Priority, s.SortOrder,
			boolToInt(s.IsDraft), boolToInt(s.IsActive), s.ActiveTaskID, s.ArcID,
			formatTime(s.CreatedAt), formatTime(s.UpdatedAt), string(s.SyncState), formatTime(s.LastSyncedAt),
		); err != nil {
			return fmt.Errorf("insert stack: %w", err)
		}
		cache.PutStack(s)
		p.attachStackTags(ctx, id, payload.TagIDs)
		p.notify(domain.KindStack, id)
		return nil
	}

	ok, err := p.lwwAllows(ctx, domain.KindStack, id, existing.UpdatedAt, evt, domain.ConflictUpdate)
	if err != nil || !ok {
		return err
	}

	existing.Title, existing.Description = payload.Title, payload.Description
	if payload.Status != "" {
		existing.Status = domain.StackStatus(payload.Status)
	}
	existing.Priority, existing.SortOrder = payload.Priority, payload.SortOrder
	existing.IsDraft, existing.ActiveTaskID, existing.ArcID = payload.IsDraft, payload.ActiveTaskID, payload.ArcID
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `
		UPDATE stacks SET title=?, description=?, status=?, priority=?, sort_order=?, is_draft=?, active_task_id=?, arc_id=?, updated_at=?, sync_state=?, last_synced_at=?
		WHERE id=?`,
		existing.Title, existing.Description, string(existing.Status), existing.Priority, existing.SortOrder,
		boolToInt(existing.IsDraft), existing.ActiveTaskID, existing.ArcID,
		formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id,
	); err != nil {
		return fmt.Errorf("update stack: %w", err)
	}
	cache.PutStack(existing)
	p.attachStackTags(ctx, id, payload.TagIDs)
	p.notify(domain.KindStack, id)
	return nil
}

// attachStackTags resolves each requested tag id through the remap table
// and attaches whatever resolves locally; ids that don't resolve are parked
// as pending associations until their tag.created event arrives.
func (p *Projector) attachStackTags(ctx context.Context, stackID string, tagIDs []string) {
	for _, rawID := range tagIDs {
		id := p.ledger.Resolve(rawID)
		var exists int
		if err := p.conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM tags WHERE id = ? AND is_deleted = 0`, id).Scan(&exists); err != nil {
			continue
		}
		if exists == 0 {
			p.ledger.AddPending(rawID, stackID)
			continue
		}
		p.conn.ExecContext(ctx, `INSERT OR IGNORE INTO stack_tags (stack_id, tag_id) VALUES (?, ?)`, stackID, id)
	}
}

func (p *Projector) deleteStack(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	id := evt.EntityID
	var payload domain.EntityDeletedPayload
	if id == "" {
		json.Unmarshal(evt.Payload, &payload)
		id = payload.ID
	}
	existing, err := cache.Stack(ctx, id)
	if err != nil || existing == nil {
		return err
	}
	ok, err := p.lwwAllows(ctx, domain.KindStack, id, existing.UpdatedAt, evt, domain.ConflictDelete)
	if err != nil || !ok {
		return err
	}
	existing.IsDeleted = true
	existing.IsActive = false // I1: a deleted stack cannot be active
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `UPDATE stacks SET is_deleted=1, is_active=0, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id); err != nil {
		return fmt.Errorf("soft-delete stack: %w", err)
	}
	cache.PutStack(existing)
	p.notify(domain.KindStack, id)
	return nil
}

// activateStack enforces I1: deactivate every other active stack under
// LWW (stamping their updatedAt so remote devices converge), then activate
// the target.
func (p *Projector) activateStack(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	id := evt.EntityID
	if id == "" {
		var payload domain.EntityStatusPayload
		json.Unmarshal(evt.Payload, &payload)
		id = payload.ID
	}

	// An activation that loses LWW (or names an unknown stack) leaves the
	// other stacks as they are; setStackActive records the conflict.
	target, err := cache.Stack(ctx, id)
	if err != nil {
		return err
	}
	if target == nil || !evt.Timestamp.After(target.UpdatedAt) {
		return p.setStackActive(ctx, cache, evt, true)
	}

	rows, err := p.conn.QueryContext(ctx, `SELECT id FROM stacks WHERE is_active = 1 AND id != ?`, id)
	if err != nil {
		return fmt.Errorf("list active stacks: %w", err)
	}
	var others []string
	for rows.Next() {
		var otherID string
		if err := rows.Scan(&otherID); err != nil {
			rows.Close()
			return err
		}
		others = append(others, otherID)
	}
	rows.Close()

	for _, otherID := range others {
		if _, err := p.conn.ExecContext(ctx, `UPDATE stacks SET is_active=0, updated_at=? WHERE id=?`, formatTime(evt.Timestamp), otherID); err != nil {
			return fmt.Errorf("deactivate stack %s: %w", otherID, err)
		}
		if other, err := cache.Stack(ctx, otherID); err == nil && other != nil {
			other.IsActive = false
			other.UpdatedAt = evt.Timestamp
			cache.PutStack(other)
		}
	}

	return p.setStackActive(ctx, cache, evt, true)
}

func (p *Projector) setStackActive(ctx context.Context, cache *reconcile.Cache, evt domain.Event, active bool) error {
	id := evt.EntityID
	if id == "" {
		var payload domain.EntityStatusPayload
		json.Unmarshal(evt.Payload, &payload)
		id = payload.ID
	}
	existing, err := cache.Stack(ctx, id)
	if err != nil || existing == nil {
		return err
	}
	ok, err := p.lwwAllows(ctx, domain.KindStack, id, existing.UpdatedAt, evt, domain.ConflictStatusChange)
	if err != nil || !ok {
		return err
	}
	existing.IsActive = active
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `UPDATE stacks SET is_active=?, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		boolToInt(active), formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id); err != nil {
		return fmt.Errorf("set stack active=%v: %w", active, err)
	}
	cache.PutStack(existing)
	p.notify(domain.KindStack, id)
	return nil
}

// completeStack sets status=completed and, per I2, isActive=false.
func (p *Projector) completeStack(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	id := evt.EntityID
	if id == "" {
		var payload domain.EntityStatusPayload
		json.Unmarshal(evt.Payload, &payload)
		id = payload.ID
	}
	existing, err := cache.Stack(ctx, id)
	if err != nil || existing == nil {
		return err
	}
	ok, err := p.lwwAllows(ctx, domain.KindStack, id, existing.UpdatedAt, evt, domain.ConflictStatusChange)
	if err != nil || !ok {
		return err
	}
	existing.Status = domain.StackCompleted
	existing.IsActive = false
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `UPDATE stacks SET status=?, is_active=0, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		string(existing.Status), formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id); err != nil {
		return fmt.Errorf("complete stack: %w", err)
	}
	cache.PutStack(existing)
	p.notify(domain.KindStack, id)
	return nil
}

func (p *Projector) setStackStatus(ctx context.Context, cache *reconcile.Cache, evt domain.Event, status domain.StackStatus) error {
	id := evt.EntityID
	if id == "" {
		var payload domain.EntityStatusPayload
		json.Unmarshal(evt.Payload, &payload)
		id = payload.ID
	}
	existing, err := cache.Stack(ctx, id)
	if err != nil || existing == nil {
		return err
	}
	ok, err := p.lwwAllows(ctx, domain.KindStack, id, existing.UpdatedAt, evt, domain.ConflictStatusChange)
	if err != nil || !ok {
		return err
	}
	existing.Status = status
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `UPDATE stacks SET status=?, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		string(status), formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id); err != nil {
		return fmt.Errorf("set stack status: %w", err)
	}
	cache.PutStack(existing)
	p.notify(domain.KindStack, id)
	return nil
}

// reorderStacks applies a batch reorder: each target is checked
// under LWW independently, missing entities are skipped.
func (p *Projector) reorderStacks(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	var payload domain.ReorderPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decode reorder payload: %w", err)
	}
	for i, id := range payload.IDs {
		if i >= len(payload.SortOrders) {
			break
		}
		existing, err := cache.Stack(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			continue // may arrive in a later page
		}
		ok, err := p.lwwAllows(ctx, domain.KindStack, id, existing.UpdatedAt, evt, domain.ConflictReorder)
		if err != nil || !ok {
			continue
		}
		existing.SortOrder = payload.SortOrders[i]
		existing.UpdatedAt = evt.Timestamp
		existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()
		if _, err := p.conn.ExecContext(ctx, `UPDATE stacks SET sort_order=?, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
			existing.SortOrder, formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id); err != nil {
			return fmt.Errorf("reorder stack %s: %w", id, err)
		}
		cache.PutStack(existing)
	}
	return nil
}

func (p *Projector) assignStackArc(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	var payload domain.StackArcAssignmentPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decode arc assignment payload: %w", err)
	}
	existing, err := cache.Stack(ctx, payload.StackID)
	if err != nil || existing == nil {
		return err
	}
	ok, err := p.lwwAllows(ctx, domain.KindStack, payload.StackID, existing.UpdatedAt, evt, domain.ConflictUpdate)
	if err != nil || !ok {
		return err
	}
	existing.ArcID = payload.ArcID
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `UPDATE stacks SET arc_id=?, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		existing.ArcID, formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), payload.StackID); err != nil {
		return fmt.Errorf("assign stack arc: %w", err)
	}
	cache.PutStack(existing)
	p.notify(domain.KindStack, payload.StackID)
	return nil
}

func (p *Projector) notify(kind domain.EntityKind, id string) {
	if p.notifier != nil {
		p.notifier.EntityChanged(kind, id)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
