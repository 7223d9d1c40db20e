package projector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/reconcile"
)

func (p *Projector) applyArcEvent(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	switch evt.Type {
	case domain.EventArcCreated, domain.EventArcUpdated:
		return p.upsertArc(ctx, cache, evt)
	case domain.EventArcDeleted:
		return p.deleteArc(ctx, cache, evt)
	case domain.EventArcReordered:
		return p.reorderArcs(ctx, cache, evt)
	}
	return nil
}

func (p *Projector) upsertArc(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	var payload domain.ArcEventPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decode arc payload: %w", err)
	}
	id := payload.ID
	if id == "" {
		id = evt.EntityID
	}

	existing, err := cache.Arc(ctx, id)
	if err != nil {
		return err
	}

	if existing == nil {
		createdAt := evt.Timestamp
		if payload.CreatedAt != nil {
			createdAt = *payload.CreatedAt
		}
		a := &domain.Arc{
			Base: domain.Base{
				ID: id, CreatedAt: createdAt, UpdatedAt: evt.Timestamp,
				SyncState: domain.SyncSynced, LastSyncedAt: p.clock.Now(),
			},
			Title: payload.Title, Description: payload.Description,
			Status: orDefault(payload.Status, "active"), SortOrder: payload.SortOrder, ColorHex: payload.ColorHex,
		}
		if _, err := p.conn.ExecContext(ctx, `
			INSERT INTO arcs (id, title, description, status, sort_order, color_hex, created_at, updated_at, is_deleted, sync_state, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			a.ID, a.Title, a.Description, a.Status, a.SortOrder, a.ColorHex,
			formatTime(a.CreatedAt), formatTime(a.UpdatedAt), string(a.SyncState), formatTime(a.LastSyncedAt),
		); err != nil {
			return fmt.Errorf("insert arc: %w", err)
		}
		cache.PutArc(a)
		p.notify(domain.KindArc, id)
		return nil
	}

	ok, err := p.lwwAllows(ctx, domain.KindArc, id, existing.UpdatedAt, evt, domain.ConflictUpdate)
	if err != nil || !ok {
		return err
	}
	existing.Title, existing.Description = payload.Title, payload.Description
	if payload.Status != "" {
		existing.Status = payload.Status
	}
	existing.SortOrder, existing.ColorHex = payload.SortOrder, payload.ColorHex
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `
		UPDATE arcs SET title=?, description=?, status=?, sort_order=?, color_hex=?, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		existing.Title, existing.Description, existing.Status, existing.SortOrder, existing.ColorHex,
		formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id,
	); err != nil {
		return fmt.Errorf("update arc: %w", err)
	}
	cache.PutArc(existing)
	p.notify(domain.KindArc, id)
	return nil
}

func (p *Projector) deleteArc(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	id := evt.EntityID
	if id == "" {
		var payload domain.EntityDeletedPayload
		json.Unmarshal(evt.Payload, &payload)
		id = payload.ID
	}
	existing, err := cache.Arc(ctx, id)
	if err != nil || existing == nil {
		return err
	}
	ok, err := p.lwwAllows(ctx, domain.KindArc, id, existing.UpdatedAt, evt, domain.ConflictDelete)
	if err != nil || !ok {
		return err
	}
	existing.IsDeleted = true
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `UPDATE arcs SET is_deleted=1, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id); err != nil {
		return fmt.Errorf("soft-delete arc: %w", err)
	}
	cache.PutArc(existing)
	p.notify(domain.KindArc, id)
	return nil
}

func (p *Projector) reorderArcs(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	var payload domain.ReorderPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decode reorder payload: %w", err)
	}
	for i, id := range payload.IDs {
		if i >= len(payload.SortOrders) {
			break
		}
		existing, err := cache.Arc(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			continue
		}
		ok, err := p.lwwAllows(ctx, domain.KindArc, id, existing.UpdatedAt, evt, domain.ConflictReorder)
		if err != nil || !ok {
			continue
		}
		existing.SortOrder = payload.SortOrders[i]
		existing.UpdatedAt = evt.Timestamp
		existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()
		if _, err := p.conn.ExecContext(ctx, `UPDATE arcs SET sort_order=?, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
			existing.SortOrder, formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id); err != nil {
			return fmt.Errorf("reorder arc %s: %w", id, err)
		}
		cache.PutArc(existing)
	}
	return nil
}
