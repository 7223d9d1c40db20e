package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/reconcile"
)

func (p *Projector) applyTagEvent(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	switch evt.Type {
	case domain.EventTagCreated:
		return p.createTag(ctx, cache, evt)
	case domain.EventTagUpdated:
		return p.updateTag(ctx, cache, evt)
	case domain.EventTagDeleted:
		return p.deleteTag(ctx, cache, evt)
	}
	return nil
}

func normalizeTagName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// createTag handles cross-device tag deduplication. Two offline devices may each create a Tag
// with the same normalized name under distinct ids; this converges them to
// one canonical Tag, migrating references and registering an id remap so
// stragglers that still cite the superseded id resolve correctly.
func (p *Projector) createTag(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	var payload domain.TagEventPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decode tag payload: %w", err)
	}
	id := payload.ID
	if id == "" {
		id = evt.EntityID
	}

	if existing, err := cache.Tag(ctx, id); err != nil {
		return err
	} else if existing != nil {
		return p.lwwUpdateTag(ctx, cache, existing, payload, evt)
	}

	normalized := normalizeTagName(payload.Name)
	match, err := cache.TagByNormalizedName(ctx, normalized)
	if err != nil {
		return err
	}

	if match == nil {
		created, err := p.insertTag(ctx, cache, id, payload, evt)
		if err != nil {
			return err
		}
		p.drainAndAttach(ctx, id, created.ID)
		p.notify(domain.KindTag, created.ID)
		return nil
	}

	incomingCreatedAt := evt.Timestamp
	if payload.CreatedAt != nil {
		incomingCreatedAt = *payload.CreatedAt
	}

	if tagIsCanonical(incomingCreatedAt, id, match.CreatedAt, match.ID) {
		// Incoming wins: insert it, migrate match's stack references, and
		// tombstone match in favor of the new canonical tag.
		created, err := p.insertTag(ctx, cache, id, payload, evt)
		if err != nil {
			return err
		}
		if err := p.migrateTagReferences(ctx, match.ID, created.ID, evt); err != nil {
			return err
		}
		if err := p.tombstoneTag(ctx, cache, match, evt); err != nil {
			return err
		}
		p.ledger.Remap(match.ID, created.ID)
		p.drainAndAttach(ctx, match.ID, created.ID)
		p.drainAndAttach(ctx, id, created.ID)
		p.notify(domain.KindTag, created.ID)
		return nil
	}

	// Local is canonical: discard the incoming tag, remap it onto match.
	p.ledger.Remap(id, match.ID)
	p.drainAndAttach(ctx, id, match.ID)
	return nil
}

// tagIsCanonical reports whether (createdAtA, idA) precedes (createdAtB,
// idB) in the canonical ordering of I5: older createdAt wins; ties broken
// by the lexicographically smaller id.
func tagIsCanonical(createdAtA time.Time, idA string, createdAtB time.Time, idB string) bool {
	if !createdAtA.Equal(createdAtB) {
		return createdAtA.Before(createdAtB)
	}
	return idA < idB
}

func (p *Projector) insertTag(ctx context.Context, cache *reconcile.Cache, id string, payload domain.TagEventPayload, evt domain.Event) (*domain.Tag, error) {
	createdAt := evt.Timestamp
	if payload.CreatedAt != nil {
		createdAt = *payload.CreatedAt
	}
	t := &domain.Tag{
		Base: domain.Base{
			ID: id, CreatedAt: createdAt, UpdatedAt: evt.Timestamp,
			SyncState: domain.SyncSynced, LastSyncedAt: p.clock.Now(),
		},
		Name: payload.Name, ColorHex: payload.ColorHex,
	}
	_, err := p.conn.ExecContext(ctx, `
		INSERT INTO tags (id, name, normalized_name, color_hex, created_at, updated_at, is_deleted, sync_state, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		t.ID, t.Name, normalizeTagName(t.Name), t.ColorHex, formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
		string(t.SyncState), formatTime(t.LastSyncedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert tag: %w", err)
	}
	cache.PutTag(t)
	return t, nil
}

func (p *Projector) lwwUpdateTag(ctx context.Context, cache *reconcile.Cache, existing *domain.Tag, payload domain.TagEventPayload, evt domain.Event) error {
	ok, err := p.lwwAllows(ctx, domain.KindTag, existing.ID, existing.UpdatedAt, evt, domain.ConflictUpdate)
	if err != nil || !ok {
		return err
	}
	existing.Name, existing.ColorHex = payload.Name, payload.ColorHex
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `UPDATE tags SET name=?, normalized_name=?, color_hex=?, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		existing.Name, normalizeTagName(existing.Name), existing.ColorHex,
		formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), existing.ID); err != nil {
		return fmt.Errorf("update tag: %w", err)
	}
	cache.PutTag(existing)
	p.notify(domain.KindTag, existing.ID)
	return nil
}

// migrateTagReferences repoints every stack_tags row citing fromID at
// toID, ahead of fromID being tombstoned.
func (p *Projector) migrateTagReferences(ctx context.Context, fromID, toID string, evt domain.Event) error {
	rows, err := p.conn.QueryContext(ctx, `SELECT stack_id FROM stack_tags WHERE tag_id = ?`, fromID)
	if err != nil {
		return fmt.Errorf("list stacks referencing tag %s: %w", fromID, err)
	}
	var stackIDs []string
	for rows.Next() {
		var stackID string
		if err := rows.Scan(&stackID); err != nil {
			rows.Close()
			return err
		}
		stackIDs = append(stackIDs, stackID)
	}
	rows.Close()

	for _, stackID := range stackIDs {
		if _, err := p.conn.ExecContext(ctx, `INSERT OR IGNORE INTO stack_tags (stack_id, tag_id) VALUES (?, ?)`, stackID, toID); err != nil {
			return fmt.Errorf("migrate tag reference: %w", err)
		}
		if _, err := p.conn.ExecContext(ctx, `DELETE FROM stack_tags WHERE stack_id = ? AND tag_id = ?`, stackID, fromID); err != nil {
			return fmt.Errorf("clear superseded tag reference: %w", err)
		}
		// The stack's own tag set changed locally; its corrected set must
		// be pushed even though no remote event touched the stack itself.
		if _, err := p.conn.ExecContext(ctx, `UPDATE stacks SET sync_state = 'pending' WHERE id = ?`, stackID); err != nil {
			return fmt.Errorf("mark stack pending after tag migration: %w", err)
		}
	}
	return nil
}

func (p *Projector) tombstoneTag(ctx context.Context, cache *reconcile.Cache, t *domain.Tag, evt domain.Event) error {
	t.IsDeleted = true
	t.UpdatedAt = evt.Timestamp
	t.SyncState, t.LastSyncedAt = domain.SyncSynced, p.clock.Now()
	if _, err := p.conn.ExecContext(ctx, `UPDATE tags SET is_deleted=1, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		formatTime(t.UpdatedAt), string(t.SyncState), formatTime(t.LastSyncedAt), t.ID); err != nil {
		return fmt.Errorf("tombstone superseded tag: %w", err)
	}
	cache.PutTag(t)
	return nil
}

// drainAndAttach flushes every pending-association stack waiting on fromID
// and attaches them to canonicalID.
func (p *Projector) drainAndAttach(ctx context.Context, fromID, canonicalID string) {
	for _, stackID := range p.ledger.DrainPending(fromID) {
		p.conn.ExecContext(ctx, `INSERT OR IGNORE INTO stack_tags (stack_id, tag_id) VALUES (?, ?)`, stackID, canonicalID)
	}
}

func (p *Projector) updateTag(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	var payload domain.TagEventPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decode tag payload: %w", err)
	}
	id := payload.ID
	if id == "" {
		id = evt.EntityID
	}
	id = p.ledger.Resolve(id)

	existing, err := cache.Tag(ctx, id)
	if err != nil || existing == nil {
		return err
	}
	return p.lwwUpdateTag(ctx, cache, existing, payload, evt)
}

func (p *Projector) deleteTag(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	id := evt.EntityID
	if id == "" {
		var payload domain.EntityDeletedPayload
		json.Unmarshal(evt.Payload, &payload)
		id = payload.ID
	}
	id = p.ledger.Resolve(id)

	existing, err := cache.Tag(ctx, id)
	if err != nil || existing == nil {
		return err
	}
	ok, err := p.lwwAllows(ctx, domain.KindTag, id, existing.UpdatedAt, evt, domain.ConflictDelete)
	if err != nil || !ok {
		return err
	}
	existing.IsDeleted = true
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `UPDATE tags SET is_deleted=1, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id); err != nil {
		return fmt.Errorf("soft-delete tag: %w", err)
	}
	cache.PutTag(existing)
	p.notify(domain.KindTag, id)
	return nil
}
