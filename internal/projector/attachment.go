package projector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/reconcile"
)

func (p *Projector) applyAttachmentEvent(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	switch evt.Type {
	case domain.EventAttachmentCreated, domain.EventAttachmentUpdated:
		return p.upsertAttachment(ctx, cache, evt)
	case domain.EventAttachmentDeleted:
		return p.deleteAttachment(ctx, cache, evt)
	}
	return nil
}

func (p *Projector) upsertAttachment(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	var payload domain.AttachmentEventPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decode attachment payload: %w", err)
	}
	id := payload.ID
	if id == "" {
		id = evt.EntityID
	}

	if ok, err := p.parentExists(ctx, cache, payload.ParentType, payload.ParentID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("attachment %s: parent %s/%s not found, skipping", id, payload.ParentType, payload.ParentID)
	}

	existing, err := cache.Attachment(ctx, id)
	if err != nil {
		return err
	}

	if existing == nil {
		createdAt := evt.Timestamp
		if payload.CreatedAt != nil {
			createdAt = *payload.CreatedAt
		}
		a := &domain.Attachment{
			Base: domain.Base{
				ID: id, CreatedAt: createdAt, UpdatedAt: evt.Timestamp,
				SyncState: domain.SyncSynced, LastSyncedAt: p.clock.Now(),
			},
			ParentID: payload.ParentID, ParentType: payload.ParentType,
			Filename: payload.Filename, MimeType: payload.MimeType, SizeBytes: payload.SizeBytes,
			RemoteURL: payload.RemoteURL, LocalPath: payload.LocalPath,
			UploadState: domain.UploadState(orDefault(payload.UploadState, string(domain.UploadPending))),
		}
		if _, err := p.conn.ExecContext(ctx, `
			INSERT INTO attachments (id, parent_id, parent_type, filename, mime_type, size_bytes, remote_url, local_path, upload_state, created_at, updated_at, is_deleted, sync_state, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			a.ID, a.ParentID, string(a.ParentType), a.Filename, a.MimeType, a.SizeBytes,
			a.RemoteURL, a.LocalPath, string(a.UploadState),
			formatTime(a.CreatedAt), formatTime(a.UpdatedAt), string(a.SyncState), formatTime(a.LastSyncedAt),
		); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
		cache.PutAttachment(a)
		p.notify(domain.KindAttachment, id)
		return nil
	}

	ok, err := p.lwwAllows(ctx, domain.KindAttachment, id, existing.UpdatedAt, evt, domain.ConflictUpdate)
	if err != nil || !ok {
		return err
	}
	existing.ParentID, existing.ParentType = payload.ParentID, payload.ParentType
	existing.Filename, existing.MimeType, existing.SizeBytes = payload.Filename, payload.MimeType, payload.SizeBytes
	existing.RemoteURL, existing.LocalPath = payload.RemoteURL, payload.LocalPath
	if payload.UploadState != "" {
		existing.UploadState = domain.UploadState(payload.UploadState)
	}
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `
		UPDATE attachments SET parent_id=?, parent_type=?, filename=?, mime_type=?, size_bytes=?, remote_url=?, local_path=?, upload_state=?, updated_at=?, sync_state=?, last_synced_at=?
		WHERE id=?`,
		existing.ParentID, string(existing.ParentType), existing.Filename, existing.MimeType, existing.SizeBytes,
		existing.RemoteURL, existing.LocalPath, string(existing.UploadState),
		formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id,
	); err != nil {
		return fmt.Errorf("update attachment: %w", err)
	}
	cache.PutAttachment(existing)
	p.notify(domain.KindAttachment, id)
	return nil
}

func (p *Projector) deleteAttachment(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	id := evt.EntityID
	if id == "" {
		var payload domain.EntityDeletedPayload
		json.Unmarshal(evt.Payload, &payload)
		id = payload.ID
	}
	existing, err := cache.Attachment(ctx, id)
	if err != nil || existing == nil {
		return err
	}
	ok, err := p.lwwAllows(ctx, domain.KindAttachment, id, existing.UpdatedAt, evt, domain.ConflictDelete)
	if err != nil || !ok {
		return err
	}
	existing.IsDeleted = true
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `UPDATE attachments SET is_deleted=1, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id); err != nil {
		return fmt.Errorf("soft-delete attachment: %w", err)
	}
	cache.PutAttachment(existing)
	p.notify(domain.KindAttachment, id)
	return nil
}
