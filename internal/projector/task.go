package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/reconcile"
)

func (p *Projector) applyTaskEvent(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	switch evt.Type {
	case domain.EventTaskCreated, domain.EventTaskUpdated:
		return p.upsertTask(ctx, cache, evt)
	case domain.EventTaskDeleted:
		return p.deleteTask(ctx, cache, evt)
	case domain.EventTaskActivated:
		return p.activateTask(ctx, cache, evt)
	case domain.EventTaskCompleted:
		return p.setTaskStatus(ctx, cache, evt, domain.TaskCompleted)
	case domain.EventTaskClosed:
		return p.setTaskStatus(ctx, cache, evt, domain.TaskClosed)
	case domain.EventTaskReordered:
		return p.reorderTasks(ctx, cache, evt)
	}
	return nil
}

func (p *Projector) upsertTask(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	var payload domain.TaskEventPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decode task payload: %w", err)
	}
	id := payload.ID
	if id == "" {
		id = evt.EntityID
	}

	existing, err := cache.Task(ctx, id)
	if err != nil {
		return err
	}

	if existing == nil {
		createdAt := evt.Timestamp
		if payload.CreatedAt != nil {
			createdAt = *payload.CreatedAt
		}
		t := &domain.QueueTask{
			Base: domain.Base{
				ID: id, CreatedAt: createdAt, UpdatedAt: evt.Timestamp,
				SyncState: domain.SyncSynced, LastSyncedAt: p.clock.Now(),
			},
			Title: payload.Title, Description: payload.Description,
			Status:         domain.TaskStatus(orDefault(payload.Status, string(domain.TaskPending))),
			Priority:       payload.Priority,
			SortOrder:      payload.SortOrder,
			LastActiveTime: payload.LastActiveTime,
			StackID:        payload.StackID,
		}
		if _, err := p.conn.ExecContext(ctx, `
			INSERT INTO tasks (id, title, description, status, priority, sort_order, last_active_time, stack_id, created_at, updated_at, is_deleted, sync_state, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			t.ID, t.Title, t.Description, string(t.Status), t.Priority, t.SortOrder,
			nullableTime(t.LastActiveTime), t.StackID, formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
			string(t.SyncState), formatTime(t.LastSyncedAt),
		); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		cache.PutTask(t)
		p.notify(domain.KindTask, id)
		return nil
	}

	ok, err := p.lwwAllows(ctx, domain.KindTask, id, existing.UpdatedAt, evt, domain.ConflictUpdate)
	if err != nil || !ok {
		return err
	}

	existing.Title, existing.Description = payload.Title, payload.Description
	if payload.Status != "" {
		existing.Status = domain.TaskStatus(payload.Status)
	}
	existing.Priority, existing.SortOrder = payload.Priority, payload.SortOrder
	existing.LastActiveTime, existing.StackID = payload.LastActiveTime, payload.StackID
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `
		UPDATE tasks SET title=?, description=?, status=?, priority=?, sort_order=?, last_active_time=?, stack_id=?, updated_at=?, sync_state=?, last_synced_at=?
		WHERE id=?`,
		existing.Title, existing.Description, string(existing.Status), existing.Priority, existing.SortOrder,
		nullableTime(existing.LastActiveTime), existing.StackID, formatTime(existing.UpdatedAt),
		string(existing.SyncState), formatTime(existing.LastSyncedAt), id,
	); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	cache.PutTask(existing)
	p.notify(domain.KindTask, id)
	return nil
}

func (p *Projector) deleteTask(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	id := evt.EntityID
	if id == "" {
		var payload domain.EntityDeletedPayload
		json.Unmarshal(evt.Payload, &payload)
		id = payload.ID
	}
	existing, err := cache.Task(ctx, id)
	if err != nil || existing == nil {
		return err
	}
	ok, err := p.lwwAllows(ctx, domain.KindTask, id, existing.UpdatedAt, evt, domain.ConflictDelete)
	if err != nil || !ok {
		return err
	}
	existing.IsDeleted = true
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `UPDATE tasks SET is_deleted=1, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id); err != nil {
		return fmt.Errorf("soft-delete task: %w", err)
	}
	cache.PutTask(existing)
	p.notify(domain.KindTask, id)
	return nil
}

// activateTask sets the task pending/front-of-queue and, if it belongs to a
// stack, co-mutates the parent's activeTaskId — a deliberate
// semantic coupling, not a generic LWW field update.
func (p *Projector) activateTask(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	id := evt.EntityID
	if id == "" {
		var payload domain.EntityStatusPayload
		json.Unmarshal(evt.Payload, &payload)
		id = payload.ID
	}
	existing, err := cache.Task(ctx, id)
	if err != nil || existing == nil {
		return err
	}
	ok, err := p.lwwAllows(ctx, domain.KindTask, id, existing.UpdatedAt, evt, domain.ConflictStatusChange)
	if err != nil || !ok {
		return err
	}
	existing.Status = domain.TaskPending
	existing.SortOrder = 0
	existing.LastActiveTime = &evt.Timestamp
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `
		UPDATE tasks SET status=?, sort_order=0, last_active_time=?, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		string(existing.Status), formatTime(evt.Timestamp), formatTime(existing.UpdatedAt),
		string(existing.SyncState), formatTime(existing.LastSyncedAt), id); err != nil {
		return fmt.Errorf("activate task: %w", err)
	}
	cache.PutTask(existing)

	if existing.StackID != "" {
		stack, err := cache.Stack(ctx, existing.StackID)
		if err != nil {
			return err
		}
		if stack != nil {
			stack.ActiveTaskID = id
			stack.UpdatedAt = evt.Timestamp
			if _, err := p.conn.ExecContext(ctx, `UPDATE stacks SET active_task_id=?, updated_at=? WHERE id=?`,
				id, formatTime(evt.Timestamp), stack.ID); err != nil {
				return fmt.Errorf("co-mutate parent stack active task: %w", err)
			}
			cache.PutStack(stack)
			p.notify(domain.KindStack, stack.ID)
		}
	}

	p.notify(domain.KindTask, id)
	return nil
}

func (p *Projector) setTaskStatus(ctx context.Context, cache *reconcile.Cache, evt domain.Event, status domain.TaskStatus) error {
	id := evt.EntityID
	if id == "" {
		var payload domain.EntityStatusPayload
		json.Unmarshal(evt.Payload, &payload)
		id = payload.ID
	}
	existing, err := cache.Task(ctx, id)
	if err != nil || existing == nil {
		return err
	}
	ok, err := p.lwwAllows(ctx, domain.KindTask, id, existing.UpdatedAt, evt, domain.ConflictStatusChange)
	if err != nil || !ok {
		return err
	}
	existing.Status = status
	existing.UpdatedAt = evt.Timestamp
	existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()

	if _, err := p.conn.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
		string(status), formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id); err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	cache.PutTask(existing)
	p.notify(domain.KindTask, id)
	return nil
}

func (p *Projector) reorderTasks(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	var payload domain.ReorderPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("decode reorder payload: %w", err)
	}
	for i, id := range payload.IDs {
		if i >= len(payload.SortOrders) {
			break
		}
		existing, err := cache.Task(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			continue
		}
		ok, err := p.lwwAllows(ctx, domain.KindTask, id, existing.UpdatedAt, evt, domain.ConflictReorder)
		if err != nil || !ok {
			continue
		}
		existing.SortOrder = payload.SortOrders[i]
		existing.UpdatedAt = evt.Timestamp
		existing.SyncState, existing.LastSyncedAt = domain.SyncSynced, p.clock.Now()
		if _, err := p.conn.ExecContext(ctx, `UPDATE tasks SET sort_order=?, updated_at=?, sync_state=?, last_synced_at=? WHERE id=?`,
			existing.SortOrder, formatTime(existing.UpdatedAt), string(existing.SyncState), formatTime(existing.LastSyncedAt), id); err != nil {
			return fmt.Errorf("reorder task %s: %w", id, err)
		}
		cache.PutTask(existing)
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
