// Package reconcile holds the projector's batch-scoped reconciliation
// helpers: the entity lookup cache that collapses per-batch point
// queries into one IN(...) query per kind, and the tag ledger that resolves
// cross-device tag deduplication and the
// stack-before-tag ordering race.
package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
)

// Cache prefetches entities referenced by a batch of events, one query per
// kind, and serves point lookups against the prefetched maps thereafter.
// Handlers that insert or mutate an entity call Put so later events in the
// same batch observe the change without a round-trip.
type Cache struct {
	conn *sql.DB

	stacks      map[string]*domain.Stack
	tasks       map[string]*domain.QueueTask
	reminders   map[string]*domain.Reminder
	tags        map[string]*domain.Tag
	arcs        map[string]*domain.Arc
	attachments map[string]*domain.Attachment
	devices     map[string]*domain.Device
}

// NewCache returns an empty Cache bound to conn. Call Prefetch before use.
func NewCache(conn *sql.DB) *Cache {
	return &Cache{
		conn:        conn,
		stacks:      map[string]*domain.Stack{},
		tasks:       map[string]*domain.QueueTask{},
		reminders:   map[string]*domain.Reminder{},
		tags:        map[string]*domain.Tag{},
		arcs:        map[string]*domain.Arc{},
		attachments: map[string]*domain.Attachment{},
		devices:     map[string]*domain.Device{},
	}
}

// BatchIDs is the set of ids per entity kind that a caller wants prefetched,
// normally gathered by walking a batch's decoded event payloads.
type BatchIDs struct {
	Stacks      []string
	Tasks       []string
	Reminders   []string
	Tags        []string
	Arcs        []string
	Attachments []string
	Devices     []string
}

// Prefetch issues one IN(...) query per non-empty id set in ids and
// populates the cache's maps.
func (c *Cache) Prefetch(ctx context.Context, ids BatchIDs) error {
	if err := prefetchInto(ctx, c.conn, "stacks", ids.Stacks, scanStack, func(s *domain.Stack) { c.stacks[s.ID] = s }); err != nil {
		return err
	}
	if err := prefetchInto(ctx, c.conn, "tasks", ids.Tasks, scanTask, func(t *domain.QueueTask) { c.tasks[t.ID] = t }); err != nil {
		return err
	}
	if err := prefetchInto(ctx, c.conn, "reminders", ids.Reminders, scanReminder, func(r *domain.Reminder) { c.reminders[r.ID] = r }); err != nil {
		return err
	}
	if err := prefetchInto(ctx, c.conn, "tags", ids.Tags, scanTag, func(t *domain.Tag) { c.tags[t.ID] = t }); err != nil {
		return err
	}
	if err := prefetchInto(ctx, c.conn, "arcs", ids.Arcs, scanArc, func(a *domain.Arc) { c.arcs[a.ID] = a }); err != nil {
		return err
	}
	if err := prefetchInto(ctx, c.conn, "attachments", ids.Attachments, scanAttachment, func(a *domain.Attachment) { c.attachments[a.ID] = a }); err != nil {
		return err
	}
	if err := prefetchInto(ctx, c.conn, "devices", ids.Devices, scanDevice, func(d *domain.Device) { c.devices[d.ID] = d }); err != nil {
		return err
	}
	return nil
}

// prefetchInto runs "SELECT * FROM table WHERE id IN (...)" for a generic
// row kind and registers each scanned row via put. A no-op on an empty id
// set — callers never pay for a query they don't need.
func prefetchInto[T any](ctx context.Context, conn *sql.DB, table string, ids []string, scan func(*sql.Rows) (*T, error), put func(*T)) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',', '?')
		} else {
			placeholders = append(placeholders, '?')
		}
		args[i] = id
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE id IN (%s)", table, string(placeholders))
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("reconcile: prefetch %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return fmt.Errorf("reconcile: scan %s: %w", table, err)
		}
		put(v)
	}
	return rows.Err()
}

// Stack returns the cached Stack, querying and caching on miss.
func (c *Cache) Stack(ctx context.Context, id string) (*domain.Stack, error) {
	if s, ok := c.stacks[id]; ok {
		return s, nil
	}
	s, err := fetchOne(ctx, c.conn, "stacks", id, scanStack)
	if err != nil || s == nil {
		return s, err
	}
	c.stacks[id] = s
	return s, nil
}

// PutStack registers s in the cache, for use after an insert/update.
func (c *Cache) PutStack(s *domain.Stack) { c.stacks[s.ID] = s }

// Task returns the cached QueueTask, querying and caching on miss.
func (c *Cache) Task(ctx context.Context, id string) (*domain.QueueTask, error) {
	if t, ok := c.tasks[id]; ok {
		return t, nil
	}
	t, err := fetchOne(ctx, c.conn, "tasks", id, scanTask)
	if err != nil || t == nil {
		return t, err
	}
	c.tasks[id] = t
	return t, nil
}

// PutTask registers t in the cache.
func (c *Cache) PutTask(t *domain.QueueTask) { c.tasks[t.ID] = t }

// Reminder returns the cached Reminder, querying and caching on miss.
func (c *Cache) Reminder(ctx context.Context, id string) (*domain.Reminder, error) {
	if r, ok := c.reminders[id]; ok {
		return r, nil
	}
	r, err := fetchOne(ctx, c.conn, "reminders", id, scanReminder)
	if err != nil || r == nil {
		return r, err
	}
	c.reminders[id] = r
	return r, nil
}

// PutReminder registers r in the cache.
func (c *Cache) PutReminder(r *domain.Reminder) { c.reminders[r.ID] = r }

// Tag returns the cached Tag, querying and caching on miss.
func (c *Cache) Tag(ctx context.Context, id string) (*domain.Tag, error) {
	if t, ok := c.tags[id]; ok {
		return t, nil
	}
	t, err := fetchOne(ctx, c.conn, "tags", id, scanTag)
	if err != nil || t == nil {
		return t, err
	}
	c.tags[id] = t
	return t, nil
}

// PutTag registers t in the cache.
func (c *Cache) PutTag(t *domain.Tag) { c.tags[t.ID] = t }

// TagByNormalizedName resolves cross-device tag dedup against the full
// tags table, not just this batch's prefetch set: a duplicate name can
// arrive in a later, separate ApplyBatch call, long after the original
// creator's tag has left the prefetch cache. It checks the in-memory
// cache first (covers same-batch duplicates without a round trip), then
// falls back to a query against idx_tags_normalized_name.
func (c *Cache) TagByNormalizedName(ctx context.Context, normalized string) (*domain.Tag, error) {
	for _, t := range c.tags {
		if !t.IsDeleted && strings.EqualFold(strings.TrimSpace(t.Name), normalized) {
			return t, nil
		}
	}

	rows, err := c.conn.QueryContext(ctx,
		`SELECT * FROM tags WHERE normalized_name = ? AND is_deleted = 0 LIMIT 1`, normalized)
	if err != nil {
		return nil, fmt.Errorf("reconcile: lookup tag by normalized name: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	t, err := scanTag(rows)
	if err != nil {
		return nil, fmt.Errorf("reconcile: scan tag by normalized name: %w", err)
	}
	c.tags[t.ID] = t
	return t, nil
}

// Arc returns the cached Arc, querying and caching on miss.
func (c *Cache) Arc(ctx context.Context, id string) (*domain.Arc, error) {
	if a, ok := c.arcs[id]; ok {
		return a, nil
	}
	a, err := fetchOne(ctx, c.conn, "arcs", id, scanArc)
	if err != nil || a == nil {
		return a, err
	}
	c.arcs[id] = a
	return a, nil
}

// PutArc registers a in the cache.
func (c *Cache) PutArc(a *domain.Arc) { c.arcs[a.ID] = a }

// Attachment returns the cached Attachment, querying and caching on miss.
func (c *Cache) Attachment(ctx context.Context, id string) (*domain.Attachment, error) {
	if a, ok := c.attachments[id]; ok {
		return a, nil
	}
	a, err := fetchOne(ctx, c.conn, "attachments", id, scanAttachment)
	if err != nil || a == nil {
		return a, err
	}
	c.attachments[id] = a
	return a, nil
}

// PutAttachment registers a in the cache.
func (c *Cache) PutAttachment(a *domain.Attachment) { c.attachments[a.ID] = a }

// Device returns the cached Device, querying and caching on miss.
func (c *Cache) Device(ctx context.Context, id string) (*domain.Device, error) {
	if d, ok := c.devices[id]; ok {
		return d, nil
	}
	d, err := fetchOne(ctx, c.conn, "devices", id, scanDevice)
	if err != nil || d == nil {
		return d, err
	}
	c.devices[id] = d
	return d, nil
}

// PutDevice registers d in the cache.
func (c *Cache) PutDevice(d *domain.Device) { c.devices[d.ID] = d }

func fetchOne[T any](ctx context.Context, conn *sql.DB, table, id string, scan func(*sql.Rows) (*T, error)) (*T, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = ?", table), id)
	if err != nil {
		return nil, fmt.Errorf("reconcile: fetch %s %s: %w", table, id, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scan(rows)
}
