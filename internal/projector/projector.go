// Package projector applies inbound domain.Events to local relational state
// under per-entity Last-Writer-Wins, batching lookups through a
// reconcile.Cache and resolving cross-device tag deduplication through a
// reconcile.TagLedger.
package projector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/DequeueApp/dequeue-sync-core/internal/clock"
	"github.com/DequeueApp/dequeue-sync-core/internal/conflict"
	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/reconcile"
	"github.com/DequeueApp/dequeue-sync-core/internal/store"
	"github.com/DequeueApp/dequeue-sync-core/internal/telemetry"
)

// Notifier is told about each entity mutation as it is applied, so a UI
// layer can refresh. Nil-safe: Projector never requires one.
type Notifier interface {
	EntityChanged(kind domain.EntityKind, id string)
}

// Projector is the single-writer funnel every inbound event passes through.
// SQLite's own single-writer lock doesn't protect the in-process TagLedger,
// so apply calls additionally serialize on mu.
type Projector struct {
	mu sync.Mutex

	conn      *sql.DB
	ledger    *reconcile.TagLedger
	conflicts *conflict.Recorder
	clock     clock.Clock
	telemetry telemetry.Sink
	notifier  Notifier
}

// Option configures a Projector at construction time.
type Option func(*Projector)

// WithNotifier registers a Notifier invoked after each successfully applied
// entity mutation.
func WithNotifier(n Notifier) Option {
	return func(p *Projector) { p.notifier = n }
}

// WithTelemetry overrides the default no-op telemetry sink.
func WithTelemetry(s telemetry.Sink) Option {
	return func(p *Projector) { p.telemetry = s }
}

// New returns a Projector backed by db. clk defaults to clock.System{}.
func New(db *store.DB, clk clock.Clock, opts ...Option) *Projector {
	if clk == nil {
		clk = clock.System{}
	}
	p := &Projector{
		conn:      db.Conn(),
		ledger:    reconcile.NewTagLedger(),
		conflicts: conflict.New(db, clk),
		clock:     clk,
		telemetry: telemetry.Noop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ApplyBatch applies events in order, prefetching every entity they
// reference in one query per kind before applying any of them. A
// single bad event (decode failure, missing parent, schema mismatch) is
// logged and skipped — the batch never aborts.
func (p *Projector) ApplyBatch(ctx context.Context, events []domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cache := reconcile.NewCache(p.conn)
	if err := cache.Prefetch(ctx, collectBatchIDs(events)); err != nil {
		return fmt.Errorf("projector: prefetch batch: %w", err)
	}

	for _, evt := range events {
		if evt.PayloadVersion < domain.CurrentPayloadVersion {
			p.telemetry.Breadcrumb("projector", "dropping stale payload version", map[string]any{
				"event_id": evt.ID, "type": evt.Type, "payload_version": evt.PayloadVersion,
			})
			continue
		}
		if err := p.applyOne(ctx, cache, evt); err != nil {
			p.telemetry.Capture(err, map[string]any{"event_id": evt.ID, "type": evt.Type})
			continue
		}
	}
	return nil
}

// applyOne dispatches a single event to its handler by the entity kind
// encoded in its dotted Type (e.g. "stack.updated" -> stacks), falling
// through silently for unrecognized types (forward compatibility).
func (p *Projector) applyOne(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	if err := p.touchDeviceActivity(ctx, cache, evt); err != nil {
		return err
	}

	kind, _, found := strings.Cut(evt.Type, ".")
	if !found {
		return nil
	}

	switch kind {
	case "stack":
		return p.applyStackEvent(ctx, cache, evt)
	case "task":
		return p.applyTaskEvent(ctx, cache, evt)
	case "reminder":
		return p.applyReminderEvent(ctx, cache, evt)
	case "tag":
		return p.applyTagEvent(ctx, cache, evt)
	case "arc":
		return p.applyArcEvent(ctx, cache, evt)
	case "attachment":
		return p.applyAttachmentEvent(ctx, cache, evt)
	case "device":
		return p.applyDeviceEvent(ctx, cache, evt)
	default:
		return nil // unknown entity kind: ignore for forward compatibility
	}
}

// touchDeviceActivity advances a known device's lastSeenAt for any inbound
// event (other than device.seen) newer than what's on record.
func (p *Projector) touchDeviceActivity(ctx context.Context, cache *reconcile.Cache, evt domain.Event) error {
	// device.seen advances lastSeenAt itself in applyDeviceEvent, together
	// with the descriptive fields, so it is left to that handler.
	if evt.DeviceID == "" || evt.Type == domain.EventDeviceSeen {
		return nil
	}
	// Device rows are keyed by domain id, not the DeviceID field, so a
	// direct lookup by device_id column is required here.
	var id, lastSeen string
	err := p.conn.QueryRowContext(ctx, `SELECT id, last_seen_at FROM devices WHERE device_id = ?`, evt.DeviceID).Scan(&id, &lastSeen)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup device %s: %w", evt.DeviceID, err)
	}
	ts, err := parseTime(lastSeen)
	if err != nil {
		return err
	}
	if !evt.Timestamp.After(ts) {
		return nil
	}
	_, err = p.conn.ExecContext(ctx, `UPDATE devices SET last_seen_at = ? WHERE id = ?`, evt.Timestamp.UTC().Format(time.RFC3339Nano), id)
	return err
}

// collectBatchIDs walks every event's decoded payload and gathers the ids
// per entity kind the batch will touch, so Cache.Prefetch can issue one
// query per kind instead of one per event.
func collectBatchIDs(events []domain.Event) reconcile.BatchIDs {
	var ids reconcile.BatchIDs
	add := func(dst *[]string, id string) {
		if id != "" {
			*dst = append(*dst, id)
		}
	}

	for _, evt := range events {
		kind, _, _ := strings.Cut(evt.Type, ".")
		switch kind {
		case "stack":
			add(&ids.Stacks, evt.EntityID)
			var reorder domain.ReorderPayload
			if json.Unmarshal(evt.Payload, &reorder) == nil {
				for _, id := range reorder.IDs {
					add(&ids.Stacks, id)
				}
			}
		case "task":
			add(&ids.Tasks, evt.EntityID)
			var reorder domain.ReorderPayload
			if json.Unmarshal(evt.Payload, &reorder) == nil {
				for _, id := range reorder.IDs {
					add(&ids.Tasks, id)
				}
			}
		case "reminder":
			add(&ids.Reminders, evt.EntityID)
		case "tag":
			add(&ids.Tags, evt.EntityID)
		case "arc":
			add(&ids.Arcs, evt.EntityID)
			var reorder domain.ReorderPayload
			if json.Unmarshal(evt.Payload, &reorder) == nil {
				for _, id := range reorder.IDs {
					add(&ids.Arcs, id)
				}
			}
		case "attachment":
			add(&ids.Attachments, evt.EntityID)
		}
	}
	return ids
}

var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
