package syncclient

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DequeueApp/dequeue-sync-core/internal/clock"
	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/eventlog"
	"github.com/DequeueApp/dequeue-sync-core/internal/projector"
	"github.com/DequeueApp/dequeue-sync-core/internal/store"
)

const (
	periodicPushInterval   = 5 * time.Second
	periodicPullFallback   = 30 * time.Second
	pullPageLimit          = 1000
	epoch                  = "1970-01-01T00:00:00Z"
)

// Progress exposes the observable initial-sync counters a UI can poll to
// render a progress indicator.
type Progress struct {
	InProgress bool
	Processed  int
	Total      int
}

// Engine wires the event log, projector, HTTP client, and persistent
// socket into the four coordinated long-lived loops (reconnect/heartbeat
// inside Socket, periodic push, periodic pull fallback) that make up a
// running sync session.
type Engine struct {
	conn      *sql.DB
	log       *eventlog.Log
	proj      *projector.Projector
	client    *Client
	socket    *Socket
	deviceIDs DeviceIDProvider
	clock     clock.Clock
	checkpt   checkpointStore
	logger    *slog.Logger

	deviceID string
	mu       sync.Mutex
	progress Progress
	pushing  atomic.Bool
}

// NewEngine assembles an Engine. db backs both the event log and the
// projector so they observe each other's writes within the same SQLite
// connection pool.
func NewEngine(db *store.DB, clk clock.Clock, client *Client, socket *Socket, deviceIDs DeviceIDProvider, proj *projector.Projector) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	return &Engine{
		conn:      db.Conn(),
		log:       eventlog.New(db, clk),
		proj:      proj,
		client:    client,
		socket:    socket,
		deviceIDs: deviceIDs,
		clock:     clk,
		checkpt:   checkpointStore{conn: db.Conn()},
		logger:    slog.Default().With("component", "syncclient.engine"),
	}
}

// AttachSocket wires a Socket constructed after the Engine (its onMsg
// callback typically closes over Engine.HandleSocketEvent, which can't
// reference the Engine until it exists).
func (e *Engine) AttachSocket(s *Socket) { e.socket = s }

// Progress returns a snapshot of the initial-sync counters.
func (e *Engine) Progress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

func (e *Engine) setProgress(fn func(*Progress)) {
	e.mu.Lock()
	fn(&e.progress)
	e.mu.Unlock()
}

// Serve runs the sync session until ctx is canceled: an immediate push
// and pull, then periodic push, periodic pull fallback, and the
// persistent socket's own reconnect/heartbeat loop, all coordinated
// through one errgroup so a fatal failure in any loop unwinds the rest.
func (e *Engine) Serve(ctx context.Context) error {
	if err := e.PushPending(ctx); err != nil {
		e.logger.Warn("initial push failed", "error", err)
	}
	if err := e.PullAll(ctx); err != nil {
		e.logger.Warn("initial pull failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { e.socket.Run(ctx); return nil })
	g.Go(func() error { return e.periodicPush(ctx) })
	g.Go(func() error { return e.periodicPullFallback(ctx) })
	return g.Wait()
}

func (e *Engine) periodicPush(ctx context.Context) error {
	t := time.NewTicker(periodicPushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := e.PushPending(ctx); err != nil {
				e.logger.Warn("periodic push failed", "error", err)
			}
		}
	}
}

func (e *Engine) periodicPullFallback(ctx context.Context) error {
	t := time.NewTicker(periodicPullFallback)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := e.PullAll(ctx); err != nil {
				e.logger.Warn("periodic pull fallback failed", "error", err)
			}
		}
	}
}

func (e *Engine) resolveDeviceID(ctx context.Context) (string, error) {
	if e.deviceID != "" {
		return e.deviceID, nil
	}
	id, err := e.deviceIDs.DeviceID(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve device id: %w", err)
	}
	e.deviceID = id
	return id, nil
}

// PushPending drains every unsynced local event and pushes it, marking
// acknowledged events synced. It is idempotent: re-pushing an already
// acknowledged event and dropping the ack still leaves exactly one
// mutation applied server-side, since the server dedupes by event id and
// MarkSynced only ever flips a local flag.
func (e *Engine) PushPending(ctx context.Context) error {
	if !e.pushing.CompareAndSwap(false, true) {
		return nil // a push is already in flight; the next tick will catch stragglers
	}
	defer e.pushing.Store(false)

	pending, err := e.log.FetchPending(ctx, 0)
	if err != nil {
		return fmt.Errorf("fetch pending events: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	wire := make([]WireEvent, len(pending))
	for i, evt := range pending {
		wire[i] = toWire(evt)
	}

	if err := e.socket.Send(wire); err != nil {
		e.logger.Debug("optimistic socket push failed, HTTP remains authoritative", "error", err)
	}

	resp, err := e.client.Push(ctx, PushRequest{Events: wire})
	if err != nil {
		return fmt.Errorf("http push: %w", err)
	}
	if len(resp.Errors) > 0 {
		e.logger.Warn("push returned errors", "errors", resp.Errors)
	}
	if len(resp.Rejected) > 0 {
		e.logger.Warn("push rejected events; server owns the truth, not retrying", "rejected", resp.Rejected)
	}
	return e.log.MarkSynced(ctx, resp.Acknowledged, e.clock.Now())
}

// PullAll drains every available page from the current checkpoint,
// projecting each page and advancing the checkpoint only after a page
// applies cleanly. If a page fails mid-stream, the checkpoint stays put
// so the next pull replays it.
func (e *Engine) PullAll(ctx context.Context) error {
	checkpoint, known, err := e.checkpt.get(ctx)
	if err != nil {
		return err
	}
	initial := !known
	if initial {
		checkpoint = epoch
		e.setProgress(func(p *Progress) { *p = Progress{InProgress: true} })
	}

	deviceID, err := e.resolveDeviceID(ctx)
	if err != nil {
		return err
	}

	for {
		resp, err := e.client.Pull(ctx, PullRequest{Since: checkpoint, Limit: pullPageLimit})
		if err != nil {
			if initial {
				e.setProgress(func(p *Progress) { p.InProgress = false })
			}
			return fmt.Errorf("pull page: %w", err)
		}

		events := e.filterInbound(resp.Events, deviceID, initial)
		domainEvents := make([]domain.Event, len(events))
		for i, w := range events {
			domainEvents[i] = fromWire(w, e.clock.Now)
		}
		if err := e.proj.ApplyBatch(ctx, domainEvents); err != nil {
			if initial {
				e.setProgress(func(p *Progress) { p.InProgress = false })
			}
			return fmt.Errorf("apply pulled batch: %w", err)
		}

		if initial {
			e.setProgress(func(p *Progress) { p.Processed += len(domainEvents) })
		}

		if resp.NextCheckpoint != "" {
			if err := e.checkpt.set(ctx, resp.NextCheckpoint); err != nil {
				return err
			}
			checkpoint = resp.NextCheckpoint
		}
		if !resp.HasMore {
			break
		}
	}

	if initial {
		e.setProgress(func(p *Progress) { p.InProgress = false })
	}
	return nil
}

// HandleSocketEvent routes a single inbound socket frame through the same
// projection path as a pulled page.
func (e *Engine) HandleSocketEvent(ctx context.Context, w WireEvent) {
	if err := e.proj.ApplyBatch(ctx, []domain.Event{fromWire(w, e.clock.Now)}); err != nil {
		e.logger.Warn("apply socket event failed", "error", err, "event_id", w.ID)
	}
}

// filterInbound drops locally-produced and stale-payload-version events,
// except during initial sync (absent checkpoint), where every event
// including this device's own is included since the local store is empty.
func (e *Engine) filterInbound(events []WireEvent, deviceID string, initial bool) []WireEvent {
	out := events[:0]
	for _, w := range events {
		if w.PayloadVersion < domain.CurrentPayloadVersion {
			continue
		}
		if !initial && w.DeviceID == deviceID {
			continue
		}
		out = append(out, w)
	}
	return out
}

func toWire(evt domain.Event) WireEvent {
	return WireEvent{
		ID: evt.ID, UserID: evt.UserID, DeviceID: evt.DeviceID, AppID: evt.AppID,
		Timestamp: evt.Timestamp.UTC().Format(time.RFC3339Nano),
		Type:      evt.Type, Payload: evt.Payload, PayloadVersion: evt.PayloadVersion,
	}
}

func fromWire(w WireEvent, now func() time.Time) domain.Event {
	ts, ok := parseTimestamp(w.Timestamp, now)
	if !ok {
		slog.Warn("unparseable event timestamp, stamped with current time", "event_id", w.ID, "timestamp", w.Timestamp)
	}
	evt := domain.Event{
		ID: w.ID, UserID: w.UserID, DeviceID: w.DeviceID, AppID: w.AppID,
		Timestamp: ts, Type: w.Type, Payload: w.Payload, PayloadVersion: w.PayloadVersion,
		IsSynced: true,
	}
	var probe struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(w.Payload, &probe) == nil {
		evt.EntityID = probe.ID
	}
	return evt
}
