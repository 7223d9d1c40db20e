package eventlog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DequeueApp/dequeue-sync-core/internal/clock"
	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/store"
)

func newTestLog(t *testing.T) (*Log, *store.DB) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, clock.NewStep(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)), db
}

func TestRecordAndFetchPending(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	evt, err := l.Record(ctx, domain.Event{
		Type:     domain.EventStackCreated,
		EntityID: "stk-abc123",
		Payload:  json.RawMessage(`{"id":"stk-abc123","title":"first"}`),
		DeviceID: "dev-local",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if evt.ID == "" {
		t.Fatal("expected generated event id")
	}

	pending, err := l.FetchPending(ctx, 0)
	if err != nil {
		t.Fatalf("fetch pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != evt.ID {
		t.Fatalf("expected one pending event matching %s, got %+v", evt.ID, pending)
	}
}

func TestMarkSyncedExcludesFromPending(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	evt, _ := l.Record(ctx, domain.Event{Type: domain.EventTaskCreated, EntityID: "tsk-1"})

	if err := l.MarkSynced(ctx, []string{evt.ID}, time.Now()); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	pending, err := l.FetchPending(ctx, 0)
	if err != nil {
		t.Fatalf("fetch pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending events after mark synced, got %d", len(pending))
	}
}

func TestHistoryForReturnsOrderedEvents(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	first, _ := l.Record(ctx, domain.Event{Type: domain.EventTaskCreated, EntityID: "tsk-1"})
	second, _ := l.Record(ctx, domain.Event{Type: domain.EventTaskUpdated, EntityID: "tsk-1"})
	l.Record(ctx, domain.Event{Type: domain.EventTaskCreated, EntityID: "tsk-2"})

	history, err := l.HistoryFor(ctx, "tsk-1")
	if err != nil {
		t.Fatalf("history for: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 events for tsk-1, got %d", len(history))
	}
	if history[0].ID != first.ID || history[1].ID != second.ID {
		t.Fatalf("expected chronological order [%s %s], got [%s %s]", first.ID, second.ID, history[0].ID, history[1].ID)
	}
}

func TestExists(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	evt, _ := l.Record(ctx, domain.Event{Type: domain.EventTagCreated, EntityID: "tag-1"})

	ok, err := l.Exists(ctx, evt.ID)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !ok {
		t.Fatal("expected event to exist")
	}

	ok, err = l.Exists(ctx, "evt-nonexistent")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatal("expected unknown event to not exist")
	}
}
