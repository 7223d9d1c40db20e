package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/DequeueApp/dequeue-sync-core/internal/clock"
	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/store"
)

func TestRecordAndForEntity(t *testing.T) {
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clock.NewStep(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)
	r := New(db, clk)

	local := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	remote := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)

	ctx := context.Background()
	c, err := r.Record(ctx, domain.KindStack, "stk-1", local, remote, domain.ConflictUpdate)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if c.Resolution != domain.ResolutionKeptLocal {
		t.Fatalf("expected resolution keptLocal, got %s", c.Resolution)
	}
	if !c.IsResolved {
		t.Fatal("expected conflict to be marked resolved")
	}

	conflicts, err := r.ForEntity(ctx, "stk-1")
	if err != nil {
		t.Fatalf("for entity: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	if conflicts[0].ConflictType != domain.ConflictUpdate {
		t.Fatalf("expected update conflict, got %s", conflicts[0].ConflictType)
	}
}

func TestForEntityOrdersChronologically(t *testing.T) {
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clock.NewStep(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)
	r := New(db, clk)
	ctx := context.Background()

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Record(ctx, domain.KindTask, "tsk-1", ts, ts, domain.ConflictUpdate)
	r.Record(ctx, domain.KindTask, "tsk-1", ts, ts, domain.ConflictDelete)

	conflicts, err := r.ForEntity(ctx, "tsk-1")
	if err != nil {
		t.Fatalf("for entity: %v", err)
	}
	if len(conflicts) != 2 {
		t.Fatalf("expected 2 conflicts, got %d", len(conflicts))
	}
	if conflicts[0].ConflictType != domain.ConflictUpdate || conflicts[1].ConflictType != domain.ConflictDelete {
		t.Fatalf("expected chronological order [update delete], got [%s %s]", conflicts[0].ConflictType, conflicts[1].ConflictType)
	}
}
