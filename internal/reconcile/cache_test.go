package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/store"
)

func insertStack(t *testing.T, db *store.DB, id, title string, updatedAt time.Time) {
	t.Helper()
	_, err := db.Conn().Exec(`
		INSERT INTO stacks (id, title, status, created_at, updated_at)
		VALUES (?, ?, 'active', ?, ?)`,
		id, title, updatedAt.Format(time.RFC3339Nano), updatedAt.Format(time.RFC3339Nano))
	if err != nil {
		t.Fatalf("insert stack: %v", err)
	}
}

func TestCachePrefetchPopulatesMap(t *testing.T) {
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	insertStack(t, db, "stk-1", "first", now)
	insertStack(t, db, "stk-2", "second", now)

	ctx := context.Background()
	c := NewCache(db.Conn())
	if err := c.Prefetch(ctx, BatchIDs{Stacks: []string{"stk-1", "stk-2"}}); err != nil {
		t.Fatalf("prefetch: %v", err)
	}

	s, err := c.Stack(ctx, "stk-1")
	if err != nil {
		t.Fatalf("stack lookup: %v", err)
	}
	if s == nil || s.Title != "first" {
		t.Fatalf("expected cached stack 'first', got %+v", s)
	}
}

func TestCacheFallsBackToPointQueryOnMiss(t *testing.T) {
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	insertStack(t, db, "stk-1", "uncached", now)

	ctx := context.Background()
	c := NewCache(db.Conn())

	s, err := c.Stack(ctx, "stk-1")
	if err != nil {
		t.Fatalf("point query: %v", err)
	}
	if s == nil || s.Title != "uncached" {
		t.Fatalf("expected point-query fallback to find stack, got %+v", s)
	}
}

func TestCachePutMakesNewEntityVisible(t *testing.T) {
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	c := NewCache(db.Conn())

	if s, _ := c.Stack(ctx, "stk-new"); s != nil {
		t.Fatal("expected no stack before insert")
	}

	c.PutStack(&domain.Stack{
		Base:  domain.Base{ID: "stk-new"},
		Title: "fresh",
	})

	s, err := c.Stack(ctx, "stk-new")
	if err != nil {
		t.Fatalf("stack lookup after put: %v", err)
	}
	if s == nil || s.Title != "fresh" {
		t.Fatalf("expected put stack visible in cache, got %+v", s)
	}
}
