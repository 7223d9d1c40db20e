package projector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DequeueApp/dequeue-sync-core/internal/clock"
	"github.com/DequeueApp/dequeue-sync-core/internal/conflict"
	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/store"
)

func newTestProjector(t *testing.T) (*Projector, *store.DB) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	clk := clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(db, clk), db
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func atTS(ms int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(ms) * time.Millisecond)
}

func newEvent(typ, entityID string, ts time.Time, payload json.RawMessage) domain.Event {
	return domain.Event{
		Type: typ, EntityID: entityID, Timestamp: ts, Payload: payload,
		PayloadVersion: domain.CurrentPayloadVersion,
	}
}

// Two stacks can't both be active: activating one deactivates whichever
// else was active, stamping its updatedAt to the activation's timestamp.
func TestSingleActiveStackEnforcement(t *testing.T) {
	p, db := newTestProjector(t)
	ctx := context.Background()

	create := func(id string) domain.Event {
		return newEvent(domain.EventStackCreated, id, atTS(0),
			mustMarshal(t, domain.StackEventPayload{ID: id, Title: id, Status: string(domain.StackActive)}))
	}
	if err := p.ApplyBatch(ctx, []domain.Event{create("stk-A"), create("stk-B")}); err != nil {
		t.Fatalf("create stacks: %v", err)
	}

	activate := func(id string, ms int) domain.Event {
		return newEvent(domain.EventStackActivated, id, atTS(ms), mustMarshal(t, domain.EntityStatusPayload{ID: id}))
	}
	if err := p.ApplyBatch(ctx, []domain.Event{activate("stk-A", 100)}); err != nil {
		t.Fatalf("activate A: %v", err)
	}
	if err := p.ApplyBatch(ctx, []domain.Event{activate("stk-B", 200)}); err != nil {
		t.Fatalf("activate B: %v", err)
	}

	var aActive, bActive int
	var aUpdated, bUpdated string
	db.Conn().QueryRow(`SELECT is_active, updated_at FROM stacks WHERE id='stk-A'`).Scan(&aActive, &aUpdated)
	db.Conn().QueryRow(`SELECT is_active, updated_at FROM stacks WHERE id='stk-B'`).Scan(&bActive, &bUpdated)

	if aActive != 0 {
		t.Errorf("expected stk-A inactive, got active=%d", aActive)
	}
	if bActive != 1 {
		t.Errorf("expected stk-B active, got active=%d", bActive)
	}
	wantTS := atTS(200).Format(time.RFC3339Nano)
	if aUpdated != wantTS {
		t.Errorf("expected stk-A updatedAt stamped to deactivation ts %s, got %s", wantTS, aUpdated)
	}
}

// A stale remote update (older timestamp than what's locally recorded)
// leaves local state untouched and records exactly one conflict.
func TestLWWConflictKeepsLocalAndRecordsConflict(t *testing.T) {
	p, db := newTestProjector(t)
	ctx := context.Background()

	create := newEvent(domain.EventStackCreated, "stk-S", atTS(0),
		mustMarshal(t, domain.StackEventPayload{ID: "stk-S", Title: "X", Status: string(domain.StackActive)}))
	if err := p.ApplyBatch(ctx, []domain.Event{create}); err != nil {
		t.Fatalf("create: %v", err)
	}

	bump := newEvent(domain.EventStackUpdated, "stk-S", atTS(500),
		mustMarshal(t, domain.StackEventPayload{ID: "stk-S", Title: "X", Status: string(domain.StackActive)}))
	if err := p.ApplyBatch(ctx, []domain.Event{bump}); err != nil {
		t.Fatalf("bump: %v", err)
	}

	stale := newEvent(domain.EventStackUpdated, "stk-S", atTS(400),
		mustMarshal(t, domain.StackEventPayload{ID: "stk-S", Title: "Y", Status: string(domain.StackActive)}))
	if err := p.ApplyBatch(ctx, []domain.Event{stale}); err != nil {
		t.Fatalf("stale update: %v", err)
	}

	var title string
	db.Conn().QueryRow(`SELECT title FROM stacks WHERE id='stk-S'`).Scan(&title)
	if title != "X" {
		t.Errorf("expected title to remain 'X' after stale update, got %q", title)
	}

	rec := conflict.New(db, clock.System{})
	conflicts, err := rec.ForEntity(ctx, "stk-S")
	if err != nil {
		t.Fatalf("for entity: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.Resolution != domain.ResolutionKeptLocal {
		t.Errorf("expected resolution keptLocal, got %s", c.Resolution)
	}
	if !c.LocalTimestamp.Equal(atTS(500)) || !c.RemoteTimestamp.Equal(atTS(400)) {
		t.Errorf("expected local=500 remote=400, got local=%v remote=%v", c.LocalTimestamp, c.RemoteTimestamp)
	}
}

// Two tags with the same normalized name, created on different devices,
// converge on whichever has the older createdAt: the older one survives,
// the incoming tag is inserted as canonical only when it predates the
// existing one, references migrate, and the loser is tombstoned with a remap
// recorded so stragglers still citing it resolve correctly.
func TestTagDedupIncomingCanonical(t *testing.T) {
	p, db := newTestProjector(t)
	ctx := context.Background()

	createStack := newEvent(domain.EventStackCreated, "stk-P", atTS(0),
		mustMarshal(t, domain.StackEventPayload{ID: "stk-P", Title: "P", Status: string(domain.StackActive)}))
	createdAtT1 := atTS(200)
	createT1 := newEvent(domain.EventTagCreated, "tag-T1", atTS(200),
		mustMarshal(t, domain.TagEventPayload{ID: "tag-T1", Name: "Work", CreatedAt: &createdAtT1}))
	attachT1 := newEvent(domain.EventStackUpdated, "stk-P", atTS(210),
		mustMarshal(t, domain.StackEventPayload{ID: "stk-P", Title: "P", Status: string(domain.StackActive), TagIDs: []string{"tag-T1"}}))
	if err := p.ApplyBatch(ctx, []domain.Event{createStack, createT1, attachT1}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	createdAtT2 := atTS(100)
	createT2 := newEvent(domain.EventTagCreated, "tag-T2", atTS(300),
		mustMarshal(t, domain.TagEventPayload{ID: "tag-T2", Name: "work", CreatedAt: &createdAtT2}))
	if err := p.ApplyBatch(ctx, []domain.Event{createT2}); err != nil {
		t.Fatalf("create T2: %v", err)
	}

	var t1Deleted int
	db.Conn().QueryRow(`SELECT is_deleted FROM tags WHERE id='tag-T1'`).Scan(&t1Deleted)
	if t1Deleted != 1 {
		t.Errorf("expected tag-T1 soft-deleted, got is_deleted=%d", t1Deleted)
	}

	var t2Count int
	db.Conn().QueryRow(`SELECT COUNT(1) FROM stack_tags WHERE stack_id='stk-P' AND tag_id='tag-T2'`).Scan(&t2Count)
	if t2Count != 1 {
		t.Errorf("expected stk-P to reference tag-T2, got count=%d", t2Count)
	}

	if got := p.ledger.Resolve("tag-T1"); got != "tag-T2" {
		t.Errorf("expected remap tag-T1 -> tag-T2, got %s", got)
	}
}

// A stack update referencing a tag that hasn't arrived yet parks the
// association; once the tag arrives, the pending link is drained and the
// stack ends up referencing it without any further event.
func TestPendingTagAssociationDrainsOnLateCreate(t *testing.T) {
	p, db := newTestProjector(t)
	ctx := context.Background()

	createStack := newEvent(domain.EventStackCreated, "stk-S", atTS(0),
		mustMarshal(t, domain.StackEventPayload{ID: "stk-S", Title: "S", Status: string(domain.StackActive)}))
	updateWithTag := newEvent(domain.EventStackUpdated, "stk-S", atTS(50),
		mustMarshal(t, domain.StackEventPayload{ID: "stk-S", Title: "S", Status: string(domain.StackActive), TagIDs: []string{"tag-T1"}}))
	if err := p.ApplyBatch(ctx, []domain.Event{createStack, updateWithTag}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	var before int
	db.Conn().QueryRow(`SELECT COUNT(1) FROM stack_tags WHERE stack_id='stk-S'`).Scan(&before)
	if before != 0 {
		t.Fatalf("expected no tag association before tag.created, got %d", before)
	}

	createdAt := atTS(60)
	createT1 := newEvent(domain.EventTagCreated, "tag-T1", atTS(60),
		mustMarshal(t, domain.TagEventPayload{ID: "tag-T1", Name: "Work", CreatedAt: &createdAt}))
	if err := p.ApplyBatch(ctx, []domain.Event{createT1}); err != nil {
		t.Fatalf("create T1: %v", err)
	}

	var count int
	db.Conn().QueryRow(`SELECT COUNT(1) FROM stack_tags WHERE stack_id='stk-S' AND tag_id='tag-T1'`).Scan(&count)
	if count != 1 {
		t.Errorf("expected stk-S to reference tag-T1 after drain, got count=%d", count)
	}
}
